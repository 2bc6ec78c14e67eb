// Package graph provides structural validation and ordering for workflow DAGs.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/weirlabs/weir/pkg/models"
)

// CyclicGraphError indicates the edge set contains a cycle. Nodes lists the
// node ids that could not be placed in any topological ordering.
type CyclicGraphError struct {
	Nodes []string
}

func (e *CyclicGraphError) Error() string {
	return fmt.Sprintf("workflow graph contains a cycle involving nodes: %s", strings.Join(e.Nodes, ", "))
}

// DanglingInputSourceError indicates a previous_node input source references
// a node that is not an actual DAG ancestor of the consuming node.
type DanglingInputSourceError struct {
	NodeID   string
	SourceID string
}

func (e *DanglingInputSourceError) Error() string {
	return fmt.Sprintf("node %s declares input source %s which is not a predecessor", e.NodeID, e.SourceID)
}

// EdgeReferenceError indicates an edge endpoint names a node id that does not
// exist in the workflow.
type EdgeReferenceError struct {
	Endpoint string
	NodeID   string
}

func (e *EdgeReferenceError) Error() string {
	return fmt.Sprintf("edge %s references unknown node %s", e.Endpoint, e.NodeID)
}

// Validate checks the workflow graph structure: edge endpoints must exist,
// the edge set must be acyclic, and every previous_node input source must
// reference a true ancestor. Invoked before execution and on every save.
func Validate(workflow *models.Workflow) error {
	nodeIDs := make(map[string]bool, len(workflow.Nodes))
	for _, node := range workflow.Nodes {
		nodeIDs[node.ID] = true
	}

	for _, edge := range workflow.Edges {
		if !nodeIDs[edge.Source] {
			return &EdgeReferenceError{Endpoint: "source", NodeID: edge.Source}
		}

		if !nodeIDs[edge.Target] {
			return &EdgeReferenceError{Endpoint: "target", NodeID: edge.Target}
		}
	}

	if _, err := Sort(workflow); err != nil {
		return err
	}

	ancestors := ancestorSets(workflow)

	for _, node := range workflow.Nodes {
		for _, source := range node.InputSources {
			if source.Type != models.InputSourcePreviousNode {
				continue
			}

			if !ancestors[node.ID][source.NodeID] {
				return &DanglingInputSourceError{NodeID: node.ID, SourceID: source.NodeID}
			}
		}
	}

	return nil
}

// Sort returns a topological ordering of all nodes using Kahn's algorithm.
// The ordering is deterministic: ties are broken by declaration order.
func Sort(workflow *models.Workflow) ([]*models.WorkflowNode, error) {
	indegree := make(map[string]int, len(workflow.Nodes))
	successors := make(map[string][]string, len(workflow.Nodes))

	for _, node := range workflow.Nodes {
		indegree[node.ID] = 0
	}

	for _, edge := range workflow.Edges {
		successors[edge.Source] = append(successors[edge.Source], edge.Target)
		indegree[edge.Target]++
	}

	order := make([]*models.WorkflowNode, 0, len(workflow.Nodes))
	ready := make([]string, 0, len(workflow.Nodes))

	for _, node := range workflow.Nodes {
		if indegree[node.ID] == 0 {
			ready = append(ready, node.ID)
		}
	}

	placed := make(map[string]bool, len(workflow.Nodes))

	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		placed[id] = true
		order = append(order, workflow.NodeByID(id))

		for _, succ := range successors[id] {
			indegree[succ]--
			if indegree[succ] == 0 {
				ready = append(ready, succ)
			}
		}
	}

	if len(order) != len(workflow.Nodes) {
		remaining := make([]string, 0)

		for _, node := range workflow.Nodes {
			if !placed[node.ID] {
				remaining = append(remaining, node.ID)
			}
		}

		sort.Strings(remaining)

		return nil, &CyclicGraphError{Nodes: remaining}
	}

	return order, nil
}

// SortEnabled returns the topological ordering restricted to enabled nodes.
// Disabled nodes stay in the graph but are excluded from the active order.
func SortEnabled(workflow *models.Workflow) ([]*models.WorkflowNode, error) {
	order, err := Sort(workflow)
	if err != nil {
		return nil, err
	}

	enabled := make([]*models.WorkflowNode, 0, len(order))

	for _, node := range order {
		if node.Enabled {
			enabled = append(enabled, node)
		}
	}

	return enabled, nil
}

// Layers groups enabled nodes into dependency layers: every node in a layer
// only depends on nodes in earlier layers. Nodes within one layer are
// siblings and may run concurrently.
func Layers(workflow *models.Workflow) ([][]*models.WorkflowNode, error) {
	if _, err := Sort(workflow); err != nil {
		return nil, err
	}

	depth := make(map[string]int, len(workflow.Nodes))
	preds := Predecessors(workflow)

	order, _ := Sort(workflow)
	maxDepth := 0

	for _, node := range order {
		d := 0

		for _, pred := range preds[node.ID] {
			if depth[pred]+1 > d {
				d = depth[pred] + 1
			}
		}

		depth[node.ID] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	layers := make([][]*models.WorkflowNode, maxDepth+1)

	for _, node := range order {
		if !node.Enabled {
			continue
		}

		d := depth[node.ID]
		layers[d] = append(layers[d], node)
	}

	nonEmpty := make([][]*models.WorkflowNode, 0, len(layers))

	for _, layer := range layers {
		if len(layer) > 0 {
			nonEmpty = append(nonEmpty, layer)
		}
	}

	return nonEmpty, nil
}

// Predecessors returns the direct predecessor ids of every node, in edge
// declaration order.
func Predecessors(workflow *models.Workflow) map[string][]string {
	preds := make(map[string][]string, len(workflow.Nodes))

	for _, edge := range workflow.Edges {
		preds[edge.Target] = append(preds[edge.Target], edge.Source)
	}

	return preds
}

// Descendants returns the transitive successor set of the given node.
func Descendants(workflow *models.Workflow, nodeID string) map[string]bool {
	successors := make(map[string][]string, len(workflow.Nodes))

	for _, edge := range workflow.Edges {
		successors[edge.Source] = append(successors[edge.Source], edge.Target)
	}

	seen := make(map[string]bool)
	stack := []string{nodeID}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, succ := range successors[id] {
			if !seen[succ] {
				seen[succ] = true
				stack = append(stack, succ)
			}
		}
	}

	return seen
}

// ancestorSets computes the transitive predecessor set of every node.
func ancestorSets(workflow *models.Workflow) map[string]map[string]bool {
	order, err := Sort(workflow)
	if err != nil {
		return nil
	}

	preds := Predecessors(workflow)
	ancestors := make(map[string]map[string]bool, len(order))

	for _, node := range order {
		set := make(map[string]bool)

		for _, pred := range preds[node.ID] {
			set[pred] = true

			for id := range ancestors[pred] {
				set[id] = true
			}
		}

		ancestors[node.ID] = set
	}

	return ancestors
}
