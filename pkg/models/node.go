package models

// InputSourceType describes where a node's input comes from.
type InputSourceType string

const (
	InputSourcePreviousNode InputSourceType = "previous_node"
	InputSourceStatic       InputSourceType = "static"
	InputSourceExternal     InputSourceType = "external"
)

// InputSource wires one input of a node. A previous_node source must
// reference an actual DAG ancestor of the node.
type InputSource struct {
	Type    InputSourceType `json:"type"    validate:"required"`
	NodeID  string          `json:"node_id,omitempty"`
	Data    []Segment       `json:"data,omitempty"` // Payload for static sources
	Filters map[string]any  `json:"filters,omitempty"`
}

// WorkflowNode is a step instance in a workflow. Position is layout-only and
// never used for execution order.
type WorkflowNode struct {
	ID           string         `json:"id"   validate:"required"`
	Type         string         `json:"type" validate:"required"`
	Name         string         `json:"name" validate:"required,min=1"`
	PositionX    int            `json:"position_x"`
	PositionY    int            `json:"position_y"`
	Config       map[string]any `json:"config"`
	Enabled      bool           `json:"enabled"`
	InputSources []InputSource  `json:"input_sources,omitempty"`
}

// NodeStatus defines the per-node lifecycle states within an execution.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusSucceeded NodeStatus = "succeeded"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
	NodeStatusCancelled NodeStatus = "cancelled"
)
