package models

import "time"

// ExecutionStatus is the overall lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
	ExecutionStatusPaused    ExecutionStatus = "paused"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// ExecutionProgress is the aggregate position of a run, recomputed after each
// node reaches a terminal per-node status.
type ExecutionProgress struct {
	CurrentNodeName string `json:"current_node_name,omitempty"`
	CompletedNodes  int    `json:"completed_nodes"`
	TotalNodes      int    `json:"total_nodes"`
	OverallProgress int    `json:"overall_progress"` // 0-100
	Message         string `json:"message,omitempty"`
}

// NodeSnapshot records one node's outcome within an execution. Snapshots are
// append-only while a run is active.
type NodeSnapshot struct {
	NodeID         string           `json:"node_id"`
	NodeName       string           `json:"node_name"`
	Status         NodeStatus       `json:"status"`
	Output         any              `json:"output,omitempty"` // Formatted projection from the step
	Metrics        ExecutionMetrics `json:"metrics"`
	Error          string           `json:"error,omitempty"`
	SkipReason     string           `json:"skip_reason,omitempty"`
	RollbackFailed bool             `json:"rollback_failed,omitempty"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}

// WorkflowExecution is the durable record of one run of a workflow. It is
// mutated only by the engine while active and immutable once terminal.
type WorkflowExecution struct {
	ID            string            `json:"id"`
	WorkflowID    string            `json:"workflow_id"`
	Status        ExecutionStatus   `json:"status"`
	StartedAt     time.Time         `json:"started_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	DurationMS    int64             `json:"duration_ms"`
	Progress      ExecutionProgress `json:"progress"`
	NodeSnapshots []*NodeSnapshot   `json:"node_snapshots"`
	Error         string            `json:"error,omitempty"`
	CancelReason  string            `json:"cancel_reason,omitempty"`
}

// SnapshotFor returns the snapshot for the given node id, or nil.
func (e *WorkflowExecution) SnapshotFor(nodeID string) *NodeSnapshot {
	for _, snapshot := range e.NodeSnapshots {
		if snapshot.NodeID == nodeID {
			return snapshot
		}
	}

	return nil
}

// ExecutionRequest asks the engine (or a worker) to run a workflow.
type ExecutionRequest struct {
	WorkflowID string         `json:"workflow_id" validate:"required"`
	UserID     string         `json:"user_id,omitempty"`
	DatasetID  string         `json:"dataset_id,omitempty"`
	DocumentID string         `json:"document_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
