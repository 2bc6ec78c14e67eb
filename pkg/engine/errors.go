package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrExecutionNotActive is returned by Cancel, Pause and Resume when the
	// execution id does not belong to a currently running execution.
	ErrExecutionNotActive = errors.New("execution is not active")

	// ErrExecutionNotPaused is returned by Resume when the execution is
	// active but not paused.
	ErrExecutionNotPaused = errors.New("execution is not paused")
)

// NodeConfigError wraps a configuration problem found during pre-execution
// validation. It carries the offending node id and unwraps to the registry's
// error types.
type NodeConfigError struct {
	NodeID string
	Err    error
}

func (e *NodeConfigError) Error() string {
	return fmt.Sprintf("node %s: %v", e.NodeID, e.Err)
}

func (e *NodeConfigError) Unwrap() error {
	return e.Err
}
