package persistence

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkflowError_WrapsSentinel(t *testing.T) {
	err := NewWorkflowError("GetByID", "wf-1", ErrWorkflowNotFound)

	assert.True(t, errors.Is(err, ErrWorkflowNotFound))
	assert.True(t, IsWorkflowNotFound(err))
	assert.Contains(t, err.Error(), "wf-1")
	assert.Contains(t, err.Error(), "GetByID")
}

func TestExecutionError_WrapsSentinel(t *testing.T) {
	err := NewExecutionError("Save", "exec-1", ErrExecutionNotFound)

	assert.True(t, IsExecutionNotFound(err))
	assert.False(t, IsWorkflowNotFound(err))
	assert.Contains(t, err.Error(), "exec-1")
}
