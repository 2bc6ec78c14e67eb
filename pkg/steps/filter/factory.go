// Package filter provides the rule-based segment filter step.
package filter

import (
	"context"

	"github.com/weirlabs/weir/pkg/protocol"
)

// StepFactory creates Step instances.
type StepFactory struct{}

func NewStepFactory() protocol.StepFactory {
	return &StepFactory{}
}

// Create creates a fresh filter step instance.
func (f *StepFactory) Create(_ context.Context) (protocol.Step, error) {
	return &Step{}, nil
}

// ID returns the step type string.
func (f *StepFactory) ID() string {
	return StepType
}
