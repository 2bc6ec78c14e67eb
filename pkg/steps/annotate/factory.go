package annotate

import (
	"context"

	"github.com/weirlabs/weir/pkg/protocol"
)

// StepFactory creates Step instances.
type StepFactory struct{}

func NewStepFactory() protocol.StepFactory {
	return &StepFactory{}
}

func (f *StepFactory) Create(_ context.Context) (protocol.Step, error) {
	return &Step{}, nil
}

func (f *StepFactory) ID() string {
	return StepType
}
