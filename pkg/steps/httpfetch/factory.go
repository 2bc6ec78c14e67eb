// Package httpfetch provides the external data source step backed by HTTP.
package httpfetch

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
	return NewStep(), nil
}

func (f *StepFactory) ID() string {
	return StepType
}
