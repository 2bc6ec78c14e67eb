package registry

import (
	"github.com/weirlabs/weir/pkg/steps/annotate"
	"github.com/weirlabs/weir/pkg/steps/filewrite"
	"github.com/weirlabs/weir/pkg/steps/filter"
	"github.com/weirlabs/weir/pkg/steps/httpfetch"
	"github.com/weirlabs/weir/pkg/steps/transform"
)

// RegisterDefaultSteps registers all built-in step factories.
func (r *Registry) RegisterDefaultSteps() {
	r.RegisterStep(filter.NewStepFactory())
	r.RegisterStep(transform.NewStepFactory())
	r.RegisterStep(httpfetch.NewStepFactory())
	r.RegisterStep(filewrite.NewStepFactory())
	r.RegisterStep(annotate.NewStepFactory())
}
