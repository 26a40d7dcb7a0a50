package service

import (
	"context"

	"github.com/timmy/dataexec/internal/domain"
	"github.com/timmy/dataexec/internal/logger"
)

// PipelineStep is one stage of the full pipeline.
type PipelineStep struct {
	JobType domain.JobType
	Suffix  string
}

// DefaultPipelineSteps is the fixed stage order of a full pipeline job.
var DefaultPipelineSteps = []PipelineStep{
	{domain.JobTypeSchemaValidation, "schema"},
	{domain.JobTypeMetadataExtraction, "metadata"},
	{domain.JobTypeQualityAssessment, "quality"},
	{domain.JobTypeAPITransmission, "api"},
}

// Pipeline runs its steps in order on derived sub-specs. A failing step is
// recorded as {"error": msg} under its job type and the next step still
// runs, so the pipeline itself only fails when the job is cancelled.
type Pipeline struct {
	dispatcher *Dispatcher
	steps      []PipelineStep
}

// NewPipeline creates a task running steps in order through d.
// Parameters:
//   - d: dispatcher resolving each step's job type.
//   - steps: ordered steps, usually DefaultPipelineSteps.
//
// Returns:
//   - *Pipeline: task running the steps.
func NewPipeline(d *Dispatcher, steps []PipelineStep) *Pipeline {
	return &Pipeline{dispatcher: d, steps: steps}
}

// Run executes each step on a sub-spec derived from spec and collects their
// payloads.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - spec: job the steps run against.
//
// Returns:
//   - domain.JSONMap: per-step results, pipeline_steps and steps_failed.
//   - error: non-nil only when ctx is done.
func (p *Pipeline) Run(ctx context.Context, spec *domain.JobSpec) (domain.JSONMap, error) {
	out := domain.JSONMap{}
	order := make([]interface{}, 0, len(p.steps))
	failed := 0
	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := string(step.JobType)
		order = append(order, key)

		sub := spec.Derive(step.JobType, step.Suffix)
		stepCtx := logger.SetJobID(ctx, sub.JobID)
		data, err := p.runStep(stepCtx, sub)
		if err != nil {
			failed++
			logger.With(logger.Fields{logger.FieldJobType: key}).Warn(stepCtx, "pipeline step failed: %v", err)
			out[key] = domain.JSONMap{"error": err.Error()}
			continue
		}
		out[key] = data
	}
	out["pipeline_steps"] = order
	out["steps_failed"] = failed
	return out, nil
}

func (p *Pipeline) runStep(ctx context.Context, sub *domain.JobSpec) (domain.JSONMap, error) {
	if err := p.dispatcher.Validate(sub); err != nil {
		return nil, err
	}
	return p.dispatcher.Dispatch(ctx, sub)
}
