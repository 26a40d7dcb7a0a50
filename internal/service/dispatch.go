package service

import (
	"context"

	"github.com/timmy/dataexec/internal/domain"
)

// Task is the body of one job type. It returns the result payload or an
// error whose message becomes the job's error_message.
type Task interface {
	Run(ctx context.Context, spec *domain.JobSpec) (domain.JSONMap, error)
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context, spec *domain.JobSpec) (domain.JSONMap, error)

func (f TaskFunc) Run(ctx context.Context, spec *domain.JobSpec) (domain.JSONMap, error) {
	return f(ctx, spec)
}

// Tasks are the single-purpose bodies behind the dispatcher.
type Tasks struct {
	MetadataExtraction Task
	SchemaValidation   Task
	DataReading        Task
	QualityAssessment  Task
	APITransmission    Task
}

// Dispatcher routes a job to its task body through a table built once.
type Dispatcher struct {
	tasks map[domain.JobType]Task
}

// NewDispatcher builds the dispatch table. The full pipeline is composed
// from the single-purpose tasks.
func NewDispatcher(t Tasks) *Dispatcher {
	d := &Dispatcher{tasks: map[domain.JobType]Task{
		domain.JobTypeMetadataExtraction: t.MetadataExtraction,
		domain.JobTypeSchemaValidation:   t.SchemaValidation,
		domain.JobTypeDataReading:        t.DataReading,
		domain.JobTypeQualityAssessment:  t.QualityAssessment,
		domain.JobTypeAPITransmission:    t.APITransmission,
	}}
	for jobType, task := range d.tasks {
		if task == nil {
			delete(d.tasks, jobType)
		}
	}
	d.tasks[domain.JobTypeFullPipeline] = NewPipeline(d, DefaultPipelineSteps)
	return d
}

// Supports reports whether jobType has a task body.
func (d *Dispatcher) Supports(jobType domain.JobType) bool {
	_, ok := d.tasks[jobType]
	return ok
}

// Validate performs the checks that must fail before any task I/O.
func (d *Dispatcher) Validate(spec *domain.JobSpec) error {
	if !d.Supports(spec.JobType) {
		return domain.NewErrUnknownJobType(string(spec.JobType))
	}
	if spec.JobType == domain.JobTypeMetadataExtraction {
		return validateSources(spec)
	}
	return nil
}

// Dispatch runs the task body of spec.JobType.
func (d *Dispatcher) Dispatch(ctx context.Context, spec *domain.JobSpec) (domain.JSONMap, error) {
	task, ok := d.tasks[spec.JobType]
	if !ok {
		return nil, domain.NewErrUnknownJobType(string(spec.JobType))
	}
	return task.Run(ctx, spec)
}

// validateSources rejects a multi-source spec that lacks correlation ids.
func validateSources(spec *domain.JobSpec) error {
	sources := spec.AllSources()
	if len(sources) == 0 {
		return nil
	}
	if spec.WorkflowID() == "" {
		return domain.NewErrValidation("workflow_id is required when processing %d sources", len(sources))
	}
	seen := make(map[string]struct{}, len(sources))
	for i, src := range sources {
		if src.SourceID == "" {
			return domain.NewErrValidation("source %d: source_id is required", i)
		}
		if src.DataSourcePath == "" {
			return domain.NewErrValidation("source %s: data_source_path is required", src.SourceID)
		}
		if _, dup := seen[src.SourceID]; dup {
			return domain.NewErrValidation("source %s listed more than once", src.SourceID)
		}
		seen[src.SourceID] = struct{}{}
	}
	return nil
}
