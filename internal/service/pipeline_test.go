package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/dataexec/internal/domain"
)

type orderRecorder struct {
	mu    sync.Mutex
	steps []string
	ids   []string
}

func (o *orderRecorder) task(fail bool) Task {
	return TaskFunc(func(_ context.Context, spec *domain.JobSpec) (domain.JSONMap, error) {
		o.mu.Lock()
		o.steps = append(o.steps, string(spec.JobType))
		o.ids = append(o.ids, spec.JobID)
		o.mu.Unlock()
		if fail {
			return nil, domain.NewErrValidation("metadata schema invalid: sources")
		}
		return domain.JSONMap{"step": string(spec.JobType)}, nil
	})
}

func TestFullPipelineBestEffort(t *testing.T) {
	ctx := context.Background()
	rec := &orderRecorder{}
	c := newTestCoordinator(Tasks{
		SchemaValidation:   rec.task(true),
		MetadataExtraction: rec.task(false),
		QualityAssessment:  rec.task(false),
		APITransmission:    rec.task(false),
		DataReading:        rec.task(false),
	}, CoordinatorConfig{})

	spec := domain.NewJobSpec(domain.JobTypeFullPipeline, "fake://bucket/data")
	spec.JobID = "job_pipeline01"
	id, err := c.Create(ctx, spec)
	require.NoError(t, err)

	res, err := c.Execute(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, res.Status)
	assert.Nil(t, res.ErrorMessage)

	assert.Equal(t, []string{"schema_validation", "metadata_extraction", "quality_assessment", "api_transmission"}, rec.steps)
	assert.Equal(t, []string{"job_pipeline01_schema", "job_pipeline01_metadata", "job_pipeline01_quality", "job_pipeline01_api"}, rec.ids)

	schema, ok := res.ResultData["schema_validation"].(domain.JSONMap)
	require.True(t, ok)
	assert.Contains(t, schema["error"], "metadata schema invalid")
	for _, key := range []string{"metadata_extraction", "quality_assessment", "api_transmission"} {
		step, ok := res.ResultData[key].(domain.JSONMap)
		require.True(t, ok, key)
		assert.NotContains(t, step, "error")
		assert.Equal(t, key, step["step"])
	}
	assert.Equal(t, 1, res.ResultData["steps_failed"])
}

func TestFullPipelineMultiSourceStepValidation(t *testing.T) {
	rec := &orderRecorder{}
	d := NewDispatcher(Tasks{
		SchemaValidation:   rec.task(false),
		MetadataExtraction: rec.task(false),
		QualityAssessment:  rec.task(false),
		APITransmission:    rec.task(false),
	})

	spec := domain.NewJobSpec(domain.JobTypeFullPipeline, "")
	spec.JobID = "job_multi"
	spec.Sources = []domain.SourceDescriptor{{SourceID: "a", DataSourcePath: "fake://p1"}}

	require.NoError(t, d.Validate(spec))
	out, err := d.Dispatch(context.Background(), spec)
	require.NoError(t, err)

	md := out["metadata_extraction"].(domain.JSONMap)
	assert.Contains(t, md["error"], "workflow_id is required")
	assert.NotContains(t, rec.steps, "metadata_extraction")
	assert.Len(t, rec.steps, 3)
}

func TestFullPipelineStopsWhenCancelled(t *testing.T) {
	d := NewDispatcher(uniformTasks(okTask(nil)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Dispatch(ctx, domain.NewJobSpec(domain.JobTypeFullPipeline, "fake://x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDispatcherUnsupported(t *testing.T) {
	d := NewDispatcher(Tasks{DataReading: okTask(nil)})
	assert.True(t, d.Supports(domain.JobTypeDataReading))
	assert.True(t, d.Supports(domain.JobTypeFullPipeline))
	assert.False(t, d.Supports(domain.JobTypeAPITransmission))

	_, err := d.Dispatch(context.Background(), domain.NewJobSpec(domain.JobTypeAPITransmission, "x"))
	var unknown *domain.ErrUnknownJobType
	assert.ErrorAs(t, err, &unknown)
}

func TestValidateSources(t *testing.T) {
	tests := []struct {
		name    string
		sources []domain.SourceDescriptor
		wf      string
		wantErr bool
	}{
		{"single source", nil, "", false},
		{"missing workflow", []domain.SourceDescriptor{{SourceID: "a", DataSourcePath: "p"}}, "", true},
		{"valid", []domain.SourceDescriptor{{SourceID: "a", DataSourcePath: "p"}, {SourceID: "b", DataSourcePath: "q"}}, "wf", false},
		{"missing source id", []domain.SourceDescriptor{{DataSourcePath: "p"}}, "wf", true},
		{"missing path", []domain.SourceDescriptor{{SourceID: "a"}}, "wf", true},
		{"duplicate id", []domain.SourceDescriptor{{SourceID: "a", DataSourcePath: "p"}, {SourceID: "a", DataSourcePath: "q"}}, "wf", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := domain.NewJobSpec(domain.JobTypeMetadataExtraction, "")
			spec.Sources = tt.sources
			if tt.wf != "" {
				spec.JobMetadata[domain.MetadataKeyWorkflowID] = tt.wf
			}
			err := validateSources(spec)
			if tt.wantErr {
				assert.True(t, domain.IsValidation(err), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
