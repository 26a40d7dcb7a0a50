package service

import (
	"context"
	"time"

	"github.com/timmy/dataexec/internal/domain"
	"github.com/timmy/dataexec/internal/logger"
	"github.com/timmy/dataexec/internal/repository"
)

// RunRecorder appends executor run records.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *repository.ExecutorRun) error
}

// RunAuditor is a Notifier that writes every terminal result to the
// executor_runs table.
type RunAuditor struct {
	recorder RunRecorder
}

// NewRunAuditor creates a Notifier that records every terminal result.
// Parameters:
//   - recorder: sink for executor runs and their log lines.
//
// Returns:
//   - *RunAuditor: notifier bound to recorder.
func NewRunAuditor(recorder RunRecorder) *RunAuditor {
	return &RunAuditor{recorder: recorder}
}

func (a *RunAuditor) JobFinished(ctx context.Context, result *domain.JobResult) {
	run := &repository.ExecutorRun{
		RunID:        result.JobID,
		SourceID:     result.Metadata.String("source_id"),
		WorkflowID:   result.Metadata.String("workflow_id"),
		RunMode:      result.Metadata.String("job_type"),
		Status:       string(result.Status),
		ErrorMessage: result.Error(),
		StartedAt:    parseTime(result.Metadata.String("started_at")),
		FinishedAt:   time.Now().UTC(),
	}
	if err := a.recorder.RecordRun(ctx, run); err != nil {
		logger.FromContext(ctx).WithError(err).Warnf("failed to record run of job %s", result.JobID)
	}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
