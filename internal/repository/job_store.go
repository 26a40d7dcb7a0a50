package repository

import (
	"context"

	"github.com/timmy/dataexec/internal/domain"
)

// JobStore holds job specs and their latest results. Implementations copy
// values on the way in and out so callers never share state with the store.
type JobStore interface {
	// PutSpec stores a new spec. An existing id is *domain.ErrDuplicateJob.
	PutSpec(ctx context.Context, spec *domain.JobSpec) error
	// GetSpec returns *domain.ErrJobNotFound for unknown ids.
	GetSpec(ctx context.Context, jobID string) (*domain.JobSpec, error)
	ListSpecs(ctx context.Context) ([]*domain.JobSpec, error)

	// PutResult replaces the stored result of a job.
	PutResult(ctx context.Context, result *domain.JobResult) error
	// GetResult returns *domain.ErrJobNotFound when no result is stored.
	GetResult(ctx context.Context, jobID string) (*domain.JobResult, error)
	ListResults(ctx context.Context) ([]*domain.JobResult, error)

	// Delete removes the spec and result of a job. Unknown ids are ignored.
	Delete(ctx context.Context, jobID string) error
}
