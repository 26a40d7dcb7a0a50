package repository

import (
	"context"
	"sync"

	"github.com/timmy/dataexec/internal/domain"
)

// MemoryJobStore keeps jobs in process memory. State is lost on restart.
type MemoryJobStore struct {
	mu      sync.RWMutex
	specs   map[string]*domain.JobSpec
	results map[string]*domain.JobResult
}

// NewMemoryJobStore creates an empty in-process JobStore.
// Parameters: none.
// Returns:
//   - *MemoryJobStore: store whose contents live as long as the process.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		specs:   make(map[string]*domain.JobSpec),
		results: make(map[string]*domain.JobResult),
	}
}

// PutSpec stores a copy of spec.
func (s *MemoryJobStore) PutSpec(ctx context.Context, spec *domain.JobSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.specs[spec.JobID]; ok {
		return domain.NewErrDuplicateJob(spec.JobID)
	}
	s.specs[spec.JobID] = spec.Clone()
	return nil
}

// GetSpec returns a copy of the stored spec.
func (s *MemoryJobStore) GetSpec(ctx context.Context, jobID string) (*domain.JobSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.specs[jobID]
	if !ok {
		return nil, domain.NewErrJobNotFound(jobID)
	}
	return spec.Clone(), nil
}

func (s *MemoryJobStore) ListSpecs(ctx context.Context) ([]*domain.JobSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.JobSpec, 0, len(s.specs))
	for _, spec := range s.specs {
		out = append(out, spec.Clone())
	}
	return out, nil
}

// PutResult replaces the stored result with a copy of result.
func (s *MemoryJobStore) PutResult(ctx context.Context, result *domain.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.JobID] = result.Clone()
	return nil
}

func (s *MemoryJobStore) GetResult(ctx context.Context, jobID string) (*domain.JobResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.results[jobID]
	if !ok {
		return nil, domain.NewErrJobNotFound(jobID)
	}
	return res.Clone(), nil
}

func (s *MemoryJobStore) ListResults(ctx context.Context) ([]*domain.JobResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.JobResult, 0, len(s.results))
	for _, res := range s.results {
		out = append(out, res.Clone())
	}
	return out, nil
}

func (s *MemoryJobStore) Delete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.specs, jobID)
	delete(s.results, jobID)
	return nil
}
