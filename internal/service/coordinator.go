package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/timmy/dataexec/internal/domain"
	"github.com/timmy/dataexec/internal/logger"
	"github.com/timmy/dataexec/internal/metrics"
	"github.com/timmy/dataexec/internal/repository"
)

// DefaultMaxConcurrentJobs is the admission ceiling when none is configured.
const DefaultMaxConcurrentJobs = 5

// Notifier is told about every terminal result.
type Notifier interface {
	JobFinished(ctx context.Context, result *domain.JobResult)
}

// CoordinatorConfig holds the admission policy.
type CoordinatorConfig struct {
	MaxConcurrentJobs int
	// AllowRerun lets Execute run a job whose last attempt is terminal.
	AllowRerun bool
}

// activeJob is an admitted execution. final is set under the coordinator
// lock when the job leaves the active table; result and done are written
// once the terminal result is stored.
type activeJob struct {
	spec      *domain.JobSpec
	cancel    context.CancelFunc
	startedAt time.Time
	final     domain.JobStatus
	done      chan struct{}
	result    *domain.JobResult
}

type taskOutcome struct {
	data domain.JSONMap
	err  error
}

// Coordinator owns the job lifecycle: creation, admission, execution under
// a timeout, cancellation and result bookkeeping.
type Coordinator struct {
	mu     sync.Mutex
	active map[string]*activeJob
	// finishing holds released jobs until their terminal result is stored.
	finishing map[string]*activeJob

	store      repository.JobStore
	dispatcher *Dispatcher
	notifiers  []Notifier
	ceiling    int
	allowRerun bool
	logger     *logger.Logger
}

// NewCoordinator creates a coordinator over store and dispatcher.
//
// Parameters:
//   - store: where specs and results are kept
//   - dispatcher: maps job types to task bodies
//   - log: base logger, the default logger when nil
//   - cfg: admission policy; a non-positive ceiling means DefaultMaxConcurrentJobs
//   - notifiers: told about every terminal result
//
// Returns:
//   - *Coordinator: ready to create and execute jobs
func NewCoordinator(store repository.JobStore, dispatcher *Dispatcher, log *logger.Logger, cfg CoordinatorConfig, notifiers ...Notifier) *Coordinator {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = DefaultMaxConcurrentJobs
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Coordinator{
		active:     make(map[string]*activeJob),
		finishing:  make(map[string]*activeJob),
		store:      store,
		dispatcher: dispatcher,
		notifiers:  notifiers,
		ceiling:    cfg.MaxConcurrentJobs,
		allowRerun: cfg.AllowRerun,
		logger:     log,
	}
}

func (c *Coordinator) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return c.logger
}

// MaxConcurrentJobs returns the admission ceiling.
func (c *Coordinator) MaxConcurrentJobs() int {
	return c.ceiling
}

// Create stores spec as a Pending job and returns its id. It never runs
// the job.
func (c *Coordinator) Create(ctx context.Context, spec *domain.JobSpec) (string, error) {
	if spec == nil {
		return "", domain.NewErrValidation("job spec is required")
	}
	if !c.dispatcher.Supports(spec.JobType) {
		return "", domain.NewErrUnknownJobType(string(spec.JobType))
	}
	spec.ApplyDefaults()
	if spec.JobID == "" {
		spec.JobID = domain.NewJobID()
	}
	if err := c.store.PutSpec(ctx, spec); err != nil {
		return "", err
	}
	if err := c.store.PutResult(ctx, domain.NewPendingResult(spec)); err != nil {
		return "", fmt.Errorf("failed to record pending job %s: %w", spec.JobID, err)
	}

	c.log(ctx).WithFields(logger.Fields{
		logger.FieldJobID:    spec.JobID,
		logger.FieldJobType:  string(spec.JobType),
		logger.FieldTenantID: spec.TenantID,
	}).Info("Job created")
	return spec.JobID, nil
}

// Execute runs a stored job and waits for it to finish, fail, time out or
// be cancelled. Refusals before admission are returned as errors and leave
// no result behind.
func (c *Coordinator) Execute(ctx context.Context, jobID string) (*domain.JobResult, error) {
	spec, err := c.store.GetSpec(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := c.dispatcher.Validate(spec); err != nil {
		metrics.IncreaseJobsRejected(metrics.ReasonValidation)
		return nil, err
	}

	job, runCtx, err := c.admit(ctx, spec)
	if err != nil {
		return nil, err
	}

	runCtx = logger.SetJobID(runCtx, spec.JobID)
	runCtx = logger.SetJobType(runCtx, string(spec.JobType))
	runCtx = logger.SetTenant(runCtx, spec.TenantID)
	c.log(runCtx).Info("Job started")

	done := make(chan taskOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				c.log(runCtx).WithField("stack", string(debug.Stack())).Errorf("task panicked: %v", p)
				done <- taskOutcome{err: fmt.Errorf("task panicked: %v", p)}
			}
		}()
		data, err := c.dispatcher.Dispatch(runCtx, spec)
		done <- taskOutcome{data: data, err: err}
	}()

	var status domain.JobStatus
	var data domain.JSONMap
	var errMsg string
	select {
	case out := <-done:
		switch {
		case out.err == nil:
			status, data = domain.JobStatusCompleted, out.data
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			status, errMsg = domain.JobStatusFailed, domain.ExecutionTimeoutMessage
		case runCtx.Err() != nil:
			status = domain.JobStatusCancelled
		default:
			status, errMsg = domain.JobStatusFailed, out.err.Error()
		}
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			status, errMsg = domain.JobStatusFailed, domain.ExecutionTimeoutMessage
		} else {
			status = domain.JobStatusCancelled
		}
	}

	return c.finish(context.WithoutCancel(runCtx), job, status, data, errMsg), nil
}

// admit performs the check-and-insert of the admission gate atomically.
func (c *Coordinator) admit(ctx context.Context, spec *domain.JobSpec) (*activeJob, context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, running := c.active[spec.JobID]; running {
		metrics.IncreaseJobsRejected(metrics.ReasonAlreadyRunning)
		return nil, nil, domain.NewErrJobAlreadyRunning(spec.JobID)
	}
	if prev, ok := c.finishing[spec.JobID]; ok {
		if c.allowRerun {
			metrics.IncreaseJobsRejected(metrics.ReasonAlreadyRunning)
			return nil, nil, domain.NewErrJobAlreadyRunning(spec.JobID)
		}
		metrics.IncreaseJobsRejected(metrics.ReasonAlreadyExecuted)
		return nil, nil, domain.NewErrJobAlreadyExecuted(spec.JobID, prev.final)
	}
	if !c.allowRerun {
		if last, err := c.store.GetResult(ctx, spec.JobID); err == nil && last.Status.IsTerminal() {
			metrics.IncreaseJobsRejected(metrics.ReasonAlreadyExecuted)
			return nil, nil, domain.NewErrJobAlreadyExecuted(spec.JobID, last.Status)
		}
	}
	if len(c.active) >= c.ceiling {
		metrics.IncreaseJobsRejected(metrics.ReasonConcurrencyLimit)
		return nil, nil, domain.NewErrConcurrencyLimitExceeded(c.ceiling)
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = domain.DefaultJobTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	job := &activeJob{
		spec:      spec,
		cancel:    cancel,
		startedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
	c.active[spec.JobID] = job

	// recorded under the lock so a concurrent Cancel cannot be overwritten
	running := domain.NewPendingResult(spec)
	running.Status = domain.JobStatusRunning
	running.Metadata["started_at"] = job.startedAt.Format(time.RFC3339Nano)
	if err := c.store.PutResult(ctx, running); err != nil {
		c.log(ctx).WithError(err).Warnf("failed to record running state of job %s", spec.JobID)
	}
	metrics.UpdateActiveJobs(len(c.active))
	return job, runCtx, nil
}

// finish removes job from the active table and records its terminal
// result. When Cancel removed it first, the cancelled result stands.
func (c *Coordinator) finish(ctx context.Context, job *activeJob, status domain.JobStatus, data domain.JSONMap, errMsg string) *domain.JobResult {
	if !c.release(job, status) {
		<-job.done
		return job.result.Clone()
	}
	result := c.conclude(ctx, job, status, data, errMsg)
	return result.Clone()
}

// release moves job from the active table to the finishing table and
// reports whether this call did so.
func (c *Coordinator) release(job *activeJob, status domain.JobStatus) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.active[job.spec.JobID]
	if !ok || current != job {
		return false
	}
	delete(c.active, job.spec.JobID)
	job.final = status
	c.finishing[job.spec.JobID] = job
	metrics.UpdateActiveJobs(len(c.active))
	return true
}

// conclude is called exactly once per admitted job, by the caller that
// released it. The job stays in the finishing table until its terminal
// result is stored.
func (c *Coordinator) conclude(ctx context.Context, job *activeJob, status domain.JobStatus, data domain.JSONMap, errMsg string) *domain.JobResult {
	job.cancel()
	result := domain.NewTerminalResult(job.spec, status, data, errMsg, job.startedAt, time.Now().UTC())
	if err := c.store.PutResult(ctx, result); err != nil {
		c.log(ctx).WithError(err).Errorf("failed to store result of job %s", job.spec.JobID)
	}
	c.mu.Lock()
	if c.finishing[job.spec.JobID] == job {
		delete(c.finishing, job.spec.JobID)
	}
	c.mu.Unlock()
	job.result = result
	close(job.done)

	metrics.ObserveJobFinished(string(job.spec.JobType), string(status), result.ExecutionTime)
	entry := logger.With(logger.Fields{logger.FieldJobID: job.spec.JobID}).WithStatus(string(status)).WithDuration(result.ExecutionTime)
	if status == domain.JobStatusCompleted {
		entry.Info(ctx, "Job finished")
	} else {
		entry.Warn(ctx, "Job finished: %s", result.Error())
	}
	for _, n := range c.notifiers {
		n.JobFinished(ctx, result.Clone())
	}
	return result
}

// Cancel stops an active job and records it as Cancelled. It reports false
// for unknown or already finished jobs.
func (c *Coordinator) Cancel(ctx context.Context, jobID string) bool {
	c.mu.Lock()
	job, ok := c.active[jobID]
	if ok {
		delete(c.active, jobID)
		job.final = domain.JobStatusCancelled
		c.finishing[jobID] = job
		metrics.UpdateActiveJobs(len(c.active))
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	c.conclude(logger.SetJobID(ctx, jobID), job, domain.JobStatusCancelled, nil, "")
	return true
}

// Status returns Running for active jobs, the terminal status of jobs whose
// result is being stored, otherwise the status of the last stored result.
func (c *Coordinator) Status(ctx context.Context, jobID string) (domain.JobStatus, bool) {
	c.mu.Lock()
	_, running := c.active[jobID]
	var final domain.JobStatus
	if job, ok := c.finishing[jobID]; ok {
		final = job.final
	}
	c.mu.Unlock()
	if running {
		return domain.JobStatusRunning, true
	}
	if final != "" {
		return final, true
	}
	result, err := c.store.GetResult(ctx, jobID)
	if err != nil {
		return "", false
	}
	return result.Status, true
}

// Result returns the last stored result of a job.
func (c *Coordinator) Result(ctx context.Context, jobID string) (*domain.JobResult, bool) {
	result, err := c.store.GetResult(ctx, jobID)
	if err != nil {
		return nil, false
	}
	return result, true
}

// List returns active jobs as Running plus every stored result, filtered.
// Order is unspecified.
func (c *Coordinator) List(ctx context.Context, filter domain.JobFilter) []domain.JobSummary {
	c.mu.Lock()
	active := make(map[string]*domain.JobSpec, len(c.active))
	for id, job := range c.active {
		active[id] = job.spec
	}
	finishing := make(map[string]domain.JobStatus, len(c.finishing))
	for id, job := range c.finishing {
		finishing[id] = job.final
	}
	c.mu.Unlock()

	out := make([]domain.JobSummary, 0, len(active))
	for id, spec := range active {
		if !filter.Matches(domain.JobStatusRunning, spec.TenantID) {
			continue
		}
		out = append(out, domain.JobSummary{
			JobID:     id,
			JobType:   spec.JobType,
			Status:    domain.JobStatusRunning,
			TenantID:  spec.TenantID,
			CreatedAt: spec.CreatedAt(),
		})
	}

	specs, err := c.store.ListSpecs(ctx)
	if err != nil {
		c.log(ctx).WithError(err).Error("failed to list jobs")
		return out
	}
	for _, spec := range specs {
		if _, running := active[spec.JobID]; running {
			continue
		}
		result, err := c.store.GetResult(ctx, spec.JobID)
		if err != nil {
			continue
		}
		status := result.Status
		if final, ok := finishing[spec.JobID]; ok {
			status = final
		}
		if !filter.Matches(status, spec.TenantID) {
			continue
		}
		out = append(out, domain.JobSummary{
			JobID:         spec.JobID,
			JobType:       spec.JobType,
			Status:        status,
			TenantID:      spec.TenantID,
			CreatedAt:     spec.CreatedAt(),
			ExecutionTime: result.ExecutionTime.Seconds(),
			ErrorMessage:  result.ErrorMessage,
		})
	}
	return out
}

// Statistics aggregates terminal results. The success rate is relative to
// all terminal results; the average covers Completed jobs only.
func (c *Coordinator) Statistics(ctx context.Context) domain.Statistics {
	stats := domain.Statistics{
		ActiveJobs:        c.ActiveCount(),
		MaxConcurrentJobs: c.ceiling,
	}
	results, err := c.store.ListResults(ctx)
	if err != nil {
		c.log(ctx).WithError(err).Error("failed to load results for statistics")
		return stats
	}
	var completedTime time.Duration
	for _, r := range results {
		switch r.Status {
		case domain.JobStatusCompleted:
			stats.CompletedJobs++
			completedTime += r.ExecutionTime
		case domain.JobStatusFailed:
			stats.FailedJobs++
		case domain.JobStatusCancelled:
			stats.CancelledJobs++
		default:
			continue
		}
		stats.TotalJobs++
	}
	if stats.TotalJobs > 0 {
		stats.SuccessRate = float64(stats.CompletedJobs) / float64(stats.TotalJobs) * 100
	}
	if stats.CompletedJobs > 0 {
		stats.AverageExecutionTime = completedTime.Seconds() / float64(stats.CompletedJobs)
	}
	return stats
}

// ExpireOlderThan deletes terminal jobs created more than age ago and
// returns how many were removed. Active jobs are never expired.
func (c *Coordinator) ExpireOlderThan(ctx context.Context, age time.Duration) int {
	cutoff := time.Now().UTC().Add(-age)
	specs, err := c.store.ListSpecs(ctx)
	if err != nil {
		c.log(ctx).WithError(err).Error("failed to list jobs for expiry")
		return 0
	}
	removed := 0
	for _, spec := range specs {
		if !spec.CreatedAt().Before(cutoff) {
			continue
		}
		result, err := c.store.GetResult(ctx, spec.JobID)
		if err != nil || !result.Status.IsTerminal() {
			continue
		}
		c.mu.Lock()
		_, running := c.active[spec.JobID]
		if _, busy := c.finishing[spec.JobID]; busy {
			running = true
		}
		if !running {
			err = c.store.Delete(ctx, spec.JobID)
		}
		c.mu.Unlock()
		if running {
			continue
		}
		if err != nil {
			c.log(ctx).WithError(err).Warnf("failed to expire job %s", spec.JobID)
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.With(logger.Fields{logger.FieldCount: removed}).Info(ctx, "expired old jobs")
	}
	return removed
}

// RunExpiry calls ExpireOlderThan every interval until ctx is done.
func (c *Coordinator) RunExpiry(ctx context.Context, interval, age time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.ExpireOlderThan(ctx, age)
		}
	}
}

// ActiveCount returns the number of admitted jobs.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}
