package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobType names the task body a job runs.
type JobType string

const (
	JobTypeMetadataExtraction JobType = "metadata_extraction"
	JobTypeSchemaValidation   JobType = "schema_validation"
	JobTypeDataReading        JobType = "data_reading"
	JobTypeQualityAssessment  JobType = "quality_assessment"
	JobTypeAPITransmission    JobType = "api_transmission"
	JobTypeFullPipeline       JobType = "full_pipeline"
)

// JobTypes lists every job type in declaration order.
var JobTypes = []JobType{
	JobTypeMetadataExtraction,
	JobTypeSchemaValidation,
	JobTypeDataReading,
	JobTypeQualityAssessment,
	JobTypeAPITransmission,
	JobTypeFullPipeline,
}

// ParseJobType accepts the canonical tag in any case.
func ParseJobType(s string) (JobType, error) {
	want := JobType(strings.ToLower(strings.TrimSpace(s)))
	for _, t := range JobTypes {
		if t == want {
			return t, nil
		}
	}
	return "", NewErrUnknownJobType(s)
}

// JobStatus is the lifecycle state of one execution attempt.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether s ends an execution attempt.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

const (
	DefaultTenantID   = "default"
	DefaultSourceType = "auto"
	DefaultCreatedBy  = "system"
	DefaultPriority   = 1
	DefaultJobTimeout = 60 * time.Minute

	// MetadataKeyWorkflowID correlates the sources of a multi-source job.
	MetadataKeyWorkflowID = "workflow_id"
	// MetadataKeySourceID correlates a single-source job with its source record.
	MetadataKeySourceID = "source_id"
	// MetadataKeySources may carry additional source descriptors.
	MetadataKeySources = "sources"
	// MetadataKeyPersist requests metadata persistence without a workflow id.
	MetadataKeyPersist = "persist_metadata"
)

// SourceDescriptor is one source of a multi-source job.
type SourceDescriptor struct {
	SourceID       string `json:"source_id"`
	DataSourcePath string `json:"data_source_path"`
	DataSourceType string `json:"data_source_type,omitempty"`
}

// JobSpec is the immutable intent of a job. Build it with NewJobSpec so that
// CreatedAt is stamped exactly once.
type JobSpec struct {
	JobID          string             `json:"job_id"`
	JobType        JobType            `json:"job_type"`
	DataSourcePath string             `json:"data_source_path"`
	DataSourceType string             `json:"data_source_type"`
	TenantID       string             `json:"tenant_id"`
	Priority       int                `json:"priority"`
	Timeout        time.Duration      `json:"-"`
	CreatedBy      string             `json:"created_by"`
	JobMetadata    JSONMap            `json:"job_metadata,omitempty"`
	Sources        []SourceDescriptor `json:"sources,omitempty"`

	createdAt time.Time
}

// NewJobSpec returns a spec with defaults applied and CreatedAt set to now.
func NewJobSpec(jobType JobType, path string) *JobSpec {
	return &JobSpec{
		JobType:        jobType,
		DataSourcePath: path,
		DataSourceType: DefaultSourceType,
		TenantID:       DefaultTenantID,
		Priority:       DefaultPriority,
		Timeout:        DefaultJobTimeout,
		CreatedBy:      DefaultCreatedBy,
		JobMetadata:    JSONMap{},
		createdAt:      time.Now().UTC(),
	}
}

// RestoreJobSpec rebuilds a spec loaded from storage, keeping its original
// creation time.
func RestoreJobSpec(spec JobSpec, createdAt time.Time) *JobSpec {
	spec.createdAt = createdAt
	return &spec
}

// CreatedAt is the moment the spec was constructed.
func (s *JobSpec) CreatedAt() time.Time {
	return s.createdAt
}

// ApplyDefaults fills zero-valued optional fields.
func (s *JobSpec) ApplyDefaults() {
	if s.DataSourceType == "" {
		s.DataSourceType = DefaultSourceType
	}
	if s.TenantID == "" {
		s.TenantID = DefaultTenantID
	}
	if s.Priority == 0 {
		s.Priority = DefaultPriority
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultJobTimeout
	}
	if s.CreatedBy == "" {
		s.CreatedBy = DefaultCreatedBy
	}
	if s.JobMetadata == nil {
		s.JobMetadata = JSONMap{}
	}
	if s.createdAt.IsZero() {
		s.createdAt = time.Now().UTC()
	}
}

// Clone returns a deep copy of the spec.
func (s *JobSpec) Clone() *JobSpec {
	c := *s
	c.JobMetadata = s.JobMetadata.Clone()
	if s.Sources != nil {
		c.Sources = append([]SourceDescriptor(nil), s.Sources...)
	}
	return &c
}

// Derive returns a sub-spec for a pipeline step. It shares path, tenant and
// metadata with s, and gets its own id and creation time.
func (s *JobSpec) Derive(jobType JobType, suffix string) *JobSpec {
	c := s.Clone()
	c.JobID = s.JobID + "_" + suffix
	c.JobType = jobType
	c.createdAt = time.Now().UTC()
	return c
}

// WorkflowID returns the workflow correlation id, if any.
func (s *JobSpec) WorkflowID() string {
	return s.JobMetadata.String(MetadataKeyWorkflowID)
}

// SourceID returns the source correlation id of a single-source job.
func (s *JobSpec) SourceID() string {
	return s.JobMetadata.String(MetadataKeySourceID)
}

// AllSources returns Sources followed by any descriptors listed under
// job_metadata["sources"].
func (s *JobSpec) AllSources() []SourceDescriptor {
	out := append([]SourceDescriptor(nil), s.Sources...)
	raw, ok := s.JobMetadata[MetadataKeySources]
	if !ok || raw == nil {
		return out
	}
	// metadata arrives either as typed descriptors or as decoded JSON
	switch v := raw.(type) {
	case []SourceDescriptor:
		return append(out, v...)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return out
		}
		var decoded []SourceDescriptor
		if err := json.Unmarshal(b, &decoded); err != nil {
			return out
		}
		return append(out, decoded...)
	}
}

// IsMultiSource reports whether the job fans out over a source list.
func (s *JobSpec) IsMultiSource() bool {
	return len(s.AllSources()) > 0
}

// NewJobID returns "job_" followed by 12 hex characters.
func NewJobID() string {
	return "job_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// JobResult is the outcome of one execution attempt.
type JobResult struct {
	JobID         string        `json:"job_id"`
	Status        JobStatus     `json:"status"`
	ResultData    JSONMap       `json:"result_data"`
	ErrorMessage  *string       `json:"error_message"`
	ExecutionTime time.Duration `json:"-"`
	Metadata      JSONMap       `json:"metadata"`
}

type jobResultWire struct {
	JobID         string    `json:"job_id"`
	Status        JobStatus `json:"status"`
	ResultData    JSONMap   `json:"result_data"`
	ErrorMessage  *string   `json:"error_message"`
	ExecutionTime float64   `json:"execution_time"`
	Metadata      JSONMap   `json:"metadata"`
}

// MarshalJSON encodes ExecutionTime as seconds.
func (r JobResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(jobResultWire{
		JobID:         r.JobID,
		Status:        r.Status,
		ResultData:    r.ResultData,
		ErrorMessage:  r.ErrorMessage,
		ExecutionTime: r.ExecutionTime.Seconds(),
		Metadata:      r.Metadata,
	})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (r *JobResult) UnmarshalJSON(b []byte) error {
	var w jobResultWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r = JobResult{
		JobID:         w.JobID,
		Status:        w.Status,
		ResultData:    w.ResultData,
		ErrorMessage:  w.ErrorMessage,
		ExecutionTime: time.Duration(w.ExecutionTime * float64(time.Second)),
		Metadata:      w.Metadata,
	}
	return nil
}

// Error returns the error message or "".
func (r *JobResult) Error() string {
	if r.ErrorMessage == nil {
		return ""
	}
	return *r.ErrorMessage
}

// Clone returns a deep copy of the result.
func (r *JobResult) Clone() *JobResult {
	c := *r
	c.ResultData = r.ResultData.Clone()
	c.Metadata = r.Metadata.Clone()
	if r.ErrorMessage != nil {
		msg := *r.ErrorMessage
		c.ErrorMessage = &msg
	}
	return &c
}

// NewPendingResult is the result stored when a job is registered.
func NewPendingResult(spec *JobSpec) *JobResult {
	return &JobResult{
		JobID:      spec.JobID,
		Status:     JobStatusPending,
		ResultData: JSONMap{},
		Metadata:   spec.resultMetadata(),
	}
}

func (s *JobSpec) resultMetadata() JSONMap {
	md := JSONMap{
		"job_type":         string(s.JobType),
		"data_source_path": s.DataSourcePath,
		"tenant_id":        s.TenantID,
		"created_at":       s.createdAt.Format(time.RFC3339Nano),
	}
	if wf := s.WorkflowID(); wf != "" {
		md[MetadataKeyWorkflowID] = wf
	}
	if src := s.SourceID(); src != "" {
		md[MetadataKeySourceID] = src
	}
	return md
}

// NewTerminalResult builds a Completed, Failed or Cancelled result.
func NewTerminalResult(spec *JobSpec, status JobStatus, data JSONMap, errMsg string, startedAt, endedAt time.Time) *JobResult {
	md := spec.resultMetadata()
	md["started_at"] = startedAt.UTC().Format(time.RFC3339Nano)
	switch status {
	case JobStatusCompleted:
		md["completed_at"] = endedAt.UTC().Format(time.RFC3339Nano)
	case JobStatusFailed:
		md["failed_at"] = endedAt.UTC().Format(time.RFC3339Nano)
	case JobStatusCancelled:
		md["cancelled_at"] = endedAt.UTC().Format(time.RFC3339Nano)
	}
	if data == nil {
		data = JSONMap{}
	}
	elapsed := endedAt.Sub(startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	r := &JobResult{
		JobID:         spec.JobID,
		Status:        status,
		ResultData:    data,
		ExecutionTime: elapsed,
		Metadata:      md,
	}
	if status != JobStatusCompleted {
		if errMsg == "" {
			errMsg = fmt.Sprintf("job %s", status)
		}
		r.ErrorMessage = &errMsg
	}
	return r
}

// JobSummary is one row of a job listing.
type JobSummary struct {
	JobID         string    `json:"job_id"`
	JobType       JobType   `json:"job_type"`
	Status        JobStatus `json:"status"`
	TenantID      string    `json:"tenant_id"`
	CreatedAt     time.Time `json:"created_at"`
	ExecutionTime float64   `json:"execution_time"`
	ErrorMessage  *string   `json:"error_message,omitempty"`
}

// JobFilter restricts a listing. Zero values match everything.
type JobFilter struct {
	Status   JobStatus
	TenantID string
}

// Matches reports whether a job with the given status and tenant passes f.
func (f JobFilter) Matches(status JobStatus, tenant string) bool {
	if f.Status != "" && f.Status != status {
		return false
	}
	if f.TenantID != "" && f.TenantID != tenant {
		return false
	}
	return true
}

// Statistics is the aggregate view of the coordinator.
type Statistics struct {
	TotalJobs            int     `json:"total_jobs"`
	ActiveJobs           int     `json:"active_jobs"`
	CompletedJobs        int     `json:"completed_jobs"`
	FailedJobs           int     `json:"failed_jobs"`
	CancelledJobs        int     `json:"cancelled_jobs"`
	SuccessRate          float64 `json:"success_rate"`
	AverageExecutionTime float64 `json:"average_execution_time"`
	MaxConcurrentJobs    int     `json:"max_concurrent_jobs"`
}

// MarshalJSON adds created_at and timeout_seconds to the encoded spec.
func (s JobSpec) MarshalJSON() ([]byte, error) {
	type plain JobSpec
	return json.Marshal(struct {
		plain
		CreatedAt      time.Time `json:"created_at"`
		TimeoutSeconds float64   `json:"timeout_seconds"`
	}{plain(s), s.createdAt, s.Timeout.Seconds()})
}

// MetadataKeyWriter may carry a pre-resolved MetadataWriter handle. It is
// never persisted.
const MetadataKeyWriter = "metadata_writer"

// MetadataWriter persists extracted metadata for a workflow source.
type MetadataWriter interface {
	Write(ctx context.Context, payload JSONMap, workflowID, sourceID string) bool
}

// Writer returns the MetadataWriter handle carried in job metadata, if any.
func (s *JobSpec) Writer() MetadataWriter {
	w, _ := s.JobMetadata[MetadataKeyWriter].(MetadataWriter)
	return w
}
