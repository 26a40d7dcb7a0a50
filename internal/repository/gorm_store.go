package repository

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/timmy/dataexec/internal/domain"
)

// sourceList is a JSON text column of source descriptors.
type sourceList []domain.SourceDescriptor

func (l sourceList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *sourceList) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("failed to scan sourceList")
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(raw, l)
}

// JobRecord is the persisted form of a JobSpec.
type JobRecord struct {
	ID             string         `gorm:"type:varchar(64);primaryKey"`
	JobType        string         `gorm:"type:varchar(32);not null"`
	DataSourcePath string         `gorm:"type:text"`
	DataSourceType string         `gorm:"type:varchar(32)"`
	TenantID       string         `gorm:"type:varchar(128);index"`
	Priority       int            `gorm:"default:1"`
	TimeoutMs      int64          `gorm:"not null"`
	CreatedBy      string         `gorm:"type:varchar(128)"`
	JobMetadata    domain.JSONMap `gorm:"type:text"`
	Sources        sourceList     `gorm:"type:text"`
	CreatedAt      time.Time      `gorm:"index"`
}

func (JobRecord) TableName() string {
	return "executor_jobs"
}

// JobResultRecord is the persisted form of the latest JobResult of a job.
type JobResultRecord struct {
	JobID           string         `gorm:"type:varchar(64);primaryKey"`
	Status          string         `gorm:"type:varchar(16);index"`
	ResultData      domain.JSONMap `gorm:"type:text"`
	ErrorMessage    *string        `gorm:"type:text"`
	ExecutionTimeMs int64
	Metadata        domain.JSONMap `gorm:"type:text"`
	UpdatedAt       time.Time
}

func (JobResultRecord) TableName() string {
	return "executor_job_results"
}

// StoreModels lists the models GormJobStore needs migrated.
func StoreModels() []interface{} {
	return []interface{}{&JobRecord{}, &JobResultRecord{}}
}

// GormJobStore persists jobs through gorm.
type GormJobStore struct {
	db *gorm.DB
}

// NewGormJobStore creates a JobStore backed by db.
// Parameters:
//   - db: GORM database handle with StoreModels migrated.
//
// Returns:
//   - *GormJobStore: store bound to db.
func NewGormJobStore(db *gorm.DB) *GormJobStore {
	return &GormJobStore{db: db}
}

// PutSpec inserts a job record. A writer carried in the job metadata is not
// persisted.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - spec: job spec to persist.
//
// Returns:
//   - error: *domain.ErrDuplicateJob when the id exists, non-nil if the insert fails.
func (s *GormJobStore) PutSpec(ctx context.Context, spec *domain.JobSpec) error {
	md := spec.JobMetadata.Clone()
	delete(md, domain.MetadataKeyWriter)
	rec := &JobRecord{
		ID:             spec.JobID,
		JobType:        string(spec.JobType),
		DataSourcePath: spec.DataSourcePath,
		DataSourceType: spec.DataSourceType,
		TenantID:       spec.TenantID,
		Priority:       spec.Priority,
		TimeoutMs:      spec.Timeout.Milliseconds(),
		CreatedBy:      spec.CreatedBy,
		JobMetadata:    md,
		Sources:        sourceList(spec.Sources),
		CreatedAt:      spec.CreatedAt(),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	if res.Error != nil {
		return fmt.Errorf("failed to store job %s: %w", spec.JobID, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NewErrDuplicateJob(spec.JobID)
	}
	return nil
}

// GetSpec loads a job record by id.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: job identifier.
//
// Returns:
//   - *domain.JobSpec: the restored spec.
//   - error: *domain.ErrJobNotFound for unknown ids, non-nil if the lookup fails.
func (s *GormJobStore) GetSpec(ctx context.Context, jobID string) (*domain.JobSpec, error) {
	var rec JobRecord
	err := s.db.WithContext(ctx).Where("id = ?", jobID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewErrJobNotFound(jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	return rec.toSpec(), nil
}

// ListSpecs loads every job record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//
// Returns:
//   - []*domain.JobSpec: stored specs in creation order.
//   - error: non-nil if the query fails.
func (s *GormJobStore) ListSpecs(ctx context.Context) ([]*domain.JobSpec, error) {
	var recs []JobRecord
	if err := s.db.WithContext(ctx).Order("created_at").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	out := make([]*domain.JobSpec, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toSpec())
	}
	return out, nil
}

// PutResult upserts the latest result of a job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - result: result to store.
//
// Returns:
//   - error: non-nil if the write fails.
func (s *GormJobStore) PutResult(ctx context.Context, result *domain.JobResult) error {
	rec := &JobResultRecord{
		JobID:           result.JobID,
		Status:          string(result.Status),
		ResultData:      result.ResultData,
		ErrorMessage:    result.ErrorMessage,
		ExecutionTimeMs: result.ExecutionTime.Milliseconds(),
		Metadata:        result.Metadata,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}},
		UpdateAll: true,
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to store result of %s: %w", result.JobID, err)
	}
	return nil
}

// GetResult loads the latest result of a job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: job identifier.
//
// Returns:
//   - *domain.JobResult: the stored result.
//   - error: *domain.ErrJobNotFound when no result is stored.
func (s *GormJobStore) GetResult(ctx context.Context, jobID string) (*domain.JobResult, error) {
	var rec JobResultRecord
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewErrJobNotFound(jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load result of %s: %w", jobID, err)
	}
	return rec.toResult(), nil
}

// ListResults loads every stored result.
func (s *GormJobStore) ListResults(ctx context.Context) ([]*domain.JobResult, error) {
	var recs []JobResultRecord
	if err := s.db.WithContext(ctx).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	out := make([]*domain.JobResult, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toResult())
	}
	return out, nil
}

// Delete removes the job record and its result in one transaction.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: job identifier; unknown ids are ignored.
//
// Returns:
//   - error: non-nil if either delete fails.
func (s *GormJobStore) Delete(ctx context.Context, jobID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", jobID).Delete(&JobResultRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", jobID).Delete(&JobRecord{}).Error
	})
}

func (r *JobRecord) toSpec() *domain.JobSpec {
	md := r.JobMetadata
	if md == nil {
		md = domain.JSONMap{}
	}
	return domain.RestoreJobSpec(domain.JobSpec{
		JobID:          r.ID,
		JobType:        domain.JobType(r.JobType),
		DataSourcePath: r.DataSourcePath,
		DataSourceType: r.DataSourceType,
		TenantID:       r.TenantID,
		Priority:       r.Priority,
		Timeout:        time.Duration(r.TimeoutMs) * time.Millisecond,
		CreatedBy:      r.CreatedBy,
		JobMetadata:    md,
		Sources:        []domain.SourceDescriptor(r.Sources),
	}, r.CreatedAt.UTC())
}

func (r *JobResultRecord) toResult() *domain.JobResult {
	return &domain.JobResult{
		JobID:         r.JobID,
		Status:        domain.JobStatus(r.Status),
		ResultData:    r.ResultData,
		ErrorMessage:  r.ErrorMessage,
		ExecutionTime: time.Duration(r.ExecutionTimeMs) * time.Millisecond,
		Metadata:      r.Metadata,
	}
}
