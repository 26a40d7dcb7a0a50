package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/timmy/dataexec/internal/domain"
	"github.com/timmy/dataexec/internal/logger"
)

// SourceRecord is one extraction of one source.
type SourceRecord struct {
	ID                  uint      `gorm:"primaryKey"`
	SourceID            string    `gorm:"type:varchar(128);index;not null"`
	WorkflowID          string    `gorm:"type:varchar(128);index"`
	SourcePath          string    `gorm:"type:text"`
	SourceType          string    `gorm:"type:varchar(32)"`
	ExtractionTimestamp time.Time `gorm:"not null"`
	FilesFound          int
	TotalSizeBytes      int64
}

func (SourceRecord) TableName() string { return "sources" }

// TableRecord describes one entry found in a source.
type TableRecord struct {
	ID          uint   `gorm:"primaryKey"`
	SourceID    string `gorm:"type:varchar(128);index;not null"`
	Name        string `gorm:"column:table_name;type:text"`
	FilePath    string `gorm:"type:text"`
	FileType    string `gorm:"type:varchar(32)"`
	RowCount    int64
	ColumnCount int
	SizeBytes   int64
}

func (TableRecord) TableName() string { return "tables" }

// ColumnRecord describes one column of a table.
type ColumnRecord struct {
	ID           uint   `gorm:"primaryKey"`
	SourceID     string `gorm:"type:varchar(128);index;not null"`
	Name         string `gorm:"column:table_name;type:text"`
	ColumnName   string `gorm:"type:text"`
	DataType     string `gorm:"type:varchar(32)"`
	Position     int
	IsNullable   bool
	SampleValues string `gorm:"type:text"`
}

func (ColumnRecord) TableName() string { return "columns" }

// ExecutorRun is the audit trail of one job execution.
type ExecutorRun struct {
	ID              uint   `gorm:"primaryKey"`
	RunID           string `gorm:"type:varchar(64);index"`
	ExecutorVersion string `gorm:"type:varchar(32)"`
	SourceID        string `gorm:"type:varchar(128);index"`
	WorkflowID      string `gorm:"type:varchar(128)"`
	RunMode         string `gorm:"type:varchar(32)"`
	Status          string `gorm:"type:varchar(16)"`
	ErrorMessage    string `gorm:"type:text"`
	StartedAt       time.Time
	FinishedAt      time.Time
}

func (ExecutorRun) TableName() string { return "executor_runs" }

// RunLog is a log line attached to a run.
type RunLog struct {
	ID           uint   `gorm:"primaryKey"`
	RunID        string `gorm:"type:varchar(64);index"`
	LogLevel     string `gorm:"type:varchar(16)"`
	LogMessage   string `gorm:"type:text"`
	LogTimestamp time.Time
}

func (RunLog) TableName() string { return "logs" }

// CatalogTable is a required catalogue table and its key columns.
type CatalogTable struct {
	Name    string
	Model   interface{}
	Columns []string
}

// CatalogTables lists the catalogue schema in creation order.
var CatalogTables = []CatalogTable{
	{"sources", &SourceRecord{}, []string{"source_id", "source_path", "source_type", "extraction_timestamp", "files_found", "total_size_bytes"}},
	{"tables", &TableRecord{}, []string{"source_id", "table_name", "file_path", "file_type", "row_count", "column_count", "size_bytes"}},
	{"columns", &ColumnRecord{}, []string{"source_id", "table_name", "column_name", "data_type", "position", "is_nullable", "sample_values"}},
	{"executor_runs", &ExecutorRun{}, []string{"run_id", "source_id", "run_mode", "status", "error_message", "started_at", "finished_at"}},
	{"logs", &RunLog{}, []string{"run_id", "log_level", "log_message", "log_timestamp"}},
}

// CatalogModels returns the models of CatalogTables.
func CatalogModels() []interface{} {
	models := make([]interface{}, len(CatalogTables))
	for i, t := range CatalogTables {
		models[i] = t.Model
	}
	return models
}

// SchemaReport is the outcome of validating or creating the catalogue.
type SchemaReport struct {
	Status          string              `json:"validation_status"`
	TablesFound     []string            `json:"tables_found"`
	TablesMissing   []string            `json:"tables_missing"`
	TablesInvalid   []string            `json:"tables_invalid"`
	MissingColumns  map[string][]string `json:"missing_columns,omitempty"`
	TablesCreated   []string            `json:"tables_created,omitempty"`
	Recommendations []string            `json:"recommendations"`
}

// MetadataCatalog stores extracted metadata and run audit records.
type MetadataCatalog struct {
	db      *gorm.DB
	version string
}

// NewMetadataCatalog creates a catalogue over db.
// Parameters:
//   - db: GORM database handle with CatalogModels migrated.
//   - executorVersion: version recorded on every ExecutorRun.
//
// Returns:
//   - *MetadataCatalog: catalogue bound to db.
func NewMetadataCatalog(db *gorm.DB, executorVersion string) *MetadataCatalog {
	return &MetadataCatalog{db: db, version: executorVersion}
}

// ValidateSchema checks that every catalogue table and key column exists.
func (c *MetadataCatalog) ValidateSchema(ctx context.Context) SchemaReport {
	report := SchemaReport{
		TablesFound:     []string{},
		TablesMissing:   []string{},
		TablesInvalid:   []string{},
		MissingColumns:  map[string][]string{},
		Recommendations: []string{},
	}
	m := c.db.WithContext(ctx).Migrator()
	for _, t := range CatalogTables {
		if !m.HasTable(t.Name) {
			report.TablesMissing = append(report.TablesMissing, t.Name)
			report.Recommendations = append(report.Recommendations, "Create table: "+t.Name)
			continue
		}
		report.TablesFound = append(report.TablesFound, t.Name)
		for _, col := range t.Columns {
			if !m.HasColumn(t.Name, col) {
				report.MissingColumns[t.Name] = append(report.MissingColumns[t.Name], col)
			}
		}
		if len(report.MissingColumns[t.Name]) > 0 {
			report.TablesInvalid = append(report.TablesInvalid, t.Name)
			report.Recommendations = append(report.Recommendations, "Fix table structure: "+t.Name)
		}
	}
	if len(report.TablesMissing) == 0 && len(report.TablesInvalid) == 0 {
		report.Status = "valid"
	} else {
		report.Status = "invalid"
	}
	return report
}

// CreateSchema migrates every catalogue table, then re-validates.
func (c *MetadataCatalog) CreateSchema(ctx context.Context) (SchemaReport, error) {
	before := c.ValidateSchema(ctx)
	if err := c.db.WithContext(ctx).AutoMigrate(CatalogModels()...); err != nil {
		return before, fmt.Errorf("failed to create catalogue tables: %w", err)
	}
	report := c.ValidateSchema(ctx)
	report.TablesCreated = before.TablesMissing
	return report, nil
}

// Write stores an extraction payload for sourceID. It reports false instead
// of failing so extraction results survive a catalogue outage.
func (c *MetadataCatalog) Write(ctx context.Context, payload domain.JSONMap, workflowID, sourceID string) bool {
	if sourceID == "" {
		logger.CtxError(ctx, "metadata write skipped: source_id is required")
		return false
	}
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		src := &SourceRecord{
			SourceID:            sourceID,
			WorkflowID:          workflowID,
			SourcePath:          payload.String("source_path"),
			SourceType:          payload.String("source_type"),
			ExtractionTimestamp: time.Now().UTC(),
			FilesFound:          int(toInt64(payload["files_found"])),
			TotalSizeBytes:      toInt64(payload["total_size_bytes"]),
		}
		if err := tx.Create(src).Error; err != nil {
			return err
		}
		for _, file := range mapList(payload["files"]) {
			name := file.String("name")
			columns := mapList(file["columns"])
			table := &TableRecord{
				SourceID:    sourceID,
				Name:        name,
				FilePath:    file.String("path"),
				FileType:    file.String("file_type"),
				RowCount:    toInt64(file["row_count"]),
				ColumnCount: len(columns),
				SizeBytes:   toInt64(file["size_bytes"]),
			}
			if err := tx.Create(table).Error; err != nil {
				return err
			}
			for _, col := range columns {
				samples, _ := json.Marshal(col["sample_values"])
				rec := &ColumnRecord{
					SourceID:     sourceID,
					Name:         name,
					ColumnName:   col.String("column_name"),
					DataType:     col.String("data_type"),
					Position:     int(toInt64(col["position"])),
					IsNullable:   col.Bool("is_nullable"),
					SampleValues: string(samples),
				}
				if err := tx.Create(rec).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("failed to write metadata for source %s", sourceID)
		return false
	}
	logger.With(logger.Fields{logger.FieldSourceID: sourceID, logger.FieldWorkflowID: workflowID}).Info(ctx, "metadata written")
	return true
}

// RecordRun appends an audit record for a finished job.
func (c *MetadataCatalog) RecordRun(ctx context.Context, run *ExecutorRun) error {
	if run.ExecutorVersion == "" {
		run.ExecutorVersion = c.version
	}
	return c.db.WithContext(ctx).Create(run).Error
}

// AppendLog attaches a log line to a run.
func (c *MetadataCatalog) AppendLog(ctx context.Context, runID, level, message string) error {
	return c.db.WithContext(ctx).Create(&RunLog{
		RunID:        runID,
		LogLevel:     level,
		LogMessage:   message,
		LogTimestamp: time.Now().UTC(),
	}).Error
}

// SourceSummary aggregates what the catalogue knows about a source.
type SourceSummary struct {
	SourceID    string         `json:"source_id"`
	Extractions int64          `json:"extractions"`
	Tables      []TableRecord  `json:"tables"`
	Columns     []ColumnRecord `json:"columns"`
}

// QuerySource returns the catalogue entries of one source.
func (c *MetadataCatalog) QuerySource(ctx context.Context, sourceID string) (*SourceSummary, error) {
	out := &SourceSummary{SourceID: sourceID}
	db := c.db.WithContext(ctx)
	if err := db.Model(&SourceRecord{}).Where("source_id = ?", sourceID).Count(&out.Extractions).Error; err != nil {
		return nil, err
	}
	if err := db.Where("source_id = ?", sourceID).Order("id").Find(&out.Tables).Error; err != nil {
		return nil, err
	}
	if err := db.Where("source_id = ?", sourceID).Order("id").Find(&out.Columns).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func mapList(v interface{}) []domain.JSONMap {
	var out []domain.JSONMap
	switch items := v.(type) {
	case []domain.JSONMap:
		return items
	case []map[string]interface{}:
		for _, m := range items {
			out = append(out, domain.JSONMap(m))
		}
	case []interface{}:
		for _, item := range items {
			switch m := item.(type) {
			case map[string]interface{}:
				out = append(out, domain.JSONMap(m))
			case domain.JSONMap:
				out = append(out, m)
			}
		}
	}
	return out
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}
