package service

import (
	"context"
	"strings"
	"time"

	"github.com/timmy/dataexec/internal/domain"
	"github.com/timmy/dataexec/internal/logger"
	"github.com/timmy/dataexec/internal/repository"
)

// MetadataKeyCreateSchema asks a schema validation job to create missing
// tables before reporting.
const MetadataKeyCreateSchema = "create_schema"

// SchemaCatalog is the metadata store whose schema is validated.
type SchemaCatalog interface {
	ValidateSchema(ctx context.Context) repository.SchemaReport
	CreateSchema(ctx context.Context) (repository.SchemaReport, error)
}

// SchemaValidator checks that the metadata tables exist.
type SchemaValidator struct {
	catalog SchemaCatalog
}

// NewSchemaValidator creates a validator. A nil catalog means no metadata
// database is configured and validation is skipped.
func NewSchemaValidator(catalog SchemaCatalog) *SchemaValidator {
	return &SchemaValidator{catalog: catalog}
}

// Run validates the metadata catalogue schema.
func (v *SchemaValidator) Run(ctx context.Context, spec *domain.JobSpec) (domain.JSONMap, error) {
	if v.catalog == nil {
		logger.CtxWarn(ctx, "no metadata database configured, skipping schema validation")
		return domain.JSONMap{
			"validation_status": "skipped",
			"message":           "no metadata database configured",
		}, nil
	}

	report := v.catalog.ValidateSchema(ctx)
	if report.Status != "valid" && spec.JobMetadata.Bool(MetadataKeyCreateSchema) {
		created, err := v.catalog.CreateSchema(ctx)
		if err != nil {
			return nil, err
		}
		report = created
	}
	if report.Status != "valid" {
		problems := append(append([]string{}, report.TablesMissing...), report.TablesInvalid...)
		return nil, domain.NewErrValidation("metadata schema invalid: %s", strings.Join(problems, ", "))
	}

	logger.With(logger.Fields{logger.FieldCount: len(report.TablesFound)}).Info(ctx, "metadata schema valid")
	return reportPayload(report), nil
}

func reportPayload(r repository.SchemaReport) domain.JSONMap {
	out := domain.JSONMap{
		"validation_status":    r.Status,
		"tables_found":         append([]string{}, r.TablesFound...),
		"tables_missing":       append([]string{}, r.TablesMissing...),
		"tables_invalid":       append([]string{}, r.TablesInvalid...),
		"recommendations":      append([]string{}, r.Recommendations...),
		"validation_timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if len(r.TablesCreated) > 0 {
		out["tables_created"] = append([]string{}, r.TablesCreated...)
	}
	return out
}
