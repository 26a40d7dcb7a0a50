package service

import (
	"context"
	"time"

	"github.com/timmy/dataexec/internal/domain"
	"github.com/timmy/dataexec/internal/logger"
)

const (
	previewSampleBytes = 1024
	previewChars       = 200
)

// ReaderConfig bounds a data reading job.
type ReaderConfig struct {
	ListedEntries  int
	PreviewEntries int
}

// DataReader lists a source and previews its first entries.
type DataReader struct {
	sources *SourceOpener
	cfg     ReaderConfig
}

// NewDataReader creates the data_reading task.
// Parameters:
//   - sources: opens connectors for job paths.
//   - cfg: listing and preview limits.
//
// Returns:
//   - *DataReader: task listing and previewing entries.
func NewDataReader(sources *SourceOpener, cfg ReaderConfig) *DataReader {
	if cfg.ListedEntries <= 0 {
		cfg.ListedEntries = 10
	}
	if cfg.PreviewEntries <= 0 {
		cfg.PreviewEntries = 3
	}
	return &DataReader{sources: sources, cfg: cfg}
}

// Run lists the entries under the job path and previews the first few.
func (r *DataReader) Run(ctx context.Context, spec *domain.JobSpec) (domain.JSONMap, error) {
	ds, err := r.sources.Open(ctx, spec.DataSourcePath, spec.DataSourceType)
	if err != nil {
		return nil, err
	}
	defer r.sources.Close(ctx, ds)

	entries := ds.ListEntries(ctx, spec.DataSourcePath)
	listed := entries
	if len(listed) > r.cfg.ListedEntries {
		listed = listed[:r.cfg.ListedEntries]
	}
	previewed := entries
	if len(previewed) > r.cfg.PreviewEntries {
		previewed = previewed[:r.cfg.PreviewEntries]
	}

	samples := domain.JSONMap{}
	var sampled int64
	for _, id := range previewed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sample, err := ds.ReadSample(ctx, id, previewSampleBytes)
		if err != nil {
			logger.CtxWarn(ctx, "failed to read sample from %s: %v", id, err)
			samples[id] = domain.JSONMap{"error": err.Error()}
			continue
		}
		sampled += int64(len(sample))
		samples[id] = domain.JSONMap{
			"size":    len(sample),
			"preview": preview(sample, previewChars),
		}
	}

	logger.With(logger.Fields{logger.FieldCount: len(entries)}).WithSize(sampled).Info(ctx, "data read from %s", ds.SourceType())
	return domain.JSONMap{
		"source_path":       spec.DataSourcePath,
		"source_type":       ds.SourceType(),
		"files_found":       len(entries),
		"files":             append([]string{}, listed...),
		"sample_data":       samples,
		"sample_bytes":      sampled,
		"connection_status": "success",
		"read_timestamp":    time.Now().UTC().Format(time.RFC3339),
	}, nil
}
