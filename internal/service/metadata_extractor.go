package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/timmy/dataexec/internal/datasource"
	"github.com/timmy/dataexec/internal/domain"
	"github.com/timmy/dataexec/internal/logger"
)

// ExtractorConfig bounds the work of one extraction.
type ExtractorConfig struct {
	MaxEntries  int
	SampleBytes int64
	Workers     int
}

// MetadataExtractor lists a source, analyses its first entries and
// optionally persists the result through a MetadataWriter.
type MetadataExtractor struct {
	sources *SourceOpener
	writer  domain.MetadataWriter
	cfg     ExtractorConfig
}

// NewMetadataExtractor creates an extractor. writer may be nil; a writer
// carried in the job metadata takes precedence.
func NewMetadataExtractor(sources *SourceOpener, writer domain.MetadataWriter, cfg ExtractorConfig) *MetadataExtractor {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 5
	}
	if cfg.SampleBytes <= 0 {
		cfg.SampleBytes = 1 << 20
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &MetadataExtractor{sources: sources, writer: writer, cfg: cfg}
}

// Run extracts metadata from every source of the job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - spec: job to extract; multi-source jobs fan out over the worker pool.
//
// Returns:
//   - domain.JSONMap: extraction payload.
//   - error: non-nil for invalid sources or when the single source cannot be opened.
func (e *MetadataExtractor) Run(ctx context.Context, spec *domain.JobSpec) (domain.JSONMap, error) {
	if err := validateSources(spec); err != nil {
		return nil, err
	}
	if sources := spec.AllSources(); len(sources) > 0 {
		return e.runSources(ctx, spec, sources)
	}

	md, err := e.extract(ctx, spec.DataSourcePath, spec.DataSourceType)
	if err != nil {
		return nil, err
	}
	if e.shouldPersist(spec) {
		sourceID := spec.SourceID()
		if sourceID == "" {
			sourceID = spec.JobID
		}
		md["metadata_persisted"] = e.persist(ctx, spec, md, spec.WorkflowID(), sourceID)
	}
	return md, nil
}

func (e *MetadataExtractor) shouldPersist(spec *domain.JobSpec) bool {
	if e.writerFor(spec) == nil {
		return false
	}
	return spec.WorkflowID() != "" || spec.JobMetadata.Bool(domain.MetadataKeyPersist)
}

func (e *MetadataExtractor) writerFor(spec *domain.JobSpec) domain.MetadataWriter {
	if w := spec.Writer(); w != nil {
		return w
	}
	return e.writer
}

func (e *MetadataExtractor) persist(ctx context.Context, spec *domain.JobSpec, md domain.JSONMap, workflowID, sourceID string) bool {
	w := e.writerFor(spec)
	if w == nil {
		return false
	}
	ok := w.Write(ctx, md, workflowID, sourceID)
	if !ok {
		logger.With(logger.Fields{logger.FieldSourceID: sourceID}).Warn(ctx, "metadata writer rejected extraction result")
	}
	return ok
}

// runSources extracts every source independently. One source failing does
// not stop the others.
func (e *MetadataExtractor) runSources(ctx context.Context, spec *domain.JobSpec, sources []domain.SourceDescriptor) (domain.JSONMap, error) {
	workflowID := spec.WorkflowID()
	ctx = logger.SetWorkflowID(ctx, workflowID)

	var (
		mu        sync.Mutex
		details   = domain.JSONMap{}
		succeeded int
	)
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Workers)
	for _, src := range sources {
		src := src
		g.Go(func() error {
			tag := src.DataSourceType
			if tag == "" {
				tag = spec.DataSourceType
			}
			detail := domain.JSONMap{"data_source_path": src.DataSourcePath}
			srcCtx := logger.WithField(ctx, logger.FieldSourceID, src.SourceID)
			if err := ctx.Err(); err != nil {
				detail["status"] = string(domain.JobStatusCancelled)
				detail["error"] = err.Error()
			} else if md, err := e.extract(srcCtx, src.DataSourcePath, tag); err != nil {
				logger.CtxWarn(srcCtx, "source extraction failed: %v", err)
				detail["status"] = string(domain.JobStatusFailed)
				detail["error"] = err.Error()
			} else {
				detail["status"] = string(domain.JobStatusCompleted)
				detail["metadata"] = md
				if e.writerFor(spec) != nil {
					detail["metadata_persisted"] = e.persist(srcCtx, spec, md, workflowID, src.SourceID)
				}
			}

			mu.Lock()
			defer mu.Unlock()
			details[src.SourceID] = detail
			if detail["status"] == string(domain.JobStatusCompleted) {
				succeeded++
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger.With(logger.Fields{logger.FieldCount: len(sources)}).Info(ctx, "multi-source extraction finished: %d succeeded", succeeded)
	return domain.JSONMap{
		"workflow_id":          workflowID,
		"sources_total":        len(sources),
		"sources_succeeded":    succeeded,
		"sources_failed":       len(sources) - succeeded,
		"sources":              details,
		"extraction_timestamp": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// extract lists one source and analyses its first entries.
func (e *MetadataExtractor) extract(ctx context.Context, path, tag string) (domain.JSONMap, error) {
	ds, err := e.sources.Open(ctx, path, tag)
	if err != nil {
		return nil, err
	}
	defer e.sources.Close(ctx, ds)

	ctx = logger.SetSourceType(ctx, ds.SourceType())
	start := time.Now()
	entries := ds.ListEntries(ctx, path)

	analysed := entries
	if len(analysed) > e.cfg.MaxEntries {
		analysed = analysed[:e.cfg.MaxEntries]
	}

	var (
		files      []interface{}
		totalSize  int64
		tables     int
		columns    int
		dataTypes  = map[string]int{}
		fileErrors int
	)
	for _, id := range analysed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		file := e.analyseEntry(ctx, ds, id)
		if _, failed := file["error"]; failed {
			fileErrors++
		}
		totalSize += toInt64(file["size_bytes"])
		if cols, ok := file["columns"].([]interface{}); ok && len(cols) > 0 {
			tables++
			columns += len(cols)
			for _, c := range cols {
				dataTypes[c.(domain.JSONMap).String("data_type")]++
			}
		}
		files = append(files, file)
	}
	if files == nil {
		files = []interface{}{}
	}

	types := domain.JSONMap{}
	for k, v := range dataTypes {
		types[k] = v
	}
	logger.With(logger.Fields{logger.FieldCount: len(entries)}).WithDuration(time.Since(start)).Info(ctx, "metadata extracted from %s", ds.SourceType())

	return domain.JSONMap{
		"source_path":      path,
		"source_type":      ds.SourceType(),
		"files_found":      len(entries),
		"files_analyzed":   len(files),
		"files_failed":     fileErrors,
		"total_size_bytes": totalSize,
		"files":            files,
		"schema_info": domain.JSONMap{
			"tables":     tables,
			"columns":    columns,
			"data_types": types,
		},
		"extraction_timestamp": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (e *MetadataExtractor) analyseEntry(ctx context.Context, ds datasource.DataSource, id string) domain.JSONMap {
	size := ds.EntrySize(ctx, id)
	file := domain.JSONMap{
		"name":       entryName(id),
		"path":       id,
		"size_bytes": size,
	}
	sample, err := ds.ReadSample(ctx, id, e.cfg.SampleBytes)
	if err != nil {
		file["file_type"] = fileTypeByName(id)
		file["error"] = err.Error()
		return file
	}
	file["sample_size_bytes"] = len(sample)

	fileType := fileTypeByName(id)
	if ds.SourceType() == datasource.TypeDatabase {
		// database entries are tables; size is a row count
		fileType = FileTypeTable
		file["row_count"] = size
		file["size_bytes"] = int64(len(sample))
	} else if fileType == FileTypeUnknown {
		fileType = sniffFileType(sample)
	}
	file["file_type"] = fileType

	switch fileType {
	case FileTypeCSV, FileTypeTable:
		if tab, ok := analyzeDelimited(sample, int64(len(sample)) >= e.cfg.SampleBytes); ok {
			file["columns"] = tab.Columns
			file["column_count"] = len(tab.Columns)
			if _, set := file["row_count"]; !set {
				file["row_count"] = tab.Rows
			}
		}
	case FileTypeExcel:
		if tab, sheets, ok := analyzeWorkbook(sample); ok {
			file["columns"] = tab.Columns
			file["column_count"] = len(tab.Columns)
			file["row_count"] = tab.Rows
			file["sheets"] = sheets
		}
	case FileTypeImage:
		if info, ok := imageInfo(sample); ok {
			file["image"] = info
		}
	}
	return file
}

// entryName is the last path segment of an entry id.
func entryName(id string) string {
	base, _, _ := strings.Cut(id, "?")
	base = strings.TrimRight(base, "/")
	if i := strings.LastIndex(base, "/"); i >= 0 {
		return base[i+1:]
	}
	return base
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}
