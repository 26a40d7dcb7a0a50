package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/dataexec/internal/config"
	"github.com/timmy/dataexec/internal/domain"
	"github.com/timmy/dataexec/internal/repository"
)

const ordersCSV = "id,name,price,active\n1,bolt,0.5,true\n2,,1.25,false\n3,gear,3,true\n"

func seedBackend(t *testing.T) *fakeBackend {
	b := newFakeBackend()
	b.add("fake://bucket/sales",
		fakeFile{id: "fake://bucket/sales/orders.csv", data: []byte(ordersCSV)},
		fakeFile{id: "fake://bucket/sales/logo.png", data: pngBytes(t, 4, 3)},
		fakeFile{id: "fake://bucket/sales/notes", data: []byte("plain notes")},
	)
	return b
}

func TestMetadataExtractorSingleSource(t *testing.T) {
	ctx := context.Background()
	b := seedBackend(t)
	writer := &recordingWriter{ok: true}
	e := NewMetadataExtractor(newTestOpener(b), writer, ExtractorConfig{MaxEntries: 5, SampleBytes: 1 << 20})

	spec := domain.NewJobSpec(domain.JobTypeMetadataExtraction, "fake://bucket/sales")
	spec.JobID = "job_single"
	out, err := e.Run(ctx, spec)
	require.NoError(t, err)

	assert.Equal(t, "fake", out["source_type"])
	assert.Equal(t, 3, out["files_found"])
	assert.Equal(t, 3, out["files_analyzed"])
	assert.NotContains(t, out, "metadata_persisted")
	assert.Empty(t, writer.calls)

	files := out["files"].([]interface{})
	csvFile := files[0].(domain.JSONMap)
	assert.Equal(t, "orders.csv", csvFile["name"])
	assert.Equal(t, FileTypeCSV, csvFile["file_type"])
	assert.Equal(t, 3, csvFile["row_count"])
	cols := csvFile["columns"].([]interface{})
	require.Len(t, cols, 4)
	assert.Equal(t, "integer", cols[0].(domain.JSONMap)["data_type"])
	assert.Equal(t, true, cols[1].(domain.JSONMap)["is_nullable"])
	assert.Equal(t, "float", cols[2].(domain.JSONMap)["data_type"])
	assert.Equal(t, "boolean", cols[3].(domain.JSONMap)["data_type"])

	img := files[1].(domain.JSONMap)
	assert.Equal(t, FileTypeImage, img["file_type"])
	assert.Equal(t, domain.JSONMap{"width": 4, "height": 3, "format": "png"}, img["image"])

	assert.Equal(t, FileTypeUnknown, files[2].(domain.JSONMap)["file_type"])

	schema := out["schema_info"].(domain.JSONMap)
	assert.Equal(t, 1, schema["tables"])
	assert.Equal(t, 4, schema["columns"])

	connects, disconnects, _ := b.stats()
	assert.Equal(t, connects, disconnects)
}

func TestMetadataExtractorPersists(t *testing.T) {
	ctx := context.Background()
	writer := &recordingWriter{ok: true}
	e := NewMetadataExtractor(newTestOpener(seedBackend(t)), writer, ExtractorConfig{})

	spec := domain.NewJobSpec(domain.JobTypeMetadataExtraction, "fake://bucket/sales")
	spec.JobMetadata[domain.MetadataKeyWorkflowID] = "wf-9"
	spec.JobMetadata[domain.MetadataKeySourceID] = "sales"
	out, err := e.Run(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, true, out["metadata_persisted"])
	require.Len(t, writer.calls, 1)
	assert.Equal(t, "wf-9", writer.calls[0].workflowID)
	assert.Equal(t, "sales", writer.calls[0].sourceID)

	// a handle in the job metadata wins over the configured writer
	handle := &recordingWriter{ok: false}
	spec = domain.NewJobSpec(domain.JobTypeMetadataExtraction, "fake://bucket/sales")
	spec.JobID = "job_handle"
	spec.JobMetadata[domain.MetadataKeyPersist] = true
	spec.JobMetadata[domain.MetadataKeyWriter] = handle
	out, err = e.Run(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, false, out["metadata_persisted"])
	require.Len(t, handle.calls, 1)
	assert.Equal(t, "job_handle", handle.calls[0].sourceID)
	assert.Len(t, writer.calls, 1)
}

func TestMetadataExtractorMultiSource(t *testing.T) {
	ctx := context.Background()
	b := seedBackend(t)
	b.add("fake://bucket/hr", fakeFile{id: "fake://bucket/hr/staff.csv", data: []byte("name,age\nann,30\n")})
	writer := &recordingWriter{ok: true}
	e := NewMetadataExtractor(newTestOpener(b), writer, ExtractorConfig{Workers: 2})

	spec := domain.NewJobSpec(domain.JobTypeMetadataExtraction, "")
	spec.JobMetadata[domain.MetadataKeyWorkflowID] = "wf-1"
	spec.Sources = []domain.SourceDescriptor{
		{SourceID: "sales", DataSourcePath: "fake://bucket/sales"},
		{SourceID: "broken", DataSourcePath: "fake://broken/path"},
	}
	spec.JobMetadata[domain.MetadataKeySources] = []interface{}{
		map[string]interface{}{"source_id": "hr", "data_source_path": "fake://bucket/hr", "data_source_type": "fake"},
	}

	out, err := e.Run(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, "wf-1", out["workflow_id"])
	assert.Equal(t, 3, out["sources_total"])
	assert.Equal(t, 2, out["sources_succeeded"])
	assert.Equal(t, 1, out["sources_failed"])

	details := out["sources"].(domain.JSONMap)
	broken := details["broken"].(domain.JSONMap)
	assert.Equal(t, "failed", broken["status"])
	assert.Contains(t, broken["error"], "connection refused")
	assert.Equal(t, "completed", details["hr"].(domain.JSONMap)["status"])

	require.Len(t, writer.calls, 2)
	ids := []string{writer.calls[0].sourceID, writer.calls[1].sourceID}
	assert.ElementsMatch(t, []string{"sales", "hr"}, ids)
	for _, call := range writer.calls {
		assert.Equal(t, "wf-1", call.workflowID)
	}
}

func TestMetadataExtractorNoConnector(t *testing.T) {
	e := NewMetadataExtractor(newTestOpener(newFakeBackend()), nil, ExtractorConfig{})
	_, err := e.Run(context.Background(), domain.NewJobSpec(domain.JobTypeMetadataExtraction, "ftp://nowhere/x"))
	assert.True(t, domain.IsValidation(err))

	_, err = e.Run(context.Background(), domain.NewJobSpec(domain.JobTypeMetadataExtraction, "fake://broken"))
	assert.True(t, domain.IsConnectionError(err))
}

func TestDataReader(t *testing.T) {
	b := newFakeBackend()
	long := strings.Repeat("x", 5000)
	for i := 0; i < 12; i++ {
		b.add("fake://bucket/logs", fakeFile{id: "fake://bucket/logs/" + string(rune('a'+i)) + ".txt", data: []byte(long)})
	}
	r := NewDataReader(newTestOpener(b), ReaderConfig{})

	out, err := r.Run(context.Background(), domain.NewJobSpec(domain.JobTypeDataReading, "fake://bucket/logs"))
	require.NoError(t, err)
	assert.Equal(t, 12, out["files_found"])
	assert.Len(t, out["files"], 10)

	samples := out["sample_data"].(domain.JSONMap)
	require.Len(t, samples, 3)
	first := samples["fake://bucket/logs/a.txt"].(domain.JSONMap)
	assert.Equal(t, 1024, first["size"])
	assert.Len(t, first["preview"], 200)
	assert.Equal(t, int64(3*1024), out["sample_bytes"])
	assert.Equal(t, "success", out["connection_status"])
}

func TestQualityAssessor(t *testing.T) {
	b := newFakeBackend()
	b.add("fake://q",
		fakeFile{id: "fake://q/a.csv", data: []byte("a\n1\n")},
		fakeFile{id: "fake://q/b.csv", data: nil},
		fakeFile{id: "fake://q/dir/a.csv", data: []byte("a\n")},
		fakeFile{id: "fake://q/blob", data: []byte("?")},
	)
	q := NewQualityAssessor(newTestOpener(b), 10)
	out, err := q.Run(context.Background(), domain.NewJobSpec(domain.JobTypeQualityAssessment, "fake://q"))
	require.NoError(t, err)

	m := out["quality_metrics"].(domain.JSONMap)
	assert.Equal(t, 75.0, m["completeness"])
	assert.Equal(t, 75.0, m["validity"])
	assert.Equal(t, 75.0, m["uniqueness"])
	assert.Equal(t, round2((75.0*3+85+80+95)/6), out["overall_score"])
	assert.Equal(t, "Good", out["quality_level"])
	assert.Contains(t, out["recommendations"], "Address data uniqueness issues - check for duplicates")
}

func TestQualityLevel(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{95, "Excellent"}, {90, "Excellent"}, {89.99, "Good"}, {80, "Good"},
		{70, "Fair"}, {60, "Poor"}, {59.9, "Critical"}, {0, "Critical"},
	}
	for _, tt := range tests {
		if got := qualityLevel(tt.score); got != tt.want {
			t.Errorf("qualityLevel(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestSchemaValidator(t *testing.T) {
	ctx := context.Background()
	assertSkipped := func(out domain.JSONMap, err error) {
		require.NoError(t, err)
		assert.Equal(t, "skipped", out["validation_status"])
	}
	assertSkipped(NewSchemaValidator(nil).Run(ctx, domain.NewJobSpec(domain.JobTypeSchemaValidation, "")))

	db, err := repository.InitDB(&config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "meta.db")})
	require.NoError(t, err)
	defer repository.Close(db)
	v := NewSchemaValidator(repository.NewMetadataCatalog(db, "test"))

	_, err = v.Run(ctx, domain.NewJobSpec(domain.JobTypeSchemaValidation, ""))
	require.True(t, domain.IsValidation(err))
	assert.Contains(t, err.Error(), "executor_runs")

	spec := domain.NewJobSpec(domain.JobTypeSchemaValidation, "")
	spec.JobMetadata[MetadataKeyCreateSchema] = true
	out, err := v.Run(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, "valid", out["validation_status"])
	assert.Contains(t, out["tables_created"], "sources")

	out, err = v.Run(ctx, domain.NewJobSpec(domain.JobTypeSchemaValidation, ""))
	require.NoError(t, err)
	assert.Equal(t, "valid", out["validation_status"])
	assert.NotContains(t, out, "tables_created")
}

func TestAPITransmitter(t *testing.T) {
	var got map[string]interface{}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/metadata" {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accepted":true}`))
	}))
	defer srv.Close()

	spec := domain.NewJobSpec(domain.JobTypeAPITransmission, "fake://x")
	spec.JobID = "job_api"
	tr := NewAPITransmitter(TransmitterConfig{Endpoint: srv.URL + "/", APIKey: "secret", Timeout: time.Second})
	out, err := tr.Run(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "success", out["transmission_status"])
	assert.Equal(t, 200, out["status_code"])
	assert.Equal(t, domain.JSONMap{"accepted": true}, out["api_response"])
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "job_api", got["job_id"])
	assert.Equal(t, "api_transmission", got["job_type"])

	out, err = NewAPITransmitter(TransmitterConfig{}).Run(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "skipped", out["transmission_status"])

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer failing.Close()
	_, err = NewAPITransmitter(TransmitterConfig{Endpoint: failing.URL}).Run(context.Background(), spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API returned status 503")
}
