package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/dataexec/internal/config"
	"github.com/timmy/dataexec/internal/datasource"
	"github.com/timmy/dataexec/internal/domain"
	"github.com/timmy/dataexec/internal/repository"
	"github.com/timmy/dataexec/internal/service"
)

type testServer struct {
	router      http.Handler
	coordinator *service.Coordinator
	release     chan struct{}
}

func newTestServer(t *testing.T, ceiling int, catalog service.SchemaCatalog) *testServer {
	t.Helper()
	release := make(chan struct{})
	ok := service.TaskFunc(func(ctx context.Context, spec *domain.JobSpec) (domain.JSONMap, error) {
		return domain.JSONMap{"source_path": spec.DataSourcePath}, nil
	})
	blocking := service.TaskFunc(func(ctx context.Context, spec *domain.JobSpec) (domain.JSONMap, error) {
		select {
		case <-release:
			return domain.JSONMap{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	dispatcher := service.NewDispatcher(service.Tasks{
		MetadataExtraction: ok,
		SchemaValidation:   ok,
		DataReading:        blocking,
		QualityAssessment:  ok,
		APITransmission:    ok,
	})
	coordinator := service.NewCoordinator(repository.NewMemoryJobStore(), dispatcher, nil,
		service.CoordinatorConfig{MaxConcurrentJobs: ceiling})

	router := SetupRouter(Deps{
		Coordinator:  coordinator,
		Registry:     datasource.NewRegistry(datasource.DefaultOptions()),
		Credentials:  func(string) domain.Credentials { return domain.Credentials{} },
		Catalog:      catalog,
		CleanupAfter: time.Hour,
		Registerer:   prometheus.NewRegistry(),
	}, config.ServerConfig{Mode: "test", CORS: config.CORSConfig{AllowedOrigins: []string{"https://ui.example.com"}}})

	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})
	return &testServer{router: router, coordinator: coordinator, release: release}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var decoded map[string]interface{}
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &decoded)
	}
	return w, decoded
}

func (s *testServer) createJob(t *testing.T, jobType string) string {
	t.Helper()
	w, body := s.do(t, http.MethodPost, "/api/v1/jobs", map[string]interface{}{
		"job_type":         jobType,
		"data_source_path": "s3://bucket/data",
		"tenant_id":        "acme",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Equal(t, "created", body["status"])
	return body["job_id"].(string)
}

func TestHealthAndRequestID(t *testing.T) {
	s := newTestServer(t, 2, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	w, body := s.do(t, http.MethodGet, "/info", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["job_types"], len(domain.JobTypes))
	assert.Len(t, body["supported_data_sources"], 5)

	w, body = s.do(t, http.MethodPost, "/ping", map[string]interface{}{"hello": "world"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["pong"])
	assert.Equal(t, map[string]interface{}{"hello": "world"}, body["received_data"])
}

func TestCreateJobValidation(t *testing.T) {
	s := newTestServer(t, 2, nil)

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing job type", map[string]interface{}{"data_source_path": "s3://b/k"}},
		{"unknown job type", map[string]interface{}{"job_type": "teleport", "data_source_path": "s3://b/k"}},
		{"bad timeout", map[string]interface{}{"job_type": "data_reading", "timeout_minutes": -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := s.do(t, http.MethodPost, "/api/v1/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestJobLifecycle(t *testing.T) {
	s := newTestServer(t, 2, nil)
	jobID := s.createJob(t, "metadata_extraction")

	w, body := s.do(t, http.MethodGet, "/api/v1/jobs/"+jobID+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", body["status"])

	w, body = s.do(t, http.MethodPost, "/api/v1/jobs/"+jobID+"/execute", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, true, body["success"])
	assert.Nil(t, body["error"])
	assert.Equal(t, "s3://bucket/data", body["result_data"].(map[string]interface{})["source_path"])

	w, body = s.do(t, http.MethodGet, "/api/v1/jobs/"+jobID+"/result", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, jobID, body["job_id"])
	assert.Equal(t, "completed", body["status"])

	w, body = s.do(t, http.MethodGet, "/api/v1/jobs/"+jobID+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", body["status"])
	assert.NotNil(t, body["result"])

	// terminal jobs are not re-run by default
	w, body = s.do(t, http.MethodPost, "/api/v1/jobs/"+jobID+"/execute", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", body["status"])
}

func TestUnknownJob(t *testing.T) {
	s := newTestServer(t, 2, nil)

	w, body := s.do(t, http.MethodPost, "/api/v1/jobs/job_missing/execute", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", body["status"])

	w, body = s.do(t, http.MethodGet, "/api/v1/jobs/job_missing/result", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Job result not found", body["error"])

	w, _ = s.do(t, http.MethodGet, "/api/v1/jobs/job_missing/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = s.do(t, http.MethodDelete, "/api/v1/jobs/job_missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, body["cancelled"])
}

func TestMultiSourceWithoutWorkflowIsRejected(t *testing.T) {
	s := newTestServer(t, 2, nil)
	w, body := s.do(t, http.MethodPost, "/api/v1/jobs", map[string]interface{}{
		"job_type": "metadata_extraction",
		"sources": []map[string]string{
			{"source_id": "a", "data_source_path": "s3://b/a"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	jobID := body["job_id"].(string)

	w, body = s.do(t, http.MethodPost, "/api/v1/jobs/"+jobID+"/execute", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "workflow")

	_, body = s.do(t, http.MethodGet, "/api/v1/jobs/"+jobID+"/status", nil)
	assert.Equal(t, "pending", body["status"])
}

func TestConcurrencyCeilingAndCancel(t *testing.T) {
	s := newTestServer(t, 1, nil)
	first := s.createJob(t, "data_reading")
	second := s.createJob(t, "data_reading")

	type reply struct {
		code int
		body map[string]interface{}
	}
	done := make(chan reply, 1)
	go func() {
		w, body := s.do(t, http.MethodPost, "/api/v1/jobs/"+first+"/execute", nil)
		done <- reply{w.Code, body}
	}()
	require.Eventually(t, func() bool { return s.coordinator.ActiveCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	w, body := s.do(t, http.MethodPost, "/api/v1/jobs/"+second+"/execute", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rejected", body["status"])

	w, body = s.do(t, http.MethodPost, "/api/v1/jobs/"+first+"/execute", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body = s.do(t, http.MethodDelete, "/api/v1/jobs/"+first, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["cancelled"])

	select {
	case r := <-done:
		assert.Equal(t, http.StatusOK, r.code)
		assert.Equal(t, "cancelled", r.body["status"])
		assert.Equal(t, false, r.body["success"])
	case <-time.After(2 * time.Second):
		t.Fatal("execute did not return after cancel")
	}
}

func TestListStatsAndCleanup(t *testing.T) {
	s := newTestServer(t, 2, nil)
	done := s.createJob(t, "quality_assessment")
	s.createJob(t, "schema_validation")

	w, _ := s.do(t, http.MethodPost, "/api/v1/jobs/"+done+"/execute", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, body := s.do(t, http.MethodGet, "/api/v1/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["total_jobs"])

	_, body = s.do(t, http.MethodGet, "/api/v1/jobs?status=completed&tenant_id=acme", nil)
	assert.EqualValues(t, 1, body["total_jobs"])
	assert.Equal(t, "completed", body["filters"].(map[string]interface{})["status"])

	_, body = s.do(t, http.MethodGet, "/api/v1/jobs?tenant_id=other", nil)
	assert.EqualValues(t, 0, body["total_jobs"])

	w, body = s.do(t, http.MethodGet, "/api/v1/jobs/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["total_jobs"])
	assert.EqualValues(t, 1, body["completed_jobs"])
	assert.EqualValues(t, 100, body["success_rate"])
	assert.EqualValues(t, 2, body["max_concurrent_jobs"])

	w, _ = s.do(t, http.MethodPost, "/api/v1/jobs/cleanup?older_than=soon", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = s.do(t, http.MethodPost, "/api/v1/jobs/cleanup", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, body["removed"])

	w, body = s.do(t, http.MethodPost, "/api/v1/jobs/cleanup?older_than=0s", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["removed"])

	_, body = s.do(t, http.MethodGet, "/api/v1/jobs", nil)
	assert.EqualValues(t, 1, body["total_jobs"])
}

func TestDataSourceEndpoints(t *testing.T) {
	s := newTestServer(t, 2, nil)

	w, body := s.do(t, http.MethodGet, "/api/v1/datasources/types", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.ElementsMatch(t, []interface{}{"azure_blob", "aws_s3", "minio", "database", "qdrant"}, body["supported_types"])
	assert.Contains(t, body["type_info"], "qdrant")

	w, _ = s.do(t, http.MethodPost, "/api/v1/datasources/test", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = s.do(t, http.MethodPost, "/api/v1/datasources/test", map[string]interface{}{
		"source_type": "ftp",
		"credentials": map[string]string{"password": "hunter2"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["success"])
	assert.NotContains(t, w.Body.String(), "hunter2")
}

func TestSchemaEndpoints(t *testing.T) {
	s := newTestServer(t, 2, nil)
	w, body := s.do(t, http.MethodPost, "/api/v1/schema/validate", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unavailable", body["status"])

	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "metadata.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repository.Close(db) })

	s = newTestServer(t, 2, repository.NewMetadataCatalog(db, "test"))
	w, body = s.do(t, http.MethodPost, "/api/v1/schema/validate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "invalid", body["validation_status"])

	w, body = s.do(t, http.MethodPost, "/api/v1/schema/create", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "valid", body["validation_status"])
	assert.NotEmpty(t, body["tables_created"])
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, 2, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/jobs", nil)
	req.Header.Set("Origin", "https://ui.example.com")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://ui.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, 2, nil)
	w, _ := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dataexec_jobs_active")
}
