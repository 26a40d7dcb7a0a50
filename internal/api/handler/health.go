package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/timmy/dataexec/internal/domain"
)

// ServiceName and Version identify the executor in health and info replies.
const (
	ServiceName = "dataexec"
	Version     = "1.0.0"
)

// HealthHandler handles liveness and service description endpoints.
type HealthHandler struct {
	sourceTypes func() []string
}

// NewHealthHandler creates a health handler. sourceTypes lists the
// registered data source tags for /info.
func NewHealthHandler(sourceTypes func() []string) *HealthHandler {
	return &HealthHandler{sourceTypes: sourceTypes}
}

// Health returns the health status of the service
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
		"service":   ServiceName,
	})
}

// Info describes the service and its endpoints.
func (h *HealthHandler) Info(c *gin.Context) {
	jobTypes := make([]string, 0, len(domain.JobTypes))
	for _, t := range domain.JobTypes {
		jobTypes = append(jobTypes, string(t))
	}
	var sources []string
	if h.sourceTypes != nil {
		sources = h.sourceTypes()
	}
	c.JSON(http.StatusOK, gin.H{
		"service":     ServiceName,
		"version":     Version,
		"description": "Runs metadata extraction, validation, reading, quality and transmission jobs against external data sources",
		"endpoints": gin.H{
			"health":           "GET /health",
			"info":             "GET /info",
			"ping":             "POST /ping",
			"create_job":       "POST /api/v1/jobs",
			"execute_job":      "POST /api/v1/jobs/:id/execute",
			"job_status":       "GET /api/v1/jobs/:id/status",
			"job_result":       "GET /api/v1/jobs/:id/result",
			"cancel_job":       "DELETE /api/v1/jobs/:id",
			"list_jobs":        "GET /api/v1/jobs",
			"statistics":       "GET /api/v1/jobs/stats",
			"cleanup":          "POST /api/v1/jobs/cleanup",
			"test_datasource":  "POST /api/v1/datasources/test",
			"datasource_types": "GET /api/v1/datasources/types",
			"validate_schema":  "POST /api/v1/schema/validate",
			"create_schema":    "POST /api/v1/schema/create",
			"metrics":          "GET /metrics",
		},
		"job_types":              jobTypes,
		"supported_data_sources": sources,
	})
}

// Ping echoes the request body.
func (h *HealthHandler) Ping(c *gin.Context) {
	var body map[string]interface{}
	// an empty or non-JSON body is still a valid ping
	_ = c.ShouldBindJSON(&body)
	c.JSON(http.StatusOK, gin.H{
		"pong":          true,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"received_data": body,
		"message":       "dataexec is responding",
	})
}
