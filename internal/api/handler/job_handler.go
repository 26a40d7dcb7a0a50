package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/timmy/dataexec/internal/domain"
	"github.com/timmy/dataexec/internal/logger"
	"github.com/timmy/dataexec/internal/service"
)

// JobHandler exposes the coordinator over HTTP.
type JobHandler struct {
	coordinator  *service.Coordinator
	cleanupAfter time.Duration
}

// NewJobHandler creates a job handler. cleanupAfter is the default age
// used by Cleanup when the request does not give one.
func NewJobHandler(coordinator *service.Coordinator, cleanupAfter time.Duration) *JobHandler {
	return &JobHandler{coordinator: coordinator, cleanupAfter: cleanupAfter}
}

// CreateJobRequest is the body of POST /api/v1/jobs.
type CreateJobRequest struct {
	JobID          string                    `json:"job_id"`
	JobType        string                    `json:"job_type" binding:"required"`
	DataSourcePath string                    `json:"data_source_path"`
	DataSourceType string                    `json:"data_source_type"`
	TenantID       string                    `json:"tenant_id"`
	Priority       int                       `json:"priority"`
	TimeoutMinutes int                       `json:"timeout_minutes" binding:"omitempty,min=1"`
	CreatedBy      string                    `json:"created_by"`
	JobMetadata    map[string]interface{}    `json:"job_metadata"`
	Sources        []domain.SourceDescriptor `json:"sources"`
}

func (r CreateJobRequest) spec() (*domain.JobSpec, error) {
	jobType, err := domain.ParseJobType(r.JobType)
	if err != nil {
		return nil, err
	}
	spec := domain.NewJobSpec(jobType, r.DataSourcePath)
	spec.JobID = r.JobID
	spec.DataSourceType = r.DataSourceType
	spec.TenantID = r.TenantID
	spec.Priority = r.Priority
	spec.CreatedBy = r.CreatedBy
	spec.Sources = r.Sources
	if r.TimeoutMinutes > 0 {
		spec.Timeout = time.Duration(r.TimeoutMinutes) * time.Minute
	}
	if r.JobMetadata != nil {
		spec.JobMetadata = domain.JSONMap(r.JobMetadata)
	}
	spec.ApplyDefaults()
	return spec, nil
}

// ExecuteResponse is the reply of an execution.
type ExecuteResponse struct {
	JobID         string         `json:"job_id"`
	Status        string         `json:"status"`
	Success       bool           `json:"success"`
	ExecutionTime float64        `json:"execution_time"`
	Error         *string        `json:"error"`
	ResultData    domain.JSONMap `json:"result_data"`
	Metadata      domain.JSONMap `json:"metadata"`
}

// Create registers a job without running it.
func (h *JobHandler) Create(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "job_type is required: "+err.Error())
		return
	}
	spec, err := req.spec()
	if err != nil {
		respondError(c, err)
		return
	}

	jobID, err := h.coordinator.Create(c.Request.Context(), spec)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"job_id":  jobID,
		"status":  "created",
		"message": "Job " + jobID + " created successfully",
	})
}

// Execute runs a job and waits for its outcome.
func (h *JobHandler) Execute(c *gin.Context) {
	jobID := c.Param("id")
	ctx := logger.SetJobID(c.Request.Context(), jobID)

	result, err := h.coordinator.Execute(ctx, jobID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ExecuteResponse{
		JobID:         result.JobID,
		Status:        string(result.Status),
		Success:       result.Status == domain.JobStatusCompleted,
		ExecutionTime: result.ExecutionTime.Seconds(),
		Error:         result.ErrorMessage,
		ResultData:    result.ResultData,
		Metadata:      result.Metadata,
	})
}

// Status reports the lifecycle state of a job.
func (h *JobHandler) Status(c *gin.Context) {
	jobID := c.Param("id")
	status, ok := h.coordinator.Status(c.Request.Context(), jobID)
	if !ok {
		respondError(c, domain.NewErrJobNotFound(jobID))
		return
	}
	resp := gin.H{
		"job_id": jobID,
		"status": string(status),
	}
	if result, ok := h.coordinator.Result(c.Request.Context(), jobID); ok {
		resp["execution_time"] = result.ExecutionTime.Seconds()
		resp["error"] = result.ErrorMessage
		resp["metadata"] = result.Metadata
		if status.IsTerminal() {
			resp["result"] = result.ResultData
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Result returns the stored result of a job.
func (h *JobHandler) Result(c *gin.Context) {
	jobID := c.Param("id")
	result, ok := h.coordinator.Result(c.Request.Context(), jobID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Job result not found", Status: "not_found"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Cancel stops a running job.
func (h *JobHandler) Cancel(c *gin.Context) {
	jobID := c.Param("id")
	if !h.coordinator.Cancel(c.Request.Context(), jobID) {
		c.JSON(http.StatusNotFound, gin.H{
			"job_id":    jobID,
			"cancelled": false,
			"status":    "not_found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"job_id":    jobID,
		"cancelled": true,
		"status":    string(domain.JobStatusCancelled),
	})
}

// List returns jobs filtered by status and tenant.
func (h *JobHandler) List(c *gin.Context) {
	filter := domain.JobFilter{
		Status:   domain.JobStatus(c.Query("status")),
		TenantID: c.Query("tenant_id"),
	}
	jobs := h.coordinator.List(c.Request.Context(), filter)
	c.JSON(http.StatusOK, gin.H{
		"total_jobs": len(jobs),
		"jobs":       jobs,
		"filters": gin.H{
			"status":    c.Query("status"),
			"tenant_id": c.Query("tenant_id"),
		},
	})
}

// Stats returns aggregate coordinator statistics.
func (h *JobHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.coordinator.Statistics(c.Request.Context()))
}

// Cleanup expires terminal jobs older than ?older_than (a Go duration),
// or the configured retention.
func (h *JobHandler) Cleanup(c *gin.Context) {
	age := h.cleanupAfter
	if raw := c.Query("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			badRequest(c, "older_than must be a non-negative duration such as 720h")
			return
		}
		age = d
	}
	removed := h.coordinator.ExpireOlderThan(c.Request.Context(), age)
	c.JSON(http.StatusOK, gin.H{
		"removed":    removed,
		"older_than": age.String(),
	})
}
