package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/dataexec/internal/datasource"
	"github.com/timmy/dataexec/internal/domain"
	"github.com/timmy/dataexec/internal/logger"
)

// DataSourceHandler tests connectivity and lists connector variants.
type DataSourceHandler struct {
	registry *datasource.Registry
	lookup   datasource.CredentialLookup
}

// NewDataSourceHandler creates a data source handler. Configured
// credentials from lookup are overlaid by those in the request.
func NewDataSourceHandler(registry *datasource.Registry, lookup datasource.CredentialLookup) *DataSourceHandler {
	return &DataSourceHandler{registry: registry, lookup: lookup}
}

// TestSourceRequest is the body of POST /api/v1/datasources/test.
type TestSourceRequest struct {
	SourceType  string             `json:"source_type" binding:"required"`
	Credentials domain.Credentials `json:"credentials"`
}

// Test connects to a data source and reports the outcome.
func (h *DataSourceHandler) Test(c *gin.Context) {
	var req TestSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "source_type is required")
		return
	}

	creds := domain.Credentials{}
	if h.lookup != nil {
		creds = h.lookup(req.SourceType)
	}
	creds = creds.Merge(req.Credentials)

	ctx := logger.SetSourceType(c.Request.Context(), req.SourceType)
	status := h.registry.TestConnection(ctx, req.SourceType, creds)
	if !status.Success {
		logger.CtxWarn(ctx, "Connection test failed: %s", status.Error)
	}
	c.JSON(http.StatusOK, gin.H{
		"source_type": req.SourceType,
		"success":     status.Success,
		"status":      status,
		"credentials": creds.Mask(),
	})
}

// Types lists the registered connector variants and their credentials.
func (h *DataSourceHandler) Types(c *gin.Context) {
	types := h.registry.SupportedTypes()
	info := make(gin.H, len(types))
	for _, tag := range types {
		required, _ := h.registry.RequiredCredentials(tag)
		info[tag] = gin.H{"required_credentials": required}
	}
	c.JSON(http.StatusOK, gin.H{
		"supported_types": types,
		"type_info":       info,
	})
}
