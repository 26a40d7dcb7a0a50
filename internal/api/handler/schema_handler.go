package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/dataexec/internal/service"
)

// SchemaHandler validates and creates the metadata catalogue tables.
type SchemaHandler struct {
	catalog service.SchemaCatalog
}

// NewSchemaHandler creates a schema handler. catalog may be nil when no
// metadata database is configured.
func NewSchemaHandler(catalog service.SchemaCatalog) *SchemaHandler {
	return &SchemaHandler{catalog: catalog}
}

func (h *SchemaHandler) unavailable(c *gin.Context) bool {
	if h.catalog != nil {
		return false
	}
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		Error:  "no metadata database configured",
		Status: "unavailable",
	})
	return true
}

// Validate reports which catalogue tables are present.
func (h *SchemaHandler) Validate(c *gin.Context) {
	if h.unavailable(c) {
		return
	}
	c.JSON(http.StatusOK, h.catalog.ValidateSchema(c.Request.Context()))
}

// Create creates missing catalogue tables.
func (h *SchemaHandler) Create(c *gin.Context) {
	if h.unavailable(c) {
		return
	}
	report, err := h.catalog.CreateSchema(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}
