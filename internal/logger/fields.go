package logger

// Fields is a set of structured log fields.
type Fields map[string]interface{}

// Tracing fields, propagated through the context.
const (
	FieldRequestID  = "request_id"
	FieldJobID      = "job_id"
	FieldJobType    = "job_type"
	FieldTenantID   = "tenant_id"
	FieldWorkflowID = "workflow_id"
	FieldComponent  = "component"
	FieldSourceType = "source_type"
	FieldSourceID   = "source_id"
)

// Metric fields, attached per entry for aggregation.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSize       = "size"
	FieldStatus     = "status"
)
