package logger

import (
	"context"
	"sync"
)

type contextKey struct{}

var loggerKey = contextKey{}

var (
	defaultLogger   *Logger
	defaultLoggerMu sync.RWMutex
)

func init() {
	defaultLogger = New(nil)
}

// GetDefault returns the process-wide logger.
func GetDefault() *Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// SetDefaultLogger replaces the process-wide logger. Nil is ignored.
func SetDefaultLogger(l *Logger) {
	if l == nil {
		return
	}
	defaultLoggerMu.Lock()
	defaultLogger = l
	defaultLoggerMu.Unlock()
}

// WithContext returns a copy of ctx carrying l.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the logger carried by ctx, or the default logger.
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(*Logger); ok {
			return l
		}
	}
	return GetDefault()
}

// WithField returns a context whose logger carries one more field.
func WithField(ctx context.Context, key string, value interface{}) context.Context {
	return FromContext(ctx).WithField(key, value).WithContext(ctx)
}

// WithFields returns a context whose logger carries fields.
func WithFields(ctx context.Context, fields Fields) context.Context {
	return FromContext(ctx).WithFields(fields).WithContext(ctx)
}

// SetRequestID tags ctx with the HTTP request id.
func SetRequestID(ctx context.Context, id string) context.Context {
	return WithField(ctx, FieldRequestID, id)
}

// SetJobID tags ctx with the job id.
func SetJobID(ctx context.Context, id string) context.Context {
	return WithField(ctx, FieldJobID, id)
}

// SetJobType tags ctx with the job type.
func SetJobType(ctx context.Context, jobType string) context.Context {
	return WithField(ctx, FieldJobType, jobType)
}

// SetTenant tags ctx with the tenant id.
func SetTenant(ctx context.Context, tenant string) context.Context {
	return WithField(ctx, FieldTenantID, tenant)
}

// SetWorkflowID tags ctx with the workflow id.
func SetWorkflowID(ctx context.Context, id string) context.Context {
	return WithField(ctx, FieldWorkflowID, id)
}

// SetComponent tags ctx with the component name.
func SetComponent(ctx context.Context, name string) context.Context {
	return WithField(ctx, FieldComponent, name)
}

// SetSourceType tags ctx with a data source type tag.
func SetSourceType(ctx context.Context, tag string) context.Context {
	return WithField(ctx, FieldSourceType, tag)
}

// GetFieldString returns a string field carried by ctx's logger.
func GetFieldString(ctx context.Context, key string) string {
	val, ok := FromContext(ctx).Data[key]
	if !ok {
		return ""
	}
	str, _ := val.(string)
	return str
}

// GetJobID returns the job id carried by ctx.
func GetJobID(ctx context.Context) string {
	return GetFieldString(ctx, FieldJobID)
}

// GetFields returns a copy of every field carried by ctx's logger.
func GetFields(ctx context.Context) Fields {
	data := FromContext(ctx).Data
	fields := make(Fields, len(data))
	for k, v := range data {
		fields[k] = v
	}
	return fields
}
