package logger

import (
	"context"
	"time"
)

// Entry is a log line under construction carrying metric fields, e.g.
//
//	logger.With(logger.Fields{logger.FieldCount: n}).WithStatus("completed").Info(ctx, "job finished")
type Entry struct {
	fields Fields
}

// With starts an Entry with fields.
func With(fields Fields) *Entry {
	return (&Entry{}).With(fields)
}

// With returns a new Entry with fields merged in.
func (e *Entry) With(fields Fields) *Entry {
	merged := make(Fields, len(e.fields)+len(fields))
	for k, v := range e.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Entry{fields: merged}
}

// WithField returns a new Entry with one more field.
func (e *Entry) WithField(key string, value interface{}) *Entry {
	return e.With(Fields{key: value})
}

// WithDuration records d in milliseconds.
func (e *Entry) WithDuration(d time.Duration) *Entry {
	return e.WithField(FieldDurationMs, d.Milliseconds())
}

// WithSize records a size in bytes.
func (e *Entry) WithSize(size int64) *Entry {
	return e.WithField(FieldSize, size)
}

// WithStatus records an operation status.
func (e *Entry) WithStatus(status string) *Entry {
	return e.WithField(FieldStatus, status)
}

func (e *Entry) logger(ctx context.Context) *Logger {
	return FromContext(ctx).WithFields(e.fields)
}

// Debug logs at Debug level.
func (e *Entry) Debug(ctx context.Context, format string, args ...interface{}) {
	e.logger(ctx).Debugf(format, args...)
}

// Info logs at Info level.
func (e *Entry) Info(ctx context.Context, format string, args ...interface{}) {
	e.logger(ctx).Infof(format, args...)
}

// Warn logs at Warn level.
func (e *Entry) Warn(ctx context.Context, format string, args ...interface{}) {
	e.logger(ctx).Warnf(format, args...)
}

// Error logs at Error level.
func (e *Entry) Error(ctx context.Context, format string, args ...interface{}) {
	e.logger(ctx).Errorf(format, args...)
}
