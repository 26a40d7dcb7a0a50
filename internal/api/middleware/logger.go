package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/timmy/dataexec/internal/logger"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

const ginLoggerKey = "logger"

// Logger injects a request-scoped logger carrying the request id into the
// request context and logs each request once it completes.
func Logger(base *logger.Logger) gin.HandlerFunc {
	if base == nil {
		base = logger.GetDefault()
	}
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := base.WithContext(c.Request.Context())
		ctx = logger.SetRequestID(ctx, requestID)
		ctx = logger.SetComponent(ctx, "api")
		c.Request = c.Request.WithContext(ctx)
		c.Set(ginLoggerKey, logger.FromContext(ctx))
		c.Header(RequestIDHeader, requestID)

		c.Next()

		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}
		entry := logger.With(logger.Fields{
			logger.FieldStatus:     c.Writer.Status(),
			logger.FieldDurationMs: time.Since(start).Milliseconds(),
			logger.FieldSize:       c.Writer.Size(),
		})
		if len(c.Errors) > 0 {
			entry.Warn(ctx, "Request completed: method=%s, path=%s, errors=%s", c.Request.Method, path, c.Errors.String())
			return
		}
		entry.Info(ctx, "Request completed: method=%s, path=%s", c.Request.Method, path)
	}
}

// GetLogger returns the request-scoped logger.
func GetLogger(c *gin.Context) *logger.Logger {
	if l, ok := c.Get(ginLoggerKey); ok {
		if log, ok := l.(*logger.Logger); ok {
			return log
		}
	}
	return logger.FromContext(c.Request.Context())
}
