package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/timmy/dataexec/internal/config"
)

const (
	corsAllowHeaders  = "Content-Type, Content-Length, Accept-Encoding, Authorization, Accept, Origin, Cache-Control, X-Requested-With, X-Request-ID"
	corsAllowMethods  = "GET, POST, DELETE, OPTIONS"
	corsExposeHeaders = "Content-Length, X-Request-ID"
)

// CORS answers preflight requests and sets CORS headers for allowed origins.
// Requests from other origins pass through without CORS headers.
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		h := c.Writer.Header()

		switch {
		case cfg.AllowAllOrigins:
			h.Set("Access-Control-Allow-Origin", "*")
		case origin != "" && IsOriginAllowed(origin, cfg):
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		default:
			c.Next()
			return
		}
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Allow-Methods", corsAllowMethods)
		h.Set("Access-Control-Expose-Headers", corsExposeHeaders)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// IsOriginAllowed reports whether origin passes cfg.
func IsOriginAllowed(origin string, cfg config.CORSConfig) bool {
	if cfg.AllowAllOrigins {
		return true
	}
	for _, allowed := range cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}
