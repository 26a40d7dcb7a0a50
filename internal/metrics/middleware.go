package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	RequestsCollectorName = "http_requests_total"
	LatencyCollectorName  = "http_request_duration_milliseconds"
)

var latencyBuckets = []float64{5, 25, 100, 300, 1000, 5000}

// Middleware exposes request counts and latency partitioned by status code,
// method and route.
type Middleware struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewMiddleware(reg prometheus.Registerer) *Middleware {
	m := &Middleware{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      RequestsCollectorName,
			Help:      "Number of HTTP requests partitioned by status code, method and HTTP path.",
		}, []string{"code", "method", "path"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      LatencyCollectorName,
			Help:      "Time spent on the request partitioned by status code, method and HTTP path.",
			Buckets:   latencyBuckets,
		}, []string{"code", "method", "path"}),
	}
	reg.MustRegister(m.requests, m.latency)
	return m
}

func (m *Middleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		code := strconv.Itoa(c.Writer.Status())
		m.requests.WithLabelValues(code, c.Request.Method, path).Inc()
		m.latency.WithLabelValues(code, c.Request.Method, path).Observe(float64(time.Since(start).Milliseconds()))
	}
}
