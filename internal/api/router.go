package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/timmy/dataexec/internal/api/handler"
	"github.com/timmy/dataexec/internal/api/middleware"
	"github.com/timmy/dataexec/internal/config"
	"github.com/timmy/dataexec/internal/datasource"
	"github.com/timmy/dataexec/internal/logger"
	"github.com/timmy/dataexec/internal/metrics"
	"github.com/timmy/dataexec/internal/service"
)

// Deps are the services behind the HTTP surface.
type Deps struct {
	Coordinator  *service.Coordinator
	Registry     *datasource.Registry
	Credentials  datasource.CredentialLookup
	Catalog      service.SchemaCatalog
	Logger       *logger.Logger
	CleanupAfter time.Duration
	// Registerer receives the HTTP metrics; nil means the default registry.
	Registerer prometheus.Registerer
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps Deps, server config.ServerConfig) *gin.Engine {
	switch server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	reg := deps.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.CORS(server.CORS))
	r.Use(metrics.NewMiddleware(reg).Handler())

	healthHandler := handler.NewHealthHandler(deps.Registry.SupportedTypes)
	jobHandler := handler.NewJobHandler(deps.Coordinator, deps.CleanupAfter)
	sourceHandler := handler.NewDataSourceHandler(deps.Registry, deps.Credentials)
	schemaHandler := handler.NewSchemaHandler(deps.Catalog)

	r.GET("/health", healthHandler.Health)
	r.GET("/info", healthHandler.Info)
	r.POST("/ping", healthHandler.Ping)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		jobs.POST("", jobHandler.Create)
		jobs.GET("", jobHandler.List)
		jobs.GET("/stats", jobHandler.Stats)
		jobs.POST("/cleanup", jobHandler.Cleanup)
		jobs.POST("/:id/execute", jobHandler.Execute)
		jobs.GET("/:id/status", jobHandler.Status)
		jobs.GET("/:id/result", jobHandler.Result)
		jobs.DELETE("/:id", jobHandler.Cancel)

		v1.POST("/datasources/test", sourceHandler.Test)
		v1.GET("/datasources/types", sourceHandler.Types)

		v1.POST("/schema/validate", schemaHandler.Validate)
		v1.POST("/schema/create", schemaHandler.Create)
	}

	return r
}
