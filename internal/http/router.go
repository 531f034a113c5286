package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/neurobridge-backend/internal/http/handlers"
	httpMW "github.com/yungbote/neurobridge-backend/internal/http/middleware"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

type RouterConfig struct {
	HealthHandler *httpH.HealthHandler

	JobsHandler   *httpH.JobsAPIHandler
	EventsHandler *httpH.EventsHandler

	ServiceAuth *httpMW.ServiceAuthMiddleware

	Log *logger.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("neurobridge-job-orchestrator"))
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	if cfg.ServiceAuth != nil {
		api.Use(cfg.ServiceAuth.RequireService())
	}

	if cfg.JobsHandler != nil {
		api.POST("/jobs", cfg.JobsHandler.Create)
		api.GET("/jobs/:id", cfg.JobsHandler.Get)
		api.GET("/jobs/:id/reserve_next", cfg.JobsHandler.ReserveNext)
		api.POST("/jobs/:id/complete", cfg.JobsHandler.Complete)
		api.POST("/jobs/:id/fail", cfg.JobsHandler.Fail)
		api.POST("/jobs/:id/heartbeat", cfg.JobsHandler.Heartbeat)
	}

	if cfg.EventsHandler != nil {
		api.POST("/events/bulk", cfg.EventsHandler.IngestBulk)
	}

	return r
}
