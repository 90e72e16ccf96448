package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/feichai0017/study-ingestor/api/handlers"
	"github.com/feichai0017/study-ingestor/api/middleware"
	"github.com/feichai0017/study-ingestor/pkg/logger"
)

// SetupRoutes registers every route on r.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, corsOrigins []string, log logger.Logger) {
	r.Use(middleware.CORS(corsOrigins))
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(log))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.GET("/health", h.Health.Check)

	ingest := v1.Group("/ingest")
	{
		ingest.POST("/:type", h.Document.Ingest)
		ingest.POST("/:type/queue", h.Document.Enqueue)
		ingest.GET("/tasks/:taskId", h.Document.GetTask)
		ingest.DELETE("/tasks/:taskId", h.Document.CancelTask)
	}
}
