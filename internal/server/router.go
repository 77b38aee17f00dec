package server

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/clipso/clipso-backend/internal/http/handlers"
	httpMW "github.com/clipso/clipso-backend/internal/http/middleware"
	"github.com/clipso/clipso-backend/internal/pkg/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	JobHandler    *httpH.JobHandler
	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.JobHandler != nil {
			api.POST("/jobs", cfg.JobHandler.SubmitJob)
			api.GET("/jobs/:share_id", cfg.JobHandler.GetJobStatus)
			api.GET("/jobs/:share_id/video", cfg.JobHandler.GetFinalVideo)
		}
	}

	return r
}
