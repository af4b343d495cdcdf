// Package httpapi exposes the lesson pipeline over HTTP.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/neurobridge-lessons/internal/lessons/config"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/progressive"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/slides"
	"github.com/yungbote/neurobridge-lessons/internal/observability"
	"github.com/yungbote/neurobridge-lessons/internal/platform/logger"
)

type Deps struct {
	Slides   *slides.Generator
	Sessions *progressive.Manager
	Caches   []CacheStats
	Metrics  *observability.Metrics
}

func NewServer(cfg *config.Config, log *logger.Logger, deps Deps) (*http.Server, error) {
	h, err := NewHandler(cfg, log, deps)
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           h,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout.Duration,
		IdleTimeout:       cfg.HTTP.IdleTimeout.Duration,
		WriteTimeout:      0,
	}, nil
}

func NewHandler(cfg *config.Config, log *logger.Logger, deps Deps) (*gin.Engine, error) {
	if deps.Slides == nil || deps.Sessions == nil {
		return nil, errors.New("httpapi: slide generator and session manager required")
	}
	if log == nil {
		log = logger.Nop()
	}
	h := &handler{
		log:      log.With("service", "HTTPAPI"),
		slides:   deps.Slides,
		sessions: deps.Sessions,
		caches:   deps.Caches,
	}

	r := gin.New()
	r.Use(recoverMiddleware(h.log))
	r.Use(otelgin.Middleware("lessons"))
	r.Use(attachTraceContext())
	r.Use(requestLogger(h.log))
	r.Use(metricsMiddleware(deps.Metrics))
	r.Use(corsMiddleware(cfg.HTTP.CORSOrigins))
	r.Use(maxBodyMiddleware(cfg.HTTP.MaxRequestBytes))

	r.GET("/healthz", h.healthz)
	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	v1 := r.Group("/v1")
	{
		v1.POST("/lessons/skeleton", h.createSkeleton)
		v1.POST("/lessons/slides", h.generateSlide)

		v1.POST("/sessions", h.startSession)
		v1.GET("/sessions/:id", h.getSession)
		v1.POST("/sessions/:id/next", h.loadNext)
		v1.GET("/sessions/:id/metrics", h.sessionMetrics)
		v1.GET("/sessions/:id/record", h.sessionRecord)
		v1.DELETE("/sessions/:id", h.closeSession)

		v1.GET("/cache/stats", h.cacheStats)
		v1.GET("/backends", h.listBackends)
	}
	return r, nil
}
