// Package app wires configuration, caches, backends and the HTTP surface into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-lessons/internal/lessons/backends"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/cache"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/config"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/httpapi"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/lesson"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/orchestrator"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/progressive"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/slides"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/store"
	"github.com/yungbote/neurobridge-lessons/internal/observability"
	"github.com/yungbote/neurobridge-lessons/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	Config   *config.Config
	Metrics  *observability.Metrics
	Slides   *slides.Generator
	Sessions *progressive.Manager

	server    *http.Server
	rdb       *goredis.Client
	db        *gorm.DB
	otelClose func(context.Context) error
}

// Caches groups the two payload classes. Lesson entries outlive slide entries.
type Caches struct {
	Slides  cache.Store[lesson.Slide]
	Lessons cache.Store[lesson.Record]
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return NewWithConfig(ctx, cfg, log)
}

// NewWithConfig builds every component from an already loaded config.
func NewWithConfig(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Log: log, Config: cfg}
	a.otelClose = observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "lessons",
		Environment: cfg.Env,
	})
	a.Metrics = observability.New()

	providers, err := backends.Build(cfg.Backends)
	if err != nil {
		return nil, err
	}
	usable := 0
	for _, p := range providers {
		if p.Enabled && p.HasCredentials {
			usable++
		}
	}
	if usable == 0 {
		log.Warn("no usable generation backends; every slide request will fail until one is configured")
	}

	caches, err := a.buildCaches(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	var lessonStore progressive.LessonStore
	if cfg.Store.DSN != "" {
		s, err := a.openStore(cfg.Store.DSN)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		lessonStore = s
	}

	orch := orchestrator.New(log, a.Metrics)
	a.Slides, err = slides.New(log, orch, providers, caches.Slides, a.Metrics, slides.Options{
		SlideTTL:    cfg.Cache.SlideTTL.Duration,
		Temperature: cfg.Generation.Temperature,
		MaxTokens:   cfg.Generation.MaxTokens,
	})
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.Sessions, err = progressive.NewManager(log, a.Slides, caches.Lessons, lessonStore, a.Metrics, progressive.ManagerOptions{
		LessonTTL: cfg.Cache.LessonTTL.Duration,
		MinTokens: cfg.Generation.MinTokens,
	})
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.server, err = httpapi.NewServer(cfg, log, httpapi.Deps{
		Slides:   a.Slides,
		Sessions: a.Sessions,
		Metrics:  a.Metrics,
		Caches: []httpapi.CacheStats{
			{Name: "slides", Stats: caches.Slides.Stats},
			{Name: "lessons", Stats: caches.Lessons.Stats},
		},
	})
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) buildCaches(ctx context.Context) (Caches, error) {
	cfg := a.Config.Cache
	var out Caches
	switch cfg.Backend {
	case "redis":
		rdb, err := cache.DialRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return Caches{}, err
		}
		a.rdb = rdb
		sl, err := cache.NewRedis[lesson.Slide](a.Log, rdb, cfg.KeyPrefix+"slides/", cfg.SlideTTL.Duration)
		if err != nil {
			return Caches{}, err
		}
		ls, err := cache.NewRedis[lesson.Record](a.Log, rdb, cfg.KeyPrefix+"records/", cfg.LessonTTL.Duration)
		if err != nil {
			return Caches{}, err
		}
		out = Caches{Slides: sl, Lessons: ls}
	default:
		out = Caches{
			Slides:  cache.NewMemory[lesson.Slide](cfg.Capacity, cfg.SlideTTL.Duration),
			Lessons: cache.NewMemory[lesson.Record](cfg.Capacity, cfg.LessonTTL.Duration),
		}
	}
	a.Log.Info("lesson caches ready", "backend", cfg.Backend, "capacity", cfg.Capacity)

	for name, stats := range map[string]func(context.Context) cache.Stats{
		"slides":  out.Slides.Stats,
		"lessons": out.Lessons.Stats,
	} {
		stats := stats
		if err := a.Metrics.RegisterCache(name, func() observability.CacheSnapshot {
			s := stats(context.Background())
			return observability.CacheSnapshot{Hits: s.Hits, Misses: s.Misses, Evictions: s.Evictions, Size: s.Size}
		}); err != nil {
			return Caches{}, fmt.Errorf("register %s cache metrics: %w", name, err)
		}
	}
	return out, nil
}

func (a *App) openStore(dsn string) (*store.Store, error) {
	db, err := store.Open(a.Log, dsn)
	if err != nil {
		return nil, err
	}
	a.db = db
	s, err := store.New(db, a.Log)
	if err != nil {
		return nil, err
	}
	if err := s.AutoMigrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run serves HTTP and sweeps idle sessions until ctx is done, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Log.Info("lessons API listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.HTTP.ShutdownTimeout.Duration)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return a.Sessions.RunSweeper(gctx, a.Config.Generation.SweepInterval.Duration, a.Config.Generation.SessionIdleTTL.Duration)
	})

	err := g.Wait()
	a.Close(context.Background())
	return err
}

// Close releases external connections. It is safe to call more than once.
func (a *App) Close(ctx context.Context) {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.Log.Warn("redis close failed", "error", err)
		}
		a.rdb = nil
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		a.db = nil
	}
	if a.otelClose != nil {
		if err := a.otelClose(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
		a.otelClose = nil
	}
	a.Log.Sync()
}
