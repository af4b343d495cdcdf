// Package slides generates one lesson slide at a time, conditioned on the slides before it.
package slides

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yungbote/neurobridge-lessons/internal/lessons/cache"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/engine"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/estimator"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/lesson"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/orchestrator"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/skeleton"
	"github.com/yungbote/neurobridge-lessons/internal/platform/apierr"
	"github.com/yungbote/neurobridge-lessons/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-lessons/internal/platform/logger"
)

type Orchestrator interface {
	Generate(ctx context.Context, req engine.Request, providers []engine.Provider, opts ...orchestrator.Option) (orchestrator.Outcome, error)
}

type Recorder interface {
	ObserveSlide(kind, source string, dur time.Duration)
	IncFallbackSlide(kind, reason string)
}

type Input struct {
	Index    int
	Topic    string
	Subject  string
	Previous []lesson.Slide
}

type Options struct {
	SlideTTL    time.Duration
	Temperature float64
	MaxTokens   int
}

// Slide sources reported to the recorder.
const (
	sourceGenerated = "generated"
	sourceCache     = "cache"
	sourceFallback  = "fallback"
)

type Generator struct {
	log       *logger.Logger
	orch      Orchestrator
	providers []engine.Provider
	cache     cache.Store[lesson.Slide]
	rec       Recorder
	opts      Options

	mu      sync.Mutex
	group   singleflight.Group
	flights map[string]*flight
}

// flight is one shared backend call. It runs detached from any single caller and is
// cancelled only when every caller waiting on it has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func New(log *logger.Logger, orch Orchestrator, providers []engine.Provider, store cache.Store[lesson.Slide], rec Recorder, opts Options) (*Generator, error) {
	if log == nil {
		return nil, errors.New("logger required")
	}
	if orch == nil {
		return nil, errors.New("orchestrator required")
	}
	if store == nil {
		return nil, errors.New("slide cache required")
	}
	if opts.SlideTTL <= 0 {
		opts.SlideTTL = cache.DefaultSlideTTL
	}
	return &Generator{
		log:       log.With("service", "SlideGenerator"),
		orch:      orch,
		providers: append([]engine.Provider(nil), providers...),
		cache:     store,
		rec:       rec,
		opts:      opts,
		flights:   make(map[string]*flight),
	}, nil
}

// Generate returns the slide at in.Index. A cached slide is returned without contacting any
// backend. Backend exhaustion is returned as *orchestrator.AggregateError; malformed backend
// output is replaced by the deterministic fallback, which is never cached.
func (g *Generator) Generate(ctx context.Context, in Input) (lesson.Slide, error) {
	start := time.Now()
	topic, err := skeleton.ValidateTopic(in.Topic)
	if err != nil {
		return lesson.Slide{}, err
	}
	if !lesson.ValidPosition(in.Index) {
		return lesson.Slide{}, apierr.Invalid("index", "index %d is outside 1..%d", in.Index, lesson.TotalSlides)
	}
	in.Topic = topic
	in.Subject = strings.TrimSpace(in.Subject)
	if in.Subject == "" {
		in.Subject = topic
	}
	key := cache.SlideKey(in.Topic, in.Subject, in.Index)

	if s, ok := g.cache.Get(ctx, key); ok {
		g.observe(s.Kind, sourceCache, start)
		return s, nil
	}

	// identical concurrent requests share one backend call
	ch, f := g.join(ctx, key, in)
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		g.leave(f)
		return lesson.Slide{}, ctx.Err()
	}
	if res.Err != nil {
		return lesson.Slide{}, res.Err
	}
	s := res.Val.(lesson.Slide).Clone()
	if s.Fallback {
		g.observe(s.Kind, sourceFallback, start)
	} else {
		g.observe(s.Kind, sourceGenerated, start)
	}
	return s, nil
}

// join attaches the caller to the in-flight call for key, starting one if none is running or
// the running one was abandoned by all of its callers.
func (g *Generator) join(ctx context.Context, key string, in Input) (<-chan singleflight.Result, *flight) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.flights[key]
	if !ok || f.ctx.Err() != nil {
		if ok {
			g.group.Forget(key)
		}
		sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: sctx, cancel: cancel}
		g.flights[key] = f
	}
	f.waiters++
	run := f
	ch := g.group.DoChan(key, func() (any, error) {
		defer g.land(key, run)
		if s, ok := g.cache.Get(run.ctx, key); ok {
			return s, nil
		}
		return g.generate(run.ctx, key, in)
	})
	return ch, f
}

func (g *Generator) leave(f *flight) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f.waiters--
	if f.waiters <= 0 {
		f.cancel()
	}
}

func (g *Generator) land(key string, f *flight) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f.cancel()
	if g.flights[key] == f {
		delete(g.flights, key)
		g.group.Forget(key)
	}
}

func (g *Generator) generate(ctx context.Context, key string, in Input) (lesson.Slide, error) {
	log := g.log.With(ctxutil.LogFields(ctx)...).With("index", in.Index)
	kind := lesson.KindAt(in.Index)

	prompt, err := buildPrompt(in)
	if err != nil {
		return lesson.Slide{}, err
	}
	req := engine.Request{
		System:      systemPrompt,
		Prompt:      prompt,
		Schema:      SchemaFor(kind),
		Tier:        TierFor(in.Index),
		Temperature: g.opts.Temperature,
		MaxTokens:   g.opts.MaxTokens,
	}

	began := time.Now()
	out, err := g.orch.Generate(ctx, req, g.providers)
	if err != nil {
		return lesson.Slide{}, err
	}

	s, perr := parsePayload(in.Index, out.Result.Payload)
	if perr != nil {
		reason := "malformed"
		var me *MalformedError
		if errors.As(perr, &me) {
			reason = me.Field
		}
		log.Warn("backend returned a malformed slide; using fallback", "backend", out.BackendUsed, "kind", kind, "error", perr, "raw", out.Result.Raw)
		if g.rec != nil {
			g.rec.IncFallbackSlide(string(kind), reason)
		}
		fb := Fallback(in.Topic, in.Index)
		g.finish(&fb, time.Since(began))
		return fb, nil
	}

	s.Backend = out.BackendUsed
	g.finish(&s, time.Since(began))
	if err := g.cache.Set(ctx, key, s, g.opts.SlideTTL); err != nil {
		log.Warn("slide cache write failed", "key", key, "error", err)
	}
	log.Debug("slide generated", "backend", out.BackendUsed, "model", out.Model, "tokens", s.TokenEstimate, "duration_ms", out.Duration.Milliseconds())
	return s, nil
}

func (g *Generator) finish(s *lesson.Slide, took time.Duration) {
	s.EstimatedMinutes = skeleton.Minutes(s.Kind)
	s.GenerationTime = took
	s.TokenEstimate = estimator.EstimateTokens(s.Content)
	s.WordCount = estimator.CountWords(s.Content)
}

func (g *Generator) observe(kind lesson.Kind, source string, start time.Time) {
	if g.rec == nil {
		return
	}
	g.rec.ObserveSlide(string(kind), source, time.Since(start))
}

// Providers returns the descriptors this generator falls back across, in priority order.
func (g *Generator) Providers() []engine.Descriptor {
	out := make([]engine.Descriptor, 0, len(g.providers))
	for _, p := range g.providers {
		out = append(out, p.Descriptor)
	}
	return out
}
