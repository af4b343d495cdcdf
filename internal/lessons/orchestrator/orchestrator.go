// Package orchestrator runs a generation request against an ordered list of backends,
// moving to the next one on timeout or error until one succeeds.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/neurobridge-lessons/internal/lessons/engine"
	"github.com/yungbote/neurobridge-lessons/internal/observability"
	"github.com/yungbote/neurobridge-lessons/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-lessons/internal/platform/logger"
)

// Recorder receives one observation per attempt, skipped backends included.
type Recorder interface {
	ObserveBackendAttempt(backend, model, status string, dur time.Duration, inputTokens, outputTokens int)
}

type Outcome struct {
	Result      engine.Result
	BackendUsed string
	Model       string
	Duration    time.Duration
	Usage       engine.Usage
}

type Option func(*options)

type options struct {
	prefer  string
	exclude map[string]bool
}

// Prefer moves the named backend to the front regardless of its priority.
func Prefer(id string) Option {
	return func(o *options) { o.prefer = strings.TrimSpace(id) }
}

// Exclude drops the named backends from this call entirely.
func Exclude(ids ...string) Option {
	return func(o *options) {
		if o.exclude == nil {
			o.exclude = map[string]bool{}
		}
		for _, id := range ids {
			o.exclude[strings.TrimSpace(id)] = true
		}
	}
}

// Orchestrator holds no per-call state; one instance serves every session concurrently.
type Orchestrator struct {
	log    *logger.Logger
	rec    Recorder
	tracer trace.Tracer
}

func New(log *logger.Logger, rec Recorder) *Orchestrator {
	if log == nil {
		log = logger.Nop()
	}
	return &Orchestrator{
		log:    log.With("service", "FallbackOrchestrator"),
		rec:    rec,
		tracer: observability.Tracer("orchestrator"),
	}
}

func (o *Orchestrator) Generate(ctx context.Context, req engine.Request, providers []engine.Provider, opts ...Option) (Outcome, error) {
	var cfg options
	for _, opt := range opts {
		opt(&cfg)
	}
	ordered := order(providers, cfg)

	ctx, span := o.tracer.Start(ctx, "orchestrator.Generate", trace.WithAttributes(
		attribute.String("lessons.tier", string(req.Tier)),
		attribute.Int("lessons.backends", len(ordered)),
	))
	defer span.End()

	log := o.log.With(ctxutil.LogFields(ctx)...)
	attempts := make([]Attempt, 0, len(ordered))

	for _, p := range ordered {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "canceled")
			return Outcome{}, err
		}

		model := p.Model(req.Tier)
		switch {
		case !p.Enabled:
			attempts = append(attempts, o.skip(p.ID, model, errors.New("backend disabled")))
			continue
		case !p.HasCredentials:
			attempts = append(attempts, o.skip(p.ID, model, errors.New("missing credentials")))
			continue
		case p.Backend == nil:
			attempts = append(attempts, o.skip(p.ID, model, errors.New("backend not constructed")))
			continue
		case model == "":
			attempts = append(attempts, o.skip(p.ID, model, fmt.Errorf("no model for tier %q", req.Tier)))
			continue
		}

		start := time.Now()
		res, err := o.attempt(ctx, p, model, req)
		dur := time.Since(start)

		if err == nil {
			o.observe(p.ID, model, StatusSuccess, dur, res.Usage)
			span.SetAttributes(attribute.String("lessons.backend_used", p.ID), attribute.String("lessons.model", model))
			if len(attempts) > 0 {
				log.Info("generation succeeded after fallback", "backend", p.ID, "failed_attempts", len(attempts))
			}
			return Outcome{
				Result:      res,
				BackendUsed: p.ID,
				Model:       firstNonEmpty(res.Model, model),
				Duration:    dur,
				Usage:       res.Usage,
			}, nil
		}

		// the parent going away is not a backend failure
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "canceled")
			return Outcome{}, ctx.Err()
		}

		status := classify(err)
		o.observe(p.ID, model, status, dur, engine.Usage{})
		span.AddEvent("backend attempt failed", trace.WithAttributes(
			attribute.String("backend", p.ID),
			attribute.String("status", string(status)),
		))
		log.Warn("backend attempt failed; trying next", "backend", p.ID, "model", model, "status", status, "duration_ms", dur.Milliseconds(), "error", err)
		attempts = append(attempts, Attempt{Backend: p.ID, Status: status, Err: err})
	}

	agg := &AggregateError{Attempts: attempts}
	span.RecordError(agg)
	span.SetStatus(codes.Error, "all backends failed")
	log.Error("all generation backends failed", "attempts", len(attempts))
	return Outcome{}, agg
}

func (o *Orchestrator) attempt(ctx context.Context, p engine.Provider, model string, req engine.Request) (engine.Result, error) {
	actx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	res, err := p.Backend.Generate(actx, model, req)
	if err == nil && actx.Err() != nil {
		// a result that arrives after the deadline counts as a timeout
		err = actx.Err()
	}
	return res, err
}

func (o *Orchestrator) skip(id, model string, reason error) Attempt {
	o.observe(id, model, StatusSkipped, 0, engine.Usage{})
	o.log.Debug("backend skipped", "backend", id, "reason", reason.Error())
	return Attempt{Backend: id, Status: StatusSkipped, Err: reason}
}

func (o *Orchestrator) observe(id, model string, status Status, dur time.Duration, u engine.Usage) {
	if o.rec == nil {
		return
	}
	o.rec.ObserveBackendAttempt(id, model, string(status), dur, u.InputTokens, u.OutputTokens)
}

// order sorts by ascending priority (stable, so config order breaks ties), then applies
// prefer/exclude. The input slice is not modified.
func order(providers []engine.Provider, cfg options) []engine.Provider {
	out := make([]engine.Provider, 0, len(providers))
	for _, p := range providers {
		if cfg.exclude[p.ID] {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	if cfg.prefer == "" {
		return out
	}
	for i, p := range out {
		if p.ID == cfg.prefer {
			copy(out[1:i+1], out[:i])
			out[0] = p
			break
		}
	}
	return out
}

func classify(err error) Status {
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout
	}
	var se engine.StatusError
	if errors.As(err, &se) {
		switch se.HTTPStatus() {
		case http.StatusTooManyRequests, http.StatusPaymentRequired:
			return StatusQuota
		case http.StatusUnauthorized, http.StatusForbidden:
			return StatusAuth
		case http.StatusGatewayTimeout, http.StatusRequestTimeout:
			return StatusTimeout
		}
		return StatusError
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit"):
		return StatusQuota
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key"):
		return StatusAuth
	}
	return StatusError
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
