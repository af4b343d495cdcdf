package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/neurobridge-lessons/internal/lessons/engine"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/engine/oaihttp"
	"github.com/yungbote/neurobridge-lessons/internal/platform/logger"
)

type backendFunc func(ctx context.Context, model string, req engine.Request) (engine.Result, error)

func (f backendFunc) Generate(ctx context.Context, model string, req engine.Request) (engine.Result, error) {
	return f(ctx, model, req)
}

func ok(payload string) engine.Backend {
	return backendFunc(func(ctx context.Context, model string, req engine.Request) (engine.Result, error) {
		return engine.Result{Raw: payload, Model: model, Usage: engine.Usage{InputTokens: 3, OutputTokens: 5}}, nil
	})
}

func fail(err error) engine.Backend {
	return backendFunc(func(ctx context.Context, model string, req engine.Request) (engine.Result, error) {
		return engine.Result{}, err
	})
}

func hang() engine.Backend {
	return backendFunc(func(ctx context.Context, model string, req engine.Request) (engine.Result, error) {
		<-ctx.Done()
		return engine.Result{}, ctx.Err()
	})
}

func provider(id string, priority int, b engine.Backend) engine.Provider {
	return engine.Provider{
		Descriptor: engine.Descriptor{
			ID:             id,
			Priority:       priority,
			Timeout:        time.Second,
			Models:         map[engine.Tier]string{engine.TierComplex: id + "-model"},
			Enabled:        true,
			HasCredentials: true,
		},
		Backend: b,
	}
}

type recorded struct {
	backend, status string
}

type fakeRecorder struct {
	mu  sync.Mutex
	obs []recorded
}

func (r *fakeRecorder) ObserveBackendAttempt(backend, model, status string, dur time.Duration, in, out int) {
	r.mu.Lock()
	r.obs = append(r.obs, recorded{backend: backend, status: status})
	r.mu.Unlock()
}

func TestGenerate_FallsBackToSecond(t *testing.T) {
	rec := &fakeRecorder{}
	o := New(logger.Nop(), rec)
	out, err := o.Generate(context.Background(), engine.Request{Tier: engine.TierComplex}, []engine.Provider{
		provider("a", 1, fail(errors.New("boom"))),
		provider("b", 2, ok("B")),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.BackendUsed != "b" || out.Result.Raw != "B" || out.Model != "b-model" {
		t.Fatalf("outcome=%+v", out)
	}
	if out.Usage.OutputTokens != 5 {
		t.Fatalf("usage=%+v", out.Usage)
	}
	if len(rec.obs) != 2 || rec.obs[0] != (recorded{"a", "error"}) || rec.obs[1] != (recorded{"b", "success"}) {
		t.Fatalf("recorded=%+v", rec.obs)
	}
}

func TestGenerate_AllFail(t *testing.T) {
	o := New(logger.Nop(), nil)
	_, err := o.Generate(context.Background(), engine.Request{Tier: engine.TierComplex}, []engine.Provider{
		provider("a", 1, fail(errors.New("boom a"))),
		provider("b", 2, fail(errors.New("boom b"))),
	})
	var agg *AggregateError
	if !errors.As(err, &agg) {
		t.Fatalf("expected AggregateError, got %v", err)
	}
	if len(agg.Attempts) != 2 {
		t.Fatalf("attempts=%d want 2", len(agg.Attempts))
	}
	if agg.Attempts[0].Backend != "a" || agg.Attempts[1].Backend != "b" {
		t.Fatalf("attempt order=%+v", agg.Attempts)
	}
}

func TestGenerate_PriorityOrderIsStable(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	record := func(id string) engine.Backend {
		return backendFunc(func(ctx context.Context, model string, req engine.Request) (engine.Result, error) {
			mu.Lock()
			calls = append(calls, id)
			mu.Unlock()
			return engine.Result{}, errors.New("nope")
		})
	}
	providers := []engine.Provider{
		provider("late", 5, record("late")),
		provider("first", 1, record("first")),
		provider("tie-1", 3, record("tie-1")),
		provider("tie-2", 3, record("tie-2")),
	}
	_, _ = New(logger.Nop(), nil).Generate(context.Background(), engine.Request{}, providers)
	want := []string{"first", "tie-1", "tie-2", "late"}
	if len(calls) != len(want) {
		t.Fatalf("calls=%v", calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls=%v want %v", calls, want)
		}
	}
	if providers[0].ID != "late" {
		t.Fatalf("caller slice must not be reordered")
	}
}

func TestGenerate_SkipsDisabledAndCredentialless(t *testing.T) {
	called := false
	spy := backendFunc(func(ctx context.Context, model string, req engine.Request) (engine.Result, error) {
		called = true
		return engine.Result{}, nil
	})
	disabled := provider("disabled", 1, spy)
	disabled.Enabled = false
	nokey := provider("nokey", 2, spy)
	nokey.HasCredentials = false

	out, err := New(logger.Nop(), nil).Generate(context.Background(), engine.Request{}, []engine.Provider{
		disabled, nokey, provider("good", 3, ok("G")),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if called {
		t.Fatalf("skipped backends must not be called")
	}
	if out.BackendUsed != "good" {
		t.Fatalf("backend used=%q", out.BackendUsed)
	}

	_, err = New(logger.Nop(), nil).Generate(context.Background(), engine.Request{}, []engine.Provider{disabled, nokey})
	var agg *AggregateError
	if !errors.As(err, &agg) || len(agg.Attempts) != 2 {
		t.Fatalf("expected 2 skipped attempts, got %v", err)
	}
	for _, a := range agg.Attempts {
		if a.Status != StatusSkipped {
			t.Fatalf("status=%s want skipped", a.Status)
		}
	}
}

func TestGenerate_TimeoutMovesOn(t *testing.T) {
	slow := provider("slow", 1, hang())
	slow.Timeout = 20 * time.Millisecond
	out, err := New(logger.Nop(), nil).Generate(context.Background(), engine.Request{}, []engine.Provider{
		slow, provider("fast", 2, ok("F")),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.BackendUsed != "fast" {
		t.Fatalf("backend used=%q", out.BackendUsed)
	}

	_, err = New(logger.Nop(), nil).Generate(context.Background(), engine.Request{}, []engine.Provider{slow})
	var agg *AggregateError
	if !errors.As(err, &agg) || agg.Attempts[0].Status != StatusTimeout {
		t.Fatalf("expected timeout attempt, got %v", err)
	}
}

func TestGenerate_ParentCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	secondCalled := false
	first := backendFunc(func(c context.Context, model string, req engine.Request) (engine.Result, error) {
		cancel()
		<-c.Done()
		return engine.Result{}, c.Err()
	})
	second := backendFunc(func(c context.Context, model string, req engine.Request) (engine.Result, error) {
		secondCalled = true
		return engine.Result{}, nil
	})
	_, err := New(logger.Nop(), nil).Generate(ctx, engine.Request{}, []engine.Provider{
		provider("a", 1, first), provider("b", 2, second),
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
	var agg *AggregateError
	if errors.As(err, &agg) {
		t.Fatalf("cancellation must not be reported as exhaustion")
	}
	if secondCalled {
		t.Fatalf("iteration must stop after parent cancellation")
	}
}

func TestGenerate_PreferAndExclude(t *testing.T) {
	providers := []engine.Provider{
		provider("a", 1, ok("A")),
		provider("b", 2, ok("B")),
		provider("c", 3, ok("C")),
	}
	out, err := New(logger.Nop(), nil).Generate(context.Background(), engine.Request{}, providers, Prefer("c"))
	if err != nil || out.BackendUsed != "c" {
		t.Fatalf("prefer: out=%+v err=%v", out, err)
	}
	out, err = New(logger.Nop(), nil).Generate(context.Background(), engine.Request{}, providers, Exclude("a", "b"))
	if err != nil || out.BackendUsed != "c" {
		t.Fatalf("exclude: out=%+v err=%v", out, err)
	}
}

func TestGenerate_NoProviders(t *testing.T) {
	_, err := New(logger.Nop(), nil).Generate(context.Background(), engine.Request{}, nil)
	var agg *AggregateError
	if !errors.As(err, &agg) || len(agg.Attempts) != 0 {
		t.Fatalf("err=%v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Status
	}{
		{context.DeadlineExceeded, StatusTimeout},
		{&oaihttp.HTTPError{StatusCode: http.StatusTooManyRequests}, StatusQuota},
		{&oaihttp.HTTPError{StatusCode: http.StatusUnauthorized}, StatusAuth},
		{&oaihttp.HTTPError{StatusCode: http.StatusInternalServerError}, StatusError},
		{errors.New("monthly quota exceeded"), StatusQuota},
		{errors.New("connection refused"), StatusError},
	}
	for _, tc := range cases {
		if got := classify(tc.err); got != tc.want {
			t.Fatalf("classify(%v)=%s want %s", tc.err, got, tc.want)
		}
	}
}
