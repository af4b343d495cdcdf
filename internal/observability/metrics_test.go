package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveBackendAttempt(t *testing.T) {
	m := New()
	m.ObserveBackendAttempt("openai", "gpt-4o-mini", "success", 120*time.Millisecond, 10, 20)
	m.ObserveBackendAttempt("openai", "gpt-4o-mini", "timeout", time.Second, 0, 0)
	m.ObserveBackendAttempt("", "", "", 0, 0, 0)

	if got := testutil.ToFloat64(m.backendAttempts.WithLabelValues("openai", "gpt-4o-mini", "success")); got != 1 {
		t.Fatalf("success attempts=%v", got)
	}
	if got := testutil.ToFloat64(m.backendAttempts.WithLabelValues("unknown", "unknown", "unknown")); got != 1 {
		t.Fatalf("blank labels must map to unknown, got %v", got)
	}
	if got := testutil.ToFloat64(m.backendTokens.WithLabelValues("openai", "gpt-4o-mini", "output")); got != 20 {
		t.Fatalf("output tokens=%v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/healthz", 200, time.Millisecond)
	m.ObserveBackendAttempt("a", "b", "c", time.Millisecond, 1, 1)
	m.ObserveSlide("question", "generated", time.Millisecond)
	m.IncFallbackSlide("question", "malformed")
	m.SetActiveSessions(3)
	m.IncSessionTransition("idle", "skeleton_ready")
	if err := m.RegisterCache("slides", func() CacheSnapshot { return CacheSnapshot{} }); err != nil {
		t.Fatalf("RegisterCache on nil: %v", err)
	}
}

func TestHandlerExposesCacheCollector(t *testing.T) {
	m := New()
	if err := m.RegisterCache("slides", func() CacheSnapshot {
		return CacheSnapshot{Hits: 7, Misses: 3, Size: 2}
	}); err != nil {
		t.Fatalf("RegisterCache: %v", err)
	}
	if err := m.RegisterCache("lessons", func() CacheSnapshot { return CacheSnapshot{} }); err != nil {
		t.Fatalf("second cache must register alongside the first: %v", err)
	}
	m.IncFallbackSlide("question", "malformed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`lessons_cache_hits_total{cache="slides"} 7`,
		`lessons_cache_entries{cache="slides"} 2`,
		`lessons_fallback_slides_total{kind="question",reason="malformed"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
