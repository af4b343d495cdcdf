package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-lessons/internal/lessons/cache"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/config"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/engine"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/engine/mock"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/lesson"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/orchestrator"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/progressive"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/slides"
	"github.com/yungbote/neurobridge-lessons/internal/observability"
	"github.com/yungbote/neurobridge-lessons/internal/platform/logger"
)

func provider(id string, b engine.Backend) engine.Provider {
	return engine.Provider{
		Descriptor: engine.Descriptor{
			ID:             id,
			Priority:       1,
			Timeout:        time.Second,
			Models:         map[engine.Tier]string{engine.TierComplex: id + "-1"},
			Enabled:        true,
			HasCredentials: true,
		},
		Backend: b,
	}
}

func testHandler(t *testing.T, providers ...engine.Provider) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if len(providers) == 0 {
		providers = []engine.Provider{provider("mock", mock.New())}
	}
	log := logger.Nop()
	metrics := observability.New()
	slideCache := cache.NewMemory[lesson.Slide](100, time.Minute)
	lessonCache := cache.NewMemory[lesson.Record](10, time.Minute)

	gen, err := slides.New(log, orchestrator.New(log, metrics), providers, slideCache, metrics, slides.Options{})
	if err != nil {
		t.Fatalf("slides.New: %v", err)
	}
	mgr, err := progressive.NewManager(log, gen, lessonCache, nil, metrics, progressive.ManagerOptions{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	h, err := NewHandler(config.Default(), log, Deps{
		Slides:   gen,
		Sessions: mgr,
		Metrics:  metrics,
		Caches: []CacheStats{
			{Name: "slides", Stats: slideCache.Stats},
			{Name: "lessons", Stats: lessonCache.Stats},
		},
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestCreateSkeleton(t *testing.T) {
	h := testHandler(t)
	rec := do(t, h, http.MethodPost, "/v1/lessons/skeleton", map[string]any{"topic": "Photosynthesis"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(headerRequestID) == "" {
		t.Fatalf("missing request id header")
	}
	out := decode[struct {
		Skeleton lesson.Skeleton `json:"skeleton"`
	}](t, rec)
	if len(out.Skeleton.Stages) != lesson.TotalSlides || out.Skeleton.Subject != "Photosynthesis" {
		t.Fatalf("unexpected skeleton %+v", out.Skeleton)
	}

	rec = do(t, h, http.MethodPost, "/v1/lessons/skeleton", map[string]any{"topic": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", rec.Code)
	}
	errOut := decode[errorEnvelope](t, rec)
	if errOut.Error.Code != "invalid_request" || errOut.Error.Param != "topic" {
		t.Fatalf("unexpected error %+v", errOut.Error)
	}
}

func TestGenerateSlide_LetterAnswerInPrevious(t *testing.T) {
	h := testHandler(t)
	rec := do(t, h, http.MethodPost, "/v1/lessons/slides", map[string]any{
		"topic": "Photosynthesis",
		"index": 8,
		"previous_slides": []map[string]any{
			{"position": 1, "title": "Intro", "content": "Plants use light."},
			{"position": 7, "title": "Quiz", "content": "Where?", "options": []string{"a", "b", "c", "d"}, "correct_answer": "B"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	out := decode[struct {
		Slide slideResponse `json:"slide"`
	}](t, rec)
	if out.Slide.Position != 8 || out.Slide.Kind != lesson.KindExplanation || out.Slide.Backend != "mock" {
		t.Fatalf("unexpected slide %+v", out.Slide)
	}

	rec = do(t, h, http.MethodPost, "/v1/lessons/slides", map[string]any{
		"topic": "Photosynthesis",
		"index": 8,
		"previous_slides": []map[string]any{
			{"position": 7, "title": "Quiz", "options": []string{"a", "b", "c", "d"}, "correct_answer": "Z"},
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unresolvable answer status=%d want 400", rec.Code)
	}
}

func TestGenerateSlide_QuestionCarriesLetter(t *testing.T) {
	h := testHandler(t)
	rec := do(t, h, http.MethodPost, "/v1/lessons/slides", map[string]any{"topic": "Tides", "index": 7})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	out := decode[struct {
		Slide slideResponse `json:"slide"`
	}](t, rec)
	if len(out.Slide.Options) != lesson.OptionCount || out.Slide.Answer != lesson.AnswerLetter(out.Slide.CorrectIndex) {
		t.Fatalf("unexpected question %+v", out.Slide)
	}
}

func TestGenerateSlide_BackendsExhausted(t *testing.T) {
	failing := mock.New()
	failing.Err = errors.New("upstream unavailable")
	h := testHandler(t, provider("a", failing), provider("b", failing))

	rec := do(t, h, http.MethodPost, "/v1/lessons/slides", map[string]any{"topic": "Tides", "index": 2})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status=%d want 502", rec.Code)
	}
	out := decode[errorEnvelope](t, rec)
	if out.Error.Code != "backends_exhausted" || len(out.Error.Attempts) != 2 {
		t.Fatalf("unexpected error %+v", out.Error)
	}
	if out.Error.Attempts[0].Status != orchestrator.StatusError || !strings.Contains(out.Error.Attempts[0].Message, "unavailable") {
		t.Fatalf("unexpected attempt %+v", out.Error.Attempts[0])
	}
}

func TestSessionLifecycle(t *testing.T) {
	h := testHandler(t)

	rec := do(t, h, http.MethodPost, "/v1/sessions", map[string]any{"topic": "Volcanoes", "subject": "Geology"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	started := decode[struct {
		Session progressive.Snapshot `json:"session"`
	}](t, rec)
	id := started.Session.ID
	if id == "" || !started.Session.CanStart || started.Session.Loaded != 1 {
		t.Fatalf("unexpected session %+v", started.Session)
	}

	rec = do(t, h, http.MethodPost, "/v1/sessions/"+id+"/next", map[string]any{"current_index": 5})
	if rec.Code != http.StatusConflict {
		t.Fatalf("skip ahead status=%d want 409", rec.Code)
	}

	for cur := 1; cur < lesson.TotalSlides; cur++ {
		rec = do(t, h, http.MethodPost, "/v1/sessions/"+id+"/next", map[string]any{"current_index": cur})
		if rec.Code != http.StatusOK {
			t.Fatalf("next(%d) status=%d body=%s", cur, rec.Code, rec.Body.String())
		}
	}

	rec = do(t, h, http.MethodPost, "/v1/sessions/"+id+"/next", map[string]any{"current_index": lesson.TotalSlides})
	out := decode[map[string]any](t, rec)
	if rec.Code != http.StatusOK || out["status"] != string(progressive.LoadPastEnd) {
		t.Fatalf("past end status=%d body=%v", rec.Code, out)
	}

	rec = do(t, h, http.MethodGet, "/v1/sessions/"+id, nil)
	snap := decode[struct {
		Session progressive.Snapshot `json:"session"`
	}](t, rec)
	if snap.Session.State != progressive.StateComplete || snap.Session.Percent != 100 {
		t.Fatalf("unexpected final session %+v", snap.Session)
	}

	rec = do(t, h, http.MethodGet, "/v1/sessions/"+id+"/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "quality_score") {
		t.Fatalf("metrics status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/v1/sessions/"+id+"/record", nil)
	record := decode[struct {
		Record lesson.Record `json:"record"`
	}](t, rec)
	if len(record.Record.Cards) != lesson.TotalSlides || record.Record.Cards[6].Answer == "" {
		t.Fatalf("unexpected record %+v", record.Record)
	}

	rec = do(t, h, http.MethodDelete, "/v1/sessions/"+id, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/v1/sessions/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("after delete status=%d want 404", rec.Code)
	}
}

func TestOpsEndpoints(t *testing.T) {
	h := testHandler(t)
	_ = do(t, h, http.MethodPost, "/v1/lessons/slides", map[string]any{"topic": "Tides", "index": 2})
	_ = do(t, h, http.MethodPost, "/v1/lessons/slides", map[string]any{"topic": "Tides", "index": 2})

	rec := do(t, h, http.MethodGet, "/v1/cache/stats", nil)
	stats := decode[struct {
		Caches map[string]cache.Stats `json:"caches"`
	}](t, rec)
	if stats.Caches["slides"].Hits != 1 || stats.Caches["slides"].Size != 1 {
		t.Fatalf("unexpected slide cache stats %+v", stats.Caches["slides"])
	}

	rec = do(t, h, http.MethodGet, "/v1/backends", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"id":"mock"`) {
		t.Fatalf("backends status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz status=%d body=%q", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "lessons_api_requests_total") {
		t.Fatalf("metrics missing api counter")
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{progressive.ErrSessionNotFound, http.StatusNotFound},
		{progressive.ErrNotStarted, http.StatusConflict},
		{progressive.ErrClosed, http.StatusGone},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{&orchestrator.AggregateError{}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got, _ := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v)=%d want %d", tc.err, got, tc.want)
		}
	}
}
