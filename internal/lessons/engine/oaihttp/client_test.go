package oaihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/neurobridge-lessons/internal/lessons/config"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/engine"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func jsonResponse(status int, v any) *http.Response {
	b, _ := json.Marshal(v)
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(b)),
	}
}

func completion(content string) chatCompletionResponse {
	var c chatChoice
	c.Message.Content = content
	return chatCompletionResponse{
		Model:   "upstream-model-2025",
		Choices: []chatChoice{c},
		Usage:   chatUsage{PromptTokens: 12, CompletionTokens: 34},
	}
}

func testConfig() config.BackendConfig {
	return config.BackendConfig{
		ID:                  "openai",
		Type:                "oai_http",
		BaseURL:             "http://upstream",
		ChatCompletionsPath: "/v1/chat/completions",
		APIKeyEnv:           "LESSONS_OAIHTTP_TEST_KEY",
		Timeout:             config.Duration{Duration: 2 * time.Second},
		JSONSchema: config.JSONSchemaConfig{
			Mode:           "auto",
			MaxRetries:     1,
			MaxPromptBytes: 4096,
		},
	}
}

var slideSchema = &engine.JSONSchema{
	Name:   "explanation_slide",
	Strict: true,
	Schema: map[string]any{
		"type":       "object",
		"properties": map[string]any{"title": map[string]any{"type": "string"}},
		"required":   []string{"title"},
	},
}

func TestGenerate_ResponseFormatAndUsage(t *testing.T) {
	t.Setenv("LESSONS_OAIHTTP_TEST_KEY", "sk-test")

	client := &http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if req.URL.Path != "/v1/chat/completions" {
				t.Fatalf("unexpected path: %s", req.URL.Path)
			}
			if got := req.Header.Get("Authorization"); got != "Bearer sk-test" {
				t.Fatalf("authorization=%q", got)
			}
			var payload map[string]any
			if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
				t.Fatalf("decode req: %v", err)
			}
			rf, _ := payload["response_format"].(map[string]any)
			if rf["type"] != "json_schema" {
				t.Fatalf("expected json_schema response_format, got %v", payload["response_format"])
			}
			msgs, _ := payload["messages"].([]any)
			if len(msgs) != 2 {
				t.Fatalf("expected system+user messages, got %d", len(msgs))
			}
			return jsonResponse(http.StatusOK, completion("```json\n{\"title\": \"Cells\"}\n```")), nil
		}),
	}

	e, err := NewWithHTTPClient(testConfig(), client)
	if err != nil {
		t.Fatalf("NewWithHTTPClient: %v", err)
	}
	res, err := e.Generate(context.Background(), "gpt-4o-mini", engine.Request{
		System: "You write lessons.",
		Prompt: "Topic: cells",
		Schema: slideSchema,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Payload["title"] != "Cells" {
		t.Fatalf("payload=%v", res.Payload)
	}
	if res.Model != "upstream-model-2025" || res.Usage.InputTokens != 12 || res.Usage.OutputTokens != 34 {
		t.Fatalf("result=%+v", res)
	}
}

func TestGenerate_InvalidJSONRetriesWithPrompt(t *testing.T) {
	var calls int32
	client := &http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			n := atomic.AddInt32(&calls, 1)
			var payload map[string]any
			if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
				t.Fatalf("decode req: %v", err)
			}
			msgs, _ := payload["messages"].([]any)
			if n == 1 {
				if len(msgs) != 2 {
					t.Fatalf("expected 2 messages on first attempt, got %d", len(msgs))
				}
				return jsonResponse(http.StatusOK, completion("not json")), nil
			}
			if _, ok := payload["response_format"]; ok {
				t.Fatalf("did not expect response_format on retry")
			}
			if len(msgs) != 3 {
				t.Fatalf("expected schema prompt appended on retry, got %d messages", len(msgs))
			}
			return jsonResponse(http.StatusOK, completion("Sure! Here it is: {\"title\": \"Cells\"} Enjoy.")), nil
		}),
	}

	e, err := NewWithHTTPClient(testConfig(), client)
	if err != nil {
		t.Fatalf("NewWithHTTPClient: %v", err)
	}
	res, err := e.Generate(context.Background(), "m", engine.Request{System: "s", Prompt: "p", Schema: slideSchema})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls=%d want 2", calls)
	}
	if res.Payload["title"] != "Cells" {
		t.Fatalf("payload=%v", res.Payload)
	}
}

func TestGenerate_HTTPErrorNotRetried(t *testing.T) {
	var calls int32
	client := &http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			atomic.AddInt32(&calls, 1)
			return jsonResponse(http.StatusTooManyRequests, map[string]any{"error": "rate limited"}), nil
		}),
	}
	e, err := NewWithHTTPClient(testConfig(), client)
	if err != nil {
		t.Fatalf("NewWithHTTPClient: %v", err)
	}
	_, err = e.Generate(context.Background(), "m", engine.Request{Prompt: "p", Schema: slideSchema})
	var he *HTTPError
	if !errors.As(err, &he) || he.HTTPStatus() != http.StatusTooManyRequests {
		t.Fatalf("expected 429 HTTPError, got %v", err)
	}
	var se engine.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("HTTPError must satisfy engine.StatusError")
	}
	if calls != 1 {
		t.Fatalf("calls=%d want 1", calls)
	}
}

func TestGenerate_GuidedJSONMode(t *testing.T) {
	cfg := testConfig()
	cfg.JSONSchema.Mode = "guided_json"
	client := &http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			var payload map[string]any
			_ = json.NewDecoder(req.Body).Decode(&payload)
			if _, ok := payload["guided_json"]; !ok {
				t.Fatalf("expected guided_json")
			}
			return jsonResponse(http.StatusOK, completion(`{"title":"x"}`)), nil
		}),
	}
	e, err := NewWithHTTPClient(cfg, client)
	if err != nil {
		t.Fatalf("NewWithHTTPClient: %v", err)
	}
	if _, err := e.Generate(context.Background(), "m", engine.Request{Prompt: "p", Schema: slideSchema}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
}

func TestSanitizeJSONText(t *testing.T) {
	cases := map[string]string{
		`{"a":1}`:                     `{"a":1}`,
		"```json\n{\"a\":1}\n```":     `{"a":1}`,
		"Here you go:\n{\"a\":1}\nok": `{"a":1}`,
		"no json at all":              "no json at all",
	}
	for in, want := range cases {
		if got := sanitizeJSONText(in); got != want {
			t.Fatalf("sanitizeJSONText(%q)=%q want %q", in, got, want)
		}
	}
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New(config.BackendConfig{ID: "x", Type: "oai_http"}); err == nil {
		t.Fatalf("expected error")
	}
}
