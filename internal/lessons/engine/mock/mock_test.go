package mock

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yungbote/neurobridge-lessons/internal/lessons/engine"
)

func TestGenerate_FillsSchema(t *testing.T) {
	schema := &engine.JSONSchema{
		Name: "question_slide",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":         map[string]any{"type": "string"},
				"options":       map[string]any{"type": "array", "minItems": 4},
				"correct_index": map[string]any{"type": "integer", "minimum": 0, "maximum": 3},
			},
		},
	}
	e := New()
	req := engine.Request{Prompt: "Topic: fractions\nSlide 7", Schema: schema}
	res, err := e.Generate(context.Background(), "mock-1", req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	opts, _ := res.Payload["options"].([]any)
	if len(opts) != 4 {
		t.Fatalf("options=%v", res.Payload["options"])
	}
	idx, _ := res.Payload["correct_index"].(int)
	if idx < 0 || idx > 3 {
		t.Fatalf("correct_index=%v", res.Payload["correct_index"])
	}
	if !strings.Contains(res.Payload["title"].(string), "fractions") {
		t.Fatalf("title=%v", res.Payload["title"])
	}

	again, _ := e.Generate(context.Background(), "mock-1", req)
	if again.Raw != res.Raw {
		t.Fatalf("mock output must be deterministic")
	}
}

func TestGenerate_Err(t *testing.T) {
	boom := errors.New("boom")
	e := &Engine{Err: boom}
	if _, err := e.Generate(context.Background(), "m", engine.Request{Prompt: "p"}); !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
}

func TestGenerate_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Generate(ctx, "m", engine.Request{Prompt: "p"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
}
