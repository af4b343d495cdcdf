package mock

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yungbote/neurobridge-lessons/internal/lessons/engine"
)

// Engine fabricates schema-shaped payloads without network access. Output is a deterministic
// function of model and prompt, so repeated runs produce identical lessons.
type Engine struct {
	// Err, when set, is returned from every call.
	Err error
}

func New() *Engine {
	return &Engine{}
}

func (e *Engine) Generate(ctx context.Context, model string, req engine.Request) (engine.Result, error) {
	if err := ctx.Err(); err != nil {
		return engine.Result{}, err
	}
	if e.Err != nil {
		return engine.Result{}, e.Err
	}

	seed := sha256.Sum256([]byte(model + "\n" + req.Prompt))
	var payload map[string]any
	if req.Schema != nil {
		payload = fill(req.Schema.Schema, subjectOf(req.Prompt), seed[:])
	} else {
		payload = map[string]any{"text": fmt.Sprintf("mock: %s", strings.TrimSpace(req.Prompt))}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return engine.Result{}, err
	}
	return engine.Result{
		Payload: payload,
		Raw:     string(raw),
		Model:   model,
		Usage: engine.Usage{
			InputTokens:  (utf8.RuneCountInString(req.System+req.Prompt) + 3) / 4,
			OutputTokens: (len(raw) + 3) / 4,
		},
	}, nil
}

// fill walks an object schema and produces a value for every declared property.
func fill(schema map[string]any, topic string, seed []byte) map[string]any {
	props, _ := schema["properties"].(map[string]any)
	out := make(map[string]any, len(props))
	for name, raw := range props {
		prop, _ := raw.(map[string]any)
		out[name] = fillValue(name, prop, topic, seed)
	}
	return out
}

func fillValue(name string, prop map[string]any, topic string, seed []byte) any {
	switch prop["type"] {
	case "integer":
		limit := 4
		if v, ok := prop["maximum"].(int); ok && v >= 0 {
			limit = v + 1
		}
		return int(binary.LittleEndian.Uint32(seed) % uint32(limit))
	case "number":
		return 0.5
	case "boolean":
		return true
	case "array":
		n := 4
		if v, ok := prop["minItems"].(int); ok && v > 0 {
			n = v
		}
		items := make([]any, n)
		for i := range items {
			items[i] = fmt.Sprintf("%s option %c about %s", name, 'A'+i, topic)
		}
		return items
	case "object":
		sub, _ := prop["properties"].(map[string]any)
		return fill(map[string]any{"properties": sub}, topic, seed)
	default:
		return mockText(name, topic)
	}
}

func mockText(field, topic string) string {
	switch field {
	case "title":
		return "Understanding " + topic
	case "content":
		sentence := fmt.Sprintf("This section explains %s step by step with worked examples and checks for understanding. ", topic)
		return strings.TrimSpace(strings.Repeat(sentence, 24))
	default:
		return fmt.Sprintf("%s for %s", strings.ReplaceAll(field, "_", " "), topic)
	}
}

// subjectOf pulls the topic line the slide prompts carry; other prompts use their first line.
func subjectOf(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "Topic:"); ok {
			return strings.TrimSpace(v)
		}
	}
	first, _, _ := strings.Cut(strings.TrimSpace(prompt), "\n")
	if first == "" {
		return "the topic"
	}
	return first
}
