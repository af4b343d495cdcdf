package slides

import (
	"github.com/yungbote/neurobridge-lessons/internal/lessons/engine"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/lesson"
)

func stringSchema() map[string]any {
	return map[string]any{"type": "string"}
}

// nullableString is how strict structured output expresses an optional field: present, possibly null.
func nullableString() map[string]any {
	return map[string]any{"type": []string{"string", "null"}}
}

// objectSchema requires every property; strict mode rejects schemas that leave one out.
func objectSchema(properties map[string]any, required []string) map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

func explanationSchema() map[string]any {
	return objectSchema(map[string]any{
		"title":             stringSchema(),
		"content":           stringSchema(),
		"image_description": nullableString(),
	}, []string{"title", "content", "image_description"})
}

func questionSchema() map[string]any {
	return objectSchema(map[string]any{
		"title":   stringSchema(),
		"content": stringSchema(),
		"options": map[string]any{
			"type":     "array",
			"items":    stringSchema(),
			"minItems": lesson.OptionCount,
			"maxItems": lesson.OptionCount,
		},
		"correct_index": map[string]any{
			"type":    "integer",
			"minimum": 0,
			"maximum": lesson.OptionCount - 1,
		},
		"rationale": stringSchema(),
	}, []string{"title", "content", "options", "correct_index", "rationale"})
}

func closingSchema() map[string]any {
	return objectSchema(map[string]any{
		"title":     stringSchema(),
		"summary":   stringSchema(),
		"final_tip": stringSchema(),
	}, []string{"title", "summary", "final_tip"})
}

// SchemaFor returns the structured-output contract for a slide kind.
func SchemaFor(k lesson.Kind) *engine.JSONSchema {
	switch k {
	case lesson.KindQuestion:
		return &engine.JSONSchema{Name: "question_slide", Schema: questionSchema(), Strict: true}
	case lesson.KindClosing:
		return &engine.JSONSchema{Name: "closing_slide", Schema: closingSchema(), Strict: true}
	default:
		return &engine.JSONSchema{Name: "explanation_slide", Schema: explanationSchema(), Strict: true}
	}
}

// TierFor routes the first slide to the fast tier, questions to simple and everything else to complex.
func TierFor(index int) engine.Tier {
	switch {
	case index == 1:
		return engine.TierFast
	case lesson.KindAt(index) == lesson.KindQuestion:
		return engine.TierSimple
	default:
		return engine.TierComplex
	}
}
