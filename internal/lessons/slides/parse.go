package slides

import (
	"fmt"
	"strings"

	"github.com/yungbote/neurobridge-lessons/internal/lessons/lesson"
)

// MalformedError reports backend output that does not satisfy the slide contract.
type MalformedError struct {
	Field  string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed slide: %s %s", e.Field, e.Reason)
}

func malformed(field, reason string) error {
	return &MalformedError{Field: field, Reason: reason}
}

// parsePayload maps a decoded backend object onto a slide for the given position.
func parsePayload(index int, payload map[string]any) (lesson.Slide, error) {
	if payload == nil {
		return lesson.Slide{}, malformed("payload", "is empty")
	}
	kind := lesson.KindAt(index)
	s := lesson.Slide{Position: index, Kind: kind}

	title, err := requiredString(payload, "title")
	if err != nil {
		return lesson.Slide{}, err
	}
	s.Title = title
	s.ImageDescription = optionalString(payload, "image_description")

	switch kind {
	case lesson.KindQuestion:
		if s.Content, err = requiredString(payload, "content"); err != nil {
			return lesson.Slide{}, err
		}
		if s.Options, err = parseOptions(payload["options"]); err != nil {
			return lesson.Slide{}, err
		}
		raw, ok := payload["correct_index"]
		if !ok {
			// letter-style answers from older prompt contracts
			raw, ok = firstPresent(payload, "correct_answer", "answer")
		}
		if !ok {
			return lesson.Slide{}, malformed("correct_index", "is missing")
		}
		idx, err := lesson.ParseAnswer(raw, s.Options)
		if err != nil {
			return lesson.Slide{}, malformed("correct_index", err.Error())
		}
		s.CorrectIndex = idx
		s.Rationale = optionalString(payload, "rationale")
	case lesson.KindClosing:
		if s.Summary, err = requiredString(payload, "summary"); err != nil {
			return lesson.Slide{}, err
		}
		s.FinalTip = optionalString(payload, "final_tip")
		s.Content = s.Summary
		if s.FinalTip != "" {
			s.Content = s.Summary + "\n\n" + s.FinalTip
		}
	default:
		if s.Content, err = requiredString(payload, "content"); err != nil {
			return lesson.Slide{}, err
		}
	}

	if !s.WellFormed() {
		return lesson.Slide{}, malformed("slide", "fails the shape check")
	}
	return s, nil
}

func parseOptions(v any) ([]string, error) {
	arr, ok := v.([]any)
	if !ok {
		if ss, isStrings := v.([]string); isStrings {
			arr = make([]any, len(ss))
			for i, s := range ss {
				arr[i] = s
			}
		} else {
			return nil, malformed("options", "is not an array")
		}
	}
	if len(arr) != lesson.OptionCount {
		return nil, malformed("options", fmt.Sprintf("has %d entries, want %d", len(arr), lesson.OptionCount))
	}
	out := make([]string, 0, len(arr))
	for i, o := range arr {
		s, ok := o.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, malformed("options", fmt.Sprintf("entry %d is blank", i))
		}
		out = append(out, strings.TrimSpace(s))
	}
	return out, nil
}

func requiredString(payload map[string]any, key string) (string, error) {
	s, ok := payload[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", malformed(key, "is missing or blank")
	}
	return strings.TrimSpace(s), nil
}

func optionalString(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return strings.TrimSpace(s)
}

func firstPresent(payload map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := payload[k]; ok {
			return v, true
		}
	}
	return nil, false
}
