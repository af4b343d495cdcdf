package lesson

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseAnswer converts an inbound correct-answer designator into the canonical zero-based
// index. Accepted forms: integers 0-3, numeric strings, letters "A"-"D" (any case, optionally
// followed by ")" or "."), and the exact text of one of the options.
func ParseAnswer(v any, options []string) (int, error) {
	switch t := v.(type) {
	case nil:
		return -1, fmt.Errorf("correct answer missing")
	case int:
		return checkIndex(t)
	case int64:
		return checkIndex(int(t))
	case float64:
		if t != math.Trunc(t) {
			return -1, fmt.Errorf("correct answer %v is not an integer", t)
		}
		return checkIndex(int(t))
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return -1, fmt.Errorf("correct answer %q: %w", t.String(), err)
		}
		return checkIndex(int(i))
	case string:
		return parseAnswerString(t, options)
	default:
		return -1, fmt.Errorf("unsupported correct answer type %T", v)
	}
}

func parseAnswerString(raw string, options []string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return -1, fmt.Errorf("correct answer empty")
	}
	if i, err := strconv.Atoi(s); err == nil {
		return checkIndex(i)
	}
	letter := strings.TrimRight(strings.ToUpper(s), ").: ")
	if len(letter) == 1 && letter[0] >= 'A' && letter[0] < 'A'+OptionCount {
		return int(letter[0] - 'A'), nil
	}
	for i, o := range options {
		if strings.EqualFold(strings.TrimSpace(o), s) {
			return checkIndex(i)
		}
	}
	return -1, fmt.Errorf("correct answer %q does not resolve to an option", raw)
}

func checkIndex(i int) (int, error) {
	if i < 0 || i >= OptionCount {
		return -1, fmt.Errorf("correct answer index %d out of range", i)
	}
	return i, nil
}

// AnswerLetter renders a canonical index as the letter used by letter-based consumers.
func AnswerLetter(index int) string {
	if index < 0 || index >= OptionCount {
		return ""
	}
	return string(rune('A' + index))
}
