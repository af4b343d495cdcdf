// Package estimator derives token, word and pacing numbers from lesson slides. Everything
// here is a pure function of its inputs.
package estimator

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/yungbote/neurobridge-lessons/internal/lessons/lesson"
)

type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

const DefaultMinTokens = 500

// rates per delivery mode. Quiz and closing time are fixed per lesson, not per loaded slide.
type rates struct {
	wordsPerMinute float64
	pauseRatio     float64
	perQuestion    float64
	closing        float64
}

var modeRates = map[Mode]rates{
	ModeSync:  {wordsPerMinute: 130, pauseRatio: 0.4, perQuestion: 4, closing: 2.5},
	ModeAsync: {wordsPerMinute: 210, pauseRatio: 0, perQuestion: 4.5, closing: 6.5},
}

// wordsPerToken converts token estimates back to words for duration math.
const wordsPerToken = 0.75

// sync lessons are expected to land in this window
const (
	syncMinMinutes = 40
	syncMaxMinutes = 60
)

// EstimateTokens approximates tokens as one per four characters, rounded up.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

func CountWords(text string) int {
	return len(strings.Fields(text))
}

type Duration struct {
	Exposition float64 `json:"exposition"`
	Pause      float64 `json:"pause"`
	Quiz       float64 `json:"quiz"`
	Closing    float64 `json:"closing"`
	Total      float64 `json:"total"`
}

// EstimateDuration breaks the lesson's running time into components for a delivery mode.
// Exposition is derived from the token estimate of every realized slide; quiz and closing
// minutes are fixed once any slide exists. Unknown modes are treated as sync.
func EstimateDuration(slides []lesson.Slide, mode Mode) Duration {
	r, ok := modeRates[mode]
	if !ok {
		r = modeRates[ModeSync]
	}
	tokens, filled := 0, 0
	for _, s := range slides {
		if s.Placeholder() {
			continue
		}
		filled++
		tokens += tokensOf(s)
	}
	if filled == 0 {
		return Duration{}
	}
	words := math.Round(float64(tokens) * wordsPerToken)
	exposition := words / r.wordsPerMinute
	pause := exposition * r.pauseRatio
	quiz := float64(questionSlots) * r.perQuestion
	return Duration{
		Exposition: round1(exposition),
		Pause:      round1(pause),
		Quiz:       round1(quiz),
		Closing:    round1(r.closing),
		Total:      round1(exposition + pause + quiz + r.closing),
	}
}

var questionSlots = func() int {
	n := 0
	for pos := 1; pos <= lesson.TotalSlides; pos++ {
		if lesson.KindAt(pos) == lesson.KindQuestion {
			n++
		}
	}
	return n
}()

func wordsOf(s lesson.Slide) int {
	if s.WordCount > 0 {
		return s.WordCount
	}
	return CountWords(s.Content)
}

func tokensOf(s lesson.Slide) int {
	if s.TokenEstimate > 0 {
		return s.TokenEstimate
	}
	return EstimateTokens(s.Content)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

type Options struct {
	MinTokens int
}

func (o Options) minTokens() int {
	if o.MinTokens <= 0 {
		return DefaultMinTokens
	}
	return o.MinTokens
}

type PacingMetrics struct {
	TotalTokens     int               `json:"total_tokens"`
	TotalWords      int               `json:"total_words"`
	Durations       map[Mode]Duration `json:"durations"`
	FilledSlides    int               `json:"filled_slides"`
	ValidSlides     int               `json:"valid_slides"`
	BelowMinimum    []int             `json:"below_minimum,omitempty"`
	FallbackSlides  []int             `json:"fallback_slides,omitempty"`
	MalformedSlides []int             `json:"malformed_slides,omitempty"`
	QualityScore    int               `json:"quality_score"`
	Recommendations []string          `json:"recommendations"`
}

// Compute runs the estimator over whatever slides exist. Placeholders count as not filled.
func Compute(slides []lesson.Slide, opts Options) PacingMetrics {
	floor := opts.minTokens()
	m := PacingMetrics{
		Durations: map[Mode]Duration{
			ModeSync:  EstimateDuration(slides, ModeSync),
			ModeAsync: EstimateDuration(slides, ModeAsync),
		},
		Recommendations: []string{},
	}

	var explanations, validExplanations int
	var questions, wellFormedQuestions int
	closingOK := false
	for _, s := range slides {
		if s.Placeholder() {
			continue
		}
		m.FilledSlides++
		m.TotalTokens += tokensOf(s)
		m.TotalWords += wordsOf(s)
		if s.Fallback {
			m.FallbackSlides = append(m.FallbackSlides, s.Position)
		}
		switch s.Kind {
		case lesson.KindQuestion:
			questions++
			if s.WellFormed() {
				wellFormedQuestions++
				m.ValidSlides++
			} else {
				m.MalformedSlides = append(m.MalformedSlides, s.Position)
			}
		case lesson.KindClosing:
			if s.WellFormed() {
				closingOK = true
				m.ValidSlides++
			} else {
				m.MalformedSlides = append(m.MalformedSlides, s.Position)
			}
		default:
			explanations++
			if tokensOf(s) >= floor {
				validExplanations++
				m.ValidSlides++
			} else {
				m.BelowMinimum = append(m.BelowMinimum, s.Position)
			}
		}
	}

	score := 40 * float64(m.FilledSlides) / float64(lesson.TotalSlides)
	if explanations > 0 {
		score += 40 * float64(validExplanations) / float64(explanations)
	}
	score += structureScore(questions, wellFormedQuestions, closingOK, len(m.FallbackSlides))
	m.QualityScore = clampScore(score)

	m.Recommendations = recommend(m, floor)
	return m
}

// structureScore grants up to 20 points: 10 for well-formed questions, 10 for a closing,
// minus 2 per fallback slide.
func structureScore(questions, wellFormed int, closingOK bool, fallbacks int) float64 {
	var s float64
	if questions > 0 {
		s += 10 * float64(wellFormed) / float64(questions)
	}
	if closingOK {
		s += 10
	}
	s -= 2 * float64(fallbacks)
	if s < 0 {
		return 0
	}
	return s
}

func clampScore(v float64) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return int(math.Round(v))
	}
}

func recommend(m PacingMetrics, floor int) []string {
	out := []string{}
	if len(m.BelowMinimum) > 0 {
		out = append(out, fmt.Sprintf("expand slides %s to at least %d tokens each", joinInts(m.BelowMinimum), floor))
	}
	if m.FilledSlides == lesson.TotalSlides {
		total := m.Durations[ModeSync].Total
		switch {
		case total < syncMinMinutes:
			out = append(out, fmt.Sprintf("synchronous duration %.1f min is below the %d-%d min target; add depth to explanations", total, syncMinMinutes, syncMaxMinutes))
		case total > syncMaxMinutes:
			out = append(out, fmt.Sprintf("synchronous duration %.1f min exceeds the %d-%d min target; tighten explanations", total, syncMinMinutes, syncMaxMinutes))
		}
	}
	if len(m.FallbackSlides) > 0 {
		out = append(out, fmt.Sprintf("regenerate fallback slides %s", joinInts(m.FallbackSlides)))
	}
	if m.FilledSlides < lesson.TotalSlides {
		out = append(out, fmt.Sprintf("%d slides still loading", lesson.TotalSlides-m.FilledSlides))
	}
	if len(m.MalformedSlides) > 0 {
		out = append(out, fmt.Sprintf("fix malformed slides %s", joinInts(m.MalformedSlides)))
	}
	return out
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ", ")
}
