// Package lesson holds the data model shared by every stage of the progressive pipeline:
// the 14-stage skeleton, realized slides, and the persisted record shape.
package lesson

import (
	"strings"
	"time"
)

// TotalSlides is fixed; every lesson has exactly this many stages.
const TotalSlides = 14

// PlaceholderContent marks a stage whose slide has not been generated yet.
const PlaceholderContent = "content is loading"

type Kind string

const (
	KindExplanation Kind = "explanation"
	KindQuestion    Kind = "question"
	KindClosing     Kind = "closing"
)

// OptionCount is the number of answer options a question slide must carry.
const OptionCount = 4

// KindAt returns the slide kind for a 1-based position.
func KindAt(position int) Kind {
	switch position {
	case 7, 12:
		return KindQuestion
	case TotalSlides:
		return KindClosing
	default:
		return KindExplanation
	}
}

// ValidPosition reports whether position addresses one of the lesson's stages.
func ValidPosition(position int) bool {
	return position >= 1 && position <= TotalSlides
}

type Status string

const (
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
)

type Slide struct {
	Position int    `json:"position"`
	Kind     Kind   `json:"kind"`
	Title    string `json:"title"`
	Content  string `json:"content"`

	// question
	Options      []string `json:"options,omitempty"`
	CorrectIndex int      `json:"correct_index"`
	Rationale    string   `json:"rationale,omitempty"`

	// closing
	Summary  string `json:"summary,omitempty"`
	FinalTip string `json:"final_tip,omitempty"`

	ImageDescription string `json:"image_description,omitempty"`

	EstimatedMinutes float64       `json:"estimated_minutes"`
	GenerationTime   time.Duration `json:"generation_time"`
	TokenEstimate    int           `json:"token_estimate"`
	WordCount        int           `json:"word_count"`

	Backend  string `json:"backend,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
}

// Clone returns a deep copy; cache stores hand out clones so callers never share option slices.
func (s Slide) Clone() Slide {
	out := s
	if s.Options != nil {
		out.Options = append([]string(nil), s.Options...)
	}
	return out
}

// Placeholder reports whether the slide is still the skeleton's loading stub.
func (s Slide) Placeholder() bool {
	return strings.TrimSpace(s.Content) == "" || s.Content == PlaceholderContent
}

// WellFormed applies the per-kind shape rule. A question needs exactly four non-blank
// options and a correct index that resolves to one of them.
func (s Slide) WellFormed() bool {
	if strings.TrimSpace(s.Title) == "" || strings.TrimSpace(s.Content) == "" {
		return false
	}
	if s.Kind != KindAt(s.Position) {
		return false
	}
	switch s.Kind {
	case KindQuestion:
		if len(s.Options) != OptionCount {
			return false
		}
		for _, o := range s.Options {
			if strings.TrimSpace(o) == "" {
				return false
			}
		}
		return s.CorrectIndex >= 0 && s.CorrectIndex < OptionCount
	case KindClosing:
		return strings.TrimSpace(s.Summary) != ""
	default:
		return true
	}
}

// Stage is a skeleton slot. It embeds the slide realized for it, or the placeholder.
type Stage struct {
	Slide
	Loaded bool `json:"loaded"`
}

type Skeleton struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Subject    string    `json:"subject"`
	Level      string    `json:"level"`
	Objectives []string  `json:"objectives"`
	Stages     []Stage   `json:"stages"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// Clone copies the skeleton including every stage.
func (s Skeleton) Clone() Skeleton {
	out := s
	out.Objectives = append([]string(nil), s.Objectives...)
	out.Stages = make([]Stage, len(s.Stages))
	for i, st := range s.Stages {
		out.Stages[i] = Stage{Slide: st.Slide.Clone(), Loaded: st.Loaded}
	}
	return out
}

// Fill writes a realized slide into its stage. Status flips to ready once every stage is loaded.
func (s *Skeleton) Fill(slide Slide) bool {
	if !ValidPosition(slide.Position) || len(s.Stages) != TotalSlides {
		return false
	}
	s.Stages[slide.Position-1] = Stage{Slide: slide.Clone(), Loaded: true}
	for _, st := range s.Stages {
		if !st.Loaded {
			return true
		}
	}
	s.Status = StatusReady
	return true
}

// Loaded returns the realized slides in order, stopping at the first unloaded stage.
func (s Skeleton) Loaded() []Slide {
	out := make([]Slide, 0, len(s.Stages))
	for _, st := range s.Stages {
		if !st.Loaded {
			break
		}
		out = append(out, st.Slide.Clone())
	}
	return out
}
