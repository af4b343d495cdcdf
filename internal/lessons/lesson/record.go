package lesson

import (
	"fmt"
	"strings"
	"time"
)

// OutlineItem and Card mirror the persisted lesson record: an ordered outline plus a parallel
// list of cards carrying realized content.
type OutlineItem struct {
	Title   string `json:"title"`
	Kind    Kind   `json:"kind"`
	Route   string `json:"route"`
	Loading bool   `json:"loading"`
}

type Card struct {
	Kind             Kind     `json:"kind"`
	Title            string   `json:"title"`
	Content          string   `json:"content"`
	Options          []string `json:"options,omitempty"`
	Answer           string   `json:"answer,omitempty"`
	CorrectIndex     *int     `json:"correct_index,omitempty"`
	Rationale        string   `json:"rationale,omitempty"`
	Summary          string   `json:"summary,omitempty"`
	FinalTip         string   `json:"final_tip,omitempty"`
	ImageDescription string   `json:"image_description,omitempty"`
	Minutes          float64  `json:"minutes"`
	Fallback         bool     `json:"fallback,omitempty"`
}

type Record struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Subject   string        `json:"subject"`
	Level     string        `json:"level"`
	Objective string        `json:"objective"`
	Outline   []OutlineItem `json:"outline"`
	Cards     []Card        `json:"cards"`
	CreatedAt time.Time     `json:"created_at"`
}

const objectiveSep = "; "

// ToRecord serializes a skeleton (with whatever stages are loaded) into the persisted shape.
func ToRecord(s Skeleton) Record {
	rec := Record{
		ID:        s.ID,
		Title:     s.Title,
		Subject:   s.Subject,
		Level:     s.Level,
		Objective: strings.Join(s.Objectives, objectiveSep),
		Outline:   make([]OutlineItem, 0, len(s.Stages)),
		Cards:     make([]Card, 0, len(s.Stages)),
		CreatedAt: s.CreatedAt,
	}
	for _, st := range s.Stages {
		rec.Outline = append(rec.Outline, OutlineItem{
			Title:   st.Title,
			Kind:    st.Kind,
			Route:   fmt.Sprintf("/%s/%d", st.Kind, st.Position),
			Loading: !st.Loaded,
		})
		card := Card{
			Kind:             st.Kind,
			Title:            st.Title,
			Content:          st.Content,
			Rationale:        st.Rationale,
			Summary:          st.Summary,
			FinalTip:         st.FinalTip,
			ImageDescription: st.ImageDescription,
			Minutes:          st.EstimatedMinutes,
			Fallback:         st.Fallback,
		}
		if st.Kind == KindQuestion && st.Loaded {
			idx := st.CorrectIndex
			card.Options = append([]string(nil), st.Options...)
			card.CorrectIndex = &idx
			card.Answer = AnswerLetter(idx)
		}
		rec.Cards = append(rec.Cards, card)
	}
	return rec
}

// FromRecord rebuilds a skeleton from a persisted record. Letter answers are resolved here,
// once, so nothing downstream sees them.
func FromRecord(rec Record) (Skeleton, error) {
	if len(rec.Outline) != TotalSlides || len(rec.Cards) != TotalSlides {
		return Skeleton{}, fmt.Errorf("record %s: want %d outline items and cards, got %d/%d",
			rec.ID, TotalSlides, len(rec.Outline), len(rec.Cards))
	}
	s := Skeleton{
		ID:        rec.ID,
		Title:     rec.Title,
		Subject:   rec.Subject,
		Level:     rec.Level,
		Stages:    make([]Stage, TotalSlides),
		Status:    StatusReady,
		CreatedAt: rec.CreatedAt,
	}
	if strings.TrimSpace(rec.Objective) != "" {
		s.Objectives = strings.Split(rec.Objective, objectiveSep)
	}
	for i, card := range rec.Cards {
		slide := Slide{
			Position:         i + 1,
			Kind:             card.Kind,
			Title:            card.Title,
			Content:          card.Content,
			Rationale:        card.Rationale,
			Summary:          card.Summary,
			FinalTip:         card.FinalTip,
			ImageDescription: card.ImageDescription,
			EstimatedMinutes: card.Minutes,
			Fallback:         card.Fallback,
		}
		loaded := !rec.Outline[i].Loading
		if card.Kind == KindQuestion && loaded {
			var raw any = card.Answer
			if card.CorrectIndex != nil {
				raw = *card.CorrectIndex
			}
			idx, err := ParseAnswer(raw, card.Options)
			if err != nil {
				return Skeleton{}, fmt.Errorf("record %s card %d: %w", rec.ID, i+1, err)
			}
			slide.Options = append([]string(nil), card.Options...)
			slide.CorrectIndex = idx
		}
		s.Stages[i] = Stage{Slide: slide, Loaded: loaded}
		if !loaded {
			s.Status = StatusLoading
		}
	}
	return s, nil
}

// Clone deep-copies the record so cached copies never share cards or options.
func (r Record) Clone() Record {
	out := r
	out.Outline = append([]OutlineItem(nil), r.Outline...)
	out.Cards = make([]Card, len(r.Cards))
	for i, c := range r.Cards {
		cp := c
		cp.Options = append([]string(nil), c.Options...)
		if c.CorrectIndex != nil {
			idx := *c.CorrectIndex
			cp.CorrectIndex = &idx
		}
		out.Cards[i] = cp
	}
	return out
}
