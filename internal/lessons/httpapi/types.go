package httpapi

import (
	"fmt"
	"strings"

	"github.com/yungbote/neurobridge-lessons/internal/lessons/lesson"
)

type skeletonRequest struct {
	Topic   string `json:"topic"`
	Subject string `json:"subject"`
}

// wireSlide is a previous slide as clients send it back. correct_answer may be a letter,
// an index or the option text.
type wireSlide struct {
	Position         int      `json:"position"`
	Title            string   `json:"title"`
	Content          string   `json:"content"`
	Options          []string `json:"options,omitempty"`
	CorrectAnswer    any      `json:"correct_answer,omitempty"`
	CorrectIndex     *int     `json:"correct_index,omitempty"`
	Summary          string   `json:"summary,omitempty"`
	FinalTip         string   `json:"final_tip,omitempty"`
	ImageDescription string   `json:"image_description,omitempty"`
}

type slideRequest struct {
	Topic          string      `json:"topic"`
	Subject        string      `json:"subject"`
	Index          int         `json:"index"`
	PreviousSlides []wireSlide `json:"previous_slides"`
}

type nextRequest struct {
	CurrentIndex int `json:"current_index"`
}

// slideResponse adds the letter answer for letter-based consumers.
type slideResponse struct {
	lesson.Slide
	Answer string `json:"answer,omitempty"`
}

func newSlideResponse(s lesson.Slide) slideResponse {
	out := slideResponse{Slide: s}
	if s.Kind == lesson.KindQuestion {
		out.Answer = lesson.AnswerLetter(s.CorrectIndex)
	}
	return out
}

// toSlide converts a wire slide into the internal shape, resolving the answer designator once.
func (w wireSlide) toSlide() (lesson.Slide, error) {
	if !lesson.ValidPosition(w.Position) {
		return lesson.Slide{}, fmt.Errorf("previous slide position %d is outside 1..%d", w.Position, lesson.TotalSlides)
	}
	s := lesson.Slide{
		Position:         w.Position,
		Kind:             lesson.KindAt(w.Position),
		Title:            strings.TrimSpace(w.Title),
		Content:          w.Content,
		Summary:          w.Summary,
		FinalTip:         w.FinalTip,
		ImageDescription: w.ImageDescription,
	}
	if s.Kind == lesson.KindQuestion && len(w.Options) > 0 {
		var raw any = w.CorrectAnswer
		if w.CorrectIndex != nil {
			raw = *w.CorrectIndex
		}
		idx, err := lesson.ParseAnswer(raw, w.Options)
		if err != nil {
			return lesson.Slide{}, fmt.Errorf("previous slide %d: %w", w.Position, err)
		}
		s.Options = append([]string(nil), w.Options...)
		s.CorrectIndex = idx
	}
	return s, nil
}
