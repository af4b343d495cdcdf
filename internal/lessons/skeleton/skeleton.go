// Package skeleton builds the fixed 14-stage lesson outline handed to the user before any
// backend is contacted. It does no I/O.
package skeleton

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-lessons/internal/lessons/lesson"
	"github.com/yungbote/neurobridge-lessons/internal/platform/apierr"
)

const (
	MaxTopicRunes = 200
	DefaultLevel  = "intermediate"
)

var stageTitles = [lesson.TotalSlides]string{
	"Opening: Topic and Objectives",
	"Fundamental Concepts",
	"Developing the Processes",
	"Practical Applications",
	"Variations and Adaptations",
	"Advanced Connections",
	"Quiz: Core Concepts",
	"Going Deeper",
	"Practical Examples",
	"Critical Analysis",
	"Intermediate Synthesis",
	"Quiz: Situational Analysis",
	"Future Applications",
	"Closing: Final Synthesis",
}

// Title returns the fixed stage title for a 1-based position.
func Title(position int) string {
	if !lesson.ValidPosition(position) {
		return fmt.Sprintf("Slide %d", position)
	}
	return stageTitles[position-1]
}

// Minutes is the planned time for a stage kind.
func Minutes(k lesson.Kind) float64 {
	switch k {
	case lesson.KindQuestion:
		return 4
	case lesson.KindClosing:
		return 3
	default:
		return 5
	}
}

func objectives(topic string) []string {
	return []string{
		fmt.Sprintf("Understand the fundamental concepts of %s", topic),
		"Apply the knowledge through practical activities",
		"Develop critical thinking about the subject",
		"Connect what was learned to everyday situations",
	}
}

// ValidateTopic trims the topic and rejects empty or overlong values.
func ValidateTopic(topic string) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", apierr.Invalid("topic", "topic is required")
	}
	if n := utf8.RuneCountInString(topic); n > MaxTopicRunes {
		return "", apierr.Invalid("topic", "topic is %d characters; the limit is %d", n, MaxTopicRunes)
	}
	return topic, nil
}

// Build returns a loading skeleton. Subject defaults to the topic.
func Build(topic, subject string) (lesson.Skeleton, error) {
	topic, err := ValidateTopic(topic)
	if err != nil {
		return lesson.Skeleton{}, err
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = topic
	}

	stages := make([]lesson.Stage, lesson.TotalSlides)
	for i := range stages {
		pos := i + 1
		kind := lesson.KindAt(pos)
		stages[i] = lesson.Stage{Slide: lesson.Slide{
			Position:         pos,
			Kind:             kind,
			Title:            Title(pos),
			Content:          lesson.PlaceholderContent,
			EstimatedMinutes: Minutes(kind),
		}}
	}

	return lesson.Skeleton{
		ID:         uuid.NewString(),
		Title:      topic,
		Subject:    subject,
		Level:      DefaultLevel,
		Objectives: objectives(topic),
		Stages:     stages,
		Status:     lesson.StatusLoading,
		CreatedAt:  time.Now().UTC(),
	}, nil
}
