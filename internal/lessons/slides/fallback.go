package slides

import (
	"fmt"

	"github.com/yungbote/neurobridge-lessons/internal/lessons/lesson"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/skeleton"
)

// FallbackBackend marks slides that came from the template rather than a backend.
const FallbackBackend = "fallback"

// Fallback builds the deterministic degraded slide for a position. Identical inputs always
// yield identical slides, and every fallback question is well-formed.
func Fallback(topic string, index int) lesson.Slide {
	kind := lesson.KindAt(index)
	s := lesson.Slide{
		Position: index,
		Kind:     kind,
		Title:    skeleton.Title(index),
		Backend:  FallbackBackend,
		Fallback: true,
	}
	switch kind {
	case lesson.KindQuestion:
		s.Content = fmt.Sprintf("Which statement best reflects what this lesson has covered so far about %s?", topic)
		s.Options = []string{
			fmt.Sprintf("%s is best understood by connecting its core concepts to practical situations", topic),
			fmt.Sprintf("%s only matters for specialists and has no everyday use", topic),
			fmt.Sprintf("Learning %s means memorizing definitions without applying them", topic),
			fmt.Sprintf("The ideas behind %s never change between contexts", topic),
		}
		s.CorrectIndex = 0
		s.Rationale = fmt.Sprintf("The lesson has treated %s as a set of connected concepts that gain meaning when applied. The other options contradict that approach.", topic)
	case lesson.KindClosing:
		s.Summary = fmt.Sprintf("This lesson walked through the fundamentals of %s, how they develop, where they apply and how to reason about them critically.", topic)
		s.FinalTip = fmt.Sprintf("Pick one situation from your week where %s shows up and explain it to someone else using what you learned.", topic)
		s.Content = s.Summary + "\n\n" + s.FinalTip
	default:
		s.Content = fmt.Sprintf("%s: %s. This part of the lesson is temporarily shown as an outline. "+
			"Review the key ideas of %s covered so far, note one example from your own experience, "+
			"and write down a question you still have before moving on.",
			skeleton.Title(index), topic, topic)
	}
	return s
}
