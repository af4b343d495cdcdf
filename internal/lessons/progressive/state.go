package progressive

import (
	"errors"
	"fmt"
)

type State string

const (
	StateIdle            State = "idle"
	StateSkeletonReady   State = "skeleton_ready"
	StateFirstSlideReady State = "first_slide_ready"
	StateProgressing     State = "progressing"
	StateComplete        State = "complete"
	StateError           State = "error"
)

var (
	ErrNotStarted        = errors.New("lesson session not started")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrOutOfOrder        = errors.New("previous slide not generated yet")
	ErrClosed            = errors.New("lesson session closed")
	ErrSessionNotFound   = errors.New("lesson session not found")
)

// transitions lists the legal next states. Error keeps every slide already acquired, so a
// retry from Error resumes wherever the lesson stopped.
var transitions = map[State][]State{
	StateIdle:            {StateSkeletonReady},
	StateSkeletonReady:   {StateFirstSlideReady, StateError},
	StateFirstSlideReady: {StateProgressing, StateError},
	StateProgressing:     {StateProgressing, StateComplete, StateError},
	StateError:           {StateFirstSlideReady, StateProgressing, StateComplete, StateError},
	StateComplete:        nil,
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
