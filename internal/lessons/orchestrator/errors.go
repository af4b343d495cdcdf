package orchestrator

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusTimeout Status = "timeout"
	StatusError   Status = "error"
	StatusQuota   Status = "quota"
	StatusAuth    Status = "auth"
)

type Attempt struct {
	Backend string `json:"backend"`
	Status  Status `json:"status"`
	Err     error  `json:"-"`
}

func (a Attempt) Message() string {
	if a.Err == nil {
		return ""
	}
	return a.Err.Error()
}

// AggregateError is returned when every backend was skipped or failed. Attempts are in try order.
type AggregateError struct {
	Attempts []Attempt
}

func (e *AggregateError) Error() string {
	if e == nil || len(e.Attempts) == 0 {
		return "all generation backends failed: no backends configured"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			parts = append(parts, fmt.Sprintf("%s: %s (%v)", a.Backend, a.Status, a.Err))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", a.Backend, a.Status))
		}
	}
	return "all generation backends failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes the per-attempt errors to errors.Is/As.
func (e *AggregateError) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			out = append(out, a.Err)
		}
	}
	return out
}
