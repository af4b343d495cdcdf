package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-lessons/internal/lessons/orchestrator"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/progressive"
	"github.com/yungbote/neurobridge-lessons/internal/platform/apierr"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type attemptBody struct {
	Backend string              `json:"backend"`
	Status  orchestrator.Status `json:"status"`
	Message string              `json:"message,omitempty"`
}

type errorBody struct {
	Message   string        `json:"message"`
	Code      string        `json:"code,omitempty"`
	Param     string        `json:"param,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Attempts  []attemptBody `json:"attempts,omitempty"`
}

func writeErrorBody(c *gin.Context, status int, body errorBody) {
	body.Message = strings.TrimSpace(body.Message)
	if body.Message == "" {
		body.Message = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, errorEnvelope{Error: body})
}

// statusFor maps the pipeline's error taxonomy onto HTTP. Validation is 400, backend
// exhaustion is 502 with every attempt attached, unknown errors are 500.
func statusFor(err error) (int, errorBody) {
	body := errorBody{Message: err.Error()}

	var agg *orchestrator.AggregateError
	var ae *apierr.Error
	switch {
	case errors.As(err, &agg):
		body.Code = "backends_exhausted"
		for _, a := range agg.Attempts {
			body.Attempts = append(body.Attempts, attemptBody{Backend: a.Backend, Status: a.Status, Message: a.Message()})
		}
		return http.StatusBadGateway, body
	case errors.As(err, &ae):
		body.Code = ae.Code
		body.Param = ae.Param
		return apierr.StatusOf(err, http.StatusBadRequest), body
	case errors.Is(err, progressive.ErrSessionNotFound):
		body.Code = "session_not_found"
		return http.StatusNotFound, body
	case errors.Is(err, progressive.ErrNotStarted), errors.Is(err, progressive.ErrInvalidTransition):
		body.Code = "invalid_state"
		return http.StatusConflict, body
	case errors.Is(err, progressive.ErrClosed):
		body.Code = "session_closed"
		return http.StatusGone, body
	case errors.Is(err, context.DeadlineExceeded):
		body.Code = "timeout"
		return http.StatusGatewayTimeout, body
	case errors.Is(err, context.Canceled):
		body.Code = "canceled"
		return http.StatusServiceUnavailable, body
	default:
		body.Code = "internal_error"
		return http.StatusInternalServerError, body
	}
}

func writeError(c *gin.Context, err error) {
	status, body := statusFor(err)
	writeErrorBody(c, status, body)
}

func badRequest(c *gin.Context, param string, err error) {
	writeErrorBody(c, http.StatusBadRequest, errorBody{Message: err.Error(), Code: "invalid_request", Param: param})
}
