package api

import (
	"errors"
	"net/http"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
)

// errorResponse is the JSON body of every error reply.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func httpStatusForDomainError(err error) (int, bool) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		return 0, false
	}

	switch domErr.Category {
	case core.ErrCatValidation:
		return http.StatusBadRequest, true
	case core.ErrCatNotFound:
		return http.StatusNotFound, true
	case core.ErrCatConflict, core.ErrCatTerminal:
		return http.StatusConflict, true
	case core.ErrCatTimeout:
		return http.StatusGatewayTimeout, true
	case core.ErrCatPersistence:
		return http.StatusServiceUnavailable, true
	default:
		return http.StatusInternalServerError, true
	}
}

// respondError maps err onto a status and an {"error","message"} body.
// Messages of unexpected errors are not echoed to clients.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	status, ok := httpStatusForDomainError(err)
	if !ok {
		s.logger.Error("unhandled request error", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "INTERNAL",
			Message: "internal error",
		})
		return
	}

	var domErr *core.DomainError
	errors.As(err, &domErr)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "code", domErr.Code, "error", err)
	}
	s.respondJSON(w, status, errorResponse{
		Error:   domErr.Code,
		Message: s.logger.Sanitize(domErr.Message),
	})
}
