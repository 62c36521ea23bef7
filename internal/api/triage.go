package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/service/workflow"
)

// StartRequest is the body of POST /triage/{id}.
type StartRequest struct {
	Incident string `json:"incident"`
}

// RepeatRequest is the body of POST /triage/{id}/repeat.
type RepeatRequest struct {
	Message string `json:"message"`
	Times   int    `json:"times"`
}

// AckResponse acknowledges a command.
type AckResponse struct {
	WorkflowID string       `json:"workflowId"`
	Result     workflow.Ack `json:"result"`
}

func triageID(r *http.Request) core.WorkflowID {
	return core.WorkflowID(strings.TrimSpace(chi.URLParam(r, "triageID")))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.start(w, r, triageID(r))
}

// handleStartGenerated starts a workflow under a server generated id.
func (s *Server) handleStartGenerated(w http.ResponseWriter, r *http.Request) {
	if s.newID == nil {
		s.respondError(w, core.ErrValidation(core.CodeEmptyWorkflowID, "workflow id is required"))
		return
	}
	s.start(w, r, core.WorkflowID(s.newID()))
}

func (s *Server) start(w http.ResponseWriter, r *http.Request, id core.WorkflowID) {
	var req StartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	ack, err := s.engine.Start(r.Context(), id, req.Incident)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, AckResponse{WorkflowID: string(id), Result: ack})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.engine.GetConversations(r.Context(), triageID(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, convs)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.GetState(r.Context(), triageID(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleRepeat(w http.ResponseWriter, r *http.Request) {
	var req RepeatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	id := triageID(r)
	ack, err := s.engine.Repeat(r.Context(), id, req.Message, req.Times)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, AckResponse{WorkflowID: string(id), Result: ack})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := triageID(r)
	ack, err := s.engine.Resume(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, AckResponse{WorkflowID: string(id), Result: ack})
}

func (s *Server) handleForceFail(w http.ResponseWriter, r *http.Request) {
	id := triageID(r)
	ack, err := s.engine.ForceFail(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, AckResponse{WorkflowID: string(id), Result: ack})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.List(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}
