package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/evaluation"
)

func (s *Server) handleEvaluations(w http.ResponseWriter, r *http.Request) {
	all, err := s.evaluations.List(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, all)
}

func (s *Server) handleFailedEvaluations(w http.ResponseWriter, r *http.Request) {
	all, err := s.evaluations.List(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	failed := make([]evaluation.Result, 0, len(all))
	for _, res := range all {
		if !res.Passed() {
			failed = append(failed, res)
		}
	}
	s.respondJSON(w, http.StatusOK, failed)
}

func (s *Server) handleEvaluationStats(w http.ResponseWriter, r *http.Request) {
	all, err := s.evaluations.List(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, evaluation.Summarize(all))
}

func (s *Server) handleWorkflowEvaluation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "triageID")
	res, err := s.evaluations.Get(r.Context(), core.WorkflowID(id))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if res == nil {
		s.respondError(w, core.ErrNotFound("evaluation", id))
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}
