package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
)

func (s *Server) handleIncidents(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.incidents.All())
}

func (s *Server) handleActiveIncidents(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.incidents.Active())
}

func (s *Server) handleCriticalIncidents(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.incidents.Critical())
}

func (s *Server) handleIncidentStats(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.incidents.Stats())
}

func (s *Server) handleIncidentsByService(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.incidents.ByService(chi.URLParam(r, "service")))
}

func (s *Server) handleIncidentsBySeverity(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.incidents.BySeverity(chi.URLParam(r, "severity")))
}

func (s *Server) handleIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "triageID")
	inc, ok := s.incidents.Get(id)
	if !ok {
		s.respondError(w, core.ErrNotFound("incident", id))
		return
	}
	s.respondJSON(w, http.StatusOK, inc)
}
