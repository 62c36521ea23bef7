// Package api provides the HTTP REST API for the triage workflow engine and
// the incident dashboard.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/diagnostics"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/evaluation"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/events"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/incidents"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/logging"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/service/workflow"
)

// maxBodyBytes bounds request bodies; incidents are capped well below it.
const maxBodyBytes = 1 << 20

// Engine is the workflow surface the API drives.
type Engine interface {
	Start(ctx context.Context, id core.WorkflowID, incident string) (workflow.Ack, error)
	GetState(ctx context.Context, id core.WorkflowID) (workflow.StateView, error)
	GetConversations(ctx context.Context, id core.WorkflowID) ([]core.ConversationEntry, error)
	Repeat(ctx context.Context, id core.WorkflowID, message string, times int) (workflow.Ack, error)
	Resume(ctx context.Context, id core.WorkflowID) (workflow.Ack, error)
	ForceFail(ctx context.Context, id core.WorkflowID) (workflow.Ack, error)
	List(ctx context.Context) ([]core.WorkflowSummary, error)
	Running() int
}

// Server provides HTTP REST API endpoints for triage workflows.
type Server struct {
	router      chi.Router
	engine      Engine
	incidents   *incidents.Registry
	eventBus    *events.EventBus
	system      *diagnostics.SystemMetricsCollector
	telemetry   *diagnostics.Telemetry
	evaluations evaluation.Store
	logger      *logging.Logger
	origins     []string
	version     string
	newID       func() string
	started     time.Time
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithEventBus enables the /events stream.
func WithEventBus(bus *events.EventBus) ServerOption {
	return func(s *Server) {
		s.eventBus = bus
	}
}

// WithSystemMetrics adds host metrics to /health.
func WithSystemMetrics(c *diagnostics.SystemMetricsCollector) ServerOption {
	return func(s *Server) {
		s.system = c
	}
}

// WithTelemetry enables GET /metrics.
func WithTelemetry(t *diagnostics.Telemetry) ServerOption {
	return func(s *Server) {
		s.telemetry = t
	}
}

// WithEvaluations enables the /evaluations routes.
func WithEvaluations(store evaluation.Store) ServerOption {
	return func(s *Server) {
		s.evaluations = store
	}
}

// WithCORSOrigins restricts cross-origin access. Empty allows any origin.
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.origins = origins
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// WithIDGenerator sets the generator for POST /triage without an id.
func WithIDGenerator(gen func() string) ServerOption {
	return func(s *Server) {
		s.newID = gen
	}
}

// NewServer creates a new API server.
func NewServer(engine Engine, registry *incidents.Registry, opts ...ServerOption) *Server {
	s := &Server{
		engine:    engine,
		incidents: registry,
		logger:    logging.NewNop(),
		version:   "dev",
		started:   time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.incidents == nil {
		s.incidents = incidents.NewRegistry(s.logger)
	}
	s.logger = s.logger.WithComponent("api")

	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures Chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)
	if s.telemetry != nil {
		r.Get("/metrics", s.handleMetrics)
	}

	// SSE streams stay open; only the request/response routes get a timeout.
	r.Get("/events", s.handleSSE)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Route("/triage", func(r chi.Router) {
			r.Get("/", s.handleListWorkflows)
			r.Post("/", s.handleStartGenerated)

			r.Route("/{triageID}", func(r chi.Router) {
				r.Post("/", s.handleStart)
				r.Get("/", s.handleConversations)
				r.Get("/state", s.handleState)
				r.Post("/repeat", s.handleRepeat)
				r.Post("/resume", s.handleResume)
				r.Post("/fail", s.handleForceFail)
			})
		})

		r.Route("/incidents", func(r chi.Router) {
			r.Get("/", s.handleIncidents)
			r.Get("/active", s.handleActiveIncidents)
			r.Get("/critical", s.handleCriticalIncidents)
			r.Get("/stats", s.handleIncidentStats)
			r.Get("/service/{service}", s.handleIncidentsByService)
			r.Get("/severity/{severity}", s.handleIncidentsBySeverity)
			r.Get("/{triageID}", s.handleIncident)
		})

		if s.evaluations != nil {
			r.Route("/evaluations", func(r chi.Router) {
				r.Get("/", s.handleEvaluations)
				r.Get("/failures", s.handleFailedEvaluations)
				r.Get("/stats", s.handleEvaluationStats)
				r.Get("/workflow/{triageID}", s.handleWorkflowEvaluation)
			})
		}
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.logger.Error("failed to encode response", "error", err)
		}
	}
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v as is.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return core.ErrValidation(core.CodeInvalidRequest, "request body is not valid JSON").WithCause(err)
	}
	return nil
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status          string                     `json:"status"`
	Version         string                     `json:"version"`
	Time            time.Time                  `json:"time"`
	Uptime          string                     `json:"uptime"`
	RunningRunners  int                        `json:"runningWorkflows"`
	ActiveIncidents int                        `json:"activeIncidents"`
	System          *diagnostics.SystemMetrics `json:"system,omitempty"`
	Events          *events.Stats              `json:"events,omitempty"`
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:          "healthy",
		Version:         s.version,
		Time:            time.Now().UTC(),
		Uptime:          time.Since(s.started).Round(time.Second).String(),
		RunningRunners:  s.engine.Running(),
		ActiveIncidents: len(s.incidents.Active()),
	}
	if s.system != nil {
		m := s.system.Collect()
		resp.System = &m
	}
	if s.eventBus != nil {
		st := s.eventBus.Stats()
		resp.Events = &st
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleMetrics returns the current reading of every engine instrument.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.telemetry.Snapshot(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	if snap == nil {
		snap = diagnostics.MetricsSnapshot{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"metrics": snap})
}

// ListenAndServe starts the HTTP server and shuts it down when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
