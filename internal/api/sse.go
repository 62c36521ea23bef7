package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/events"
)

// sseKeepAlive is the interval between comment frames on an idle stream.
const sseKeepAlive = 15 * time.Second

// handleSSE streams engine events as Server-Sent Events. An optional
// ?workflow= query parameter narrows the stream to one instance.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if s.eventBus == nil {
		s.respondJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error:   "EVENTS_UNAVAILABLE",
			Message: "event bus not available",
		})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "STREAMING_UNSUPPORTED",
			Message: "streaming not supported",
		})
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	ctx := r.Context()
	only := r.URL.Query().Get("workflow")

	eventCh := s.eventBus.SubscribeFiltered(events.Filter{Workflow: only})
	defer s.eventBus.Unsubscribe(eventCh)

	s.logger.Info("SSE client connected", "remote_addr", r.RemoteAddr, "workflow", only)
	s.sendSSEEvent(w, flusher, "connected", map[string]string{"status": "connected"})

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("SSE client disconnected", "remote_addr", r.RemoteAddr)
			return

		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()

		case event, ok := <-eventCh:
			if !ok {
				s.logger.Info("event bus closed, ending SSE stream")
				return
			}
			s.sendSSEEvent(w, flusher, event.EventType(), event)
		}
	}
}

// sendSSEEvent writes an event to the SSE stream.
func (s *Server) sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	// SSE format: event: type\ndata: json\n\n
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
}
