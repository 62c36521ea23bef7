// Package agent provides AgentInvoker implementations: an HTTP JSON client
// for remote agents and a deterministic demo invoker for local runs.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/logging"
)

// SessionHeader carries the workflow id so every call of one instance shares
// an agent session.
const SessionHeader = "X-Session-ID"

// maxResponseBytes bounds how much of an agent reply is read.
const maxResponseBytes = 4 << 20

// HTTPConfig configures an HTTPInvoker.
type HTTPConfig struct {
	Endpoint  string
	Timeout   time.Duration
	Headers   map[string]string
	RateLimit RateLimit // per agent
}

// HTTPInvoker calls agents over HTTP: POST {endpoint}/agents/{agent} with the
// request encoded as JSON.
//
// A JSON reply of the form {"output": "..."} yields the output string; any
// other successful reply body is returned verbatim.
type HTTPInvoker struct {
	base    *url.URL
	client  *http.Client
	headers map[string]string
	limits  *limiters
	logger  *logging.Logger
}

// NewHTTPInvoker creates an invoker for the given endpoint.
func NewHTTPInvoker(cfg HTTPConfig, logger *logging.Logger) (*HTTPInvoker, error) {
	base, err := url.Parse(strings.TrimRight(cfg.Endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing agent endpoint: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, core.ErrValidation(core.CodeInvalidConfig,
			fmt.Sprintf("agent endpoint must be http or https, got %q", cfg.Endpoint))
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	return &HTTPInvoker{
		base:    base,
		client:  &http.Client{Timeout: cfg.Timeout},
		headers: headers,
		limits:  newLimiters(cfg.RateLimit),
		logger:  logger.WithComponent("agent-http"),
	}, nil
}

// Invoke implements core.AgentInvoker.
func (h *HTTPInvoker) Invoke(ctx context.Context, sessionID string, agent core.AgentName, request any) (string, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("encoding %s request: %w", agent, err)
	}

	target := h.base.JoinPath("agents", string(agent))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building %s request: %w", agent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set(SessionHeader, sessionID)

	bucket := h.limits.get(agent)
	if bucket != nil {
		if err := bucket.acquire(ctx); err != nil {
			return "", fmt.Errorf("waiting for %s rate limit: %w", agent, err)
		}
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling agent %s: %w", agent, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("reading agent %s response: %w", agent, err)
	}

	h.logger.Debug("agent call finished",
		"agent", string(agent),
		"session", sessionID,
		"status", resp.StatusCode,
		"duration", time.Since(start),
		"bytes", len(data))

	if bucket != nil {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
			bucket.recordThrottled()
		} else {
			bucket.recordSuccess()
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{Agent: agent, StatusCode: resp.StatusCode, Body: truncate(string(data), 512)}
	}
	return decodeOutput(resp.Header.Get("Content-Type"), data), nil
}

func decodeOutput(contentType string, data []byte) string {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/json" {
		var env struct {
			Output *string `json:"output"`
		}
		if err := json.Unmarshal(data, &env); err == nil && env.Output != nil {
			return *env.Output
		}
	}
	return string(data)
}

// StatusError reports a non-2xx agent reply.
type StatusError struct {
	Agent      core.AgentName
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("agent %s returned HTTP %d", e.Agent, e.StatusCode)
	}
	return fmt.Sprintf("agent %s returned HTTP %d: %s", e.Agent, e.StatusCode, e.Body)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
