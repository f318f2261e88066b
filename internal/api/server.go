package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/flitsinc/go-automations/internal/apps"
	"github.com/flitsinc/go-automations/internal/event"
	"github.com/flitsinc/go-automations/internal/runtime"
	"github.com/flitsinc/go-automations/internal/state"
)

type Server struct {
	Apps      *apps.Manager
	Store     *state.Store
	Bus       *event.Bus
	Runtime   *runtime.Orchestrator
	Webhook   http.Handler
	StartedAt time.Time
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/apps", s.handleApps)
	mux.HandleFunc("/api/apps/", s.handleAppItem)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/activity/ws", s.handleActivityWS)
	mux.HandleFunc("/api/hooks/", s.handleHooks)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
		"uptime": time.Since(s.StartedAt).Round(time.Second).String(),
	})
}

// handleEvents injects an event into the bus, mostly for local testing
// of event subscriptions.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var payload struct {
		Type     string         `json:"type"`
		Source   string         `json:"source"`
		Payload  map[string]any `json:"payload"`
		DedupKey string         `json:"dedup_key"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Type == "" {
		writeError(w, http.StatusBadRequest, errors.New("type is required"))
		return
	}
	source := payload.Source
	if source == "" {
		source = "api"
	}
	s.Bus.Emit(r.Context(), event.Input{
		Type:     payload.Type,
		Source:   source,
		Payload:  payload.Payload,
		DedupKey: payload.DedupKey,
	})
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (s *Server) handleHooks(w http.ResponseWriter, r *http.Request) {
	if s.Webhook == nil {
		writeError(w, http.StatusNotFound, errNotFound("webhook ingress"))
		return
	}
	s.Webhook.ServeHTTP(w, r)
}

// statusFor maps runtime failures onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, runtime.ErrAppNotFound), errors.Is(err, runtime.ErrEscalationNotFound):
		return http.StatusNotFound
	case errors.Is(err, runtime.ErrNoSubscriptions):
		return http.StatusBadRequest
	case errors.Is(err, runtime.ErrAppNotRunnable):
		return http.StatusConflict
	case errors.Is(err, runtime.ErrConcurrencyLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, runtime.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.Reader, dest any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitComma(value string) []string {
	parts := strings.Split(value, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

type notFoundError struct {
	msg string
}

func (e notFoundError) Error() string { return e.msg }

func errNotFound(target string) error {
	return notFoundError{msg: target + " not found"}
}
