package source

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/flitsinc/go-automations/internal/event"
)

const maxWebhookBody = 1 << 20

// Webhook is an HTTP ingress that turns POSTed payloads into
// webhook.received events. It is mounted as a plain http.Handler; the
// path segment after the mount point names the hook.
type Webhook struct {
	id string

	mu   sync.Mutex
	emit func(event.Input)
}

func NewWebhook(id string) *Webhook {
	return &Webhook{id: id}
}

func (h *Webhook) ID() string {
	return h.id
}

func (h *Webhook) Type() string {
	return "webhook"
}

func (h *Webhook) Start(emit func(event.Input)) error {
	h.mu.Lock()
	h.emit = emit
	h.mu.Unlock()
	return nil
}

func (h *Webhook) Stop() error {
	h.mu.Lock()
	h.emit = nil
	h.mu.Unlock()
	return nil
}

func (h *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.mu.Lock()
	emit := h.emit
	h.mu.Unlock()
	if emit == nil {
		http.Error(w, "webhook source not running", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	payload := map[string]any{"hook": hookName(r.URL.Path)}
	var decoded map[string]any
	if len(body) > 0 && json.Unmarshal(body, &decoded) == nil {
		payload["body"] = decoded
	} else if len(body) > 0 {
		payload["body"] = string(body)
	}

	emit(event.Input{
		Type:     "webhook.received",
		Source:   h.id,
		Payload:  payload,
		DedupKey: r.Header.Get("X-Delivery-ID"),
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte(`{"status":"accepted"}`))
}

// hookName is the final path segment, so a mount at /hooks/ yields
// "github" for POST /hooks/github.
func hookName(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "default"
	}
	parts := strings.Split(trimmed, "/")
	return parts[len(parts)-1]
}
