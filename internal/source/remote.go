package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/flitsinc/go-automations/internal/event"
)

// remoteMessage is the wire shape a remote producer sends, one JSON
// object per websocket text frame.
type remoteMessage struct {
	Type     string         `json:"type"`
	Payload  map[string]any `json:"payload,omitempty"`
	DedupKey string         `json:"dedup_key,omitempty"`
}

// Remote connects to a websocket endpoint and relays its messages as
// custom.* events, reconnecting with backoff until stopped.
type Remote struct {
	id  string
	url string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRemote(id, url string) *Remote {
	return &Remote{id: id, url: url}
}

func (r *Remote) ID() string {
	return r.id
}

func (r *Remote) Type() string {
	return "custom"
}

func (r *Remote) Start(emit func(event.Input)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return fmt.Errorf("remote source %s already started", r.id)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(ctx, r.done, emit)
	return nil
}

func (r *Remote) run(ctx context.Context, done chan struct{}, emit func(event.Input)) {
	defer close(done)
	backoff := time.Second
	for {
		if err := r.readLoop(ctx, emit); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("remote source %s: %v, reconnecting in %s", r.id, err, backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

func (r *Remote) readLoop(ctx context.Context, emit func(event.Input)) error {
	conn, _, err := websocket.Dial(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var msg remoteMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("remote source %s: bad message: %v", r.id, err)
			continue
		}
		eventType := msg.Type
		if eventType == "" {
			eventType = "custom.message"
		} else if !strings.HasPrefix(eventType, "custom.") {
			eventType = "custom." + eventType
		}
		emit(event.Input{
			Type:     eventType,
			Source:   r.id,
			Payload:  msg.Payload,
			DedupKey: msg.DedupKey,
		})
	}
}

func (r *Remote) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
