package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"

	"github.com/flitsinc/go-automations/internal/event"
)

type wsWriter interface {
	Write(ctx context.Context, msgType websocket.MessageType, data []byte) error
}

// handleActivityWS streams live bus events over a websocket. By default
// it follows the activity.* mirror of the run log; ?types= narrows or
// widens the feed.
func (s *Server) handleActivityWS(w http.ResponseWriter, r *http.Request) {
	if s.Bus == nil {
		writeError(w, http.StatusInternalServerError, errNotFound("event bus"))
		return
	}

	typesParam := r.URL.Query().Get("types")
	if typesParam == "" {
		typesParam = "activity.*"
	}
	types := splitComma(typesParam)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closed")

	ctx := r.Context()
	if err := streamEvents(ctx, s.Bus, types, conn); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "stream error")
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")
}

func streamEvents(ctx context.Context, bus *event.Bus, types []string, writer wsWriter) error {
	// The subscription handler runs on the emitter's goroutine, so it
	// only enqueues; a slow websocket drops events rather than stalling
	// bus dispatch.
	feed := make(chan event.Event, 64)
	unsub := bus.On(event.Filter{Types: types}, func(_ context.Context, evt event.Event) error {
		select {
		case feed <- evt:
		default:
		}
		return nil
	})
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-feed:
			payload, err := json.Marshal(evt)
			if err != nil {
				return err
			}
			if err := writer.Write(ctx, websocket.MessageText, payload); err != nil {
				return err
			}
		}
	}
}
