package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	eventsBuffer       = 64
	eventsWriteTimeout = 5 * time.Second
)

// EventsHandler streams bag events to a websocket client as JSON text
// messages until either side goes away.
func (h *Handler) EventsHandler(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("accepting websocket", slog.Any("error", err))
		return
	}
	defer c.CloseNow()

	// the client never sends anything; CloseRead handles its close frame
	ctx := c.CloseRead(r.Context())
	events := h.service.Subscribe(ctx, eventsBuffer)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				_ = c.Close(websocket.StatusGoingAway, "bag closed")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, eventsWriteTimeout)
			err := wsjson.Write(wctx, c, e)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Debug("writing event", slog.Any("error", err))
				}
				return
			}
		}
	}
}
