package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/talkback/internal/notify"
	"github.com/MrWong99/talkback/internal/observe"
)

const eventWriteTimeout = 5 * time.Second

// handleEvents upgrades to a WebSocket and streams hub events as JSON text
// frames. The first frame is a variant event with the current default.
// Client frames are discarded.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusNotFound, errors.New("event stream not available"))
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		observe.Logger(r.Context()).Debug("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	sub := s.hub.Subscribe(notify.DefaultBuffer)
	defer sub.Close()

	ctx := conn.CloseRead(r.Context())
	log := observe.Logger(ctx)

	hello := notify.Event{Kind: notify.KindVariant, Variant: string(s.chat.Variant()), At: time.Now()}
	if err := writeEvent(ctx, conn, hello); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := writeEvent(ctx, conn, e); err != nil {
				log.Debug("event stream closed", "err", err)
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, e notify.Event) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, e)
}
