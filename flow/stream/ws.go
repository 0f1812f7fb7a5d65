package stream

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WSHandler serves run streams over websocket. The run id comes from the
// "run_id" query parameter; frames are JSON, snapshot first.
type WSHandler struct {
	streamer *Streamer
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewWSHandler builds a websocket handler over the streamer.
func NewWSHandler(streamer *Streamer, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		streamer: streamer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		log: log,
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		http.Error(w, "run_id query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Drain client frames so close messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = h.streamer.Stream(r.Context(), runID, conn.WriteJSON)
	if err != nil && !errors.Is(err, context.Canceled) && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		h.log.Debug().Err(err).Str("run_id", runID).Msg("run stream ended")
	}
}
