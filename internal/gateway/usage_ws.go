package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

const usageWriteTimeout = 5 * time.Second

// handleUsageStream upgrades to a WebSocket and tails the usage ledger,
// pushing each settled record as one JSON message.
func (g *Gateway) handleUsageStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("usage stream upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closed")

	sub := g.feed.Subscribe()
	defer g.feed.Unsubscribe(sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case rec, ok := <-sub:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			data, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, usageWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
