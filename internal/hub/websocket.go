package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rickgao/signal-relay/internal/config"
)

// Maximum message size allowed from peer.
const maxMessageSize = 512

// ServeWebSocket upgrades the request and streams envelopes as text frames.
func (h *Hub) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	if !h.admit(w, config.TransportWebSockets) {
		return
	}
	id, ok := connectionID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid connection id")
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newConn(id, config.TransportWebSockets)
	if !h.attach(c, 2) {
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "relay shutting down"))
		_ = ws.Close()
		return
	}

	go func() {
		defer h.wg.Done()
		h.writePump(c, ws)
	}()
	go func() {
		defer h.wg.Done()
		h.readPump(c, ws)
	}()
}

// readPump consumes control frames and detects the peer going away.
func (h *Hub) readPump(c *conn, ws *websocket.Conn) {
	defer func() {
		h.detach(c)
		c.close()
		_ = ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", "conn_id", c.id, "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	}
}

// writePump drains the connection queue to the socket and pings when idle.
func (h *Hub) writePump(c *conn, ws *websocket.Conn) {
	defer ws.Close()

	for {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.PingInterval)
		env, ok := c.out.Pop(ctx)
		cancel()

		_ = ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
		if !ok {
			if c.out.Closed() {
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay closing"))
				return
			}
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}

		data, err := json.Marshal(env)
		if err != nil {
			h.logger.Error("failed to marshal envelope", "error", err)
			continue
		}
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}
