package websocket

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pulsewire/internal/config"
	"pulsewire/internal/manager"
	"pulsewire/internal/registry"
	"pulsewire/pkg/interfaces"
	"pulsewire/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy belongs to the deployment's gateway, not the engine.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler accepts WebSocket upgrade requests and runs the per-connection
// read loop. Validation happens before the upgrade so rejected requests get
// proper HTTP status codes instead of a doomed socket.
type Handler struct {
	manager *manager.Manager
	auth    interfaces.Authenticator
	cfg     config.WebSocketConfig
	log     *zap.Logger
}

// NewHandler creates a WebSocket handler. A nil auth falls back to
// QueryAuthenticator.
func NewHandler(mgr *manager.Manager, auth interfaces.Authenticator, cfg config.WebSocketConfig, log *zap.Logger) *Handler {
	if auth == nil {
		auth = QueryAuthenticator{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{manager: mgr, auth: auth, cfg: cfg, log: log}
}

// ServeHTTP validates the request, upgrades it, and registers the resulting
// connection. A full room is reported over the socket with close code 1013
// (try again later) so clients can back off and retry.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	if !types.IsValidRoomID(roomID) {
		http.Error(w, "invalid room_id", http.StatusBadRequest)
		return
	}

	identity, err := h.auth.Authenticate(r, roomID)
	if err != nil {
		if errors.Is(err, interfaces.ErrUnauthorized) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	wsConn := NewConnection(conn, h.cfg.BufferSize, h.cfg.WriteTimeout)

	connID, err := h.manager.Connect(r.Context(), wsConn, roomID,
		identity.UserID, identity.UserEmail, identity.UserRole)
	if err != nil {
		if errors.Is(err, registry.ErrRoomFull) {
			deadline := time.Now().Add(h.cfg.WriteTimeout)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "room at capacity"),
				deadline)
		} else {
			h.log.Error("connection registration failed",
				zap.String("room_id", roomID),
				zap.String("user_id", identity.UserID),
				zap.Error(err))
		}
		_ = wsConn.Close()
		return
	}

	h.readLoop(wsConn, connID)
}

// readLoop owns the inbound side of the socket until the client goes away.
// Every exit path funnels through the deferred disconnect, so registry state
// and the write goroutine are always cleaned up exactly once.
func (h *Handler) readLoop(conn *Connection, connID string) {
	defer func() {
		h.manager.Disconnect(connID)
		_ = conn.Close()
	}()

	resetDeadline := func() error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	}
	if err := resetDeadline(); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		h.manager.Registry().TouchHeartbeat(connID)
		return resetDeadline()
	})

	// Protocol-level pings keep intermediaries from idling the socket out;
	// application heartbeats ride on top of this.
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(h.cfg.WriteTimeout)
				if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Debug("websocket read failed",
					zap.String("connection_id", connID),
					zap.Error(err))
			}
			return
		}
		if err := resetDeadline(); err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.manager.HandleInbound(conn.ctx, connID, data)
	}
}
