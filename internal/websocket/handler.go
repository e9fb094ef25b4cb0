package websocket

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"proctordraw/pkg/interfaces"
	"proctordraw/pkg/types"
)

// Defaults applied when HandlerConfig leaves a field zero.
const (
	DefaultPingInterval = 30 * time.Second
	DefaultReadTimeout  = 60 * time.Second
	DefaultBufferSize   = 1024

	// maxInboundMessage bounds client frames; the feed is server-to-client.
	maxInboundMessage = 512
)

// HandlerConfig holds heartbeat and buffer settings.
type HandlerConfig struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

// IdentifyFunc resolves the browser client id and viewer role of an
// upgrade request.
type IdentifyFunc func(r *http.Request) (clientID, role string, err error)

// Handler upgrades viewers onto the roster feed and sends each one the
// current roster before any change events.
type Handler struct {
	registry       *Registry
	sessionManager interfaces.SessionManager
	identify       IdentifyFunc
	upgrader       websocket.Upgrader
	config         HandlerConfig
}

// NewHandler creates a new WebSocket handler.
func NewHandler(registry *Registry, sessionManager interfaces.SessionManager, identify IdentifyFunc, config HandlerConfig) *Handler {
	if config.PingInterval <= 0 {
		config.PingInterval = DefaultPingInterval
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}

	return &Handler{
		registry:       registry,
		sessionManager: sessionManager,
		identify:       identify,
		config:         config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   config.BufferSize,
			WriteBufferSize:  config.BufferSize,
			HandshakeTimeout: 10 * time.Second,
			// Any front end may render the feed.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWebSocket upgrades the request and registers the connection.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID, role, err := h.identify(r)
	if err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn, h.config.WriteTimeout)
	if err := wsConn.SetCredentials(clientID, role); err != nil {
		log.Printf("Failed to set credentials: client=%s: %v", clientID, err)
		_ = wsConn.Close()
		return
	}

	// Registered before the snapshot is read so no later event is missed.
	// An event queued ahead of the snapshot is subsumed by it.
	if err := h.registry.RegisterConnection(wsConn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = wsConn.Close()
		return
	}

	if err := h.sendSnapshot(r.Context(), wsConn); err != nil {
		log.Printf("Failed to send roster snapshot: client=%s: %v", clientID, err)
		h.registry.UnregisterConnection(wsConn)
		_ = wsConn.Close()
		return
	}

	log.Printf("Viewer connected: id=%s client=%s role=%s", wsConn.ID(), clientID, role)

	go h.handleConnection(wsConn)
}

// sendSnapshot writes the current roster, or an empty snapshot when no
// session is active. The connection is already registered, so an event can
// race ahead of the snapshot; its version lets the client order the two.
func (h *Handler) sendSnapshot(ctx context.Context, conn *Connection) error {
	event := types.RosterEvent{
		Type:      types.EventRosterSnapshot,
		Timestamp: time.Now().UTC(),
	}

	snap, err := h.sessionManager.Current(ctx)
	switch {
	case errors.Is(err, types.ErrNoActiveSession):
	case err != nil:
		return err
	default:
		event.Version = snap.Version
		event.Session = snap.Session
		event.Roster = snap.Roster
		event.Stats = snap.Roster.Stats()
	}

	return conn.WriteJSON(event)
}

// handleConnection runs the heartbeat and read pump until the client goes
// away.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.UnregisterConnection(conn)
		_ = conn.Close()
		log.Printf("Viewer disconnected: id=%s client=%s", conn.ID(), conn.GetClientID())
	}()

	conn.conn.SetReadLimit(maxInboundMessage)
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(h.config.WriteTimeout)
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, deadline); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: client=%s: %v", conn.GetClientID(), err)
			}
			return
		}
		if messageType == websocket.TextMessage {
			log.Printf("Ignoring viewer message: client=%s bytes=%d", conn.GetClientID(), len(data))
		}
	}
}
