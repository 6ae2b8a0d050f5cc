// Package gateway is the websocket entry point: it authenticates the
// handshake, registers the connection, and pumps inbound commands through
// the dispatch table.
package gateway

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"teampulse/internal/collab"
	"teampulse/internal/config"
	"teampulse/internal/observability"
	"teampulse/internal/presence"
	"teampulse/internal/room"
	"teampulse/internal/stream"
	"teampulse/internal/ws"
	"teampulse/pkg/interfaces"
	"teampulse/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is delegated to the deployment's ingress.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades and serves websocket clients.
type Handler struct {
	registry  *ws.Registry
	rooms     *room.Manager
	presence  *presence.Tracker
	sessions  *collab.Manager
	streams   *stream.Scheduler
	verifier  interfaces.TokenVerifier
	authority interfaces.TeamAuthority
	metrics   *observability.Metrics
	limiter   *RateLimiter

	table map[types.CommandType]commandHandler

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	bufferSize   int
}

// NewHandler wires the gateway to the realtime components.
func NewHandler(
	registry *ws.Registry,
	rooms *room.Manager,
	tracker *presence.Tracker,
	sessions *collab.Manager,
	streams *stream.Scheduler,
	verifier interfaces.TokenVerifier,
	authority interfaces.TeamAuthority,
	metrics *observability.Metrics,
	wsConfig *config.WebSocketConfig,
	commandsPerMinute int,
) *Handler {
	h := &Handler{
		registry:     registry,
		rooms:        rooms,
		presence:     tracker,
		sessions:     sessions,
		streams:      streams,
		verifier:     verifier,
		authority:    authority,
		metrics:      metrics,
		limiter:      NewRateLimiter(commandsPerMinute),
		pingInterval: wsConfig.PingInterval,
		readTimeout:  wsConfig.ReadTimeout,
		writeTimeout: wsConfig.WriteTimeout,
		bufferSize:   wsConfig.BufferSize,
	}
	h.table = h.handlers()
	return h
}

// HandleWebSocket authenticates and upgrades a client connection. The
// credential is verified before the upgrade so rejected clients get a
// proper HTTP status instead of a half-open socket.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Missing required query parameter: token", http.StatusUnauthorized)
		return
	}

	identity, err := h.verifier.Verify(token)
	if err != nil {
		log.Printf("Authentication rejected: remote=%s err=%v", r.RemoteAddr, err)
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := ws.NewConnection(conn, identity, h.bufferSize, h.writeTimeout)

	if err := h.registry.Register(wsConn); err != nil {
		log.Printf("Failed to register connection: user=%s err=%v", identity.UserID, err)
		_ = wsConn.Close()
		return
	}
	h.metrics.ClientConnected()

	if err := wsConn.Send(types.NewEvent(types.EventAuthenticated, types.AuthenticatedPayload{
		ConnectionID: wsConn.ID(),
		User:         identity,
	})); err != nil {
		log.Printf("Failed to send authenticated event: user=%s err=%v", identity.UserID, err)
	}

	log.Printf("Client connected: user=%s conn=%s", identity.UserID, wsConn.ID())
	go h.serve(wsConn)
}

// serve runs the read pump until the connection drops, then unregisters it,
// which cascades teardown through streams, sessions, presence, and rooms.
func (h *Handler) serve(conn *ws.Connection) {
	defer func() {
		h.limiter.Forget(conn.ID())
		h.registry.Unregister(conn)
		h.metrics.ClientDisconnected(time.Since(conn.ConnectedAt()).Seconds())
		log.Printf("Client disconnected: user=%s conn=%s", conn.UserID(), conn.ID())
	}()

	if err := conn.SetReadDeadline(time.Now().Add(h.readTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		conn.Touch()
		return conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.Ping(time.Now().Add(h.writeTimeout)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: user=%s err=%v", conn.UserID(), err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.dispatch(conn, data)
	}
}
