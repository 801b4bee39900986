// Package gateway runs the connect/disconnect lifecycle for every
// transport connection and wires it into the registry, monitor and router.
//
// Lifecycle: Connecting (handshake, auth) -> Registered (id allocated,
// entry stored, peers informed) -> Closed (rooms left, entry removed,
// departure announced). No state is re-entered, and the Closed transition
// runs exactly once no matter how many ways a connection dies.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/danyal-tariq/MeetUpSync/internal/auth"
	"github.com/danyal-tariq/MeetUpSync/internal/common/config"
	"github.com/danyal-tariq/MeetUpSync/internal/relay/ident"
	"github.com/danyal-tariq/MeetUpSync/internal/relay/protocol"
	"github.com/danyal-tariq/MeetUpSync/internal/relay/registry"
	"github.com/danyal-tariq/MeetUpSync/internal/relay/room"
	"github.com/danyal-tariq/MeetUpSync/internal/relay/router"
	"github.com/danyal-tariq/MeetUpSync/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	presenceWait = 2 * time.Second
)

// Gateway accepts WebSocket connections and runs their lifecycle.
type Gateway struct {
	logger   *zap.Logger
	cfg      config.GatewayConfig
	store    registry.Store
	rooms    *room.Manager
	router   *router.Router
	auth     auth.Authenticator
	presence registry.Presence
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

// New creates a gateway. metrics may be nil; presence and authenticator
// must not be (use the memory presence and noop authenticator).
func New(
	logger *zap.Logger,
	cfg config.GatewayConfig,
	store registry.Store,
	rooms *room.Manager,
	rt *router.Router,
	authenticator auth.Authenticator,
	presence registry.Presence,
	m *metrics.Metrics,
) *Gateway {
	return &Gateway{
		logger:   logger.Named("gateway"),
		cfg:      cfg,
		store:    store,
		rooms:    rooms,
		router:   rt,
		auth:     authenticator,
		presence: presence,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The relay fronts browser clients on arbitrary origins; payloads
			// are opaque and auth happens on establishment.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWS upgrades the request and runs the connection until it closes.
func (g *Gateway) HandleWS(c *gin.Context) {
	ctx := c.Request.Context()

	// Connecting: verify the presented credential before the connection can
	// reach Registered. The noop authenticator admits everyone as anonymous.
	identity, err := g.auth.Authenticate(ctx, bearerToken(c))
	if err != nil {
		g.logger.Info("rejected connection",
			zap.String("remote", c.Request.RemoteAddr),
			zap.Error(err))
		c.String(http.StatusUnauthorized, "unauthorized")
		return
	}

	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Info("upgrade failed",
			zap.String("remote", c.Request.RemoteAddr),
			zap.Error(err))
		return
	}

	id := ident.New()
	meta := &registry.Meta{
		ID:         id,
		UserID:     identity.UserID,
		Username:   identity.Username,
		RemoteAddr: ws.RemoteAddr().String(),
		CreatedAt:  time.Now(),
	}

	conn, err := g.store.Register(ctx, meta)
	if err != nil {
		// DuplicateIdentifier is a programming-error signal: fatal to this
		// connection attempt, nothing else.
		g.logger.Error("failed to register connection",
			zap.String("id", id),
			zap.Error(err))
		_ = ws.Close()
		return
	}

	sess := &session{g: g, ws: ws, conn: conn, id: id}

	if g.metrics != nil {
		g.metrics.ConnOpened()
	}
	if err := g.presence.Online(context.Background(), meta); err != nil {
		g.logger.Warn("failed to mirror presence",
			zap.String("id", id),
			zap.Error(err))
	}

	g.logger.Info("connection registered",
		zap.String("id", id),
		zap.String("user", identity.UserID),
		zap.String("remote", meta.RemoteAddr))

	// Registered: the writer drains the queue, the greeting tells the client
	// who it is and who else is here, and everyone else learns about it.
	go sess.writePump()
	sess.greet(ctx)
	g.router.BroadcastFrom(ctx, id, &protocol.Envelope{
		Type: protocol.TypeNewConnection,
		Data: protocol.Text(id),
	})

	sess.readLoop(ctx)
	sess.close()
}

// HandlePresence reports the ids currently online. This is the read
// surface the external REST layer uses for online/offline display.
func (g *Gateway) HandlePresence(c *gin.Context) {
	ids, err := g.presence.OnlineIDs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "presence unavailable"})
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"online": ids})
}

func bearerToken(c *gin.Context) string {
	if tok := c.Query("token"); tok != "" {
		return tok
	}
	const prefix = "Bearer "
	if h := c.GetHeader("Authorization"); len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// session binds one WebSocket to its registry entry.
type session struct {
	g    *Gateway
	ws   *websocket.Conn
	conn registry.Conn
	id   string

	closeOnce sync.Once
}

// greet sends the new connection its ack, its own id and the peer-id
// snapshot. The snapshot may already be stale; clients tolerate that.
func (s *session) greet(ctx context.Context) {
	g := s.g
	g.router.SendTo(ctx, s.conn, &protocol.Envelope{
		Type: protocol.TypeConnection,
		Data: protocol.Text("Connected to server"),
	})
	g.router.SendTo(ctx, s.conn, &protocol.Envelope{
		Type: protocol.TypeID,
		Data: protocol.Text(s.id),
	})

	ids, err := g.store.IDs(ctx)
	if err != nil {
		g.logger.Error("failed to snapshot ids", zap.Error(err))
		ids = nil
	}
	peers := make([]string, 0, len(ids))
	for _, peer := range ids {
		if peer != s.id {
			peers = append(peers, peer)
		}
	}
	g.router.SendTo(ctx, s.conn, &protocol.Envelope{
		Type: protocol.TypeExistingClients,
		Data: protocol.IDList(peers),
	})
}

// readLoop processes inbound traffic until the transport dies.
func (s *session) readLoop(ctx context.Context) {
	g := s.g
	s.ws.SetReadLimit(g.cfg.MaxMessageBytes)
	s.ws.SetPongHandler(func(string) error {
		s.conn.SetAlive(true)
		// The TTL refresh may hit Redis; it must never stall this read loop.
		go func() {
			touchCtx, cancel := context.WithTimeout(context.Background(), presenceWait)
			defer cancel()
			if err := g.presence.Touch(touchCtx, s.id); err != nil {
				g.logger.Debug("failed to refresh presence",
					zap.String("id", s.id),
					zap.Error(err))
			}
		}()
		return nil
	})

	for {
		msgType, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				g.logger.Info("peer closed", zap.String("id", s.id))
			} else {
				g.logger.Info("transport failure",
					zap.String("id", s.id),
					zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		env, err := protocol.Parse(data)
		if err != nil {
			// Malformed envelopes are recovered in place: log, tell the
			// sender, keep the connection.
			g.logger.Warn("malformed envelope",
				zap.String("id", s.id),
				zap.Error(err))
			if g.metrics != nil {
				g.metrics.Envelope("malformed", "malformed")
			}
			g.router.SendTo(ctx, s.conn, protocol.ErrorEnvelope("malformed envelope"))
			continue
		}

		switch env.Type {
		case protocol.TypeJoin:
			if s.g.rooms.Join(s.id, env.Room) {
				s.announceRoom(ctx, env.Room)
			}
		case protocol.TypeLeave:
			if s.g.rooms.Leave(s.id, env.Room) {
				s.announceRoom(ctx, env.Room)
			}
		default:
			g.router.Route(ctx, s.conn, env)
		}
	}
}

// announceRoom sends the room's membership to all its current members.
func (s *session) announceRoom(ctx context.Context, roomID string) {
	g := s.g
	members := g.rooms.Members(roomID)
	env := &protocol.Envelope{
		Type: protocol.TypePresence,
		Room: roomID,
		Data: protocol.IDList(members),
	}
	for _, id := range members {
		conn, err := g.store.Get(ctx, id)
		if err != nil {
			continue
		}
		g.router.SendTo(ctx, conn, env)
	}
}

// writePump is the only goroutine that writes to the WebSocket. It drains
// the connection's queue and exits when the queue closes or a write fails.
func (s *session) writePump() {
	defer s.ws.Close()

	for msg := range s.conn.EventQueue() {
		switch msg.Event {
		case registry.EventPing:
			if err := s.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case registry.EventEnvelope:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.TextMessage, msg.Data); err != nil {
				return
			}
		}
	}

	// Queue closed: the entry was removed or the monitor forced the close.
	_ = s.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

// close runs the Closed transition exactly once: leave every room, remove
// the registry entry, announce departure, release the transport. A
// peer-initiated close and a monitor-forced close racing on the same
// identifier both land here; the second caller is a no-op.
func (s *session) close() {
	s.closeOnce.Do(func() {
		g := s.g
		ctx := context.Background()

		// Rooms first: membership must never reference a removed identifier.
		left := g.rooms.LeaveAll(s.id)
		for _, roomID := range left {
			s.announceRoom(ctx, roomID)
		}

		if err := g.store.Unregister(ctx, s.id); err != nil && !errors.Is(err, registry.ErrNotFound) {
			g.logger.Error("failed to unregister connection",
				zap.String("id", s.id),
				zap.Error(err))
		}

		g.router.BroadcastFrom(ctx, s.id, &protocol.Envelope{
			Type: protocol.TypeDisconnection,
			Data: protocol.Text(s.id),
		})

		if err := g.presence.Offline(ctx, s.id); err != nil {
			g.logger.Warn("failed to clear presence",
				zap.String("id", s.id),
				zap.Error(err))
		}
		if g.metrics != nil {
			g.metrics.ConnClosed()
		}
		_ = s.ws.Close()

		g.logger.Info("connection closed", zap.String("id", s.id))
	})
}
