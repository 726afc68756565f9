package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typeduel/go/internal/identity"
	"github.com/rs/zerolog/log"
)

// ConnectionManager upgrades authenticated requests into hub sessions.
type ConnectionManager struct {
	hub      *Hub
	clock    clockwork.Clock
	upgrader websocket.Upgrader
	config   ConnectionConfig

	mu          sync.RWMutex
	connections map[string]*Connection
}

// Connection is a WebSocket client. It implements Session.
type Connection struct {
	id       string
	identity identity.Identity
	conn     *websocket.Conn
	send     chan []byte
	manager  *ConnectionManager

	ConnectedAt time.Time

	mu     sync.Mutex
	closed bool
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	SendBuffer      int           `yaml:"send_buffer"`
	// AllowedOrigins restricts the Origin header. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ConnectionStats summarizes the live connections.
type ConnectionStats struct {
	TotalConnections int `json:"total_connections"`
	UniqueUsers      int `json:"unique_users"`
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
	}
}

// NewConnectionManager creates a connection manager feeding hub.
func NewConnectionManager(config ConnectionConfig, hub *Hub, clock clockwork.Clock) *ConnectionManager {
	def := DefaultConnectionConfig()
	if config.SendBuffer <= 0 {
		config.SendBuffer = def.SendBuffer
	}
	if config.PingInterval <= 0 {
		config.PingInterval = def.PingInterval
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = def.ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = def.MaxMessageSize
	}
	return &ConnectionManager{
		hub:   hub,
		clock: clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     originChecker(config.AllowedOrigins),
		},
		config:      config,
		connections: make(map[string]*Connection),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return slices.ContainsFunc(allowed, func(a string) bool {
			return strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host)
		})
	}
}

// UpgradeConnection upgrades the request and registers the session with the hub.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, id identity.Identity) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &Connection{
		id:          uuid.NewString(),
		identity:    id,
		conn:        conn,
		send:        make(chan []byte, cm.config.SendBuffer),
		manager:     cm,
		ConnectedAt: cm.clock.Now(),
	}

	cm.mu.Lock()
	cm.connections[c.id] = c
	cm.mu.Unlock()

	// Registration is queued before any event the read pump dispatches.
	cm.hub.Register(c)

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.id).
		Str("user_id", id.UserID).
		Msg("WebSocket connection established")
	return nil
}

func (cm *ConnectionManager) remove(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if _, ok := cm.connections[c.id]; !ok {
		return
	}
	delete(cm.connections, c.id)

	log.Info().
		Str("connection_id", c.id).
		Str("user_id", c.identity.UserID).
		Dur("connected_for", cm.clock.Since(c.ConnectedAt)).
		Msg("connection unregistered")
}

// Stats returns statistics about active connections.
func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	users := make(map[string]struct{}, len(cm.connections))
	for _, c := range cm.connections {
		users[c.identity.UserID] = struct{}{}
	}
	return ConnectionStats{
		TotalConnections: len(cm.connections),
		UniqueUsers:      len(users),
	}
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) Identity() identity.Identity {
	return c.identity
}

// Send queues msg for the write pump without blocking.
func (c *Connection) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which closes the socket. It is safe to call
// more than once.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	cfg := c.manager.config
	ticker := c.manager.clock.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.Chan():
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump decodes client events and hands them to the hub. Leaving the loop
// is a disconnect.
func (c *Connection) readPump() {
	cfg := c.manager.config
	defer func() {
		c.manager.hub.Unregister(c)
		c.manager.remove(c)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("unexpected WebSocket close error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))

		ev, err := DecodeClientEvent(message)
		if err != nil {
			level := log.Warn()
			if errors.Is(err, ErrUnknownEvent) {
				level = log.Debug()
			}
			level.Err(err).
				Str("connection_id", c.id).
				Str("user_id", c.identity.UserID).
				Msg("dropping malformed client message")
			continue
		}
		c.manager.hub.Dispatch(c, ev)
	}
}
