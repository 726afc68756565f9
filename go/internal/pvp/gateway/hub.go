package gateway

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typeduel/go/internal/identity"
	"github.com/mcdev12/typeduel/go/internal/pvp/feed"
	"github.com/mcdev12/typeduel/go/internal/pvp/phase"
	"github.com/mcdev12/typeduel/go/internal/pvp/room"
	"github.com/mcdev12/typeduel/go/internal/pvp/timers"
	"github.com/mcdev12/typeduel/go/internal/textgen"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Session is an authenticated client connection as seen by the hub.
type Session interface {
	ID() string
	Identity() identity.Identity
	// Send queues msg without blocking. It returns false if the session is
	// closed or cannot keep up.
	Send(msg []byte) bool
	Close()
}

// EventSink receives match lifecycle events.
type EventSink interface {
	Enqueue(event feed.Event)
}

type nopSink struct{}

func (nopSink) Enqueue(feed.Event) {}

// HubConfig tunes the match flow.
type HubConfig struct {
	Timing              phase.Timing
	ProgressMinInterval time.Duration
	TextTimeout         time.Duration
	DefaultLanguage     string
	InboxSize           int
}

// DefaultHubConfig returns the production settings.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		Timing:              phase.DefaultTiming(),
		ProgressMinInterval: 100 * time.Millisecond,
		TextTimeout:         15 * time.Second,
		DefaultLanguage:     textgen.DefaultLanguage,
		InboxSize:           1024,
	}
}

// Deps are the collaborators of the hub.
type Deps struct {
	Store  *room.Store
	Timers *timers.Registry
	Texts  textgen.Provider
	Events EventSink
	Clock  clockwork.Clock
}

// HubStats is a point-in-time view of the hub.
type HubStats struct {
	Sessions int             `json:"sessions"`
	Groups   int             `json:"groups"`
	Timers   int             `json:"timers"`
	Store    room.StoreStats `json:"store"`
}

// Hub serializes every room mutation on a single goroutine. Connections,
// timers and text generation only post commands to it.
type Hub struct {
	store  *room.Store
	timers *timers.Registry
	texts  textgen.Provider
	events EventSink
	clock  clockwork.Clock
	config HubConfig

	inbox chan command
	done  chan struct{}

	// Owned by the Run goroutine.
	ctx      context.Context
	sessions map[string]Session            // session id -> session
	users    map[string]Session            // user id -> live session
	groups   map[string]map[string]Session // room id -> session id -> session
	limiters map[string]*rate.Limiter      // user id -> progress limiter
}

type command interface{}

type registerCmd struct{ s Session }

type unregisterCmd struct{ s Session }

type clientCmd struct {
	s  Session
	ev ClientEvent
}

type timerCmd struct{ ticket timers.Ticket }

type textCmd struct {
	roomID    string
	matchID   string
	starterID string
	text      string
	err       error
}

type queryCmd struct {
	fn   func()
	done chan struct{}
}

// NewHub creates a hub. Call Run to start it.
func NewHub(cfg HubConfig, deps Deps) *Hub {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultHubConfig().InboxSize
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = textgen.DefaultLanguage
	}
	events := deps.Events
	if events == nil {
		events = nopSink{}
	}
	return &Hub{
		store:    deps.Store,
		timers:   deps.Timers,
		texts:    deps.Texts,
		events:   events,
		clock:    deps.Clock,
		config:   cfg,
		inbox:    make(chan command, cfg.InboxSize),
		done:     make(chan struct{}),
		sessions: make(map[string]Session),
		users:    make(map[string]Session),
		groups:   make(map[string]map[string]Session),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Run processes commands until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.ctx = ctx
	defer close(h.done)
	defer h.shutdown()

	log.Info().Msg("pvp hub started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("pvp hub shutting down")
			return
		case cmd := <-h.inbox:
			h.process(cmd)
		}
	}
}

// Register adds an authenticated session.
func (h *Hub) Register(s Session) {
	h.post(registerCmd{s: s})
}

// Unregister removes a session. A session that was in a room leaves it.
func (h *Hub) Unregister(s Session) {
	h.post(unregisterCmd{s: s})
}

// Dispatch hands an inbound event to the hub.
func (h *Hub) Dispatch(s Session, ev ClientEvent) {
	h.post(clientCmd{s: s, ev: ev})
}

// PublicRooms returns the public listing.
func (h *Hub) PublicRooms(ctx context.Context) ([]room.PublicRoom, error) {
	var rooms []room.PublicRoom
	err := h.query(ctx, func() { rooms = h.store.ListPublicRooms() })
	return rooms, err
}

// Stats returns hub and store counters.
func (h *Hub) Stats(ctx context.Context) (HubStats, error) {
	var st HubStats
	err := h.query(ctx, func() {
		st = HubStats{
			Sessions: len(h.sessions),
			Groups:   len(h.groups),
			Timers:   h.timers.Len(),
			Store:    h.store.Stats(),
		}
	})
	return st, err
}

// query runs fn on the hub goroutine and waits for it.
func (h *Hub) query(ctx context.Context, fn func()) error {
	q := queryCmd{fn: fn, done: make(chan struct{})}
	select {
	case h.inbox <- q:
	case <-h.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-q.done:
		return nil
	case <-h.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) post(cmd command) bool {
	select {
	case h.inbox <- cmd:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) process(cmd command) {
	switch c := cmd.(type) {
	case registerCmd:
		h.register(c.s)
	case unregisterCmd:
		h.unregister(c.s)
	case clientCmd:
		h.handle(c.s, c.ev)
	case timerCmd:
		h.onTimer(c.ticket)
	case textCmd:
		h.onText(c)
	case queryCmd:
		c.fn()
		close(c.done)
	default:
		log.Error().Interface("command", cmd).Msg("unknown hub command")
	}
}

func (h *Hub) register(s Session) {
	uid := s.Identity().UserID
	if old, ok := h.users[uid]; ok && old.ID() != s.ID() {
		log.Info().
			Str("user_id", uid).
			Str("old_session_id", old.ID()).
			Str("session_id", s.ID()).
			Msg("replacing existing session")
		h.drop(old)
		old.Close()
	}
	h.sessions[s.ID()] = s
	h.users[uid] = s

	log.Debug().
		Str("session_id", s.ID()).
		Str("user_id", uid).
		Int("sessions", len(h.sessions)).
		Msg("session registered")
}

func (h *Hub) unregister(s Session) {
	if _, ok := h.sessions[s.ID()]; !ok {
		return
	}
	h.drop(s)
	log.Debug().
		Str("session_id", s.ID()).
		Str("user_id", s.Identity().UserID).
		Int("sessions", len(h.sessions)).
		Msg("session unregistered")
}

// drop forgets a session. If it was the user's live session, the user leaves
// their room.
func (h *Hub) drop(s Session) {
	delete(h.sessions, s.ID())
	uid := s.Identity().UserID
	if h.users[uid] == s {
		delete(h.users, uid)
		delete(h.limiters, uid)
		h.leave(s)
	}
	for roomID := range h.groups {
		h.removeFromGroup(roomID, s)
	}
}

// fire is the timer callback; it runs on the timer goroutine.
func (h *Hub) fire(t timers.Ticket) {
	h.post(timerCmd{ticket: t})
}

func (h *Hub) shutdown() {
	h.timers.Stop()
	for _, s := range h.sessions {
		s.Close()
	}
	log.Info().Int("sessions", len(h.sessions)).Msg("pvp hub stopped")
}
