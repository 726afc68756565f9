package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/mcdev12/typeduel/go/internal/pvp/feed"
	"github.com/mcdev12/typeduel/go/internal/pvp/phase"
	"github.com/mcdev12/typeduel/go/internal/pvp/room"
	"github.com/mcdev12/typeduel/go/internal/pvp/timers"
	"github.com/mcdev12/typeduel/go/internal/textgen"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

func (h *Hub) handle(s Session, ev ClientEvent) {
	uid := s.Identity().UserID
	if h.users[uid] != s {
		log.Debug().Str("session_id", s.ID()).Str("event", ev.EventName()).Msg("event from stale session ignored")
		return
	}

	switch e := ev.(type) {
	case RequestRooms:
		h.sendRooms(s)
	case CreateRoom:
		h.createRoom(s, e)
	case JoinRoom:
		h.joinRoom(s, e)
	case LeaveRoom:
		h.leave(s)
	case SetReady:
		if r := h.store.SetReady(uid, e.Ready); r != nil {
			h.roomChanged(s, r)
		}
	case UpdateSettings:
		r, err := h.store.UpdateSettings(uid, e.Settings)
		if err != nil {
			h.fail(s, err)
			return
		}
		h.roomChanged(s, r)
	case StartMatch:
		h.startMatch(s, e)
	case UpdateProgress:
		h.updateProgress(s, e)
	case FinishMatch:
		h.finishMatch(s, e)
	case ReturnToLobby:
		r, err := h.store.ReturnToLobby(uid)
		if err != nil {
			h.fail(s, err)
			return
		}
		h.timers.CancelAll(r.ID)
		h.roomChanged(s, r)
	case Ping:
		h.ping(s, e)
	default:
		log.Warn().Str("event", ev.EventName()).Msg("unhandled client event")
	}
}

func (h *Hub) createRoom(s Session, e CreateRoom) {
	id := s.Identity()
	opts := room.CreateOptions{
		MaxPlayers: e.MaxPlayers,
		Privacy:    e.Privacy,
		Name:       e.Name,
		Settings:   e.Settings,
	}

	r, err := h.store.CreateRoom(id.UserID, id.Nickname, opts)
	if errors.Is(err, room.ErrAlreadyInRoom) {
		h.leave(s)
		r, err = h.store.CreateRoom(id.UserID, id.Nickname, opts)
	}
	if err != nil {
		h.fail(s, err)
		return
	}

	log.Info().
		Str("room_id", r.ID).
		Str("code", r.Code).
		Str("user_id", id.UserID).
		Str("privacy", string(r.Privacy)).
		Msg("room created")
	h.roomChanged(s, r)
}

func (h *Hub) joinRoom(s Session, e JoinRoom) {
	id := s.Identity()

	r, err := h.store.JoinRoom(id.UserID, id.Nickname, e.Code)
	if errors.Is(err, room.ErrAlreadyInRoom) {
		h.leave(s)
		r, err = h.store.JoinRoom(id.UserID, id.Nickname, e.Code)
	}
	if err != nil {
		h.fail(s, err)
		return
	}
	h.roomChanged(s, r)
}

// leave takes the player out of their room and tells everyone what changed.
func (h *Hub) leave(s Session) {
	uid := s.Identity().UserID
	before := h.store.RoomForPlayer(uid)
	if before == nil {
		return
	}

	res := h.store.LeaveRoom(uid)
	h.removeFromGroup(res.RoomID, s)

	if res.RemovedRoomID != "" {
		h.teardown(res.RemovedRoomID, before.Code)
	} else if res.Room != nil {
		h.broadcastRoom(res.Room)
		if res.Room.Match.Stage == phase.StageTyping && res.Room.AllFinished() {
			h.finalize(res.Room.ID)
		}
	}
	h.broadcastRooms()

	log.Info().
		Str("room_id", res.RoomID).
		Str("user_id", uid).
		Bool("room_removed", res.RemovedRoomID != "").
		Msg("player left room")
}

// teardown forgets everything attached to a deleted room.
func (h *Hub) teardown(roomID, code string) {
	h.timers.CancelAll(roomID)
	delete(h.groups, roomID)
	h.publish(feed.RoomClosed(roomID, code, h.clock.Now()))
}

func (h *Hub) startMatch(s Session, e StartMatch) {
	uid := s.Identity().UserID
	r, err := h.store.BeginMatch(uid)
	if err != nil {
		h.fail(s, err)
		return
	}
	h.timers.CancelAll(r.ID)
	h.roomChanged(s, r)

	lang := e.Language
	if lang == "" {
		lang = h.config.DefaultLanguage
	}
	req := textgen.Request{
		WordCount:  r.Settings.WordCount,
		Difficulty: string(r.Settings.Difficulty),
		Language:   lang,
		Topic:      e.Topic,
	}

	log.Info().
		Str("room_id", r.ID).
		Str("match_id", r.Match.ID).
		Int("word_count", req.WordCount).
		Str("difficulty", req.Difficulty).
		Msg("match syncing, generating text")

	go h.generate(h.ctx, r.ID, r.Match.ID, uid, req)
}

// generate runs off the hub goroutine.
func (h *Hub) generate(ctx context.Context, roomID, matchID, starterID string, req textgen.Request) {
	if h.config.TextTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.TextTimeout)
		defer cancel()
	}
	text, err := h.texts.Generate(ctx, req)
	h.post(textCmd{roomID: roomID, matchID: matchID, starterID: starterID, text: text, err: err})
}

func (h *Hub) onText(c textCmd) {
	r := h.store.RoomByID(c.roomID)
	if r == nil || r.Match.ID != c.matchID || r.Match.Stage != phase.StageSyncing {
		log.Debug().Str("room_id", c.roomID).Str("match_id", c.matchID).Msg("discarding text for abandoned match")
		return
	}

	if c.err != nil {
		log.Error().Err(c.err).Str("room_id", c.roomID).Msg("text generation failed")
		if starter, ok := h.users[c.starterID]; ok {
			h.sendError(starter, room.CodeTextGenerationFailed)
		}
		reverted, err := h.store.AbortMatch(c.roomID)
		if err != nil {
			log.Error().Err(err).Str("room_id", c.roomID).Msg("failed to revert room to lobby")
			return
		}
		h.broadcastRoom(reverted)
		h.broadcastRooms()
		return
	}

	now := h.clock.Now()
	startAt := h.config.Timing.StartAt(now)
	h.timers.CancelAll(c.roomID)
	r, err := h.store.SetMatchCountdown(c.roomID, c.text, startAt)
	if err != nil {
		log.Error().Err(err).Str("room_id", c.roomID).Msg("failed to enter countdown")
		return
	}
	h.broadcastRoom(r)
	h.broadcastRooms()
	h.timers.Arm(c.roomID, timers.KindStart, startAt.Sub(now), h.fire)
	h.publish(feed.MatchStarted(r, now))

	log.Info().
		Str("room_id", r.ID).
		Str("match_id", r.Match.ID).
		Int64("start_at", *r.Match.StartAt).
		Msg("countdown started")
}

func (h *Hub) onTimer(t timers.Ticket) {
	if !h.timers.Claim(t) {
		return
	}

	switch t.Kind {
	case timers.KindStart:
		r := h.store.RoomByID(t.RoomID)
		if r == nil {
			return
		}
		// A claimed start ticket moves countdown to typing whatever the wall
		// clock says.
		if r.Match.Stage != phase.StageCountdown {
			log.Warn().Str("room_id", t.RoomID).Str("stage", string(r.Match.Stage)).Msg("start timer fired outside countdown")
			return
		}
		r, err := h.store.SetMatchTyping(t.RoomID)
		if err != nil {
			log.Error().Err(err).Str("room_id", t.RoomID).Msg("failed to start typing")
			return
		}
		h.broadcastRoom(r)
		h.broadcastRooms()
		log.Info().Str("room_id", t.RoomID).Msg("race started")
	case timers.KindFinishGrace:
		log.Info().Str("room_id", t.RoomID).Msg("finish grace elapsed")
		h.finalize(t.RoomID)
	}
}

func (h *Hub) updateProgress(s Session, e UpdateProgress) {
	uid := s.Identity().UserID
	lim, ok := h.limiters[uid]
	if !ok {
		lim = rate.NewLimiter(rate.Every(h.config.ProgressMinInterval), 1)
		h.limiters[uid] = lim
	}
	if !lim.AllowN(h.clock.Now(), 1) {
		return
	}

	r, err := h.store.UpdateProgress(uid, e.ProgressReport)
	if err != nil {
		h.fail(s, err)
		return
	}
	h.broadcastRoom(r)
}

func (h *Hub) finishMatch(s Session, e FinishMatch) {
	uid := s.Identity().UserID
	r, err := h.store.FinishPlayer(uid, e.Stats)
	if err != nil {
		h.fail(s, err)
		return
	}
	h.broadcastRoom(r)

	if h.config.Timing.Evaluate(r.Match.Stage, h.clock.Now(), marksOf(r), r) == phase.StageFinished {
		h.finalize(r.ID)
		return
	}
	if !h.timers.Armed(r.ID, timers.KindFinishGrace) {
		h.timers.Arm(r.ID, timers.KindFinishGrace, h.config.Timing.FinishGrace, h.fire)
	}
}

// finalize ends a running match. Finalizing a finished match sends nothing.
func (h *Hub) finalize(roomID string) {
	r := h.store.RoomByID(roomID)
	if r == nil || r.Match.Stage == phase.StageFinished {
		return
	}
	r, err := h.store.FinalizeMatch(roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to finalize match")
		return
	}
	h.timers.CancelAll(roomID)

	h.broadcastRoom(r)
	h.broadcastGroup(roomID, EventMatchResults, MatchResults{
		RoomID:    r.ID,
		MatchID:   r.Match.ID,
		Standings: r.Standings(),
	})
	h.broadcastRooms()
	h.publish(feed.MatchFinished(r, h.clock.Now()))

	log.Info().Str("room_id", roomID).Str("match_id", r.Match.ID).Msg("match finished")
}

func (h *Hub) ping(s Session, e Ping) {
	now := h.clock.Now().UnixMilli()
	if e.PingMs != nil {
		h.store.SetPing(s.Identity().UserID, *e.PingMs)
	}
	h.sendTo(s, EventPong, Pong{ClientTime: e.ClientTime, ServerTime: now})
}

// roomChanged is the common tail of every successful room mutation.
func (h *Hub) roomChanged(s Session, r *room.Room) {
	h.addToGroup(r.ID, s)
	h.broadcastRoom(r)
	h.broadcastRooms()
}

// fail reports a store error to the sender. Internal codes are only logged.
func (h *Hub) fail(s Session, err error) {
	code := room.CodeOf(err)
	if !code.Public() {
		log.Debug().
			Err(err).
			Str("session_id", s.ID()).
			Str("user_id", s.Identity().UserID).
			Msg("dropping internal error")
		return
	}
	h.sendError(s, code)
}

func (h *Hub) publish(ev feed.Event, err error) {
	if err != nil {
		log.Error().Err(err).Msg("failed to build feed event")
		return
	}
	h.events.Enqueue(ev)
}

func marksOf(r *room.Room) phase.Marks {
	var m phase.Marks
	if r.Match.StartAt != nil {
		m.StartAt = time.UnixMilli(*r.Match.StartAt)
	}
	if r.Match.FirstFinishAt != nil {
		m.FirstFinishAt = time.UnixMilli(*r.Match.FirstFinishAt)
	}
	return m
}
