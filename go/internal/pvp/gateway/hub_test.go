package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typeduel/go/internal/identity"
	"github.com/mcdev12/typeduel/go/internal/pvp/feed"
	"github.com/mcdev12/typeduel/go/internal/pvp/phase"
	"github.com/mcdev12/typeduel/go/internal/pvp/room"
	"github.com/mcdev12/typeduel/go/internal/pvp/timers"
	"github.com/mcdev12/typeduel/go/internal/textgen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const raceText = "alpha beta gamma delta"

type fakeSession struct {
	id    string
	ident identity.Identity

	mu     sync.Mutex
	msgs   []Envelope
	closed bool
}

func (s *fakeSession) ID() string                  { return s.id }
func (s *fakeSession) Identity() identity.Identity { return s.ident }

func (s *fakeSession) Send(msg []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		panic(err)
	}
	s.msgs = append(s.msgs, env)
	return true
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) events(name string) []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Envelope
	for _, m := range s.msgs {
		if m.Event == name {
			out = append(out, m)
		}
	}
	return out
}

func (s *fakeSession) count(name string) int {
	return len(s.events(name))
}

func (s *fakeSession) lastRoom(t *testing.T) *room.Room {
	t.Helper()
	states := s.events(EventRoomState)
	require.NotEmpty(t, states, "no room-state received by %s", s.id)
	var st RoomState
	require.NoError(t, json.Unmarshal(states[len(states)-1].Data, &st))
	return st.Room
}

func (s *fakeSession) errorCodes(t *testing.T) []room.Code {
	t.Helper()
	var codes []room.Code
	for _, env := range s.events(EventError) {
		var p ErrorPayload
		require.NoError(t, json.Unmarshal(env.Data, &p))
		codes = append(codes, p.Code)
	}
	return codes
}

type recordingSink struct {
	mu     sync.Mutex
	events []feed.Event
}

func (r *recordingSink) Enqueue(ev feed.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) types() []feed.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]feed.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	hub    *Hub
	clock  *clockwork.FakeClock
	store  *room.Store
	timers *timers.Registry
	sink   *recordingSink
	n      int
}

func staticText(context.Context, textgen.Request) (string, error) {
	return raceText, nil
}

// steppedClock reports a wall clock set back by the stored offset while its
// timers keep running on the fake clock.
type steppedClock struct {
	*clockwork.FakeClock
	back atomic.Int64
}

func (c *steppedClock) Now() time.Time {
	return c.FakeClock.Now().Add(-time.Duration(c.back.Load()))
}

func newHarness(t *testing.T, texts textgen.Provider) *harness {
	t.Helper()
	return newHarnessWithClock(t, texts, nil)
}

// newHarnessWithClock runs the hub and store on wall when it is not nil.
func newHarnessWithClock(t *testing.T, texts textgen.Provider, wall func(*clockwork.FakeClock) clockwork.Clock) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	var hubClock clockwork.Clock = clock
	if wall != nil {
		hubClock = wall(clock)
	}
	n := 0
	codes := func() string {
		n++
		return fmt.Sprintf("R%05d", n)
	}
	store := room.NewStoreWithCodes(room.DefaultLimits(), hubClock, codes)
	reg := timers.New(clock)
	sink := &recordingSink{}

	hub := NewHub(DefaultHubConfig(), Deps{
		Store:  store,
		Timers: reg,
		Texts:  texts,
		Events: sink,
		Clock:  hubClock,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.done
	})

	return &harness{t: t, ctx: ctx, hub: hub, clock: clock, store: store, timers: reg, sink: sink}
}

func (h *harness) connect(userID string) *fakeSession {
	h.n++
	s := &fakeSession{
		id:    fmt.Sprintf("%s-session-%d", userID, h.n),
		ident: identity.Identity{UserID: userID, Nickname: userID + "-nick"},
	}
	h.hub.Register(s)
	h.sync()
	return s
}

// send dispatches ev and waits until the hub handled it.
func (h *harness) send(s Session, ev ClientEvent) {
	h.hub.Dispatch(s, ev)
	h.sync()
}

func (h *harness) sync() {
	h.t.Helper()
	require.NoError(h.t, h.hub.query(h.ctx, func() {}))
}

func (h *harness) room(id string) *room.Room {
	h.t.Helper()
	var r *room.Room
	require.NoError(h.t, h.hub.query(h.ctx, func() { r = h.store.RoomByID(id) }))
	return r
}

func (h *harness) waitStage(roomID string, stage phase.Stage) *room.Room {
	h.t.Helper()
	var r *room.Room
	require.Eventually(h.t, func() bool {
		r = h.room(roomID)
		return r != nil && r.Match.Stage == stage
	}, 2*time.Second, 5*time.Millisecond, "room never reached %s", stage)
	return r
}

func (h *harness) waitTimers(n int) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(h.t, h.clock.BlockUntilContext(ctx, n))
}

// lobby creates a public room hosted by a and joined by b.
func (h *harness) lobby() (a, b *fakeSession, roomID string) {
	h.t.Helper()
	a = h.connect("a")
	b = h.connect("b")
	h.send(a, CreateRoom{MaxPlayers: 2})
	r := a.lastRoom(h.t)
	h.send(b, JoinRoom{Code: r.Code})
	return a, b, r.ID
}

// race drives a fresh two-player room into typing.
func (h *harness) race() (a, b *fakeSession, roomID string) {
	h.t.Helper()
	a, b, roomID = h.lobby()
	h.send(a, StartMatch{})
	h.waitStage(roomID, phase.StageCountdown)
	h.waitTimers(1)
	h.clock.Advance(phase.DefaultTiming().LeadTime())
	h.waitStage(roomID, phase.StageTyping)
	return a, b, roomID
}

func TestHub_CreateAndJoinBroadcast(t *testing.T) {
	h := newHarness(t, textgen.ProviderFunc(staticText))
	watcher := h.connect("watcher")
	a, b, roomID := h.lobby()

	r := b.lastRoom(t)
	assert.Equal(t, roomID, r.ID)
	require.Len(t, r.Players, 2)
	assert.Equal(t, "a", r.HostID)
	assert.Equal(t, "b-nick", r.Players[1].Nickname)
	assert.Equal(t, a.lastRoom(t), r, "every member gets the same snapshot")

	assert.Zero(t, watcher.count(EventRoomState), "room-state only goes to members")
	updates := watcher.events(EventRoomsUpdate)
	require.Len(t, updates, 2)
	var listing RoomsUpdate
	require.NoError(t, json.Unmarshal(updates[1].Data, &listing))
	require.Len(t, listing.Rooms, 1)
	assert.Equal(t, 2, listing.Rooms[0].Players)

	h.send(watcher, RequestRooms{})
	assert.Equal(t, 3, watcher.count(EventRoomsUpdate))
}

func TestHub_RoomStateCarriesServerTime(t *testing.T) {
	h := newHarness(t, textgen.ProviderFunc(staticText))
	a := h.connect("a")
	h.send(a, CreateRoom{})

	states := a.events(EventRoomState)
	require.Len(t, states, 1)
	var st RoomState
	require.NoError(t, json.Unmarshal(states[0].Data, &st))
	assert.Equal(t, h.clock.Now().UnixMilli(), st.ServerTime)
}

func TestHub_ErrorsGoOnlyToSender(t *testing.T) {
	h := newHarness(t, textgen.ProviderFunc(staticText))
	a, b, _ := h.lobby()

	h.send(b, StartMatch{})
	assert.Equal(t, []room.Code{room.CodeNotHost}, b.errorCodes(t))
	assert.Empty(t, a.errorCodes(t))

	c := h.connect("c")
	h.send(c, JoinRoom{Code: "NOPE99"})
	h.send(c, JoinRoom{Code: a.lastRoom(t).Code})
	assert.Equal(t, []room.Code{room.CodeRoomNotFound, room.CodeRoomFull}, c.errorCodes(t))

	h.send(b, UpdateProgress{room.ProgressReport{Progress: 0.5}})
	assert.Len(t, b.errorCodes(t), 1, "internal codes are not sent")
}

func TestHub_MatchFlow(t *testing.T) {
	h := newHarness(t, textgen.ProviderFunc(staticText))
	a, b, roomID := h.lobby()
	t0 := h.clock.Now()

	h.send(a, StartMatch{})
	r := h.waitStage(roomID, phase.StageCountdown)
	assert.Equal(t, raceText, r.Match.Text)
	require.NotNil(t, r.Match.StartAt)
	assert.Equal(t, t0.Add(3700*time.Millisecond).UnixMilli(), *r.Match.StartAt)

	var stages []phase.Stage
	for _, env := range b.events(EventRoomState) {
		var st RoomState
		require.NoError(t, json.Unmarshal(env.Data, &st))
		stages = append(stages, st.Room.Match.Stage)
	}
	assert.Contains(t, stages, phase.StageSyncing)
	assert.Equal(t, phase.StageCountdown, stages[len(stages)-1])

	h.waitTimers(1)
	h.clock.Advance(3699 * time.Millisecond)
	h.sync()
	assert.Equal(t, phase.StageCountdown, h.room(roomID).Match.Stage)

	h.clock.Advance(time.Millisecond)
	r = h.waitStage(roomID, phase.StageTyping)
	for _, p := range r.Players {
		assert.Equal(t, room.StatusTyping, p.Status)
	}
	assert.Equal(t, []feed.EventType{feed.EventTypeMatchStarted}, h.sink.types())
}

func TestHub_StartTimerIgnoresWallClockStepBack(t *testing.T) {
	var wall *steppedClock
	h := newHarnessWithClock(t, textgen.ProviderFunc(staticText), func(c *clockwork.FakeClock) clockwork.Clock {
		wall = &steppedClock{FakeClock: c}
		return wall
	})
	a, _, roomID := h.lobby()

	h.send(a, StartMatch{})
	h.waitStage(roomID, phase.StageCountdown)
	h.waitTimers(1)

	wall.back.Store(int64(50 * time.Millisecond))
	h.clock.Advance(phase.DefaultTiming().LeadTime())

	r := h.waitStage(roomID, phase.StageTyping)
	for _, p := range r.Players {
		assert.Equal(t, room.StatusTyping, p.Status)
	}
	assert.Zero(t, h.timers.Len())
}

func TestHub_TextFailureRevertsToLobby(t *testing.T) {
	failing := textgen.ProviderFunc(func(context.Context, textgen.Request) (string, error) {
		return "", errors.New("generator down")
	})
	h := newHarness(t, failing)
	a, b, roomID := h.lobby()

	h.send(a, StartMatch{})
	r := h.waitStage(roomID, phase.StageLobby)
	assert.Empty(t, r.Match.Text)
	for _, p := range r.Players {
		assert.Equal(t, room.StatusInLobby, p.Status)
	}

	require.Eventually(t, func() bool { return len(a.errorCodes(t)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []room.Code{room.CodeTextGenerationFailed}, a.errorCodes(t))
	assert.Empty(t, b.errorCodes(t))
	assert.Zero(t, h.timers.Len())
}

func TestHub_StaleTextIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	slow := textgen.ProviderFunc(func(ctx context.Context, _ textgen.Request) (string, error) {
		<-release
		return raceText, nil
	})
	h := newHarness(t, slow)
	t.Cleanup(func() { close(release) })
	a, b, roomID := h.lobby()

	h.send(a, StartMatch{})
	matchID := h.room(roomID).Match.ID
	require.NotEmpty(t, matchID)

	// deliver hands a generated text to the hub as the generator would.
	deliver := func(roomID, matchID string) {
		require.NoError(t, h.hub.query(h.ctx, func() {
			h.hub.onText(textCmd{roomID: roomID, matchID: matchID, starterID: "a", text: raceText})
		}))
	}

	deliver(roomID, "some-older-match")
	assert.Equal(t, phase.StageSyncing, h.room(roomID).Match.Stage, "text for another match is dropped")

	h.send(a, LeaveRoom{})
	h.send(b, LeaveRoom{})
	require.Nil(t, h.room(roomID))

	deliver(roomID, matchID)
	assert.Nil(t, h.room(roomID))
	assert.Zero(t, h.timers.Len())
	assert.NotContains(t, h.sink.types(), feed.EventTypeMatchStarted)
	assert.Zero(t, a.count(EventError))
}

func TestHub_ProgressRateLimited(t *testing.T) {
	h := newHarness(t, textgen.ProviderFunc(staticText))
	a, b, roomID := h.race()

	before := b.count(EventRoomState)
	for i := 1; i <= 3; i++ {
		h.send(a, UpdateProgress{room.ProgressReport{Progress: float64(i) / 10}})
	}
	assert.Equal(t, before+1, b.count(EventRoomState))
	assert.InDelta(t, 0.1, h.room(roomID).Player("a").Progress, 1e-9)

	h.clock.Advance(100 * time.Millisecond)
	h.send(a, UpdateProgress{room.ProgressReport{Progress: 0.4, Stats: room.Stats{WPM: 60}}})
	assert.Equal(t, before+2, b.count(EventRoomState))
	assert.InDelta(t, 0.4, h.room(roomID).Player("a").Progress, 1e-9)

	rooms := b.count(EventRoomsUpdate)
	h.clock.Advance(100 * time.Millisecond)
	h.send(b, UpdateProgress{room.ProgressReport{Progress: 0.2}})
	assert.Equal(t, rooms, b.count(EventRoomsUpdate), "progress does not touch the listing")
}

func TestHub_FinishGraceFinalizes(t *testing.T) {
	h := newHarness(t, textgen.ProviderFunc(staticText))
	a, b, roomID := h.race()

	h.send(a, FinishMatch{room.Stats{WPM: 90, Accuracy: 99, TimeSec: 20}})
	r := h.room(roomID)
	assert.Equal(t, phase.StageTyping, r.Match.Stage)
	require.NotNil(t, r.Match.FirstFinishAt)
	assert.True(t, h.timers.Armed(roomID, timers.KindFinishGrace))

	h.waitTimers(1)
	h.clock.Advance(10 * time.Second)
	r = h.waitStage(roomID, phase.StageFinished)
	require.NotNil(t, r.Match.FinishedAt)

	require.Eventually(t, func() bool { return b.count(EventMatchResults) == 1 }, time.Second, 5*time.Millisecond)
	var results MatchResults
	require.NoError(t, json.Unmarshal(b.events(EventMatchResults)[0].Data, &results))
	assert.Equal(t, roomID, results.RoomID)
	require.Len(t, results.Standings, 2)
	assert.Equal(t, "a", results.Standings[0].PlayerID)
	assert.Equal(t, 1, results.Standings[0].Place)
	assert.Equal(t, 1, a.count(EventMatchResults))

	assert.Equal(t, []feed.EventType{feed.EventTypeMatchStarted, feed.EventTypeMatchFinished}, h.sink.types())
}

func TestHub_FinishUpdatesListingOnlyWhenMatchEnds(t *testing.T) {
	h := newHarness(t, textgen.ProviderFunc(staticText))
	watcher := h.connect("watcher")
	a, b, roomID := h.race()
	listings := watcher.count(EventRoomsUpdate)
	states := b.count(EventRoomState)

	h.send(a, FinishMatch{room.Stats{WPM: 90, Accuracy: 99, TimeSec: 20}})
	assert.Equal(t, states+1, b.count(EventRoomState))
	assert.Equal(t, listings, watcher.count(EventRoomsUpdate), "listing is unchanged while the race runs")

	h.send(b, FinishMatch{room.Stats{WPM: 70, Accuracy: 95, TimeSec: 25}})
	h.waitStage(roomID, phase.StageFinished)
	assert.Equal(t, listings+1, watcher.count(EventRoomsUpdate), "the finished stage is listed")
}

func TestHub_AllFinishedFinalizesImmediately(t *testing.T) {
	h := newHarness(t, textgen.ProviderFunc(staticText))
	a, b, roomID := h.race()

	h.send(a, FinishMatch{room.Stats{WPM: 90, TimeSec: 20}})
	h.send(b, FinishMatch{room.Stats{WPM: 70, TimeSec: 25}})

	assert.Equal(t, phase.StageFinished, h.room(roomID).Match.Stage)
	assert.Zero(t, h.timers.Len(), "grace timer cancelled")
	assert.Equal(t, 1, a.count(EventMatchResults))

	h.send(b, FinishMatch{room.Stats{WPM: 70}})
	h.clock.Advance(10 * time.Second)
	h.sync()
	assert.Equal(t, 1, a.count(EventMatchResults), "finalizing twice sends nothing")

	h.send(a, ReturnToLobby{})
	r := h.room(roomID)
	assert.Equal(t, phase.StageLobby, r.Match.Stage)
	for _, p := range r.Players {
		assert.False(t, p.IsReady)
		assert.Zero(t, p.Progress)
	}
}

func TestHub_LeaveMidRaceFinalizes(t *testing.T) {
	h := newHarness(t, textgen.ProviderFunc(staticText))
	a, b, roomID := h.race()

	h.send(a, FinishMatch{room.Stats{WPM: 90, TimeSec: 20}})
	h.send(b, LeaveRoom{})

	r := h.room(roomID)
	require.Len(t, r.Players, 1)
	assert.Equal(t, phase.StageFinished, r.Match.Stage)
	assert.Equal(t, 1, a.count(EventMatchResults))
	assert.Zero(t, b.count(EventMatchResults))
}

func TestHub_TeardownCancelsTimers(t *testing.T) {
	h := newHarness(t, textgen.ProviderFunc(staticText))
	a, b, roomID := h.lobby()

	h.send(a, StartMatch{})
	h.waitStage(roomID, phase.StageCountdown)
	require.Equal(t, 1, h.timers.Len())

	h.send(a, LeaveRoom{})
	h.send(b, LeaveRoom{})
	assert.Nil(t, h.room(roomID))
	assert.Zero(t, h.timers.Len())

	states := b.count(EventRoomState)
	h.clock.Advance(5 * time.Second)
	h.sync()
	assert.Equal(t, states, b.count(EventRoomState))
	assert.Contains(t, h.sink.types(), feed.EventTypeRoomClosed)
}

func TestHub_DisconnectLeavesRoom(t *testing.T) {
	h := newHarness(t, textgen.ProviderFunc(staticText))
	a, b, roomID := h.lobby()

	h.hub.Unregister(a)
	h.sync()

	r := b.lastRoom(t)
	assert.Equal(t, roomID, r.ID)
	assert.Equal(t, "b", r.HostID)
	require.Len(t, r.Players, 1)
	assert.True(t, r.Players[0].IsHost)

	st, err := h.hub.Stats(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Sessions)
	assert.Equal(t, 1, st.Store.Players)
}

func TestHub_NewSessionReplacesOld(t *testing.T) {
	h := newHarness(t, textgen.ProviderFunc(staticText))
	first := h.connect("a")
	h.send(first, CreateRoom{})
	roomID := first.lastRoom(t).ID

	second := h.connect("a")
	assert.True(t, first.isClosed())
	assert.Nil(t, h.room(roomID), "the old session left its room")

	h.send(first, CreateRoom{})
	st, err := h.hub.Stats(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Store.Rooms, "events from a replaced session are ignored")

	h.send(second, CreateRoom{})
	assert.Equal(t, 1, second.count(EventRoomState))

	h.hub.Unregister(first)
	h.sync()
	st, err = h.hub.Stats(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Sessions)
	assert.Equal(t, 1, st.Store.Rooms)
}

func TestHub_CreateWhileInRoomMovesPlayer(t *testing.T) {
	h := newHarness(t, textgen.ProviderFunc(staticText))
	a, b, first := h.lobby()

	h.send(b, CreateRoom{Name: "second"})
	r := b.lastRoom(t)
	assert.NotEqual(t, first, r.ID)
	assert.Equal(t, "b", r.HostID)
	assert.Len(t, a.lastRoom(t).Players, 1)
}

func TestHub_Ping(t *testing.T) {
	h := newHarness(t, textgen.ProviderFunc(staticText))
	a := h.connect("a")
	h.send(a, CreateRoom{})
	roomID := a.lastRoom(t).ID
	states := a.count(EventRoomState)

	pingMs := 42
	h.send(a, Ping{ClientTime: 5, PingMs: &pingMs})

	pongs := a.events(EventPong)
	require.Len(t, pongs, 1)
	var pong Pong
	require.NoError(t, json.Unmarshal(pongs[0].Data, &pong))
	assert.Equal(t, Pong{ClientTime: 5, ServerTime: h.clock.Now().UnixMilli()}, pong)

	assert.Equal(t, 42, h.room(roomID).Player("a").PingMs)
	assert.Equal(t, states, a.count(EventRoomState))
}

// stuckSession never accepts a message, like a client whose buffer is full.
type stuckSession struct {
	*fakeSession
}

func (stuckSession) Send([]byte) bool { return false }

func TestHub_SlowSessionIsClosed(t *testing.T) {
	h := newHarness(t, textgen.ProviderFunc(staticText))
	s := stuckSession{&fakeSession{id: "slow", ident: identity.Identity{UserID: "slow"}}}
	h.hub.Register(s)
	h.sync()

	h.send(s, RequestRooms{})
	assert.True(t, s.isClosed())
}
