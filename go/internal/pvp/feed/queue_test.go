package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mcdev12/typeduel/go/internal/pvp/room"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu       sync.Mutex
	events   []Event
	failures int
	closed   bool
}

func (p *recordingPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("nats unavailable")
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *recordingPublisher) snapshot() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

func TestQueue_PublishesInOrder(t *testing.T) {
	pub := &recordingPublisher{}
	q := NewQueue(pub, QueueConfig{Buffer: 8, MaxRetries: 0})
	require.NoError(t, q.Start(context.Background()))

	for _, id := range []string{"r1", "r2", "r3"} {
		ev, err := RoomClosed(id, "CODE42", time.Now())
		require.NoError(t, err)
		q.Enqueue(ev)
	}

	require.Eventually(t, func() bool { return len(pub.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Stop())

	events := pub.snapshot()
	assert.Equal(t, "r1", events[0].RoomID)
	assert.Equal(t, "r3", events[2].RoomID)
	assert.True(t, pub.closed)

	published, dropped, failed := q.Stats()
	assert.Equal(t, uint64(3), published)
	assert.Zero(t, dropped)
	assert.Zero(t, failed)

	assert.Error(t, q.Stop(), "stopping twice fails")
}

func TestQueue_Retries(t *testing.T) {
	pub := &recordingPublisher{failures: 2}
	q := NewQueue(pub, QueueConfig{Buffer: 4, MaxRetries: 3, RetryDelay: time.Millisecond})
	require.NoError(t, q.Start(context.Background()))

	ev, err := RoomClosed("r1", "CODE42", time.Now())
	require.NoError(t, err)
	q.Enqueue(ev)

	require.Eventually(t, func() bool { return len(pub.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Stop())
}

func TestQueue_DropsWhenFull(t *testing.T) {
	pub := &recordingPublisher{}
	q := NewQueue(pub, QueueConfig{Buffer: 1})

	ev, err := RoomClosed("r1", "CODE42", time.Now())
	require.NoError(t, err)
	q.Enqueue(ev)
	q.Enqueue(ev)

	_, dropped, _ := q.Stats()
	assert.Equal(t, uint64(1), dropped)
}

func TestMatchFinishedPayload(t *testing.T) {
	finishedAt := int64(1_700_000_010_000)
	r := &room.Room{
		ID:   "room-1",
		Code: "ABC234",
		Match: room.Match{
			ID:         "match-1",
			FinishedAt: &finishedAt,
		},
		Players: []*room.Player{
			{ID: "a", Nickname: "A", Status: room.StatusTyping, Progress: 0.5},
			{ID: "b", Nickname: "B", Status: room.StatusFinished, Progress: 1, Stats: &room.Stats{WPM: 88, TimeSec: 30}},
		},
	}

	ev, err := MatchFinished(r, time.UnixMilli(finishedAt))
	require.NoError(t, err)
	assert.Equal(t, EventTypeMatchFinished, ev.Type)
	assert.Equal(t, "room-1", ev.RoomID)

	var payload MatchFinishedPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, "match-1", payload.MatchID)
	assert.Equal(t, finishedAt, payload.FinishedAt)
	require.Len(t, payload.Standings, 2)
	assert.Equal(t, "b", payload.Standings[0].PlayerID)
	assert.Equal(t, 1, payload.Standings[0].Place)
}

func TestEnvelope(t *testing.T) {
	ev, err := RoomClosed("room-9", "ZZZ999", time.UnixMilli(0))
	require.NoError(t, err)

	data, err := envelope(ev)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "RoomClosed", got["eventType"])
	assert.Equal(t, "room-9", got["roomId"])
	assert.Equal(t, map[string]any{"room_code": "ZZZ999"}, got["payload"])

	p := &JetStreamPublisher{config: DefaultJetStreamConfig()}
	assert.Equal(t, "pvp.events.room-9", p.Subject(ev))
}
