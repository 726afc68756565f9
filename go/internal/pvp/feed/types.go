// Package feed publishes match lifecycle events for downstream consumers
// (leaderboards, analytics). Publishing is best effort and never blocks the
// gateway loop.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/typeduel/go/internal/pvp/room"
)

// EventType names a feed event. It is also the last subject token.
type EventType string

const (
	EventTypeMatchStarted  EventType = "MatchStarted"
	EventTypeMatchFinished EventType = "MatchFinished"
	EventTypeRoomClosed    EventType = "RoomClosed"
)

// Event is one feed message.
type Event struct {
	ID        uuid.UUID
	Type      EventType
	RoomID    string
	Timestamp time.Time
	Payload   []byte
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// MatchStartedPayload is sent when a countdown begins.
type MatchStartedPayload struct {
	MatchID    string   `json:"match_id"`
	RoomCode   string   `json:"room_code"`
	PlayerIDs  []string `json:"player_ids"`
	WordCount  int      `json:"word_count"`
	Difficulty string   `json:"difficulty"`
	StartAt    int64    `json:"start_at"`
}

// MatchFinishedPayload is sent when a match is finalized.
type MatchFinishedPayload struct {
	MatchID    string          `json:"match_id"`
	RoomCode   string          `json:"room_code"`
	FinishedAt int64           `json:"finished_at"`
	Standings  []room.Standing `json:"standings"`
}

// RoomClosedPayload is sent when the last player leaves.
type RoomClosedPayload struct {
	RoomCode string `json:"room_code"`
}

// NewEvent builds an event with a fresh id.
func NewEvent(typ EventType, roomID string, at time.Time, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Event{
		ID:        uuid.New(),
		Type:      typ,
		RoomID:    roomID,
		Timestamp: at.UTC(),
		Payload:   data,
	}, nil
}

// MatchStarted builds the event for a room that just entered countdown.
func MatchStarted(r *room.Room, at time.Time) (Event, error) {
	ids := make([]string, 0, len(r.Players))
	for _, p := range r.Players {
		ids = append(ids, p.ID)
	}
	var startAt int64
	if r.Match.StartAt != nil {
		startAt = *r.Match.StartAt
	}
	return NewEvent(EventTypeMatchStarted, r.ID, at, MatchStartedPayload{
		MatchID:    r.Match.ID,
		RoomCode:   r.Code,
		PlayerIDs:  ids,
		WordCount:  r.Settings.WordCount,
		Difficulty: string(r.Settings.Difficulty),
		StartAt:    startAt,
	})
}

// MatchFinished builds the event for a finalized room.
func MatchFinished(r *room.Room, at time.Time) (Event, error) {
	var finishedAt int64
	if r.Match.FinishedAt != nil {
		finishedAt = *r.Match.FinishedAt
	}
	return NewEvent(EventTypeMatchFinished, r.ID, at, MatchFinishedPayload{
		MatchID:    r.Match.ID,
		RoomCode:   r.Code,
		FinishedAt: finishedAt,
		Standings:  r.Standings(),
	})
}

// RoomClosed builds the event for a deleted room.
func RoomClosed(roomID, code string, at time.Time) (Event, error) {
	return NewEvent(EventTypeRoomClosed, roomID, at, RoomClosedPayload{RoomCode: code})
}
