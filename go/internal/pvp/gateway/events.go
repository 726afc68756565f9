package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcdev12/typeduel/go/internal/pvp/room"
)

// Client to server event names.
const (
	EventRequestRooms   = "request-rooms"
	EventCreateRoom     = "create-room"
	EventJoinRoom       = "join-room"
	EventLeaveRoom      = "leave-room"
	EventSetReady       = "set-ready"
	EventUpdateSettings = "update-settings"
	EventStartMatch     = "start-match"
	EventUpdateProgress = "update-progress"
	EventFinishMatch    = "finish-match"
	EventReturnToLobby  = "return-to-lobby"
	EventPing           = "ping"
)

// Server to client event names.
const (
	EventRoomsUpdate  = "rooms-update"
	EventRoomState    = "room-state"
	EventError        = "error"
	EventPong         = "pong"
	EventMatchResults = "match-results"
)

// ErrUnknownEvent is returned by DecodeClientEvent for unrecognized names.
var ErrUnknownEvent = errors.New("unknown event")

// Envelope is the frame of every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ClientEvent is one of the inbound event payloads below.
type ClientEvent interface {
	EventName() string
}

type RequestRooms struct{}

type CreateRoom struct {
	MaxPlayers int                `json:"maxPlayers"`
	Privacy    room.Privacy       `json:"privacy"`
	Name       string             `json:"name"`
	Settings   room.SettingsPatch `json:"settings"`
}

type JoinRoom struct {
	Code string `json:"code"`
}

type LeaveRoom struct{}

type SetReady struct {
	Ready bool `json:"ready"`
}

type UpdateSettings struct {
	Settings room.SettingsPatch `json:"settings"`
}

type StartMatch struct {
	Language string `json:"language"`
	Topic    string `json:"topic"`
}

type UpdateProgress struct {
	room.ProgressReport
}

type FinishMatch struct {
	room.Stats
}

type ReturnToLobby struct{}

// Ping carries the client's clock and, after the first round trip, the
// client's measured latency.
type Ping struct {
	ClientTime int64 `json:"clientTime"`
	PingMs     *int  `json:"pingMs,omitempty"`
}

func (RequestRooms) EventName() string   { return EventRequestRooms }
func (CreateRoom) EventName() string     { return EventCreateRoom }
func (JoinRoom) EventName() string       { return EventJoinRoom }
func (LeaveRoom) EventName() string      { return EventLeaveRoom }
func (SetReady) EventName() string       { return EventSetReady }
func (UpdateSettings) EventName() string { return EventUpdateSettings }
func (StartMatch) EventName() string     { return EventStartMatch }
func (UpdateProgress) EventName() string { return EventUpdateProgress }
func (FinishMatch) EventName() string    { return EventFinishMatch }
func (ReturnToLobby) EventName() string  { return EventReturnToLobby }
func (Ping) EventName() string           { return EventPing }

// DecodeClientEvent parses one inbound frame.
func DecodeClientEvent(raw []byte) (ClientEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Event {
	case EventRequestRooms:
		return RequestRooms{}, nil
	case EventCreateRoom:
		return decodeData[CreateRoom](env)
	case EventJoinRoom:
		return decodeData[JoinRoom](env)
	case EventLeaveRoom:
		return LeaveRoom{}, nil
	case EventSetReady:
		return decodeData[SetReady](env)
	case EventUpdateSettings:
		return decodeData[UpdateSettings](env)
	case EventStartMatch:
		return decodeData[StartMatch](env)
	case EventUpdateProgress:
		return decodeData[UpdateProgress](env)
	case EventFinishMatch:
		return decodeData[FinishMatch](env)
	case EventReturnToLobby:
		return ReturnToLobby{}, nil
	case EventPing:
		return decodeData[Ping](env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

func decodeData[T ClientEvent](env Envelope) (ClientEvent, error) {
	var v T
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Event, err)
	}
	return v, nil
}

// RoomsUpdate is the public room listing.
type RoomsUpdate struct {
	Rooms []room.PublicRoom `json:"rooms"`
}

// RoomState is a full room snapshot with the server clock for offset calibration.
type RoomState struct {
	Room       *room.Room `json:"room"`
	ServerTime int64      `json:"serverTime"`
}

type ErrorPayload struct {
	Code room.Code `json:"code"`
}

type Pong struct {
	ClientTime int64 `json:"clientTime"`
	ServerTime int64 `json:"serverTime"`
}

// MatchResults is sent to the room once a match is finalized.
type MatchResults struct {
	RoomID    string          `json:"roomId"`
	MatchID   string          `json:"matchId"`
	Standings []room.Standing `json:"standings"`
}

func encode(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: payload})
}
