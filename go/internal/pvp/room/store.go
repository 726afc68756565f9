// Package room holds the authoritative in-memory state of PvP rooms.
//
// The Store owns every Room, Player and Match object. It performs pure state
// transitions: no I/O, no goroutines and no locking. Callers must serialize
// access (the gateway hub calls it from a single goroutine). Every method
// returns deep copies, so snapshots can be broadcast without further care.
package room

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typeduel/go/internal/pvp/phase"
)

// Store is the room manager.
type Store struct {
	rooms      map[string]*Room  // room id -> room
	playerRoom map[string]string // player id -> room id
	codes      map[string]string // room code -> room id

	limits  Limits
	clock   clockwork.Clock
	newCode CodeGenerator
}

// LeaveResult describes the outcome of a leave.
type LeaveResult struct {
	// RoomID is the room the player left, empty if they were in none.
	RoomID string
	// Room is the updated room, nil if the player was in none or the room was removed.
	Room *Room
	// RemovedRoomID is set when the leave emptied and deleted the room.
	RemovedRoomID string
}

// StoreStats are counters for the stats endpoint.
type StoreStats struct {
	Rooms       int `json:"rooms"`
	PublicRooms int `json:"public_rooms"`
	Players     int `json:"players"`
	Racing      int `json:"racing"`
}

// NewStore creates an empty store.
func NewStore(limits Limits, clock clockwork.Clock) (*Store, error) {
	gen, err := NewCodeGenerator(limits)
	if err != nil {
		return nil, err
	}
	return NewStoreWithCodes(limits, clock, gen), nil
}

// NewStoreWithCodes creates an empty store with a custom code generator.
func NewStoreWithCodes(limits Limits, clock clockwork.Clock, gen CodeGenerator) *Store {
	return &Store{
		rooms:      make(map[string]*Room),
		playerRoom: make(map[string]string),
		codes:      make(map[string]string),
		limits:     limits,
		clock:      clock,
		newCode:    gen,
	}
}

// Limits returns the limits the store sanitizes with.
func (s *Store) Limits() Limits {
	return s.limits
}

// CreateRoom creates a room with userID as its only player and host.
func (s *Store) CreateRoom(userID, nickname string, opts CreateOptions) (*Room, error) {
	if _, ok := s.playerRoom[userID]; ok {
		return nil, ErrAlreadyInRoom
	}
	code, err := s.uniqueCode()
	if err != nil {
		return nil, err
	}

	privacy := opts.Privacy
	if privacy != PrivacyPrivate {
		privacy = PrivacyPublic
	}

	host := newPlayer(userID, nickname)
	host.IsHost = true

	r := &Room{
		ID:         uuid.NewString(),
		Code:       code,
		Name:       s.limits.CleanName(opts.Name),
		Privacy:    privacy,
		MaxPlayers: s.limits.ClampPlayers(opts.MaxPlayers),
		HostID:     userID,
		Settings:   s.limits.ApplySettings(s.limits.DefaultSettings(), opts.Settings),
		Players:    []*Player{host},
		CreatedAt:  s.now(),
		Match:      newMatch(phase.StageLobby),
	}

	s.rooms[r.ID] = r
	s.codes[r.Code] = r.ID
	s.playerRoom[userID] = r.ID
	return r.Clone(), nil
}

// JoinRoom adds userID to the room with the given code. Joining a room the
// player is already in returns it unchanged.
func (s *Store) JoinRoom(userID, nickname, code string) (*Room, error) {
	id, ok := s.codes[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	r := s.rooms[id]

	if current, in := s.playerRoom[userID]; in {
		if current == r.ID {
			return r.Clone(), nil
		}
		return nil, ErrAlreadyInRoom
	}
	if r.Match.Stage != phase.StageLobby {
		return nil, ErrMatchInProgress
	}
	if r.Full() {
		return nil, ErrRoomFull
	}

	r.Players = append(r.Players, newPlayer(userID, nickname))
	s.playerRoom[userID] = r.ID
	return r.Clone(), nil
}

// LeaveRoom removes the player from their room. An emptied room is deleted; a
// departing host hands over to the next player in join order.
func (s *Store) LeaveRoom(playerID string) LeaveResult {
	r := s.roomOf(playerID)
	if r == nil {
		return LeaveResult{}
	}
	delete(s.playerRoom, playerID)

	for i, p := range r.Players {
		if p.ID == playerID {
			r.Players = append(r.Players[:i], r.Players[i+1:]...)
			break
		}
	}

	if len(r.Players) == 0 {
		delete(s.rooms, r.ID)
		delete(s.codes, r.Code)
		return LeaveResult{RoomID: r.ID, RemovedRoomID: r.ID}
	}

	if r.HostID == playerID {
		next := r.Players[0]
		next.IsHost = true
		r.HostID = next.ID
	}
	return LeaveResult{RoomID: r.ID, Room: r.Clone()}
}

// SetReady toggles the ready flag. It returns nil if the player is in no room.
func (s *Store) SetReady(playerID string, ready bool) *Room {
	r := s.roomOf(playerID)
	if r == nil {
		return nil
	}
	r.Player(playerID).IsReady = ready
	return r.Clone()
}

// SetPing records the informational round trip time of a player.
func (s *Store) SetPing(playerID string, pingMs int) *Room {
	r := s.roomOf(playerID)
	if r == nil {
		return nil
	}
	if pingMs < 0 {
		pingMs = 0
	}
	if pingMs > 60_000 {
		pingMs = 60_000
	}
	r.Player(playerID).PingMs = pingMs
	return r.Clone()
}

// UpdateSettings merges a settings patch. Host only, lobby only.
func (s *Store) UpdateSettings(playerID string, patch SettingsPatch) (*Room, error) {
	r, err := s.hostRoom(playerID)
	if err != nil {
		return nil, err
	}
	if r.Match.Stage != phase.StageLobby {
		return nil, ErrMatchInProgress
	}
	r.Settings = s.limits.ApplySettings(r.Settings, patch)
	return r.Clone(), nil
}

// BeginMatch moves a lobby into syncing with a fresh match. Host only.
func (s *Store) BeginMatch(playerID string) (*Room, error) {
	r, err := s.hostRoom(playerID)
	if err != nil {
		return nil, err
	}
	if r.Match.Stage != phase.StageLobby {
		return nil, ErrMatchInProgress
	}

	for _, p := range r.Players {
		p.Progress = 0
		p.Stats = nil
		p.Status = StatusLoading
	}
	r.Match = newMatch(phase.StageSyncing)
	return r.Clone(), nil
}

// SetMatchCountdown installs the generated text and the typing start time.
func (s *Store) SetMatchCountdown(roomID, text string, startAt time.Time) (*Room, error) {
	r, err := s.advance(roomID, phase.StageCountdown)
	if err != nil {
		return nil, err
	}
	at := startAt.UnixMilli()
	r.Match.Text = text
	r.Match.StartAt = &at
	r.Match.FinishedAt = nil
	r.Match.FirstFinishAt = nil
	// A status may have moved while the text was being generated.
	for _, p := range r.Players {
		p.Status = StatusLoading
	}
	return r.Clone(), nil
}

// SetMatchTyping starts the race for every player.
func (s *Store) SetMatchTyping(roomID string) (*Room, error) {
	r, err := s.advance(roomID, phase.StageTyping)
	if err != nil {
		return nil, err
	}
	for _, p := range r.Players {
		p.Status = StatusTyping
	}
	return r.Clone(), nil
}

// UpdateProgress records a live progress report. A finished player stays finished.
func (s *Store) UpdateProgress(playerID string, report ProgressReport) (*Room, error) {
	r, p, err := s.racingPlayer(playerID)
	if err != nil {
		return nil, err
	}
	p.Progress = clampUnit(report.Progress)
	stats := report.Stats
	p.Stats = &stats
	if p.Status != StatusFinished {
		p.Status = StatusTyping
	}
	return r.Clone(), nil
}

// FinishPlayer records a player's final stats. The first finisher of a match
// stamps FirstFinishAt, which opens the grace window.
func (s *Store) FinishPlayer(playerID string, stats Stats) (*Room, error) {
	r, p, err := s.racingPlayer(playerID)
	if err != nil {
		return nil, err
	}
	p.Progress = 1
	p.Status = StatusFinished
	p.Stats = &stats
	if r.Match.FirstFinishAt == nil {
		now := s.now()
		r.Match.FirstFinishAt = &now
	}
	return r.Clone(), nil
}

// FinalizeMatch ends the race. Finalizing a finished match is a no-op.
func (s *Store) FinalizeMatch(roomID string) (*Room, error) {
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if r.Match.Stage == phase.StageFinished {
		return r.Clone(), nil
	}
	if _, err := s.advance(roomID, phase.StageFinished); err != nil {
		return nil, err
	}
	now := s.now()
	r.Match.FinishedAt = &now
	return r.Clone(), nil
}

// AbortMatch returns a syncing room to a fresh lobby, used when no race text
// could be produced.
func (s *Store) AbortMatch(roomID string) (*Room, error) {
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if r.Match.Stage != phase.StageSyncing {
		return nil, &Error{Code: CodeInvalidStage, Err: phase.ErrInvalidTransition}
	}
	resetToLobby(r, false)
	return r.Clone(), nil
}

// ReturnToLobby starts over after a finished match. Host only.
func (s *Store) ReturnToLobby(playerID string) (*Room, error) {
	r, err := s.hostRoom(playerID)
	if err != nil {
		return nil, err
	}
	switch r.Match.Stage {
	case phase.StageLobby:
		return r.Clone(), nil
	case phase.StageFinished:
		resetToLobby(r, true)
		return r.Clone(), nil
	default:
		return nil, ErrMatchInProgress
	}
}

// RoomByCode looks a room up by its exact code.
func (s *Store) RoomByCode(code string) *Room {
	id, ok := s.codes[code]
	if !ok {
		return nil
	}
	return s.rooms[id].Clone()
}

// RoomByID looks a room up by id.
func (s *Store) RoomByID(id string) *Room {
	return s.rooms[id].Clone()
}

// RoomForPlayer returns the room the player is in, or nil.
func (s *Store) RoomForPlayer(playerID string) *Room {
	return s.roomOf(playerID).Clone()
}

// Stats returns room and player counters.
func (s *Store) Stats() StoreStats {
	var st StoreStats
	for _, r := range s.rooms {
		st.Rooms++
		st.Players += len(r.Players)
		if r.Privacy == PrivacyPublic {
			st.PublicRooms++
		}
		if r.Match.Stage != phase.StageLobby && r.Match.Stage != phase.StageFinished {
			st.Racing++
		}
	}
	return st
}

func (s *Store) roomOf(playerID string) *Room {
	id, ok := s.playerRoom[playerID]
	if !ok {
		return nil
	}
	return s.rooms[id]
}

func (s *Store) hostRoom(playerID string) (*Room, error) {
	r := s.roomOf(playerID)
	if r == nil {
		return nil, ErrNotInRoom
	}
	if r.HostID != playerID {
		return nil, ErrNotHost
	}
	return r, nil
}

func (s *Store) racingPlayer(playerID string) (*Room, *Player, error) {
	r := s.roomOf(playerID)
	if r == nil {
		return nil, nil, ErrNotInRoom
	}
	if r.Match.Stage != phase.StageTyping {
		return nil, nil, ErrMatchNotRunning
	}
	return r, r.Player(playerID), nil
}

func (s *Store) advance(roomID string, to phase.Stage) (*Room, error) {
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if err := phase.ServerTrack.Advance(r.Match.Stage, to); err != nil {
		return nil, &Error{Code: CodeInvalidStage, Err: err}
	}
	r.Match.Stage = to
	return r, nil
}

func (s *Store) now() int64 {
	return s.clock.Now().UnixMilli()
}

func newPlayer(id, nickname string) *Player {
	return &Player{
		ID:       id,
		Nickname: nickname,
		Status:   StatusInLobby,
	}
}

func newMatch(stage phase.Stage) Match {
	return Match{
		ID:    uuid.NewString(),
		Stage: stage,
	}
}

func resetToLobby(r *Room, clearReady bool) {
	for _, p := range r.Players {
		p.Progress = 0
		p.Stats = nil
		p.Status = StatusInLobby
		if clearReady {
			p.IsReady = false
		}
	}
	r.Match = newMatch(phase.StageLobby)
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
