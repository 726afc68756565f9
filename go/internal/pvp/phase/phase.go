// Package phase defines the race phase machine shared by the server-side room
// store and the local (bot-filled) race simulation.
package phase

import (
	"errors"
	"fmt"
	"time"
)

// Stage is the coarse phase of a race.
type Stage string

const (
	// StageIdle and StageGenerating only exist on the local track.
	StageIdle       Stage = "idle"
	StageGenerating Stage = "generating"

	StageLobby     Stage = "lobby"
	StageSyncing   Stage = "syncing"
	StageCountdown Stage = "countdown"
	StageTyping    Stage = "typing"
	StageFinished  Stage = "finished"
)

// ErrInvalidTransition is returned when a stage change is not the next step on a track.
var ErrInvalidTransition = errors.New("invalid stage transition")

// Track is the ordered list of stages a race walks through. Stages only move
// forward, one step at a time.
type Track []Stage

var (
	// ServerTrack is walked by rooms on the server.
	ServerTrack = Track{StageLobby, StageSyncing, StageCountdown, StageTyping, StageFinished}
	// LocalTrack is walked by a local race against bots.
	LocalTrack = Track{StageIdle, StageGenerating, StageSyncing, StageCountdown, StageTyping, StageFinished}
)

// First returns the initial stage of the track.
func (t Track) First() Stage {
	return t[0]
}

// Contains reports whether s is part of the track.
func (t Track) Contains(s Stage) bool {
	return t.index(s) >= 0
}

// Next returns the stage following s, or false if s is the last stage or unknown.
func (t Track) Next(s Stage) (Stage, bool) {
	i := t.index(s)
	if i < 0 || i == len(t)-1 {
		return "", false
	}
	return t[i+1], true
}

// CanAdvance reports whether to directly follows from on the track.
func (t Track) CanAdvance(from, to Stage) bool {
	next, ok := t.Next(from)
	return ok && next == to
}

// Advance validates the transition from -> to.
func (t Track) Advance(from, to Stage) error {
	if !t.CanAdvance(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

func (t Track) index(s Stage) int {
	for i, st := range t {
		if st == s {
			return i
		}
	}
	return -1
}

// Racer is the slice of a player that the transition guards look at.
type Racer struct {
	ID       string
	Progress float64
	Finished bool
}

// PlayerSource supplies the racers of a race. Rooms implement it from their
// player list; the local simulation implements it from its bots.
type PlayerSource interface {
	Racers() []Racer
}

// AllFinished reports whether there is at least one racer and every racer finished.
func AllFinished(src PlayerSource) bool {
	racers := src.Racers()
	if len(racers) == 0 {
		return false
	}
	for _, r := range racers {
		if !r.Finished {
			return false
		}
	}
	return true
}

// Marks are the wall-clock anchors of a running race. Zero values mean unset.
type Marks struct {
	StartAt       time.Time
	FirstFinishAt time.Time
}

// Timing holds the durations that drive the wall-clock transitions.
type Timing struct {
	SyncHold         time.Duration
	CountdownSeconds int
	CountdownTick    time.Duration
	FinishGrace      time.Duration
}

// DefaultTiming returns the production timing.
func DefaultTiming() Timing {
	return Timing{
		SyncHold:         700 * time.Millisecond,
		CountdownSeconds: 3,
		CountdownTick:    time.Second,
		FinishGrace:      10 * time.Second,
	}
}

// LeadTime is the time between entering countdown and typing start.
func (t Timing) LeadTime() time.Duration {
	return t.SyncHold + time.Duration(t.CountdownSeconds)*t.CountdownTick
}

// StartAt returns when typing begins for a countdown entered at now.
func (t Timing) StartAt(now time.Time) time.Time {
	return now.Add(t.LeadTime())
}

// CountdownRemaining returns the number shown on the countdown at now: whole
// ticks left before startAt, capped at CountdownSeconds, 0 once typing began.
func (t Timing) CountdownRemaining(now, startAt time.Time) int {
	left := startAt.Sub(now)
	if left <= 0 || t.CountdownTick <= 0 {
		return 0
	}
	n := int((left + t.CountdownTick - 1) / t.CountdownTick)
	if n > t.CountdownSeconds {
		n = t.CountdownSeconds
	}
	return n
}

// GraceDeadline returns when a race with the given first finish is force-finalized.
func (t Timing) GraceDeadline(firstFinishAt time.Time) time.Time {
	return firstFinishAt.Add(t.FinishGrace)
}

// Evaluate returns the stage the race should be in at now. It returns either
// the current stage or the next one; stages that are advanced by explicit
// actions (lobby, syncing, idle, generating) are returned unchanged.
func (t Timing) Evaluate(stage Stage, now time.Time, marks Marks, src PlayerSource) Stage {
	switch stage {
	case StageCountdown:
		if !marks.StartAt.IsZero() && !now.Before(marks.StartAt) {
			return StageTyping
		}
	case StageTyping:
		if AllFinished(src) {
			return StageFinished
		}
		if !marks.FirstFinishAt.IsZero() && !now.Before(t.GraceDeadline(marks.FirstFinishAt)) {
			return StageFinished
		}
	}
	return stage
}
