// Package timers keeps the one-shot match timers of every room.
//
// A room has at most one timer per Kind. Arming a kind again replaces the
// previous timer. When a timer fires, its callback receives a Ticket; the
// owner must Claim the ticket before acting on it, so a timer that was
// cancelled after it fired but before its callback was handled does nothing.
package timers

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Kind names a timer slot of a room.
type Kind string

const (
	// KindStart moves a counting-down match into typing.
	KindStart Kind = "start"
	// KindFinishGrace ends a match once the grace window after the first finisher closes.
	KindFinishGrace Kind = "finish_grace"
)

// Ticket identifies one arming of a timer.
type Ticket struct {
	RoomID string
	Kind   Kind
	seq    uint64
}

type slot struct {
	roomID string
	kind   Kind
}

type entry struct {
	ticket Ticket
	timer  clockwork.Timer
	done   chan struct{}
}

// Registry owns the active timers.
type Registry struct {
	clock clockwork.Clock

	mu     sync.Mutex
	active map[slot]*entry
	seq    uint64
}

// New creates an empty registry.
func New(clock clockwork.Clock) *Registry {
	return &Registry{
		clock:  clock,
		active: make(map[slot]*entry),
	}
}

// Arm schedules fire to run after d, replacing any timer of the same kind in
// the room. fire runs on the timer goroutine and should only hand the ticket
// off to its owner.
func (r *Registry) Arm(roomID string, kind Kind, d time.Duration, fire func(Ticket)) Ticket {
	if d < 0 {
		d = 0
	}

	r.mu.Lock()
	r.seq++
	e := &entry{
		ticket: Ticket{RoomID: roomID, Kind: kind, seq: r.seq},
		timer:  r.clock.NewTimer(d),
		done:   make(chan struct{}),
	}
	key := slot{roomID: roomID, kind: kind}
	if existing, ok := r.active[key]; ok {
		stop(existing)
		log.Debug().Str("room_id", roomID).Str("kind", string(kind)).Msg("replaced existing timer")
	}
	r.active[key] = e
	r.mu.Unlock()

	go func(e *entry) {
		select {
		case <-e.timer.Chan():
			fire(e.ticket)
		case <-e.done:
		}
	}(e)

	log.Debug().
		Str("room_id", roomID).
		Str("kind", string(kind)).
		Dur("duration", d).
		Msg("armed timer")
	return e.ticket
}

// Armed reports whether a timer of kind is pending for the room.
func (r *Registry) Armed(roomID string, kind Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[slot{roomID: roomID, kind: kind}]
	return ok
}

// Claim consumes a fired ticket. It returns false when the ticket was
// cancelled or replaced after it fired.
func (r *Registry) Claim(t Ticket) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := slot{roomID: t.RoomID, kind: t.Kind}
	e, ok := r.active[key]
	if !ok || e.ticket.seq != t.seq {
		log.Debug().Str("room_id", t.RoomID).Str("kind", string(t.Kind)).Msg("ignoring stale timer")
		return false
	}
	delete(r.active, key)
	return true
}

// Cancel stops the room's timer of kind, if any.
func (r *Registry) Cancel(roomID string, kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := slot{roomID: roomID, kind: kind}
	if e, ok := r.active[key]; ok {
		stop(e)
		delete(r.active, key)
		log.Debug().Str("room_id", roomID).Str("kind", string(kind)).Msg("cancelled timer")
	}
}

// CancelAll stops every timer of the room.
func (r *Registry) CancelAll(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, e := range r.active {
		if key.roomID == roomID {
			stop(e)
			delete(r.active, key)
		}
	}
}

// Len returns the number of pending timers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Stop cancels every pending timer.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, e := range r.active {
		stop(e)
		delete(r.active, key)
	}
}

// stop halts the timer, drains a pending tick and releases the waiting goroutine.
func stop(e *entry) {
	if !e.timer.Stop() {
		select {
		case <-e.timer.Chan():
		default:
		}
	}
	close(e.done)
}
