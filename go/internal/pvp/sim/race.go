package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typeduel/go/internal/pvp/phase"
	"github.com/mcdev12/typeduel/go/internal/pvp/room"
	"github.com/mcdev12/typeduel/go/internal/textgen"
	"github.com/rs/zerolog/log"
)

// HumanID is the player id of the local typist.
const HumanID = "local"

// ErrNotTyping is returned by Type outside the typing stage.
var ErrNotTyping = errors.New("race is not in the typing stage")

// Config describes a local race.
type Config struct {
	Nickname string
	Bots     int
	Settings room.Settings
	Language string
	Tick     time.Duration
	Timing   phase.Timing
}

// DefaultConfig returns a two-bot race with default room settings.
func DefaultConfig() Config {
	return Config{
		Nickname: "You",
		Bots:     2,
		Settings: room.DefaultLimits().DefaultSettings(),
		Language: textgen.DefaultLanguage,
		Tick:     100 * time.Millisecond,
		Timing:   phase.DefaultTiming(),
	}
}

type racer struct {
	id         string
	nickname   string
	bot        *BotProfile
	typed      int
	errors     int
	finished   bool
	finishedAt time.Time
}

// Race is a local race of one human against up to MaxBots bots. It is safe for
// concurrent use.
type Race struct {
	clock  clockwork.Clock
	texts  textgen.Provider
	config Config
	id     string

	mu      sync.Mutex
	stage   phase.Stage
	text    string
	players []*racer
	marks   phase.Marks
}

// Snapshot is the renderable state of a race.
type Snapshot struct {
	Stage     phase.Stage
	Countdown int
	Room      *room.Room
}

// NewRace creates an idle race.
func NewRace(cfg Config, texts textgen.Provider, clock clockwork.Clock) *Race {
	def := DefaultConfig()
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	if cfg.Timing == (phase.Timing{}) {
		cfg.Timing = def.Timing
	}
	if cfg.Nickname == "" {
		cfg.Nickname = def.Nickname
	}
	cfg.Bots = max(0, min(cfg.Bots, MaxBots))

	r := &Race{
		clock:  clock,
		texts:  texts,
		config: cfg,
		id:     uuid.NewString(),
		stage:  phase.LocalTrack.First(),
	}
	r.players = append(r.players, &racer{id: HumanID, nickname: cfg.Nickname})
	for i := 0; i < cfg.Bots; i++ {
		p := BotProfiles[i]
		r.players = append(r.players, &racer{
			id:       fmt.Sprintf("bot-%d", i+1),
			nickname: p.Name,
			bot:      &p,
		})
	}
	return r
}

// Prepare generates the race text and schedules the start. A failed
// generation puts the race back to idle.
func (r *Race) Prepare(ctx context.Context) error {
	r.mu.Lock()
	if err := r.advance(phase.StageGenerating); err != nil {
		r.mu.Unlock()
		return err
	}
	req := textgen.Request{
		WordCount:  r.config.Settings.WordCount,
		Difficulty: string(r.config.Settings.Difficulty),
		Language:   r.config.Language,
	}
	r.mu.Unlock()

	text, err := r.texts.Generate(ctx, req)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.stage = phase.LocalTrack.First()
		return fmt.Errorf("generate race text: %w", err)
	}
	if err := r.advance(phase.StageSyncing); err != nil {
		return err
	}
	r.text = text
	r.marks = phase.Marks{StartAt: r.config.Timing.StartAt(r.clock.Now())}

	log.Debug().
		Str("race_id", r.id).
		Int("bots", r.config.Bots).
		Int("text_len", len(text)).
		Time("start_at", r.marks.StartAt).
		Msg("local race prepared")
	return nil
}

// Step moves bots and stages forward to now and returns the resulting stage.
func (r *Race) Step(now time.Time) phase.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.config.Timing
	if r.stage == phase.StageSyncing {
		countdownAt := r.marks.StartAt.Add(-time.Duration(t.CountdownSeconds) * t.CountdownTick)
		if !now.Before(countdownAt) {
			r.mustAdvance(phase.StageCountdown)
		}
	}

	for {
		next := t.Evaluate(r.stage, now, r.marks, source{r})
		if next == r.stage {
			break
		}
		r.mustAdvance(next)
		if next == phase.StageTyping {
			r.moveBots(now)
		}
	}
	if r.stage == phase.StageTyping {
		r.moveBots(now)
		if next := t.Evaluate(r.stage, now, r.marks, source{r}); next != r.stage {
			r.mustAdvance(next)
		}
	}
	return r.stage
}

// Type records the local typist's progress.
func (r *Race) Type(typed, errs int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stage != phase.StageTyping {
		return ErrNotTyping
	}
	h := r.players[0]
	if h.finished {
		return nil
	}
	h.typed = max(0, min(typed, len(r.text)))
	h.errors = max(0, errs)
	if h.typed == len(r.text) {
		r.finish(h, r.clock.Now())
	}
	return nil
}

// Run prepares the race if needed and steps it on every tick until it is
// finished. onTick receives a snapshot after each step.
func (r *Race) Run(ctx context.Context, onTick func(Snapshot)) error {
	r.mu.Lock()
	idle := r.stage == phase.StageIdle
	r.mu.Unlock()
	if idle {
		if err := r.Prepare(ctx); err != nil {
			return err
		}
	}

	ticker := r.clock.NewTicker(r.config.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			stage := r.Step(r.clock.Now())
			if onTick != nil {
				onTick(r.Snapshot())
			}
			if stage == phase.StageFinished {
				return nil
			}
		}
	}
}

// source exposes the racers to the phase guards while r.mu is held.
type source struct{ r *Race }

func (s source) Racers() []phase.Racer {
	out := make([]phase.Racer, 0, len(s.r.players))
	for _, p := range s.r.players {
		out = append(out, phase.Racer{ID: p.id, Progress: s.r.progress(p), Finished: p.finished})
	}
	return out
}

// Snapshot returns the race as a room so it renders like a networked one.
func (r *Race) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	rm := &room.Room{
		ID:         r.id,
		Name:       "Local race",
		Privacy:    room.PrivacyPrivate,
		MaxPlayers: 1 + MaxBots,
		HostID:     HumanID,
		Settings:   r.config.Settings,
		Match: room.Match{
			ID:    r.id,
			Stage: r.stage,
			Text:  r.text,
		},
	}
	if !r.marks.StartAt.IsZero() {
		at := r.marks.StartAt.UnixMilli()
		rm.Match.StartAt = &at
	}
	if !r.marks.FirstFinishAt.IsZero() {
		at := r.marks.FirstFinishAt.UnixMilli()
		rm.Match.FirstFinishAt = &at
	}
	for _, p := range r.players {
		rm.Players = append(rm.Players, r.player(p))
	}

	snap := Snapshot{Stage: r.stage, Room: rm}
	if r.stage == phase.StageSyncing || r.stage == phase.StageCountdown {
		snap.Countdown = r.config.Timing.CountdownRemaining(now, r.marks.StartAt)
	}
	return snap
}

// Standings ranks the racers the same way a room does.
func (r *Race) Standings() []room.Standing {
	return r.Snapshot().Room.Standings()
}

func (r *Race) moveBots(now time.Time) {
	elapsed := now.Sub(r.marks.StartAt)
	for _, p := range r.players {
		if p.bot == nil || p.finished {
			continue
		}
		p.typed = TypedChars(elapsed, p.bot.WPM, len(r.text))
		if p.typed == len(r.text) {
			p.errors = EstimateErrors(len(r.text), p.bot.Accuracy)
			r.finish(p, r.marks.StartAt.Add(TimeToType(len(r.text), p.bot.WPM)))
		}
	}
}

func (r *Race) finish(p *racer, at time.Time) {
	p.finished = true
	p.finishedAt = at
	if r.marks.FirstFinishAt.IsZero() || at.Before(r.marks.FirstFinishAt) {
		r.marks.FirstFinishAt = at
	}
}

func (r *Race) player(p *racer) *room.Player {
	out := &room.Player{
		ID:       p.id,
		Nickname: p.nickname,
		IsHost:   p.id == HumanID,
		IsReady:  true,
		Progress: r.progress(p),
		Status:   r.status(p),
	}
	if r.stage == phase.StageTyping || r.stage == phase.StageFinished {
		out.Stats = r.stats(p)
	}
	return out
}

func (r *Race) status(p *racer) room.PlayerStatus {
	switch {
	case p.finished:
		return room.StatusFinished
	case r.stage == phase.StageTyping || r.stage == phase.StageFinished:
		return room.StatusTyping
	case r.stage == phase.StageSyncing || r.stage == phase.StageCountdown:
		return room.StatusLoading
	default:
		return room.StatusInLobby
	}
}

func (r *Race) stats(p *racer) *room.Stats {
	end := r.clock.Now()
	if p.finished {
		end = p.finishedAt
	}
	elapsed := end.Sub(r.marks.StartAt)
	st := &room.Stats{
		Errors:  p.errors,
		TimeSec: elapsed.Seconds(),
	}
	if p.bot != nil {
		st.WPM = p.bot.WPM
		st.Accuracy = p.bot.Accuracy
		return st
	}
	if elapsed > 0 {
		st.WPM = float64(p.typed) / 5 / elapsed.Minutes()
	}
	if p.typed > 0 {
		st.Accuracy = float64(max(p.typed-p.errors, 0)) / float64(p.typed) * 100
	}
	return st
}

func (r *Race) progress(p *racer) float64 {
	if len(r.text) == 0 {
		return 0
	}
	return float64(p.typed) / float64(len(r.text))
}

func (r *Race) advance(to phase.Stage) error {
	if err := phase.LocalTrack.Advance(r.stage, to); err != nil {
		return err
	}
	r.stage = to
	return nil
}

// mustAdvance is used where the guards already picked the next stage.
func (r *Race) mustAdvance(to phase.Stage) {
	if err := r.advance(to); err != nil {
		log.Error().Err(err).Str("race_id", r.id).Msg("local race transition rejected")
	}
}
