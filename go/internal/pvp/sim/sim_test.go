package sim

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typeduel/go/internal/pvp/phase"
	"github.com/mcdev12/typeduel/go/internal/pvp/room"
	"github.com/mcdev12/typeduel/go/internal/textgen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 100 characters; the first bot (78 wpm) needs 15384.6ms for it.
var hundredChars = strings.Repeat("abcd ", 20)

func fixedText(context.Context, textgen.Request) (string, error) {
	return hundredChars, nil
}

func TestTypedChars(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		wpm     float64
		textLen int
		want    int
	}{
		{name: "one second at 60 wpm", elapsed: time.Second, wpm: 60, textLen: 100, want: 5},
		{name: "floors partial characters", elapsed: 1199 * time.Millisecond, wpm: 60, textLen: 100, want: 5},
		{name: "clamped to text", elapsed: time.Minute, wpm: 120, textLen: 100, want: 100},
		{name: "before start", elapsed: -time.Second, wpm: 60, textLen: 100, want: 0},
		{name: "zero wpm", elapsed: time.Second, wpm: 0, textLen: 100, want: 0},
		{name: "empty text", elapsed: time.Second, wpm: 60, textLen: 0, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TypedChars(tt.elapsed, tt.wpm, tt.textLen))
		})
	}
}

func TestEstimateErrors(t *testing.T) {
	assert.Equal(t, 3, EstimateErrors(100, 97))
	assert.Equal(t, 8, EstimateErrors(100, 92))
	assert.Equal(t, 0, EstimateErrors(100, 100))
	assert.Equal(t, 0, EstimateErrors(100, 110))
	assert.Equal(t, 2, EstimateErrors(45, 95), "2.25 rounds down")
}

func TestTimeToType(t *testing.T) {
	assert.Equal(t, 20*time.Second, TimeToType(100, 60))
	assert.Zero(t, TimeToType(100, 0))
}

func TestNewRace_ClampsBots(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := DefaultConfig()

	cfg.Bots = 7
	snap := NewRace(cfg, textgen.ProviderFunc(fixedText), clock).Snapshot()
	require.Len(t, snap.Room.Players, 1+MaxBots)
	assert.Equal(t, "Quill", snap.Room.Players[1].Nickname)
	assert.Equal(t, "Pebble", snap.Room.Players[3].Nickname)

	cfg.Bots = -1
	snap = NewRace(cfg, textgen.ProviderFunc(fixedText), clock).Snapshot()
	require.Len(t, snap.Room.Players, 1)
	assert.Equal(t, phase.StageIdle, snap.Stage)
}

func TestRace_Phases(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	cfg := DefaultConfig()
	cfg.Bots = 1
	race := NewRace(cfg, textgen.ProviderFunc(fixedText), clock)

	require.NoError(t, race.Prepare(context.Background()))
	snap := race.Snapshot()
	assert.Equal(t, phase.StageSyncing, snap.Stage)
	assert.Equal(t, hundredChars, snap.Room.Match.Text)
	require.NotNil(t, snap.Room.Match.StartAt)
	assert.Equal(t, clock.Now().Add(3700*time.Millisecond).UnixMilli(), *snap.Room.Match.StartAt)
	assert.Equal(t, room.StatusLoading, snap.Room.Players[0].Status)

	assert.Equal(t, phase.StageSyncing, race.Step(clock.Now()))
	assert.ErrorIs(t, race.Type(10, 0), ErrNotTyping)

	clock.Advance(700 * time.Millisecond)
	assert.Equal(t, phase.StageCountdown, race.Step(clock.Now()))
	assert.Equal(t, 3, race.Snapshot().Countdown)

	clock.Advance(1500 * time.Millisecond)
	race.Step(clock.Now())
	assert.Equal(t, 2, race.Snapshot().Countdown)

	clock.Advance(1500 * time.Millisecond)
	assert.Equal(t, phase.StageTyping, race.Step(clock.Now()))

	clock.Advance(10 * time.Second)
	race.Step(clock.Now())
	require.NoError(t, race.Type(50, 1))
	snap = race.Snapshot()
	assert.InDelta(t, 0.65, snap.Room.Players[1].Progress, 1e-9)
	assert.InDelta(t, 0.5, snap.Room.Players[0].Progress, 1e-9)
	assert.Equal(t, room.StatusTyping, snap.Room.Players[1].Status)

	clock.Advance(5385 * time.Millisecond)
	assert.Equal(t, phase.StageTyping, race.Step(clock.Now()), "the human is still typing")
	snap = race.Snapshot()
	bot := snap.Room.Players[1]
	assert.Equal(t, room.StatusFinished, bot.Status)
	require.NotNil(t, bot.Stats)
	assert.Equal(t, 3, bot.Stats.Errors)
	assert.InDelta(t, 15.3846, bot.Stats.TimeSec, 1e-3)
	require.NotNil(t, snap.Room.Match.FirstFinishAt)

	clock.Advance(10 * time.Second)
	assert.Equal(t, phase.StageFinished, race.Step(clock.Now()), "grace window elapsed")

	standings := race.Standings()
	require.Len(t, standings, 2)
	assert.Equal(t, "bot-1", standings[0].PlayerID)
	assert.Equal(t, HumanID, standings[1].PlayerID)
}

func TestRace_AllFinishedEndsImmediately(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := DefaultConfig()
	cfg.Bots = 1
	race := NewRace(cfg, textgen.ProviderFunc(fixedText), clock)
	require.NoError(t, race.Prepare(context.Background()))

	clock.Advance(cfg.Timing.LeadTime())
	require.Equal(t, phase.StageTyping, race.Step(clock.Now()))

	clock.Advance(12 * time.Second)
	require.NoError(t, race.Type(len(hundredChars), 0))
	assert.Equal(t, phase.StageTyping, race.Step(clock.Now()))

	clock.Advance(4 * time.Second)
	assert.Equal(t, phase.StageFinished, race.Step(clock.Now()))

	standings := race.Standings()
	assert.Equal(t, HumanID, standings[0].PlayerID)
	human := race.Snapshot().Room.Players[0]
	require.NotNil(t, human.Stats)
	assert.InDelta(t, 100.0, human.Stats.Accuracy, 1e-9)
	assert.InDelta(t, 100.0, human.Stats.WPM, 1e-9, "100 chars in 12s")
}

func TestRace_SkipsStagesOnLargeJump(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := DefaultConfig()
	cfg.Bots = 0
	race := NewRace(cfg, textgen.ProviderFunc(fixedText), clock)
	require.NoError(t, race.Prepare(context.Background()))

	clock.Advance(time.Minute)
	assert.Equal(t, phase.StageTyping, race.Step(clock.Now()), "syncing walks through countdown to typing")
}

func TestRace_PrepareFailureReturnsToIdle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	failing := textgen.ProviderFunc(func(context.Context, textgen.Request) (string, error) {
		return "", textgen.ErrEmptyText
	})
	race := NewRace(DefaultConfig(), failing, clock)

	err := race.Prepare(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, textgen.ErrEmptyText))
	assert.Equal(t, phase.StageIdle, race.Snapshot().Stage)

	require.Error(t, race.Prepare(context.Background()), "a failed race can be retried")
}

func TestRace_Run(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := DefaultConfig()
	cfg.Bots = 2
	cfg.Tick = time.Second
	race := NewRace(cfg, textgen.ProviderFunc(fixedText), clock)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stages := make(chan phase.Stage, 128)
	done := make(chan error, 1)
	go func() {
		done <- race.Run(ctx, func(s Snapshot) { stages <- s.Stage })
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	for i := 0; i < 60; i++ {
		clock.Advance(time.Second)
		select {
		case <-stages:
		case <-ctx.Done():
			t.Fatal("race did not tick")
		}
		if race.Snapshot().Stage == phase.StageFinished {
			break
		}
	}

	require.NoError(t, <-done)
	assert.Equal(t, phase.StageFinished, race.Snapshot().Stage)
}

func TestDemoRooms(t *testing.T) {
	limits := room.DefaultLimits()
	rooms := DemoRooms(limits, clockwork.NewFakeClock())
	require.Len(t, rooms, 4)

	for _, d := range rooms {
		assert.Equal(t, phase.StageLobby, d.Stage)
		assert.LessOrEqual(t, d.Players, d.MaxPlayers)
		assert.Equal(t, d.Settings.ModeLabel(), d.Mode)
		assert.NotEmpty(t, d.HostName)
	}

	cfg := rooms[2].RaceConfig("Ada")
	assert.Equal(t, "Ada", cfg.Nickname)
	assert.Equal(t, 3, cfg.Bots)
	assert.Equal(t, 50, cfg.Settings.WordCount)
	assert.Equal(t, room.DifficultyHard, rooms[3].RaceConfig("Ada").Settings.Difficulty)
}
