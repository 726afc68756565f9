package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typeduel/go/internal/pvp/phase"
	"github.com/mcdev12/typeduel/go/internal/pvp/room"
	"github.com/mcdev12/typeduel/go/internal/pvp/sim"
	"github.com/mcdev12/typeduel/go/internal/textgen"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	nickname := flag.String("nickname", "You", "nickname of the simulated typist")
	bots := flag.Int("bots", 2, "number of bots (0-3)")
	words := flag.Int("words", 30, "word count")
	difficulty := flag.String("difficulty", string(room.DifficultyMedium), "easy, medium or hard")
	wpm := flag.Float64("wpm", 65, "typing speed of the simulated typist")
	accuracy := flag.Float64("accuracy", 96, "accuracy percentage of the simulated typist")
	tick := flag.Duration("tick", 100*time.Millisecond, "simulation tick")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	limits := room.DefaultLimits()
	cfg := sim.DefaultConfig()
	cfg.Nickname = *nickname
	cfg.Bots = *bots
	cfg.Tick = *tick
	cfg.Settings = limits.SanitizeSettings(room.Settings{
		WordCount:  *words,
		Difficulty: room.Difficulty(*difficulty),
		Theme:      room.ThemeClassic,
	})

	clock := clockwork.NewRealClock()
	race := sim.NewRace(cfg, textgen.NewBuiltin(uint64(clock.Now().UnixNano())), clock)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lastStage := phase.StageIdle
	lastCountdown := -1
	err := race.Run(ctx, func(s sim.Snapshot) {
		if s.Stage != lastStage {
			log.Info().Str("stage", string(s.Stage)).Msg("stage changed")
			lastStage = s.Stage
		}
		if s.Stage == phase.StageCountdown && s.Countdown != lastCountdown {
			log.Info().Int("countdown", s.Countdown).Msg("get ready")
			lastCountdown = s.Countdown
		}
		if s.Stage != phase.StageTyping || s.Room.Match.StartAt == nil {
			return
		}

		textLen := len(s.Room.Match.Text)
		elapsed := clock.Since(time.UnixMilli(*s.Room.Match.StartAt))
		typed := sim.TypedChars(elapsed, *wpm, textLen)
		errs := sim.EstimateErrors(typed, *accuracy)
		if err := race.Type(typed, errs); err != nil {
			log.Debug().Err(err).Msg("typing ignored")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Msg("race failed")
	}

	for _, st := range race.Standings() {
		ev := log.Info().
			Int("place", st.Place).
			Str("nickname", st.Nickname).
			Bool("finished", st.Finished).
			Float64("progress", st.Progress)
		if st.Stats != nil {
			ev = ev.Float64("wpm", st.Stats.WPM).
				Float64("accuracy", st.Stats.Accuracy).
				Int("errors", st.Stats.Errors).
				Float64("time_sec", st.Stats.TimeSec)
		}
		ev.Msg("standing")
	}
}
