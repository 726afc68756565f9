package sim

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typeduel/go/internal/pvp/phase"
	"github.com/mcdev12/typeduel/go/internal/pvp/room"
)

// DemoRoom is an offline lobby entry backed by bots.
type DemoRoom struct {
	room.PublicRoom
	Settings room.Settings
}

type demoSeed struct {
	code       string
	name       string
	bots       int
	maxPlayers int
	wordCount  int
	difficulty room.Difficulty
}

var demoSeeds = []demoSeed{
	{code: "DEMO01", name: "Warm-up lap", bots: 1, maxPlayers: 2, wordCount: 20, difficulty: room.DifficultyEasy},
	{code: "DEMO02", name: "Lunch break sprint", bots: 2, maxPlayers: 4, wordCount: 30, difficulty: room.DifficultyMedium},
	{code: "DEMO03", name: "Night owls", bots: 3, maxPlayers: 4, wordCount: 50, difficulty: room.DifficultyMedium},
	{code: "DEMO04", name: "Punctuation gauntlet", bots: 2, maxPlayers: 3, wordCount: 40, difficulty: room.DifficultyHard},
}

// DemoRooms returns the offline room listing, projected exactly like the
// public listing of a live server.
func DemoRooms(limits room.Limits, clock clockwork.Clock) []DemoRoom {
	now := clock.Now().UnixMilli()
	out := make([]DemoRoom, 0, len(demoSeeds))
	for i, seed := range demoSeeds {
		settings := limits.SanitizeSettings(room.Settings{
			WordCount:  seed.wordCount,
			Difficulty: seed.difficulty,
			Theme:      room.ThemeClassic,
		})
		r := &room.Room{
			ID:         fmt.Sprintf("demo-%d", i+1),
			Code:       seed.code,
			Name:       limits.CleanName(seed.name),
			Privacy:    room.PrivacyPublic,
			MaxPlayers: limits.ClampPlayers(seed.maxPlayers),
			Settings:   settings,
			CreatedAt:  now,
			Match:      room.Match{Stage: phase.StageLobby},
		}
		for b := 0; b < seed.bots; b++ {
			p := BotProfiles[b]
			r.Players = append(r.Players, &room.Player{
				ID:       fmt.Sprintf("%s-bot-%d", r.ID, b+1),
				Nickname: p.Name,
				IsHost:   b == 0,
				IsReady:  true,
				PingMs:   20 + 15*b,
				Status:   room.StatusInLobby,
			})
		}
		r.HostID = r.Players[0].ID
		out = append(out, DemoRoom{PublicRoom: r.Public(), Settings: settings})
	}
	return out
}

// RaceConfig returns a local race against the room's bots.
func (d DemoRoom) RaceConfig(nickname string) Config {
	cfg := DefaultConfig()
	cfg.Nickname = nickname
	cfg.Bots = min(d.Players, MaxBots)
	cfg.Settings = d.Settings
	return cfg
}
