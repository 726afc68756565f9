package room

import (
	"fmt"
	"sort"

	"github.com/mcdev12/typeduel/go/internal/pvp/phase"
)

// PublicRoom is the lobby-browser projection of a public room.
type PublicRoom struct {
	ID         string      `json:"id"`
	Code       string      `json:"code"`
	Name       string      `json:"name"`
	HostName   string      `json:"hostName"`
	Players    int         `json:"players"`
	MaxPlayers int         `json:"maxPlayers"`
	Mode       string      `json:"mode"`
	Difficulty Difficulty  `json:"difficulty"`
	PingMs     int         `json:"pingMs"`
	Stage      phase.Stage `json:"stage"`
}

// Standing is one line of the results table.
type Standing struct {
	Place    int     `json:"place"`
	PlayerID string  `json:"playerId"`
	Nickname string  `json:"nickname"`
	Finished bool    `json:"finished"`
	Progress float64 `json:"progress"`
	Stats    *Stats  `json:"stats"`
}

// ListPublicRooms projects every public room, newest first. Private rooms are
// only reachable by code.
func (s *Store) ListPublicRooms() []PublicRoom {
	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		if r.Privacy == PrivacyPublic {
			rooms = append(rooms, r)
		}
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt != rooms[j].CreatedAt {
			return rooms[i].CreatedAt > rooms[j].CreatedAt
		}
		return rooms[i].ID < rooms[j].ID
	})

	out := make([]PublicRoom, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Public())
	}
	return out
}

// Public returns the lobby-browser projection of r.
func (r *Room) Public() PublicRoom {
	pr := PublicRoom{
		ID:         r.ID,
		Code:       r.Code,
		Name:       r.Name,
		Players:    len(r.Players),
		MaxPlayers: r.MaxPlayers,
		Mode:       r.Settings.ModeLabel(),
		Difficulty: r.Settings.Difficulty,
		Stage:      r.Match.Stage,
	}
	if host := r.Host(); host != nil {
		pr.HostName = host.Nickname
		pr.PingMs = host.PingMs
	}
	return pr
}

// ModeLabel is the short description shown in the room list.
func (s Settings) ModeLabel() string {
	if s.TimeLimitSec != nil {
		return fmt.Sprintf("%d words · %ds", s.WordCount, *s.TimeLimitSec)
	}
	return fmt.Sprintf("%d words", s.WordCount)
}

// Standings orders players for the results screen: finishers by time, then
// everyone else by progress. Ties keep join order.
func (r *Room) Standings() []Standing {
	players := make([]*Player, len(r.Players))
	copy(players, r.Players)

	sort.SliceStable(players, func(i, j int) bool {
		a, b := players[i], players[j]
		af, bf := a.Status == StatusFinished, b.Status == StatusFinished
		if af != bf {
			return af
		}
		if af {
			return finishTime(a) < finishTime(b)
		}
		return a.Progress > b.Progress
	})

	out := make([]Standing, 0, len(players))
	for i, p := range players {
		st := Standing{
			Place:    i + 1,
			PlayerID: p.ID,
			Nickname: p.Nickname,
			Finished: p.Status == StatusFinished,
			Progress: p.Progress,
		}
		if p.Stats != nil {
			stats := *p.Stats
			st.Stats = &stats
		}
		out = append(out, st)
	}
	return out
}

func finishTime(p *Player) float64 {
	if p.Stats == nil {
		return 0
	}
	return p.Stats.TimeSec
}
