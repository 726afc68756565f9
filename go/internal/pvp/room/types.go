package room

import (
	"github.com/mcdev12/typeduel/go/internal/pvp/phase"
)

// Privacy controls whether a room shows up in the public listing.
type Privacy string

const (
	PrivacyPublic  Privacy = "public"
	PrivacyPrivate Privacy = "private"
)

// Difficulty of the generated race text.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Theme is the visual theme picked by the host.
type Theme string

const (
	ThemeClassic  Theme = "classic"
	ThemeMidnight Theme = "midnight"
	ThemeForest   Theme = "forest"
	ThemeSunset   Theme = "sunset"
)

// PlayerStatus is where a single player is within the current match.
type PlayerStatus string

const (
	StatusInLobby  PlayerStatus = "in_lobby"
	StatusLoading  PlayerStatus = "loading"
	StatusTyping   PlayerStatus = "typing"
	StatusFinished PlayerStatus = "finished"
)

// Settings are the match settings negotiated in the lobby.
type Settings struct {
	WordCount    int        `json:"wordCount"`
	Difficulty   Difficulty `json:"difficulty"`
	Theme        Theme      `json:"theme"`
	TimeLimitSec *int       `json:"timeLimitSec"`
}

// SettingsPatch is a partial settings update. Nil fields are left untouched;
// a TimeLimitSec of 0 clears the limit.
type SettingsPatch struct {
	WordCount    *int        `json:"wordCount,omitempty"`
	Difficulty   *Difficulty `json:"difficulty,omitempty"`
	Theme        *Theme      `json:"theme,omitempty"`
	TimeLimitSec *int        `json:"timeLimitSec,omitempty"`
}

// Stats are the typing results reported by a client.
type Stats struct {
	WPM      float64 `json:"wpm"`
	Accuracy float64 `json:"accuracy"`
	Errors   int     `json:"errors"`
	TimeSec  float64 `json:"timeSec"`
}

// ProgressReport is a live progress update from a client.
type ProgressReport struct {
	Progress float64 `json:"progress"`
	Stats
}

// Player is a member of a room.
type Player struct {
	ID       string       `json:"id"`
	Nickname string       `json:"nickname"`
	IsHost   bool         `json:"isHost"`
	IsReady  bool         `json:"isReady"`
	PingMs   int          `json:"pingMs"`
	Progress float64      `json:"progress"`
	Status   PlayerStatus `json:"status"`
	Stats    *Stats       `json:"stats"`
}

// Match is the race state embedded in a room. Timestamps are epoch milliseconds.
type Match struct {
	ID            string      `json:"id"`
	Stage         phase.Stage `json:"stage"`
	Text          string      `json:"text"`
	StartAt       *int64      `json:"startAt"`
	FinishedAt    *int64      `json:"finishedAt"`
	FirstFinishAt *int64      `json:"firstFinishAt"`
}

// Room is a lobby of 2-4 players sharing match settings.
type Room struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	Privacy    Privacy   `json:"privacy"`
	MaxPlayers int       `json:"maxPlayers"`
	HostID     string    `json:"hostId"`
	Settings   Settings  `json:"settings"`
	Players    []*Player `json:"players"`
	CreatedAt  int64     `json:"createdAt"`
	Match      Match     `json:"match"`
}

// CreateOptions are the optional parameters of CreateRoom. Zero values take defaults.
type CreateOptions struct {
	MaxPlayers int
	Privacy    Privacy
	Name       string
	Settings   SettingsPatch
}

// Player returns the member with the given id, or nil.
func (r *Room) Player(id string) *Player {
	for _, p := range r.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Host returns the host player, or nil.
func (r *Room) Host() *Player {
	return r.Player(r.HostID)
}

// Full reports whether the room is at capacity.
func (r *Room) Full() bool {
	return len(r.Players) >= r.MaxPlayers
}

// Racers implements phase.PlayerSource.
func (r *Room) Racers() []phase.Racer {
	out := make([]phase.Racer, 0, len(r.Players))
	for _, p := range r.Players {
		out = append(out, phase.Racer{
			ID:       p.ID,
			Progress: p.Progress,
			Finished: p.Status == StatusFinished,
		})
	}
	return out
}

// AllFinished reports whether every player in the room finished the race.
func (r *Room) AllFinished() bool {
	return phase.AllFinished(r)
}

// Clone returns a deep copy of the room.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Settings.TimeLimitSec = cloneInt(r.Settings.TimeLimitSec)
	c.Match.StartAt = cloneInt64(r.Match.StartAt)
	c.Match.FinishedAt = cloneInt64(r.Match.FinishedAt)
	c.Match.FirstFinishAt = cloneInt64(r.Match.FirstFinishAt)
	c.Players = make([]*Player, len(r.Players))
	for i, p := range r.Players {
		pc := *p
		if p.Stats != nil {
			s := *p.Stats
			pc.Stats = &s
		}
		c.Players[i] = &pc
	}
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
