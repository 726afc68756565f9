package room

import (
	"strings"
	"unicode/utf8"
)

// WordCountRange is the stepped range of allowed word counts.
type WordCountRange struct {
	Min     int `yaml:"min"`
	Max     int `yaml:"max"`
	Step    int `yaml:"step"`
	Default int `yaml:"default"`
}

// Limits bound everything a client can ask for when creating or configuring a room.
type Limits struct {
	MinPlayers   int            `yaml:"min_players"`
	MaxPlayers   int            `yaml:"max_players"`
	NameMaxLen   int            `yaml:"name_max_len"`
	DefaultName  string         `yaml:"default_name"`
	WordCount    WordCountRange `yaml:"word_count"`
	TimeLimitMin int            `yaml:"time_limit_min_sec"`
	TimeLimitMax int            `yaml:"time_limit_max_sec"`
	CodeLength   int            `yaml:"code_length"`
	CodeAlphabet string         `yaml:"code_alphabet"`
}

// DefaultCodeAlphabet is uppercase letters and digits without I, O, 0 and 1.
const DefaultCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultLimits returns the production limits.
func DefaultLimits() Limits {
	return Limits{
		MinPlayers:  2,
		MaxPlayers:  4,
		NameMaxLen:  32,
		DefaultName: "Race room",
		WordCount: WordCountRange{
			Min:     10,
			Max:     100,
			Step:    5,
			Default: 30,
		},
		TimeLimitMin: 15,
		TimeLimitMax: 600,
		CodeLength:   6,
		CodeAlphabet: DefaultCodeAlphabet,
	}
}

// DefaultSettings returns the settings of a freshly created room.
func (l Limits) DefaultSettings() Settings {
	return Settings{
		WordCount:  l.WordCount.Default,
		Difficulty: DifficultyMedium,
		Theme:      ThemeClassic,
	}
}

// ClampPlayers bounds a requested capacity; 0 means the maximum.
func (l Limits) ClampPlayers(n int) int {
	if n <= 0 {
		return l.MaxPlayers
	}
	return clamp(n, l.MinPlayers, l.MaxPlayers)
}

// CleanName trims and truncates a room name, falling back to the default name.
func (l Limits) CleanName(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > l.NameMaxLen {
		name = strings.TrimSpace(string([]rune(name)[:l.NameMaxLen]))
	}
	if name == "" {
		return l.DefaultName
	}
	return name
}

// ClampWordCount snaps n to the nearest valid step inside the range.
func (l Limits) ClampWordCount(n int) int {
	wc := l.WordCount
	if n <= 0 {
		return wc.Default
	}
	n = clamp(n, wc.Min, wc.Max)
	if wc.Step > 1 {
		steps := (n - wc.Min + wc.Step/2) / wc.Step
		n = clamp(wc.Min+steps*wc.Step, wc.Min, wc.Max)
	}
	return n
}

// ApplySettings merges patch into base and sanitizes the result.
func (l Limits) ApplySettings(base Settings, patch SettingsPatch) Settings {
	out := base
	out.TimeLimitSec = cloneInt(base.TimeLimitSec)

	if patch.WordCount != nil {
		out.WordCount = *patch.WordCount
	}
	if patch.Difficulty != nil {
		out.Difficulty = *patch.Difficulty
	}
	if patch.Theme != nil {
		out.Theme = *patch.Theme
	}
	if patch.TimeLimitSec != nil {
		out.TimeLimitSec = cloneInt(patch.TimeLimitSec)
	}
	return l.SanitizeSettings(out)
}

// SanitizeSettings replaces invalid values with defaults and clamps ranges.
func (l Limits) SanitizeSettings(s Settings) Settings {
	s.WordCount = l.ClampWordCount(s.WordCount)
	if !s.Difficulty.Valid() {
		s.Difficulty = DifficultyMedium
	}
	if !s.Theme.Valid() {
		s.Theme = ThemeClassic
	}
	if s.TimeLimitSec != nil {
		if *s.TimeLimitSec <= 0 {
			s.TimeLimitSec = nil
		} else {
			v := clamp(*s.TimeLimitSec, l.TimeLimitMin, l.TimeLimitMax)
			s.TimeLimitSec = &v
		}
	}
	return s
}

// Valid reports whether d is a known difficulty.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Valid reports whether t is a known theme.
func (t Theme) Valid() bool {
	switch t {
	case ThemeClassic, ThemeMidnight, ThemeForest, ThemeSunset:
		return true
	}
	return false
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
