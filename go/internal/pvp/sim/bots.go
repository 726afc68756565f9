// Package sim runs a race locally against simulated opponents, walking the
// same phase machine as a networked room.
package sim

import (
	"math"
	"time"
)

// MaxBots is the number of simulated opponents a local race can hold.
const MaxBots = 3

// BotProfile is the fixed typing behaviour of a simulated opponent.
type BotProfile struct {
	Name     string
	WPM      float64
	Accuracy float64
}

// BotProfiles are assigned to bots in order.
var BotProfiles = [MaxBots]BotProfile{
	{Name: "Quill", WPM: 78, Accuracy: 97},
	{Name: "Tempo", WPM: 61, Accuracy: 95},
	{Name: "Pebble", WPM: 44, Accuracy: 92},
}

// TypedChars returns how many characters a typist at wpm has typed after
// elapsed, using five characters per word, clamped to textLen.
func TypedChars(elapsed time.Duration, wpm float64, textLen int) int {
	if elapsed <= 0 || wpm <= 0 || textLen <= 0 {
		return 0
	}
	n := int(math.Floor(float64(elapsed.Milliseconds()) * wpm * 5 / 60000))
	return min(n, textLen)
}

// TimeToType is how long a typist at wpm needs for textLen characters.
func TimeToType(textLen int, wpm float64) time.Duration {
	if wpm <= 0 {
		return 0
	}
	ms := float64(textLen) * 60000 / (wpm * 5)
	return time.Duration(ms * float64(time.Millisecond))
}

// EstimateErrors converts an accuracy percentage into an error count.
func EstimateErrors(textLen int, accuracy float64) int {
	n := int(math.Round(float64(textLen) * (1 - accuracy/100)))
	return max(n, 0)
}
