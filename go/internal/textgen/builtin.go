package textgen

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
)

// DefaultLanguage is used when a request names no language.
const DefaultLanguage = "en"

var builtinWords = map[string][]string{
	"easy": strings.Fields(`
		the and for you not are but can all had her was one our out day get has him his how
		man new now old see two way who boy did its let put say she too use time make like
		long look more part come work call made find give good hand high home just keep kind
		last left life line live move much name need next open over play read room same show
		side small sound still take tell than that them then they this tree turn want well went
		what when word year your back been best both door down each even fast felt food free
	`),
	"medium": strings.Fields(`
		about above across action almost always animal answer around before began behind
		better between bright broken change circle city clear close color common country
		course cover damage danger decide degree design detail develop differ direct distant
		divide during early earth effect either energy enough entire equal escape evening
		every example except family famous farther father figure finger finish follow forest
		forward friend garden gather general gentle ground group growth happen health heavy
		history however hunger island itself journey kitchen language larger laugh learn
		letter listen little market matter measure middle minute modern moment morning mother
		mountain nature nearly notice number object ocean office orange order other paper
	`),
	"hard": strings.Fields(`
		abstraction accommodate acquaintance acknowledgment alphabetical ambiguous anomaly
		apparatus archipelago arithmetic asynchronous atmosphere bureaucracy catastrophe
		characteristic chronological circumference coefficient collaborate commemorate
		comprehensive conscientious consequence contemporary correspondence counterfeit
		cryptography deterministic discrepancy dissertation electromagnetic embarrassment
		encyclopedia entrepreneur environmental equilibrium exaggerate extraordinary
		fluorescent government hierarchy hypothesis idiosyncrasy illuminate immediately
		independent infrastructure intelligence interference juxtaposition kaleidoscope
		labyrinth maintenance mediterranean millennium miscellaneous mischievous negotiation
		occasionally parliament perseverance phenomenon philosophical photosynthesis
		questionnaire quintessential reconnaissance rhythm semiconductor silhouette
		sophisticated synchronous temperature thermodynamics threshold transcendental
		ubiquitous unprecedented vacuum vulnerability whimsical xylophone zealous
	`),
}

// Builtin builds passages from the compiled-in English word lists. It never
// fails for a positive word count, so it closes every chain.
type Builtin struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewBuiltin creates a builtin provider seeded with seed.
func NewBuiltin(seed uint64) *Builtin {
	return &Builtin{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Generate implements Provider. The language is ignored.
func (b *Builtin) Generate(_ context.Context, req Request) (string, error) {
	words, ok := builtinWords[req.Difficulty]
	if !ok {
		words = builtinWords["medium"]
	}
	if req.WordCount <= 0 {
		return "", ErrEmptyText
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return composeText(words, req.WordCount, b.rng.IntN), nil
}

// BuiltinWords returns a copy of the compiled-in list for difficulty, or nil
// for an unknown difficulty.
func BuiltinWords(difficulty string) []string {
	words, ok := builtinWords[difficulty]
	if !ok {
		return nil
	}
	return append([]string(nil), words...)
}
