package textgen

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ErrNoWords is returned when the dictionary has nothing for a request.
var ErrNoWords = errors.New("no dictionary words")

// DictionaryTable is the table the dictionary reads and seed_words fills.
const DictionaryTable = "dictionary_words"

// Querier is the subset of pgxpool.Pool the dictionary needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Dictionary builds passages from words stored in Postgres.
type Dictionary struct {
	db       Querier
	poolSize int
	intn     func(int) int
}

// NewDictionary creates a dictionary provider over db.
func NewDictionary(db Querier) *Dictionary {
	return &Dictionary{
		db:       db,
		poolSize: 200,
		intn:     rand.IntN,
	}
}

// Generate implements Provider.
func (d *Dictionary) Generate(ctx context.Context, req Request) (string, error) {
	lang := req.Language
	if lang == "" {
		lang = DefaultLanguage
	}

	rows, err := d.db.Query(ctx, `
        SELECT word FROM `+DictionaryTable+`
        WHERE language = $1 AND difficulty = $2
        ORDER BY random()
        LIMIT $3
    `, lang, req.Difficulty, d.poolSize)
	if err != nil {
		return "", fmt.Errorf("query dictionary: %w", err)
	}
	words, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return "", fmt.Errorf("collect dictionary words: %w", err)
	}
	if len(words) == 0 {
		return "", fmt.Errorf("%w for %s/%s", ErrNoWords, lang, req.Difficulty)
	}
	return composeText(words, req.WordCount, d.intn), nil
}

// composeText draws n words from the pool. Consecutive duplicates are avoided
// when the pool has more than one word.
func composeText(pool []string, n int, intn func(int) int) string {
	if n <= 0 || len(pool) == 0 {
		return ""
	}
	out := make([]string, 0, n)
	prev := -1
	for len(out) < n {
		i := intn(len(pool))
		if i == prev && len(pool) > 1 {
			i = (i + 1) % len(pool)
		}
		out = append(out, pool[i])
		prev = i
	}
	return strings.Join(out, " ")
}
