// Package textgen produces race passages.
//
// Providers are tried in order by a Chain: the remote generation service,
// then the Postgres dictionary, then the built-in word lists.
package textgen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrEmptyText is returned by a provider that produced no words.
var ErrEmptyText = errors.New("empty text")

// Request describes the passage to generate.
type Request struct {
	WordCount  int    `json:"wordCount"`
	Difficulty string `json:"difficulty"`
	Language   string `json:"language"`
	Topic      string `json:"topic,omitempty"`
}

// Provider generates typing text.
type Provider interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (string, error)

// Generate calls f.
func (f ProviderFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Named attaches a name to a provider for logging.
type Named struct {
	Name     string
	Provider Provider
}

// Chain tries each provider in order and returns the first text.
type Chain struct {
	providers []Named
}

// NewChain builds a chain. Nil providers are skipped.
func NewChain(providers ...Named) *Chain {
	c := &Chain{}
	for _, p := range providers {
		if p.Provider != nil {
			c.providers = append(c.providers, p)
		}
	}
	return c
}

// Generate implements Provider.
func (c *Chain) Generate(ctx context.Context, req Request) (string, error) {
	if len(c.providers) == 0 {
		return "", errors.New("no text providers configured")
	}

	var errs []error
	for _, p := range c.providers {
		text, err := p.Provider.Generate(ctx, req)
		if err == nil {
			text = normalize(text)
			if text != "" {
				return text, nil
			}
			err = ErrEmptyText
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Warn().
			Err(err).
			Str("provider", p.Name).
			Int("word_count", req.WordCount).
			Str("difficulty", req.Difficulty).
			Msg("text provider failed, trying next")
		errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
	}
	return "", errors.Join(errs...)
}

// normalize collapses all whitespace runs to single spaces.
func normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
