package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// HTTPConfig configures the remote generation service.
type HTTPConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
	MinInterval time.Duration `yaml:"min_interval"`
}

// HTTPProvider calls the generation service at POST /v1/generate.
// Requests are spaced at least MinInterval apart; callers wait their turn.
type HTTPProvider struct {
	client  *BaseClient
	limiter *rate.Limiter
}

type generateResponse struct {
	Text string `json:"text"`
}

// NewHTTPProvider creates a provider for cfg.BaseURL.
func NewHTTPProvider(cfg HTTPConfig) *HTTPProvider {
	client := NewBaseClient(cfg.BaseURL)
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &HTTPProvider{
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Generate implements Provider.
func (p *HTTPProvider) Generate(ctx context.Context, req Request) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for generation slot: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	resp, err := p.client.Post(ctx, "/v1/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("generate text: %w", err)
	}

	var out generateResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	text := normalize(out.Text)
	if text == "" {
		return "", ErrEmptyText
	}

	log.Debug().
		Int("word_count", req.WordCount).
		Str("difficulty", req.Difficulty).
		Dur("took", time.Since(start)).
		Msg("generated text")
	return text, nil
}
