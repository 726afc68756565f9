package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typeduel/go/internal/config"
	"github.com/mcdev12/typeduel/go/internal/identity"
	"github.com/mcdev12/typeduel/go/internal/pvp/feed"
	"github.com/mcdev12/typeduel/go/internal/pvp/gateway"
	"github.com/mcdev12/typeduel/go/internal/pvp/room"
	"github.com/mcdev12/typeduel/go/internal/pvp/timers"
	"github.com/mcdev12/typeduel/go/internal/textgen"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Gateway   *gateway.Service
	Queue     *feed.Queue
	Pool      *pgxpool.Pool
	publisher feed.Publisher
	started   bool
}

func setupServices(ctx context.Context, cfg config.Config) (*Services, error) {
	// Wire up dependency injection chain
	// Clock → Store/Timers → Text providers → Event feed → Gateway
	clock := clockwork.NewRealClock()

	store, err := room.NewStore(cfg.PvP.Rooms, clock)
	if err != nil {
		return nil, fmt.Errorf("failed to create room store: %w", err)
	}

	verifier, err := identity.NewJWTVerifier(cfg.Auth, clock)
	if err != nil {
		return nil, fmt.Errorf("failed to create token verifier: %w", err)
	}

	s := &Services{}
	if cfg.Database.Enabled {
		if s.Pool, err = setupDatabase(ctx, cfg.Database); err != nil {
			return nil, err
		}
	}

	if cfg.NATS.Enabled {
		pub, err := feed.NewJetStreamPublisher(ctx, cfg.NATS.JetStream)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect event publisher: %w", err)
		}
		s.publisher = pub
	} else {
		s.publisher = feed.LogPublisher{}
	}
	s.Queue = feed.NewQueue(s.publisher, cfg.NATS.Queue)

	s.Gateway, err = gateway.NewService(cfg.Gateway(), gateway.Deps{
		Store:  store,
		Timers: timers.New(clock),
		Texts:  setupTexts(cfg.TextGen, s.Pool),
		Events: s.Queue,
		Clock:  clock,
	}, verifier)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create pvp gateway: %w", err)
	}
	return s, nil
}

// setupTexts orders the text sources from most to least varied. The builtin
// lists always answer.
func setupTexts(cfg config.TextGenConfig, pool *pgxpool.Pool) textgen.Provider {
	var providers []textgen.Named
	if cfg.HTTP.BaseURL != "" {
		providers = append(providers, textgen.Named{Name: "http", Provider: textgen.NewHTTPProvider(cfg.HTTP)})
	}
	if cfg.Dictionary && pool != nil {
		providers = append(providers, textgen.Named{Name: "dictionary", Provider: textgen.NewDictionary(pool)})
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	providers = append(providers, textgen.Named{Name: "builtin", Provider: textgen.NewBuiltin(seed)})

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name)
	}
	log.Info().Strs("providers", names).Msg("text generation configured")
	return textgen.NewChain(providers...)
}

func setupDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("user", cfg.User).
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("connected to database")
	return pool, nil
}

// StartQueue starts delivering feed events.
func (s *Services) StartQueue(ctx context.Context) error {
	if err := s.Queue.Start(ctx); err != nil {
		return err
	}
	s.started = true
	return nil
}

// Close drains the event queue and releases the publisher and the database
// pool.
func (s *Services) Close() {
	if s.started {
		// Stop closes the publisher.
		if err := s.Queue.Stop(); err != nil {
			log.Error().Err(err).Msg("event queue shutdown failed")
		}
		s.started = false
		s.publisher = nil
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close event publisher")
		}
		s.publisher = nil
	}
	if s.Pool != nil {
		s.Pool.Close()
		s.Pool = nil
	}
}
