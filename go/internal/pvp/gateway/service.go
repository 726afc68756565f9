package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/mcdev12/typeduel/go/internal/identity"
	"github.com/rs/zerolog/log"
)

// Service is the PvP gateway: the hub plus its WebSocket front.
type Service struct {
	hub               *Hub
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
}

// Config holds configuration for the PvP gateway.
type Config struct {
	Connection ConnectionConfig
	Hub        HubConfig
}

// DefaultConfig returns default configuration for the PvP gateway.
func DefaultConfig() Config {
	return Config{
		Connection: DefaultConnectionConfig(),
		Hub:        DefaultHubConfig(),
	}
}

// NewService wires the gateway. Store, Timers, Texts and Clock are required.
func NewService(config Config, deps Deps, verifier identity.Verifier) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("room store is required")
	case deps.Timers == nil:
		return nil, errors.New("timer registry is required")
	case deps.Texts == nil:
		return nil, errors.New("text provider is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case verifier == nil:
		return nil, errors.New("token verifier is required")
	}

	hub := NewHub(config.Hub, deps)
	cm := NewConnectionManager(config.Connection, hub, deps.Clock)
	return &Service{
		hub:               hub,
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm, verifier, hub),
	}, nil
}

// Start runs the hub until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting pvp gateway service")
	s.hub.Run(ctx)
	log.Info().Msg("pvp gateway service stopped")
	return nil
}

// RegisterRoutes registers the gateway HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("pvp gateway routes registered")
}

// Hub exposes the hub for in-process callers such as the race simulator.
func (s *Service) Hub() *Hub {
	return s.hub
}

// Stats returns connection counters.
func (s *Service) Stats() ConnectionStats {
	return s.connectionManager.Stats()
}
