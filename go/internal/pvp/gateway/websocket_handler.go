package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/mcdev12/typeduel/go/internal/identity"
	"github.com/mcdev12/typeduel/go/internal/pvp/room"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler serves the PvP socket and its read-only HTTP companions.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	verifier          identity.Verifier
	hub               *Hub
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, verifier identity.Verifier, hub *Hub) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		verifier:          verifier,
		hub:               hub,
	}
}

// HandlePvPConnection authenticates the request and upgrades it. The token is
// taken from the token query parameter or a bearer Authorization header.
func (h *WebSocketHandler) HandlePvPConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = identity.BearerToken(r.Header.Get("Authorization"))
	}

	id, err := h.verifier.Verify(r.Context(), token)
	if err != nil {
		log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("rejecting unauthenticated connection")
		writeJSON(w, http.StatusUnauthorized, ErrorPayload{Code: room.CodeUnauthorized})
		return
	}

	if err := h.connectionManager.UpgradeConnection(w, r, id); err != nil {
		// The upgrader already replied to the client.
		log.Error().
			Err(err).
			Str("user_id", id.UserID).
			Msg("failed to upgrade WebSocket connection")
	}
}

type statsResponse struct {
	Connections ConnectionStats `json:"connections"`
	Hub         HubStats        `json:"hub"`
}

// HandleConnectionStats returns statistics about active connections and rooms.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	hubStats, err := h.hub.Stats(r.Context())
	if err != nil {
		http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Connections: h.connectionManager.Stats(),
		Hub:         hubStats,
	})
}

// HandleListRooms returns the public lobby listing.
func (h *WebSocketHandler) HandleListRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rooms, err := h.hub.PublicRooms(r.Context())
	if err != nil {
		http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
		return
	}
	if rooms == nil {
		rooms = []room.PublicRoom{}
	}
	writeJSON(w, http.StatusOK, RoomsUpdate{Rooms: rooms})
}

// RegisterRoutes registers the PvP routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/pvp", h.HandlePvPConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
	mux.HandleFunc("/api/pvp/rooms", h.HandleListRooms)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}
