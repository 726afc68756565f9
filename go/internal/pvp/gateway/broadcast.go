package gateway

import (
	"github.com/mcdev12/typeduel/go/internal/pvp/room"
	"github.com/rs/zerolog/log"
)

func (h *Hub) addToGroup(roomID string, s Session) {
	members, ok := h.groups[roomID]
	if !ok {
		members = make(map[string]Session)
		h.groups[roomID] = members
	}
	members[s.ID()] = s
}

func (h *Hub) removeFromGroup(roomID string, s Session) {
	members, ok := h.groups[roomID]
	if !ok {
		return
	}
	delete(members, s.ID())
	if len(members) == 0 {
		delete(h.groups, roomID)
	}
}

// broadcastRoom sends the room snapshot to every session in its group.
func (h *Hub) broadcastRoom(r *room.Room) {
	h.broadcastGroup(r.ID, EventRoomState, RoomState{
		Room:       r,
		ServerTime: h.clock.Now().UnixMilli(),
	})
}

// broadcastRooms sends the public listing to every connected session.
func (h *Hub) broadcastRooms() {
	msg, err := encode(EventRoomsUpdate, RoomsUpdate{Rooms: h.store.ListPublicRooms()})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode room listing")
		return
	}
	for _, s := range h.sessions {
		h.deliver(s, msg)
	}
}

func (h *Hub) broadcastGroup(roomID, event string, data any) {
	members := h.groups[roomID]
	if len(members) == 0 {
		return
	}
	msg, err := encode(event, data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to encode broadcast")
		return
	}
	for _, s := range members {
		h.deliver(s, msg)
	}

	log.Debug().
		Str("event", event).
		Str("room_id", roomID).
		Int("sessions", len(members)).
		Msg("event broadcasted")
}

func (h *Hub) sendRooms(s Session) {
	h.sendTo(s, EventRoomsUpdate, RoomsUpdate{Rooms: h.store.ListPublicRooms()})
}

func (h *Hub) sendError(s Session, code room.Code) {
	h.sendTo(s, EventError, ErrorPayload{Code: code})
}

func (h *Hub) sendTo(s Session, event string, data any) {
	msg, err := encode(event, data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to encode message")
		return
	}
	h.deliver(s, msg)
}

// deliver never blocks the hub. A session that cannot keep up is closed and
// unregisters itself from its read loop.
func (h *Hub) deliver(s Session, msg []byte) {
	if s.Send(msg) {
		return
	}
	log.Warn().
		Str("session_id", s.ID()).
		Str("user_id", s.Identity().UserID).
		Msg("session send buffer full, closing session")
	s.Close()
}
