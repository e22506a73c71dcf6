package hub

import (
	"sync"

	"github.com/collabdocs/hub/internal/models"
	"github.com/google/uuid"
)

// RoomRegistry is the Room Registry & Presence component (C5): it tracks
// which sessions are subscribed to which document, and the subscriber
// identity tuple each carries. Rooms hold session ids and subscriber
// structs, never the session itself — the session owns its own lifecycle
// (spec §9 "prefer weak holding").
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]map[string]models.Subscriber
}

// NewRoomRegistry constructs an empty Room Registry.
func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[uuid.UUID]map[string]models.Subscriber),
	}
}

// Join inserts sessionID into documentID's room and returns the full
// subscriber list including the new entry, for the joiner's inline peer
// list (spec §4.5: "not via broadcast, to avoid race with its own
// user-joined echo"). Two concurrent joins from the same session id
// overwrite (spec §9 open question: source assumes overwrite).
func (rr *RoomRegistry) Join(documentID uuid.UUID, sessionID string, sub models.Subscriber) []models.Subscriber {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	room, exists := rr.rooms[documentID]
	if !exists {
		room = make(map[string]models.Subscriber)
		rr.rooms[documentID] = room
	}
	room[sessionID] = sub

	return subscriberList(room)
}

// Leave removes sessionID from documentID's room. If the room becomes
// empty, the room entry itself is removed. Returns whether the session
// was actually present (spec §9 open question on leave-document from a
// never-joined session: silently no-ops either way).
func (rr *RoomRegistry) Leave(documentID uuid.UUID, sessionID string) bool {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	room, exists := rr.rooms[documentID]
	if !exists {
		return false
	}
	if _, ok := room[sessionID]; !ok {
		return false
	}
	delete(room, sessionID)
	if len(room) == 0 {
		delete(rr.rooms, documentID)
	}
	return true
}

// LeaveAll removes sessionID from every room it was in, returning the
// document ids it was removed from.
func (rr *RoomRegistry) LeaveAll(sessionID string) []uuid.UUID {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	var left []uuid.UUID
	for docID, room := range rr.rooms {
		if _, ok := room[sessionID]; ok {
			delete(room, sessionID)
			left = append(left, docID)
			if len(room) == 0 {
				delete(rr.rooms, docID)
			}
		}
	}
	return left
}

// Peers returns the session ids subscribed to documentID other than
// exceptSessionID — the fan-out target list for broadcasts.
func (rr *RoomRegistry) Peers(documentID uuid.UUID, exceptSessionID string) []string {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	room, exists := rr.rooms[documentID]
	if !exists {
		return nil
	}
	peers := make([]string, 0, len(room))
	for sid := range room {
		if sid != exceptSessionID {
			peers = append(peers, sid)
		}
	}
	return peers
}

// UsersIn returns every subscriber currently joined to documentID.
func (rr *RoomRegistry) UsersIn(documentID uuid.UUID) []models.Subscriber {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	room, exists := rr.rooms[documentID]
	if !exists {
		return nil
	}
	return subscriberList(room)
}

// IsEmpty reports whether documentID currently has no subscribers —
// consulted by the Replica Registry before retiring a replica.
func (rr *RoomRegistry) IsEmpty(documentID uuid.UUID) bool {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	room, exists := rr.rooms[documentID]
	return !exists || len(room) == 0
}

func subscriberList(room map[string]models.Subscriber) []models.Subscriber {
	out := make([]models.Subscriber, 0, len(room))
	for _, sub := range room {
		out = append(out, sub)
	}
	return out
}
