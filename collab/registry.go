package collab

import (
	"sort"
	"sync"

	"collab-server/core"

	"github.com/sirupsen/logrus"
)

// Member is a live connection that can receive room traffic.
// Deliver must not block.
type Member interface {
	SessionID() string
	Deliver(msg []byte) bool
}

type room struct {
	mu      sync.Mutex
	members map[string]Member
}

// Registry maps resources to their live rooms. Join and Leave hold the
// write lock, so a room is never removed while a broadcast is running on
// it. Each room serializes its own broadcasts, which gives every room a
// single delivery order.
type Registry struct {
	mu    sync.RWMutex
	rooms map[core.ResourceKey]*room
}

type RoomInfo struct {
	Kind    core.ResourceKind `json:"resource_type"`
	ID      string            `json:"resource_id"`
	Members int               `json:"members"`
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[core.ResourceKey]*room)}
}

// Join adds m to the room for key, creating the room if needed.
// Joining twice with the same session id replaces the earlier member.
func (r *Registry) Join(key core.ResourceKey, m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[key]
	if !ok {
		rm = &room{members: make(map[string]Member)}
		r.rooms[key] = rm
		logrus.WithField("resource", key.String()).Debug("Room created")
	}
	rm.mu.Lock()
	rm.members[m.SessionID()] = m
	rm.mu.Unlock()
}

// Leave is a no-op for unknown sessions. The room is dropped once empty.
func (r *Registry) Leave(key core.ResourceKey, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[key]
	if !ok {
		return
	}
	rm.mu.Lock()
	delete(rm.members, sessionID)
	empty := len(rm.members) == 0
	rm.mu.Unlock()

	if empty {
		delete(r.rooms, key)
		logrus.WithField("resource", key.String()).Debug("Room discarded")
	}
}

// Broadcast delivers msg to every member of the room except
// excludeSessionID and returns how many members accepted it.
func (r *Registry) Broadcast(key core.ResourceKey, msg []byte, excludeSessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[key]
	if !ok {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	delivered := 0
	for id, m := range rm.members {
		if id == excludeSessionID {
			continue
		}
		if m.Deliver(msg) {
			delivered++
		}
	}
	return delivered
}

func (r *Registry) Members(key core.ResourceKey) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[key]
	if !ok {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.members)
}

// Rooms returns a snapshot of the live rooms ordered by resource.
func (r *Registry) Rooms() []RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]RoomInfo, 0, len(r.rooms))
	for key, rm := range r.rooms {
		rm.mu.Lock()
		rooms = append(rooms, RoomInfo{Kind: key.Kind, ID: key.ID, Members: len(rm.members)})
		rm.mu.Unlock()
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].Kind != rooms[j].Kind {
			return rooms[i].Kind < rooms[j].Kind
		}
		return rooms[i].ID < rooms[j].ID
	})
	return rooms
}
