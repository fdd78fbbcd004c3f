package chat

import (
	"fmt"
	"sort"
	"sync"
)

// Sink receives encoded outbound frames for one connection. Deliver must not
// block; it returns ErrSinkFull or ErrSinkClosed instead.
type Sink interface {
	Deliver(frame []byte) error
}

type member struct {
	id       string
	identity Identity
	sink     Sink
	rooms    map[Room]struct{}
}

type target struct {
	id   string
	sink Sink
}

// Registry tracks live connections and the rooms they belong to. Rooms are
// created on first join and dropped when their last member leaves.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*member
	rooms map[Room]map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*member),
		rooms: make(map[Room]map[string]struct{}),
	}
}

// Admit records an authorized connection and joins it to its identity room.
func (r *Registry) Admit(connID string, identity Identity, sink Sink) error {
	if connID == "" || identity.ID == "" || sink == nil {
		return fmt.Errorf("admit connection %q: %w", connID, ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[connID]; exists {
		return fmt.Errorf("admit connection %q: %w", connID, ErrAlreadyAdmitted)
	}
	m := &member{
		id:       connID,
		identity: identity,
		sink:     sink,
		rooms:    make(map[Room]struct{}),
	}
	r.conns[connID] = m
	r.joinLocked(m, IdentityRoom(identity.ID))
	return nil
}

// Join adds connID to room. Joining a room twice has no further effect.
func (r *Registry) Join(connID string, room Room) error {
	if room == "" || room.IsGlobal() {
		return invalid("Cannot join this room")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.conns[connID]
	if !ok {
		return fmt.Errorf("join %s: connection %q: %w", room, connID, ErrNotFound)
	}
	r.joinLocked(m, room)
	return nil
}

func (r *Registry) joinLocked(m *member, room Room) {
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	members[m.id] = struct{}{}
	m.rooms[room] = struct{}{}
}

// Leave removes connID from room. Unknown connections and rooms are ignored.
func (r *Registry) Leave(connID string, room Room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.conns[connID]
	if !ok {
		return
	}
	r.leaveLocked(m, room)
}

func (r *Registry) leaveLocked(m *member, room Room) {
	delete(m.rooms, room)
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, m.id)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// Remove drops connID from every room and deletes its entry. It reports
// whether the connection was registered, so concurrent callers can tell which
// one performed the removal.
func (r *Registry) Remove(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.conns[connID]
	if !ok {
		return false
	}
	for room := range m.rooms {
		r.leaveLocked(m, room)
	}
	delete(r.conns, connID)
	return true
}

// MembersOf returns a sorted snapshot of the connection ids in room. For
// GlobalRoom it returns every registered connection.
func (r *Registry) MembersOf(room Room) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	if room.IsGlobal() {
		ids = make([]string, 0, len(r.conns))
		for id := range r.conns {
			ids = append(ids, id)
		}
	} else {
		members := r.rooms[room]
		ids = make([]string, 0, len(members))
		for id := range members {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Rooms returns a sorted snapshot of the rooms connID belongs to.
func (r *Registry) Rooms(connID string) []Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.conns[connID]
	if !ok {
		return nil
	}
	rooms := make([]Room, 0, len(m.rooms))
	for room := range m.rooms {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
	return rooms
}

// Identity returns the identity connID was admitted with.
func (r *Registry) Identity(connID string) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.conns[connID]
	if !ok {
		return Identity{}, false
	}
	return m.identity, true
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// RoomCount returns the number of non-empty rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry) targets(room Room) []target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if room.IsGlobal() {
		out := make([]target, 0, len(r.conns))
		for id, m := range r.conns {
			out = append(out, target{id: id, sink: m.sink})
		}
		return out
	}

	members := r.rooms[room]
	out := make([]target, 0, len(members))
	for id := range members {
		if m, ok := r.conns[id]; ok {
			out = append(out, target{id: id, sink: m.sink})
		}
	}
	return out
}

func (r *Registry) sinkFor(connID string) (Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	return m.sink, true
}
