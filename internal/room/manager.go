// Package room implements named membership groups keyed by (team, room
// type). A room exists exactly while it has members: created on first join,
// deleted on last leave.
package room

import (
	"log"
	"sync"
	"time"

	"teampulse/internal/ws"
	"teampulse/pkg/types"
)

// LifecycleListener observes room creation and deletion. The event bridge
// uses this to maintain upstream feed interest per (team, category).
type LifecycleListener interface {
	RoomOpened(id types.RoomID)
	RoomClosed(id types.RoomID)
}

type roomState struct {
	id           types.RoomID
	broadcastMu  sync.Mutex // serializes delivery so per-room ordering follows issuance order
	members      map[string]struct{}
	createdAt    time.Time
	lastActivity time.Time
}

// Manager owns all room records. Members are stored as user ids and
// resolved to live connections through the registry at delivery time; no
// live connection objects are held here.
type Manager struct {
	registry *ws.Registry

	mu        sync.RWMutex
	rooms     map[string]*roomState
	userRooms map[string]map[string]struct{} // userID -> room keys

	listeners []LifecycleListener
}

// NewManager creates a room manager resolving members via registry.
func NewManager(registry *ws.Registry) *Manager {
	return &Manager{
		registry:  registry,
		rooms:     make(map[string]*roomState),
		userRooms: make(map[string]map[string]struct{}),
	}
}

// AddLifecycleListener registers a listener. Call during assembly.
func (m *Manager) AddLifecycleListener(l LifecycleListener) {
	m.listeners = append(m.listeners, l)
}

// Join adds the connection's user to a room, creating the room on first
// join. Idempotent: re-joining reports joined=false and changes nothing.
func (m *Manager) Join(conn *ws.Connection, id types.RoomID) (memberCount int, joined bool, err error) {
	if conn == nil {
		return 0, false, ws.ErrNilConnection
	}
	userID := conn.UserID()
	key := id.String()

	var opened bool
	m.mu.Lock()
	// Fence against the teardown cascade: a join racing its own
	// disconnect must not recreate membership after LeaveAll ran. LeaveAll
	// takes m.mu, so either this check sees the connection gone or the
	// cascade sees the membership.
	if _, live := m.registry.GetConnection(conn.ID()); !live {
		m.mu.Unlock()
		return 0, false, ws.ErrConnectionNotRegistered
	}
	state, exists := m.rooms[key]
	if !exists {
		state = &roomState{
			id:        id,
			members:   make(map[string]struct{}),
			createdAt: time.Now(),
		}
		m.rooms[key] = state
		opened = true
	}
	if _, member := state.members[userID]; member {
		count := len(state.members)
		m.mu.Unlock()
		return count, false, nil
	}
	state.members[userID] = struct{}{}
	state.lastActivity = time.Now()
	if m.userRooms[userID] == nil {
		m.userRooms[userID] = make(map[string]struct{})
	}
	m.userRooms[userID][key] = struct{}{}
	count := len(state.members)
	m.mu.Unlock()

	if opened {
		for _, l := range m.listeners {
			l.RoomOpened(id)
		}
	}
	return count, true, nil
}

// Leave removes the connection's user from a room, deleting the room when
// it empties. Idempotent no-op for non-members.
func (m *Manager) Leave(conn *ws.Connection, id types.RoomID) (left bool) {
	if conn == nil {
		return false
	}
	return m.removeMember(conn.UserID(), id)
}

func (m *Manager) removeMember(userID string, id types.RoomID) bool {
	key := id.String()

	var closed bool
	m.mu.Lock()
	state, exists := m.rooms[key]
	if !exists {
		m.mu.Unlock()
		return false
	}
	if _, member := state.members[userID]; !member {
		m.mu.Unlock()
		return false
	}
	delete(state.members, userID)
	state.lastActivity = time.Now()
	if rooms := m.userRooms[userID]; rooms != nil {
		delete(rooms, key)
		if len(rooms) == 0 {
			delete(m.userRooms, userID)
		}
	}
	if len(state.members) == 0 {
		delete(m.rooms, key)
		closed = true
	}
	m.mu.Unlock()

	if closed {
		for _, l := range m.listeners {
			l.RoomClosed(id)
		}
	}
	return true
}

// LeaveAll removes a user from every room they are in and returns the room
// ids left, in no particular order. Used by the disconnect cascade.
func (m *Manager) LeaveAll(userID string) []types.RoomID {
	m.mu.RLock()
	keys := make([]types.RoomID, 0, len(m.userRooms[userID]))
	for key := range m.userRooms[userID] {
		if state, ok := m.rooms[key]; ok {
			keys = append(keys, state.id)
		}
	}
	m.mu.RUnlock()

	for _, id := range keys {
		m.removeMember(userID, id)
	}
	return keys
}

// Broadcast delivers an event to the members of a room at the moment of the
// call. Delivery is serialized per room so events within one room arrive in
// issuance order; a slow member costs one failed enqueue, never a stall.
func (m *Manager) Broadcast(id types.RoomID, event types.ServerEvent) error {
	return m.BroadcastExcept(id, event, "")
}

// BroadcastExcept is Broadcast minus one user (typically the actor that
// triggered the event).
func (m *Manager) BroadcastExcept(id types.RoomID, event types.ServerEvent, excludeUserID string) error {
	key := id.String()

	m.mu.RLock()
	state, exists := m.rooms[key]
	if !exists {
		m.mu.RUnlock()
		return ErrRoomNotFound
	}
	members := make([]string, 0, len(state.members))
	for userID := range state.members {
		if userID != excludeUserID {
			members = append(members, userID)
		}
	}
	state.lastActivity = time.Now()
	m.mu.RUnlock()

	state.broadcastMu.Lock()
	defer state.broadcastMu.Unlock()
	for _, userID := range members {
		conn, ok := m.registry.GetUserConnection(userID)
		if !ok {
			continue
		}
		if err := conn.Send(event); err != nil {
			log.Printf("Room broadcast delivery failed: room=%s user=%s err=%v", key, userID, err)
		}
	}
	return nil
}

// IsMember reports whether a user is in a room.
func (m *Manager) IsMember(id types.RoomID, userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, exists := m.rooms[id.String()]
	if !exists {
		return false
	}
	_, member := state.members[userID]
	return member
}

// MemberCount returns the current member count, zero for absent rooms.
func (m *Manager) MemberCount(id types.RoomID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, exists := m.rooms[id.String()]
	if !exists {
		return 0
	}
	return len(state.members)
}

// RoomsOf returns the ids of every room a user is currently in.
func (m *Manager) RoomsOf(userID string) []types.RoomID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]types.RoomID, 0, len(m.userRooms[userID]))
	for key := range m.userRooms[userID] {
		if state, ok := m.rooms[key]; ok {
			ids = append(ids, state.id)
		}
	}
	return ids
}

// Rooms returns snapshots of every live room for the management surface.
func (m *Manager) Rooms() []types.Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rooms := make([]types.Room, 0, len(m.rooms))
	for key, state := range m.rooms {
		members := make([]string, 0, len(state.members))
		for userID := range state.members {
			members = append(members, userID)
		}
		rooms = append(rooms, types.Room{
			ID:           state.id,
			Key:          key,
			Members:      members,
			CreatedAt:    state.createdAt,
			LastActivity: state.lastActivity,
		})
	}
	return rooms
}

// Count returns the number of live rooms.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}
