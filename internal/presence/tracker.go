// Package presence tracks the live roster of each room: who is present,
// since when, and with what status. Presence is distinct from room
// membership; entries exist only between the present/absent handshake.
package presence

import (
	"sync"
	"time"

	"teampulse/internal/room"
	"teampulse/internal/ws"
	"teampulse/pkg/types"
)

// Tracker owns all presence entries. Mutation and delta issuance happen
// under one lock so join/leave deltas within a room reflect issuance order;
// the room manager then serializes delivery per room.
type Tracker struct {
	rooms *room.Manager

	mu        sync.Mutex
	entries   map[string]map[string]*types.PresenceEntry // room key -> userID -> entry
	userRooms map[string]map[string]types.RoomID         // userID -> room key -> id
}

// NewTracker creates a presence tracker broadcasting through rooms.
func NewTracker(rooms *room.Manager) *Tracker {
	return &Tracker{
		rooms:     rooms,
		entries:   make(map[string]map[string]*types.PresenceEntry),
		userRooms: make(map[string]map[string]types.RoomID),
	}
}

// Present records the connection's presence in a room, sends the joiner a
// full roster sync, and broadcasts a join delta to the other members.
// Idempotent: a second Present refreshes lastSeen without a duplicate delta.
func (t *Tracker) Present(conn *ws.Connection, id types.RoomID) error {
	if conn == nil {
		return ws.ErrNilConnection
	}
	identity := conn.Identity()
	key := id.String()
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	roomEntries := t.entries[key]
	if roomEntries == nil {
		roomEntries = make(map[string]*types.PresenceEntry)
		t.entries[key] = roomEntries
	}

	if existing, ok := roomEntries[identity.UserID]; ok {
		existing.LastSeen = now
		return nil
	}

	entry := &types.PresenceEntry{
		User:     identity,
		OnlineAt: now,
		LastSeen: now,
	}
	roomEntries[identity.UserID] = entry
	if t.userRooms[identity.UserID] == nil {
		t.userRooms[identity.UserID] = make(map[string]types.RoomID)
	}
	t.userRooms[identity.UserID][key] = id

	// Full roster to the joiner first, then the delta to everyone else.
	roster := make([]types.PresenceEntry, 0, len(roomEntries))
	for _, e := range roomEntries {
		roster = append(roster, *e)
	}
	if err := conn.Send(types.NewEvent(types.EventPresenceSync, types.PresenceSyncPayload{
		RoomID: key,
		Roster: roster,
	})); err != nil {
		// The joiner missing its sync is their problem alone; the delta
		// still goes out so the room stays consistent.
	}

	_ = t.rooms.BroadcastExcept(id, types.NewEvent(types.EventPresenceJoin, types.PresenceDeltaPayload{
		RoomID: key,
		User:   *entry,
	}), identity.UserID)

	return nil
}

// Absent removes the user's presence entry from a room and broadcasts a
// leave delta to the remaining members. Idempotent no-op when not present.
func (t *Tracker) Absent(userID string, id types.RoomID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.absentLocked(userID, id)
}

// AbsentAll removes the user from every room they were present in,
// broadcasting a leave delta per room. Used by the disconnect cascade.
func (t *Tracker) AbsentAll(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range t.userRooms[userID] {
		t.absentLocked(userID, id)
	}
}

func (t *Tracker) absentLocked(userID string, id types.RoomID) {
	key := id.String()
	roomEntries := t.entries[key]
	if roomEntries == nil {
		return
	}
	entry, ok := roomEntries[userID]
	if !ok {
		return
	}
	delete(roomEntries, userID)
	if len(roomEntries) == 0 {
		delete(t.entries, key)
	}
	if rooms := t.userRooms[userID]; rooms != nil {
		delete(rooms, key)
		if len(rooms) == 0 {
			delete(t.userRooms, userID)
		}
	}

	_ = t.rooms.BroadcastExcept(id, types.NewEvent(types.EventPresenceLeave, types.PresenceDeltaPayload{
		RoomID: key,
		User:   *entry,
	}), userID)
}

// UpdateStatus mutates the user's presence fields in every room they are
// present in and broadcasts an update delta per room.
func (t *Tracker) UpdateStatus(conn *ws.Connection, status, activity, location string) {
	if conn == nil {
		return
	}
	userID := conn.UserID()
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	for key, id := range t.userRooms[userID] {
		entry := t.entries[key][userID]
		if entry == nil {
			continue
		}
		entry.Status = status
		entry.Activity = activity
		entry.Location = location
		entry.LastSeen = now

		_ = t.rooms.BroadcastExcept(id, types.NewEvent(types.EventPresenceUpdate, types.PresenceDeltaPayload{
			RoomID: key,
			User:   *entry,
		}), userID)
	}
}

// Roster returns a snapshot of a room's presence entries, ordering not
// significant.
func (t *Tracker) Roster(id types.RoomID) []types.PresenceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	roomEntries := t.entries[id.String()]
	roster := make([]types.PresenceEntry, 0, len(roomEntries))
	for _, e := range roomEntries {
		roster = append(roster, *e)
	}
	return roster
}

// Count returns the total number of presence entries across rooms.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0
	for _, roomEntries := range t.entries {
		total += len(roomEntries)
	}
	return total
}
