package presence_test

import (
	"testing"
	"time"

	"teampulse/internal/presence"
	"teampulse/internal/room"
	"teampulse/internal/ws"
	"teampulse/internal/ws/wstest"
	"teampulse/pkg/types"
)

func setup(t *testing.T) (*ws.Registry, *room.Manager, *presence.Tracker) {
	t.Helper()
	registry := ws.NewRegistry()
	rooms := room.NewManager(registry)
	return registry, rooms, presence.NewTracker(rooms)
}

func connect(t *testing.T, registry *ws.Registry, rooms *room.Manager, userID string, id types.RoomID) *wstest.Pair {
	t.Helper()
	pair := wstest.NewPair(t, types.Identity{UserID: userID, DisplayName: userID})
	if err := registry.Register(pair.Conn); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, _, err := rooms.Join(pair.Conn, id); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	return pair
}

func TestTracker_JoinerGetsRosterOthersGetDelta(t *testing.T) {
	registry, rooms, tracker := setup(t)
	id := types.RoomID{TeamID: "acme", RoomType: "general"}

	alice := connect(t, registry, rooms, "alice", id)
	bob := connect(t, registry, rooms, "bob", id)

	if err := tracker.Present(alice.Conn, id); err != nil {
		t.Fatalf("Present(alice) failed: %v", err)
	}
	if err := tracker.Present(bob.Conn, id); err != nil {
		t.Fatalf("Present(bob) failed: %v", err)
	}

	// Alice: her own sync first, then the join delta for bob.
	sync := alice.ReadEventOfType(t, types.EventPresenceSync)
	syncPayload := wstest.PayloadMap(t, sync)
	roster := syncPayload["roster"].([]any)
	if len(roster) != 1 {
		t.Errorf("Alice's sync should list only herself, got %d entries", len(roster))
	}

	delta := alice.ReadEventOfType(t, types.EventPresenceJoin)
	deltaPayload := wstest.PayloadMap(t, delta)
	user := deltaPayload["user"].(map[string]any)["user"].(map[string]any)
	if user["user_id"] != "bob" {
		t.Errorf("Join delta should be for bob, got %v", user["user_id"])
	}

	// Bob: a full roster containing both users, never a delta about himself.
	bobSync := bob.ReadEventOfType(t, types.EventPresenceSync)
	bobRoster := wstest.PayloadMap(t, bobSync)["roster"].([]any)
	if len(bobRoster) != 2 {
		t.Errorf("Bob's sync should list 2 entries, got %d", len(bobRoster))
	}
	if _, ok := bob.TryReadEvent(100 * time.Millisecond); ok {
		t.Error("Joiner should not receive a delta about their own join")
	}
}

func TestTracker_PresentIsIdempotent(t *testing.T) {
	registry, rooms, tracker := setup(t)
	id := types.RoomID{TeamID: "acme", RoomType: "general"}

	alice := connect(t, registry, rooms, "alice", id)
	bob := connect(t, registry, rooms, "bob", id)

	tracker.Present(alice.Conn, id)
	tracker.Present(bob.Conn, id)
	alice.ReadEventOfType(t, types.EventPresenceJoin)

	// Re-presenting refreshes silently.
	tracker.Present(bob.Conn, id)
	if _, ok := alice.TryReadEvent(100 * time.Millisecond); ok {
		t.Error("Duplicate Present should not emit another join delta")
	}
	if tracker.Count() != 2 {
		t.Errorf("Expected 2 presence entries, got %d", tracker.Count())
	}
}

func TestTracker_AbsentBroadcastsLeaveDelta(t *testing.T) {
	registry, rooms, tracker := setup(t)
	id := types.RoomID{TeamID: "acme", RoomType: "general"}

	alice := connect(t, registry, rooms, "alice", id)
	bob := connect(t, registry, rooms, "bob", id)
	tracker.Present(alice.Conn, id)
	tracker.Present(bob.Conn, id)
	alice.ReadEventOfType(t, types.EventPresenceJoin)

	tracker.Absent("bob", id)

	leave := alice.ReadEventOfType(t, types.EventPresenceLeave)
	payload := wstest.PayloadMap(t, leave)
	user := payload["user"].(map[string]any)["user"].(map[string]any)
	if user["user_id"] != "bob" {
		t.Errorf("Leave delta should be for bob, got %v", user["user_id"])
	}

	if len(tracker.Roster(id)) != 1 {
		t.Errorf("Roster should have 1 entry after leave, got %d", len(tracker.Roster(id)))
	}

	// Absent again is a no-op.
	tracker.Absent("bob", id)
	if _, ok := alice.TryReadEvent(100 * time.Millisecond); ok {
		t.Error("Duplicate Absent should not emit another delta")
	}
}

func TestTracker_AbsentAllClearsEveryRoom(t *testing.T) {
	registry, rooms, tracker := setup(t)
	general := types.RoomID{TeamID: "acme", RoomType: "general"}
	events := types.RoomID{TeamID: "acme", RoomType: "events"}

	alice := connect(t, registry, rooms, "alice", general)
	if _, _, err := rooms.Join(alice.Conn, events); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	tracker.Present(alice.Conn, general)
	tracker.Present(alice.Conn, events)

	tracker.AbsentAll("alice")
	if tracker.Count() != 0 {
		t.Errorf("Expected no presence entries, got %d", tracker.Count())
	}
}

func TestTracker_UpdateStatusFansOutPerRoom(t *testing.T) {
	registry, rooms, tracker := setup(t)
	id := types.RoomID{TeamID: "acme", RoomType: "general"}

	alice := connect(t, registry, rooms, "alice", id)
	bob := connect(t, registry, rooms, "bob", id)
	tracker.Present(alice.Conn, id)
	tracker.Present(bob.Conn, id)
	alice.ReadEventOfType(t, types.EventPresenceJoin)

	tracker.UpdateStatus(bob.Conn, "focused", "standup", "office")

	update := alice.ReadEventOfType(t, types.EventPresenceUpdate)
	payload := wstest.PayloadMap(t, update)
	entry := payload["user"].(map[string]any)
	if entry["status"] != "focused" || entry["activity"] != "standup" {
		t.Errorf("Unexpected presence update: %v", entry)
	}

	roster := tracker.Roster(id)
	for _, e := range roster {
		if e.User.UserID == "bob" && e.Status != "focused" {
			t.Errorf("Roster entry not updated: %+v", e)
		}
	}
}
