package ws_test

import (
	"testing"
	"time"

	"teampulse/internal/ws"
	"teampulse/internal/ws/wstest"
	"teampulse/pkg/types"
)

func TestConnection_SendDeliversToPeer(t *testing.T) {
	pair := wstest.NewPair(t, types.Identity{UserID: "alice", DisplayName: "Alice"})

	err := pair.Conn.Send(types.NewEvent(types.EventHeartbeat, types.HeartbeatPayload{
		ConnectedClients: 1,
	}))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	event := pair.ReadEvent(t)
	if event.Type != types.EventHeartbeat {
		t.Errorf("Expected heartbeat event, got %q", event.Type)
	}
}

func TestConnection_SendAfterCloseFails(t *testing.T) {
	pair := wstest.NewPair(t, types.Identity{UserID: "alice"})

	if err := pair.Conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	err := pair.Conn.Send(types.NewEvent(types.EventHeartbeat, nil))
	if err != ws.ErrConnectionClosed {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	pair := wstest.NewPair(t, types.Identity{UserID: "alice"})

	if err := pair.Conn.Close(); err != nil {
		t.Fatalf("First close failed: %v", err)
	}
	if err := pair.Conn.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}
}

func TestConnection_CloseWithReasonNotifiesPeer(t *testing.T) {
	pair := wstest.NewPair(t, types.Identity{UserID: "alice"})

	if err := pair.Conn.CloseWithReason(types.CloseReasonSuperseded); err != nil {
		t.Fatalf("CloseWithReason failed: %v", err)
	}

	event, ok := pair.TryReadEvent(2 * time.Second)
	if !ok {
		t.Fatal("Peer never received the close notification")
	}
	if event.Type != types.EventConnectionClosed {
		t.Fatalf("Expected connection_closed event, got %q", event.Type)
	}
	payload := wstest.PayloadMap(t, event)
	if payload["reason"] != types.CloseReasonSuperseded {
		t.Errorf("Expected reason %q, got %v", types.CloseReasonSuperseded, payload["reason"])
	}
}

func TestConnection_CloseReasonSurvivesQueuedBacklog(t *testing.T) {
	pair := wstest.NewPair(t, types.Identity{UserID: "alice"})

	// Enqueue a backlog the writer has not drained yet; the reason event is
	// written directly, so closing must not lose it.
	for i := 0; i < 10; i++ {
		if err := pair.Conn.Send(types.NewEvent(types.EventHeartbeat, types.HeartbeatPayload{ConnectedClients: i})); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}
	if err := pair.Conn.CloseWithReason(types.CloseReasonSuperseded); err != nil {
		t.Fatalf("CloseWithReason failed: %v", err)
	}

	event := pair.ReadEventOfType(t, types.EventConnectionClosed)
	payload := wstest.PayloadMap(t, event)
	if payload["reason"] != types.CloseReasonSuperseded {
		t.Errorf("Expected reason %q, got %v", types.CloseReasonSuperseded, payload["reason"])
	}
}

func TestConnection_IdentityAndActivity(t *testing.T) {
	pair := wstest.NewPair(t, types.Identity{UserID: "alice", DisplayName: "Alice"})
	conn := pair.Conn

	if conn.UserID() != "alice" {
		t.Errorf("Expected user alice, got %q", conn.UserID())
	}
	if conn.Identity().DisplayName != "Alice" {
		t.Errorf("Expected display name Alice, got %q", conn.Identity().DisplayName)
	}

	before := conn.LastSeen()
	time.Sleep(5 * time.Millisecond)
	conn.Touch()
	if !conn.LastSeen().After(before) {
		t.Error("Touch did not advance lastSeen")
	}

	if conn.MobileActive() {
		t.Error("New connection should not be mobile-active")
	}
	conn.SetMobileActive(true)
	if !conn.MobileActive() {
		t.Error("SetMobileActive(true) not reflected")
	}
}
