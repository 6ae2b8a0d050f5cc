package stream_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"teampulse/internal/stream"
	"teampulse/internal/ws"
	"teampulse/internal/ws/wstest"
	"teampulse/pkg/types"
)

// fakeSource counts snapshots and can be made to fail.
type fakeSource struct {
	calls atomic.Int64
	fail  atomic.Bool
}

func (f *fakeSource) Snapshot(_ context.Context, teamID, kind string, _ types.StreamParams) (any, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return nil, errors.New("source unavailable")
	}
	return map[string]any{"team": teamID, "kind": kind}, nil
}

func setup(t *testing.T, interval time.Duration) (*ws.Registry, *fakeSource, *stream.Scheduler) {
	t.Helper()
	registry := ws.NewRegistry()
	source := &fakeSource{}
	return registry, source, stream.NewScheduler(registry, source, interval)
}

func connect(t *testing.T, registry *ws.Registry, userID string) *wstest.Pair {
	t.Helper()
	pair := wstest.NewPair(t, types.Identity{UserID: userID})
	if err := registry.Register(pair.Conn); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return pair
}

func TestScheduler_SubscribeDeliversImmediateSnapshot(t *testing.T) {
	registry, _, scheduler := setup(t, time.Hour)
	alice := connect(t, registry, "alice")

	subID, err := scheduler.Subscribe(context.Background(), alice.Conn, "acme", types.StreamKindAnalytics, types.StreamParams{ChartType: "mood"})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	event := alice.ReadEventOfType(t, types.EventStreamSnapshot)
	payload := wstest.PayloadMap(t, event)
	if payload["subscription_id"] != subID {
		t.Errorf("Snapshot carries wrong subscription id: %v", payload["subscription_id"])
	}
	if scheduler.Count() != 1 {
		t.Errorf("Expected 1 subscription, got %d", scheduler.Count())
	}
}

func TestScheduler_SubscribeFailsWhenSourceFails(t *testing.T) {
	registry, source, scheduler := setup(t, time.Hour)
	alice := connect(t, registry, "alice")

	source.fail.Store(true)
	if _, err := scheduler.Subscribe(context.Background(), alice.Conn, "acme", types.StreamKindAnalytics, types.StreamParams{}); err == nil {
		t.Error("Subscribe should fail when the initial snapshot fails")
	}
	if scheduler.Count() != 0 {
		t.Errorf("Failed subscribe must not leave state, count=%d", scheduler.Count())
	}
}

func TestScheduler_PeriodicPushes(t *testing.T) {
	registry, _, scheduler := setup(t, 20*time.Millisecond)
	alice := connect(t, registry, "alice")

	if _, err := scheduler.Subscribe(context.Background(), alice.Conn, "acme", types.StreamKindAnalytics, types.StreamParams{}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	alice.ReadEventOfType(t, types.EventStreamSnapshot)

	update := alice.ReadEventOfType(t, types.EventStreamUpdate)
	if update.Type != types.EventStreamUpdate {
		t.Errorf("Expected stream_update, got %q", update.Type)
	}
}

func TestScheduler_PauseResumeKeepsIdentity(t *testing.T) {
	registry, _, scheduler := setup(t, 20*time.Millisecond)
	alice := connect(t, registry, "alice")

	subID, err := scheduler.Subscribe(context.Background(), alice.Conn, "acme", types.StreamKindAnalytics, types.StreamParams{})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	alice.ReadEventOfType(t, types.EventStreamSnapshot)

	if err := scheduler.Pause(subID, alice.Conn.ID()); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	alice.ReadEventOfType(t, types.EventStreamPaused)

	// No updates arrive while paused.
	for {
		event, ok := alice.TryReadEvent(100 * time.Millisecond)
		if !ok {
			break
		}
		if event.Type == types.EventStreamUpdate {
			t.Fatal("Received update while paused")
		}
	}

	if err := scheduler.Resume(subID, alice.Conn.ID(), false); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	resumed := alice.ReadEventOfType(t, types.EventStreamResumed)
	payload := wstest.PayloadMap(t, resumed)
	if payload["subscription_id"] != subID {
		t.Error("Resume must keep the original subscription id")
	}

	// Pushes flow again under the same id.
	update := alice.ReadEventOfType(t, types.EventStreamUpdate)
	updatePayload := wstest.PayloadMap(t, update)
	if updatePayload["subscription_id"] != subID {
		t.Error("Post-resume update carries a different subscription id")
	}
}

func TestScheduler_ResumeWithSnapshotResends(t *testing.T) {
	registry, _, scheduler := setup(t, time.Hour)
	alice := connect(t, registry, "alice")

	subID, _ := scheduler.Subscribe(context.Background(), alice.Conn, "acme", types.StreamKindAnalytics, types.StreamParams{})
	alice.ReadEventOfType(t, types.EventStreamSnapshot)

	scheduler.Pause(subID, alice.Conn.ID())
	alice.ReadEventOfType(t, types.EventStreamPaused)

	scheduler.Resume(subID, alice.Conn.ID(), true)
	alice.ReadEventOfType(t, types.EventStreamResumed)
	alice.ReadEventOfType(t, types.EventStreamSnapshot)
}

func TestScheduler_OwnershipEnforced(t *testing.T) {
	registry, _, scheduler := setup(t, time.Hour)
	alice := connect(t, registry, "alice")
	bob := connect(t, registry, "bob")

	subID, _ := scheduler.Subscribe(context.Background(), alice.Conn, "acme", types.StreamKindAnalytics, types.StreamParams{})

	if err := scheduler.Pause(subID, bob.Conn.ID()); err != stream.ErrNotSubscriptionOwner {
		t.Errorf("Expected ErrNotSubscriptionOwner, got %v", err)
	}
	if err := scheduler.Unsubscribe(subID, bob.Conn.ID()); err != stream.ErrNotSubscriptionOwner {
		t.Errorf("Expected ErrNotSubscriptionOwner, got %v", err)
	}
}

func TestScheduler_UnsubscribeIsSynchronous(t *testing.T) {
	registry, source, scheduler := setup(t, 10*time.Millisecond)
	alice := connect(t, registry, "alice")

	subID, _ := scheduler.Subscribe(context.Background(), alice.Conn, "acme", types.StreamKindAnalytics, types.StreamParams{})
	alice.ReadEventOfType(t, types.EventStreamSnapshot)

	if err := scheduler.Unsubscribe(subID, alice.Conn.ID()); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	// The push loop is confirmed dead: the source call count stays put.
	settled := source.calls.Load()
	time.Sleep(50 * time.Millisecond)
	if source.calls.Load() != settled {
		t.Error("Push loop still running after Unsubscribe returned")
	}

	if err := scheduler.Unsubscribe(subID, alice.Conn.ID()); err != stream.ErrSubscriptionNotFound {
		t.Errorf("Expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestScheduler_SubscribeAfterDisconnectRejected(t *testing.T) {
	registry, _, scheduler := setup(t, time.Hour)

	var opened []string
	scheduler.AddInterestListener(interestFuncs{
		opened: func(teamID, kind string) { opened = append(opened, teamID+"/"+kind) },
		closed: func(teamID, kind string) {},
	})

	alice := connect(t, registry, "alice")
	registry.Unregister(alice.Conn)

	_, err := scheduler.Subscribe(context.Background(), alice.Conn, "acme", types.StreamKindTeamEvents, types.StreamParams{})
	if err != ws.ErrConnectionNotRegistered {
		t.Fatalf("Expected ErrConnectionNotRegistered, got %v", err)
	}
	if scheduler.Count() != 0 {
		t.Errorf("Rejected subscribe must not leave state, count=%d", scheduler.Count())
	}
	if len(opened) != 0 {
		t.Errorf("Rejected subscribe must not raise interest, got %v", opened)
	}
}

func TestScheduler_HandleDisconnectCancelsAll(t *testing.T) {
	registry, _, scheduler := setup(t, time.Hour)
	alice := connect(t, registry, "alice")

	scheduler.Subscribe(context.Background(), alice.Conn, "acme", types.StreamKindAnalytics, types.StreamParams{})
	scheduler.Subscribe(context.Background(), alice.Conn, "acme", types.StreamKindTeamEvents, types.StreamParams{})
	if scheduler.Count() != 2 {
		t.Fatalf("Expected 2 subscriptions, got %d", scheduler.Count())
	}

	scheduler.HandleDisconnect(alice.Conn.ID())
	if scheduler.Count() != 0 {
		t.Errorf("Expected 0 subscriptions after disconnect, got %d", scheduler.Count())
	}
}

func TestScheduler_InterestListeners(t *testing.T) {
	registry, _, scheduler := setup(t, time.Hour)
	alice := connect(t, registry, "alice")

	var opened, closed []string
	scheduler.AddInterestListener(interestFuncs{
		opened: func(teamID, kind string) { opened = append(opened, teamID+"/"+kind) },
		closed: func(teamID, kind string) { closed = append(closed, teamID+"/"+kind) },
	})

	subID, _ := scheduler.Subscribe(context.Background(), alice.Conn, "acme", types.StreamKindTeamEvents, types.StreamParams{})
	if len(opened) != 1 || opened[0] != "acme/team_events" {
		t.Errorf("Expected StreamOpened acme/team_events, got %v", opened)
	}

	scheduler.Unsubscribe(subID, alice.Conn.ID())
	if len(closed) != 1 || closed[0] != "acme/team_events" {
		t.Errorf("Expected StreamClosed acme/team_events, got %v", closed)
	}
}

type interestFuncs struct {
	opened func(teamID, kind string)
	closed func(teamID, kind string)
}

func (l interestFuncs) StreamOpened(teamID, kind string) { l.opened(teamID, kind) }
func (l interestFuncs) StreamClosed(teamID, kind string) { l.closed(teamID, kind) }
