// Package bridge fans externally sourced change events out to the local
// rooms that want them. One upstream feed handle exists per (team,
// category) regardless of how many rooms or streams are interested; the
// handle is reference counted and torn down when the last interest
// disappears.
package bridge

import (
	"context"
	"log"
	"sync"

	"teampulse/internal/retry"
	"teampulse/internal/room"
	"teampulse/pkg/interfaces"
	"teampulse/pkg/types"
)

// TeamEventsCategory is the feed category backing team-events stream
// subscriptions; rooms of the same type receive the fan-out.
const TeamEventsCategory = "events"

type handleKey struct {
	teamID   string
	category string
}

type feedHandle struct {
	refs   int
	cancel interfaces.CancelFunc // set once the subscribe succeeds
	stop   context.CancelFunc    // stops a pending subscribe retry loop
}

// Bridge maintains the demand-driven upstream subscriptions. It observes
// room lifecycle (a live room implies interest in its category) and
// team-events stream subscriptions.
type Bridge struct {
	rooms *room.Manager
	feed  interfaces.ChangeFeed

	mu      sync.Mutex
	handles map[handleKey]*feedHandle

	retryConfig retry.Config
}

// NewBridge creates an event bridge over the given upstream feed.
func NewBridge(rooms *room.Manager, feed interfaces.ChangeFeed) *Bridge {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = 0 // keep retrying until interest disappears
	return &Bridge{
		rooms:       rooms,
		feed:        feed,
		handles:     make(map[handleKey]*feedHandle),
		retryConfig: cfg,
	}
}

// RoomOpened implements room.LifecycleListener.
func (b *Bridge) RoomOpened(id types.RoomID) {
	b.addInterest(id.TeamID, id.RoomType)
}

// RoomClosed implements room.LifecycleListener.
func (b *Bridge) RoomClosed(id types.RoomID) {
	b.removeInterest(id.TeamID, id.RoomType)
}

// StreamOpened implements stream.InterestListener. Only team-events
// streams consume the upstream feed; analytics streams poll the data
// source directly.
func (b *Bridge) StreamOpened(teamID, kind string) {
	if kind == types.StreamKindTeamEvents {
		b.addInterest(teamID, TeamEventsCategory)
	}
}

// StreamClosed implements stream.InterestListener.
func (b *Bridge) StreamClosed(teamID, kind string) {
	if kind == types.StreamKindTeamEvents {
		b.removeInterest(teamID, TeamEventsCategory)
	}
}

func (b *Bridge) addInterest(teamID, category string) {
	key := handleKey{teamID: teamID, category: category}

	b.mu.Lock()
	defer b.mu.Unlock()

	if handle, exists := b.handles[key]; exists {
		handle.refs++
		return
	}

	ctx, stop := context.WithCancel(context.Background())
	handle := &feedHandle{refs: 1, stop: stop}
	b.handles[key] = handle

	// Subscribe off the lock; failures back off and retry as long as the
	// interest persists. A failing upstream costs that team its live
	// updates, nothing more.
	go b.subscribe(ctx, key, handle)
}

func (b *Bridge) subscribe(ctx context.Context, key handleKey, handle *feedHandle) {
	var cancel interfaces.CancelFunc
	err := retry.Do(ctx, b.retryConfig, func() error {
		var subErr error
		cancel, subErr = b.feed.Subscribe(key.teamID, key.category, b.handleEvent)
		if subErr != nil {
			log.Printf("Upstream subscribe failed, backing off: team=%s category=%s err=%v", key.teamID, key.category, subErr)
		}
		return subErr
	})
	if err != nil {
		return // interest vanished while retrying
	}

	b.mu.Lock()
	current, exists := b.handles[key]
	if !exists || current != handle {
		// Last interest disappeared while the subscribe was in flight.
		b.mu.Unlock()
		cancel()
		return
	}
	handle.cancel = cancel
	b.mu.Unlock()

	log.Printf("Upstream feed opened: team=%s category=%s", key.teamID, key.category)
}

func (b *Bridge) removeInterest(teamID, category string) {
	key := handleKey{teamID: teamID, category: category}

	b.mu.Lock()
	handle, exists := b.handles[key]
	if !exists {
		b.mu.Unlock()
		return
	}
	handle.refs--
	if handle.refs > 0 {
		b.mu.Unlock()
		return
	}
	delete(b.handles, key)
	b.mu.Unlock()

	handle.stop()
	if handle.cancel != nil {
		handle.cancel()
	}
	log.Printf("Upstream feed closed: team=%s category=%s", teamID, category)
}

// handleEvent resolves one upstream event to its room and broadcasts it.
// Delivery problems are scoped to the event's team.
func (b *Bridge) handleEvent(event types.FeedEvent) {
	id := types.RoomID{TeamID: event.TeamID, RoomType: event.Category}
	err := b.rooms.Broadcast(id, types.NewEvent(types.EventFeed, types.FeedEventPayload{
		TeamID:   event.TeamID,
		Category: event.Category,
		Payload:  event.Payload,
	}))
	if err != nil {
		// Interest can be stream-only; an absent room is normal.
		if err != room.ErrRoomNotFound {
			log.Printf("Feed fan-out failed: team=%s category=%s err=%v", event.TeamID, event.Category, err)
		}
	}
}

// HandleCount returns the number of live upstream handles.
func (b *Bridge) HandleCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handles)
}

// Refs returns the reference count for one (team, category) handle.
func (b *Bridge) Refs(teamID, category string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	handle, exists := b.handles[handleKey{teamID: teamID, category: category}]
	if !exists {
		return 0
	}
	return handle.refs
}
