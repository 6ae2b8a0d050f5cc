// Package stream schedules recurring per-connection data pushes. Each
// subscription owns one goroutine whose lifetime is tied to the owning
// connection; teardown cancels it synchronously so no push ever fires
// against removed state.
package stream

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"teampulse/internal/ws"
	"teampulse/pkg/interfaces"
	"teampulse/pkg/types"
)

type subscription struct {
	record types.StreamSubscription
	cancel context.CancelFunc
	done   chan struct{}
}

// InterestListener observes team-events subscriptions coming and going.
// The event bridge uses this to refcount upstream feed interest.
type InterestListener interface {
	StreamOpened(teamID, kind string)
	StreamClosed(teamID, kind string)
}

// Scheduler owns all stream subscriptions.
type Scheduler struct {
	registry *ws.Registry
	source   interfaces.DataSource
	interval time.Duration

	mu       sync.Mutex
	subs     map[string]*subscription
	connSubs map[string]map[string]struct{} // connection id -> subscription ids

	listeners []InterestListener
}

// NewScheduler creates a scheduler pushing from source every interval.
func NewScheduler(registry *ws.Registry, source interfaces.DataSource, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Scheduler{
		registry: registry,
		source:   source,
		interval: interval,
		subs:     make(map[string]*subscription),
		connSubs: make(map[string]map[string]struct{}),
	}
}

// AddInterestListener registers a listener. Call during assembly.
func (s *Scheduler) AddInterestListener(l InterestListener) {
	s.listeners = append(s.listeners, l)
}

// Subscribe registers a recurring push for the connection, delivers an
// immediate snapshot, and starts the push loop.
func (s *Scheduler) Subscribe(ctx context.Context, conn *ws.Connection, teamID, kind string, params types.StreamParams) (string, error) {
	if conn == nil {
		return "", ws.ErrNilConnection
	}
	if !types.IsValidStreamKind(kind) {
		return "", types.ErrInvalidStreamKind
	}

	data, err := s.source.Snapshot(ctx, teamID, kind, params)
	if err != nil {
		return "", err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		record: types.StreamSubscription{
			ID:           uuid.New().String(),
			ConnectionID: conn.ID(),
			UserID:       conn.UserID(),
			TeamID:       teamID,
			Kind:         kind,
			Params:       params,
			Active:       true,
			LastUpdate:   time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	// Fence against the teardown cascade: the snapshot above is a suspension
	// point, so the owner may have been unregistered while it ran.
	// HandleDisconnect takes s.mu, so checking and inserting under one lock
	// hold guarantees either this subscribe is rejected or the cascade sees it.
	if _, live := s.registry.GetConnection(conn.ID()); !live {
		s.mu.Unlock()
		cancel()
		return "", ws.ErrConnectionNotRegistered
	}
	s.subs[sub.record.ID] = sub
	if s.connSubs[conn.ID()] == nil {
		s.connSubs[conn.ID()] = make(map[string]struct{})
	}
	s.connSubs[conn.ID()][sub.record.ID] = struct{}{}
	s.mu.Unlock()

	if err := conn.Send(types.NewEvent(types.EventStreamSnapshot, types.StreamDataPayload{
		SubscriptionID: sub.record.ID,
		Data:           data,
	})); err != nil {
		log.Printf("Stream snapshot delivery failed: sub=%s err=%v", sub.record.ID, err)
	}

	go s.pushLoop(loopCtx, sub)

	log.Printf("Stream subscribed: id=%s conn=%s team=%s kind=%s", sub.record.ID, conn.ID(), teamID, kind)
	for _, l := range s.listeners {
		l.StreamOpened(teamID, kind)
	}
	return sub.record.ID, nil
}

func (s *Scheduler) pushLoop(ctx context.Context, sub *subscription) {
	defer close(sub.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.pushOnce(ctx, sub)
		case <-ctx.Done():
			return
		}
	}
}

// pushOnce runs one cycle. A data-source failure is logged and skipped,
// never fatal to the subscription.
func (s *Scheduler) pushOnce(ctx context.Context, sub *subscription) {
	s.mu.Lock()
	record := sub.record
	s.mu.Unlock()

	if record.Paused || !record.Active {
		return
	}

	conn, ok := s.registry.GetConnection(record.ConnectionID)
	if !ok {
		return // teardown cascade is about to cancel this loop
	}

	data, err := s.source.Snapshot(ctx, record.TeamID, record.Kind, record.Params)
	if err != nil {
		log.Printf("Stream push skipped: sub=%s err=%v", record.ID, err)
		return
	}

	if err := conn.Send(types.NewEvent(types.EventStreamUpdate, types.StreamDataPayload{
		SubscriptionID: record.ID,
		Data:           data,
	})); err != nil {
		log.Printf("Stream push delivery failed: sub=%s err=%v", record.ID, err)
		return
	}

	s.mu.Lock()
	sub.record.LastUpdate = time.Now()
	s.mu.Unlock()
}

// Pause suspends pushes without touching the subscription identity.
func (s *Scheduler) Pause(subscriptionID, connectionID string) error {
	return s.setPaused(subscriptionID, connectionID, true, false)
}

// Resume re-enables pushes under the same id. No snapshot is re-sent
// unless withSnapshot is set.
func (s *Scheduler) Resume(subscriptionID, connectionID string, withSnapshot bool) error {
	return s.setPaused(subscriptionID, connectionID, false, withSnapshot)
}

func (s *Scheduler) setPaused(subscriptionID, connectionID string, paused, withSnapshot bool) error {
	s.mu.Lock()
	sub, exists := s.subs[subscriptionID]
	if !exists {
		s.mu.Unlock()
		return ErrSubscriptionNotFound
	}
	if connectionID != "" && sub.record.ConnectionID != connectionID {
		s.mu.Unlock()
		return ErrNotSubscriptionOwner
	}
	changed := sub.record.Paused != paused
	sub.record.Paused = paused
	record := sub.record
	s.mu.Unlock()

	if !changed {
		return nil
	}

	conn, ok := s.registry.GetConnection(record.ConnectionID)
	if !ok {
		return nil
	}
	eventType := types.EventStreamPaused
	if !paused {
		eventType = types.EventStreamResumed
	}
	_ = conn.Send(types.NewEvent(eventType, types.StreamStatePayload{SubscriptionID: record.ID}))

	if !paused && withSnapshot {
		if data, err := s.source.Snapshot(context.Background(), record.TeamID, record.Kind, record.Params); err == nil {
			_ = conn.Send(types.NewEvent(types.EventStreamSnapshot, types.StreamDataPayload{
				SubscriptionID: record.ID,
				Data:           data,
			}))
		}
	}
	return nil
}

// Unsubscribe cancels the push loop and removes the record. The loop is
// confirmed stopped before this returns.
func (s *Scheduler) Unsubscribe(subscriptionID, connectionID string) error {
	s.mu.Lock()
	sub, exists := s.subs[subscriptionID]
	if !exists {
		s.mu.Unlock()
		return ErrSubscriptionNotFound
	}
	if connectionID != "" && sub.record.ConnectionID != connectionID {
		s.mu.Unlock()
		return ErrNotSubscriptionOwner
	}
	delete(s.subs, subscriptionID)
	if subs := s.connSubs[sub.record.ConnectionID]; subs != nil {
		delete(subs, subscriptionID)
		if len(subs) == 0 {
			delete(s.connSubs, sub.record.ConnectionID)
		}
	}
	sub.record.Active = false
	record := sub.record
	s.mu.Unlock()

	sub.cancel()
	<-sub.done

	log.Printf("Stream unsubscribed: id=%s", subscriptionID)
	for _, l := range s.listeners {
		l.StreamClosed(record.TeamID, record.Kind)
	}
	return nil
}

// PauseAll suspends every subscription owned by a connection. Used when
// the client signals it is backgrounded.
func (s *Scheduler) PauseAll(connectionID string) {
	for _, id := range s.subscriptionIDs(connectionID) {
		_ = s.Pause(id, connectionID)
	}
}

// ResumeAll resumes every subscription owned by a connection, without
// re-snapshotting.
func (s *Scheduler) ResumeAll(connectionID string) {
	for _, id := range s.subscriptionIDs(connectionID) {
		_ = s.Resume(id, connectionID, false)
	}
}

// HandleDisconnect cancels every subscription owned by a connection,
// synchronously. Part of the disconnect cascade.
func (s *Scheduler) HandleDisconnect(connectionID string) {
	for _, id := range s.subscriptionIDs(connectionID) {
		_ = s.Unsubscribe(id, connectionID)
	}
}

func (s *Scheduler) subscriptionIDs(connectionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.connSubs[connectionID]))
	for id := range s.connSubs[connectionID] {
		ids = append(ids, id)
	}
	return ids
}

// Get returns a snapshot of one subscription record.
func (s *Scheduler) Get(subscriptionID string) (types.StreamSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, exists := s.subs[subscriptionID]
	if !exists {
		return types.StreamSubscription{}, ErrSubscriptionNotFound
	}
	return sub.record, nil
}

// List returns subscription snapshots, optionally filtered by team.
func (s *Scheduler) List(teamID string) []types.StreamSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]types.StreamSubscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if teamID != "" && sub.record.TeamID != teamID {
			continue
		}
		records = append(records, sub.record)
	}
	return records
}

// Count returns the number of live subscriptions.
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
