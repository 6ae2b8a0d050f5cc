package ws

import (
	"log"
	"sync"

	"teampulse/pkg/types"
)

// TeardownHook is invoked synchronously while a connection's
// unregistration is in flight. Hooks are how disconnect cascades into the
// other components (streams, sessions, presence, rooms) without the
// registry reaching into their state.
type TeardownHook func(conn *Connection)

// Registry tracks live connections and enforces the single-live-connection
// invariant: registering an identity that already has a connection evicts
// the prior one with reason "superseded" and cascades its teardown first.
//
// Two locks: lifecycleMu serializes register/unregister (including hook
// execution) so cascades never interleave; mu guards the lookup maps so
// hooks and broadcasts can resolve connections without deadlocking.
type Registry struct {
	lifecycleMu sync.Mutex

	mu     sync.RWMutex
	byUser map[string]*Connection
	byID   map[string]*Connection

	hooks []TeardownHook
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]*Connection),
		byID:   make(map[string]*Connection),
	}
}

// AddTeardownHook appends a cascade hook. Call during assembly, before any
// connection registers; hooks run in registration order.
func (r *Registry) AddTeardownHook(hook TeardownHook) {
	r.hooks = append(r.hooks, hook)
}

// Register adds a connection. A prior connection for the same identity is
// closed with reason "superseded" and fully cascaded before the new one
// becomes visible.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	userID := conn.UserID()
	if !types.IsValidUserID(userID) {
		return ErrMissingIdentity
	}

	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	r.mu.RLock()
	prior := r.byUser[userID]
	r.mu.RUnlock()

	if prior != nil {
		log.Printf("Superseding connection: user=%s old_conn=%s new_conn=%s", userID, prior.ID(), conn.ID())
		if err := prior.CloseWithReason(types.CloseReasonSuperseded); err != nil {
			log.Printf("Failed to close superseded connection for %s: %v", userID, err)
		}
		r.removeAndCascade(prior)
	}

	r.mu.Lock()
	r.byUser[userID] = conn
	r.byID[conn.ID()] = conn
	r.mu.Unlock()

	return nil
}

// Unregister removes a connection and runs the teardown cascade. Idempotent,
// and a no-op when a newer connection has already replaced this one.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	r.mu.RLock()
	registered := r.byUser[conn.UserID()]
	r.mu.RUnlock()
	if registered != conn {
		return
	}

	r.removeAndCascade(conn)
	_ = conn.Close()
}

// removeAndCascade drops the connection from the lookup maps, then runs the
// hooks. The maps are updated first so every component resolving by id
// already observes the connection as gone; the hooks complete before the
// caller returns, making the teardown one logical step.
func (r *Registry) removeAndCascade(conn *Connection) {
	r.mu.Lock()
	delete(r.byUser, conn.UserID())
	delete(r.byID, conn.ID())
	r.mu.Unlock()

	for _, hook := range r.hooks {
		hook(conn)
	}
}

// GetUserConnection returns the live connection for a user.
func (r *Registry) GetUserConnection(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, exists := r.byUser[userID]
	return conn, exists
}

// GetConnection returns a connection by connection id.
func (r *Registry) GetConnection(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, exists := r.byID[connID]
	return conn, exists
}

// Connections returns a snapshot of all live connections.
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Connection, 0, len(r.byID))
	for _, conn := range r.byID {
		conns = append(conns, conn)
	}
	return conns
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Broadcast sends an event to every live connection. Send failures are
// logged and skipped.
func (r *Registry) Broadcast(event types.ServerEvent) {
	for _, conn := range r.Connections() {
		if err := conn.Send(event); err != nil {
			log.Printf("Broadcast delivery failed: user=%s err=%v", conn.UserID(), err)
		}
	}
}
