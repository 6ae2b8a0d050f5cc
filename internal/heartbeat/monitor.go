// Package heartbeat broadcasts a periodic liveness signal to every
// connected client, independent of room or session activity. Dead
// connection detection stays at the transport layer; this is purely a
// client-facing pulse.
package heartbeat

import (
	"log"
	"sync"
	"time"

	"teampulse/internal/ws"
	"teampulse/pkg/types"
)

// Monitor emits the periodic statistics broadcast.
type Monitor struct {
	registry *ws.Registry
	interval time.Duration

	mu       sync.Mutex
	running  bool
	shutdown chan struct{}
	done     chan struct{}
}

// NewMonitor creates a heartbeat monitor over the registry.
func NewMonitor(registry *ws.Registry, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		registry: registry,
		interval: interval,
	}
}

// Start begins the broadcast loop.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrAlreadyRunning
	}
	m.running = true
	m.shutdown = make(chan struct{})
	m.done = make(chan struct{})

	go m.run(m.shutdown, m.done)
	log.Printf("Heartbeat monitor started: interval=%s", m.interval)
	return nil
}

// Stop halts the loop. The loop is confirmed stopped before Stop returns,
// so no heartbeat fires after teardown.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.running = false
	shutdown, done := m.shutdown, m.done
	m.mu.Unlock()

	close(shutdown)
	<-done
	return nil
}

func (m *Monitor) run(shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.beat()
		case <-shutdown:
			return
		}
	}
}

func (m *Monitor) beat() {
	now := time.Now()
	m.registry.Broadcast(types.NewEvent(types.EventHeartbeat, types.HeartbeatPayload{
		Timestamp:        now,
		ConnectedClients: m.registry.Count(),
	}))
}
