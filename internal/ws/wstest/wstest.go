// Package wstest provides live websocket pairs for component tests: a
// registered-style server connection wrapper plus the raw client socket
// for observing delivered events.
package wstest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"teampulse/internal/ws"
	"teampulse/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Pair is one live connection: the server-side wrapper components operate
// on, and the client-side peer socket tests read events from.
type Pair struct {
	Conn *ws.Connection
	Peer *websocket.Conn

	// messages is fed by a background reader goroutine. Reading through a
	// channel lets TryReadEvent time out without poisoning the peer socket:
	// a read deadline on a gorilla connection fails its read side
	// permanently, so timed reads must not touch the socket directly.
	messages chan []byte
}

// NewPair dials a real websocket through an httptest server and wraps the
// server side. Both ends close on test cleanup.
func NewPair(t *testing.T, identity types.Identity) *Pair {
	t.Helper()

	serverConnCh := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		serverConnCh <- conn
		// Drain client frames so the socket stays open.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	peer, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial test websocket: %v", err)
	}
	t.Cleanup(func() { _ = peer.Close() })

	serverConn := <-serverConnCh
	conn := ws.NewConnection(serverConn, identity, 100, 2*time.Second)
	t.Cleanup(func() { _ = conn.Close() })

	p := &Pair{Conn: conn, Peer: peer, messages: make(chan []byte, 256)}
	go func() {
		defer close(p.messages)
		for {
			_, data, err := peer.ReadMessage()
			if err != nil {
				return
			}
			p.messages <- data
		}
	}()
	return p
}

// ReadEvent returns the next server event delivered to the peer, failing
// the test after two seconds.
func (p *Pair) ReadEvent(t *testing.T) types.ServerEvent {
	t.Helper()

	event, ok := p.TryReadEvent(2 * time.Second)
	if !ok {
		t.Fatal("Timed out waiting for server event")
	}
	return event
}

// TryReadEvent returns the next event within the timeout, or ok=false.
func (p *Pair) TryReadEvent(timeout time.Duration) (types.ServerEvent, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data, ok := <-p.messages:
		if !ok {
			return types.ServerEvent{}, false
		}
		var event types.ServerEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return types.ServerEvent{}, false
		}
		return event, true
	case <-timer.C:
		return types.ServerEvent{}, false
	}
}

// ReadEventOfType reads events until one of the wanted type arrives,
// failing the test if it does not show up.
func (p *Pair) ReadEventOfType(t *testing.T, want types.EventType) types.ServerEvent {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		event, ok := p.TryReadEvent(time.Until(deadline))
		if !ok {
			break
		}
		if event.Type == want {
			return event
		}
	}
	t.Fatalf("Never received event of type %q", want)
	return types.ServerEvent{}
}

// PayloadMap re-decodes an event payload into a map for assertions.
func PayloadMap(t *testing.T, event types.ServerEvent) map[string]any {
	t.Helper()

	m, ok := event.Payload.(map[string]any)
	if !ok {
		t.Fatalf("Event payload is %T, not an object", event.Payload)
	}
	return m
}
