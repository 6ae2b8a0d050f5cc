package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"teampulse/internal/auth"
	"teampulse/internal/collab"
	"teampulse/internal/config"
	"teampulse/internal/observability"
	"teampulse/internal/presence"
	"teampulse/internal/room"
	"teampulse/internal/stream"
	"teampulse/internal/ws"
	"teampulse/pkg/interfaces"
	"teampulse/pkg/types"
)

// Prometheus collectors register globally; one set serves the whole test
// binary.
var testMetrics = observability.NewMetrics()

type fakeAuthority struct {
	members map[string]map[string]string // teamID -> userID -> role
}

func (f *fakeAuthority) IsMember(_ context.Context, teamID, userID string) (bool, error) {
	_, ok := f.members[teamID][userID]
	return ok, nil
}

func (f *fakeAuthority) RoleOf(_ context.Context, teamID, userID string) (string, error) {
	role, ok := f.members[teamID][userID]
	if !ok {
		return "", interfaces.ErrNotAMember
	}
	return role, nil
}

type fakeSource struct{}

func (fakeSource) Snapshot(_ context.Context, teamID, kind string, _ types.StreamParams) (any, error) {
	return map[string]any{"team": teamID, "kind": kind}, nil
}

type testEnv struct {
	server   *httptest.Server
	verifier *auth.JWTVerifier
	registry *ws.Registry
	rooms    *room.Manager
}

func newTestEnv(t *testing.T, authority interfaces.TeamAuthority) *testEnv {
	t.Helper()

	verifier := auth.NewJWTVerifier("test-secret")
	registry := ws.NewRegistry()
	rooms := room.NewManager(registry)
	tracker := presence.NewTracker(rooms)
	sessions := collab.NewManager(registry, rooms, authority)
	streams := stream.NewScheduler(registry, fakeSource{}, time.Hour)

	registry.AddTeardownHook(func(conn *ws.Connection) { streams.HandleDisconnect(conn.ID()) })
	registry.AddTeardownHook(func(conn *ws.Connection) { sessions.HandleDisconnect(conn.UserID()) })
	registry.AddTeardownHook(func(conn *ws.Connection) { tracker.AbsentAll(conn.UserID()) })
	registry.AddTeardownHook(func(conn *ws.Connection) { rooms.LeaveAll(conn.UserID()) })

	wsConfig := &config.WebSocketConfig{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   100,
	}
	handler := NewHandler(registry, rooms, tracker, sessions, streams, verifier, authority, testMetrics, wsConfig, 100)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.HandleWebSocket)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testEnv{server: server, verifier: verifier, registry: registry, rooms: rooms}
}

func (e *testEnv) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()

	token, err := e.verifier.Issue(types.Identity{UserID: userID, DisplayName: userID}, time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) types.ServerEvent {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	var event types.ServerEvent
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("Event unmarshal failed: %v", err)
	}
	return event
}

func readEventOfType(t *testing.T, conn *websocket.Conn, want types.EventType) types.ServerEvent {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		event := readEvent(t, conn)
		if event.Type == want {
			return event
		}
	}
	t.Fatalf("Never received event of type %q", want)
	return types.ServerEvent{}
}

func tryReadEvent(conn *websocket.Conn, timeout time.Duration) (types.ServerEvent, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return types.ServerEvent{}, false
	}
	var event types.ServerEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return types.ServerEvent{}, false
	}
	return event, true
}

func sendCommand(t *testing.T, conn *websocket.Conn, command map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(command); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
}

func TestHandler_RejectsMissingAndInvalidTokens(t *testing.T) {
	env := newTestEnv(t, &fakeAuthority{})

	base := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	for _, url := range []string{base, base + "?token=garbage"} {
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Fatalf("Dial %s should fail", url)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("Expected 401 for %s, got %v", url, resp)
		}
	}
}

func TestHandler_AuthenticatedHandshake(t *testing.T) {
	env := newTestEnv(t, &fakeAuthority{})

	conn := env.dial(t, "alice")
	event := readEventOfType(t, conn, types.EventAuthenticated)
	payload := event.Payload.(map[string]any)
	user := payload["user"].(map[string]any)
	if user["user_id"] != "alice" {
		t.Errorf("Expected user alice, got %v", user["user_id"])
	}
	if env.registry.Count() != 1 {
		t.Errorf("Expected 1 registered connection, got %d", env.registry.Count())
	}
}

func TestHandler_JoinRoomFlow(t *testing.T) {
	authority := &fakeAuthority{members: map[string]map[string]string{
		"acme": {"alice": interfaces.RoleMember},
	}}
	env := newTestEnv(t, authority)

	conn := env.dial(t, "alice")
	readEventOfType(t, conn, types.EventAuthenticated)

	sendCommand(t, conn, map[string]any{"type": "join_room", "team_id": "acme", "room_type": "general"})

	// Presence sync first, then the join ack.
	readEventOfType(t, conn, types.EventPresenceSync)
	joined := readEventOfType(t, conn, types.EventRoomJoined)
	payload := joined.Payload.(map[string]any)
	if payload["room_id"] != "team_acme_general" {
		t.Errorf("Unexpected room id: %v", payload["room_id"])
	}
	if payload["member_count"] != float64(1) {
		t.Errorf("Expected member_count=1, got %v", payload["member_count"])
	}

	id := types.RoomID{TeamID: "acme", RoomType: "general"}
	if !env.rooms.IsMember(id, "alice") {
		t.Error("alice should be a room member")
	}

	sendCommand(t, conn, map[string]any{"type": "leave_room", "team_id": "acme", "room_type": "general"})
	readEventOfType(t, conn, types.EventRoomLeft)
	if env.rooms.Count() != 0 {
		t.Errorf("Room should be gone after last leave, count=%d", env.rooms.Count())
	}
}

func TestHandler_JoinRoomForbiddenForNonMembers(t *testing.T) {
	env := newTestEnv(t, &fakeAuthority{members: map[string]map[string]string{}})

	conn := env.dial(t, "mallory")
	readEventOfType(t, conn, types.EventAuthenticated)

	sendCommand(t, conn, map[string]any{"type": "join_room", "team_id": "acme", "room_type": "general"})

	event := readEventOfType(t, conn, types.EventError)
	payload := event.Payload.(map[string]any)
	if payload["code"] != string(types.CodeForbidden) {
		t.Errorf("Expected FORBIDDEN, got %v", payload["code"])
	}
}

func TestHandler_UnknownCommandRejected(t *testing.T) {
	env := newTestEnv(t, &fakeAuthority{})

	conn := env.dial(t, "alice")
	readEventOfType(t, conn, types.EventAuthenticated)

	sendCommand(t, conn, map[string]any{"type": "make_coffee"})

	event := readEventOfType(t, conn, types.EventError)
	payload := event.Payload.(map[string]any)
	if payload["code"] != string(types.CodeInvalidCommand) {
		t.Errorf("Expected INVALID_COMMAND, got %v", payload["code"])
	}
}

func TestHandler_StartSessionAckedExactlyOnce(t *testing.T) {
	authority := &fakeAuthority{members: map[string]map[string]string{
		"acme": {"alice": interfaces.RoleMember},
	}}
	env := newTestEnv(t, authority)

	conn := env.dial(t, "alice")
	readEventOfType(t, conn, types.EventAuthenticated)

	// The creator sits in the general room, where session announces land.
	sendCommand(t, conn, map[string]any{"type": "join_room", "team_id": "acme", "room_type": "general"})
	readEventOfType(t, conn, types.EventRoomJoined)

	sendCommand(t, conn, map[string]any{"type": "start_session", "team_id": "acme", "kind": "whiteboard"})

	readEventOfType(t, conn, types.EventSessionCreated)
	if event, ok := tryReadEvent(conn, 200*time.Millisecond); ok && event.Type == types.EventSessionCreated {
		t.Error("Creator received session_created twice")
	}
}

func TestHandler_SecondConnectionSupersedesFirst(t *testing.T) {
	env := newTestEnv(t, &fakeAuthority{})

	first := env.dial(t, "alice")
	readEventOfType(t, first, types.EventAuthenticated)

	second := env.dial(t, "alice")
	readEventOfType(t, second, types.EventAuthenticated)

	closed := readEventOfType(t, first, types.EventConnectionClosed)
	payload := closed.Payload.(map[string]any)
	if payload["reason"] != types.CloseReasonSuperseded {
		t.Errorf("Expected superseded reason, got %v", payload["reason"])
	}
	if env.registry.Count() != 1 {
		t.Errorf("Expected 1 live connection, got %d", env.registry.Count())
	}
}

func TestHandler_DisconnectCascadesRoomState(t *testing.T) {
	authority := &fakeAuthority{members: map[string]map[string]string{
		"acme": {"alice": interfaces.RoleMember},
	}}
	env := newTestEnv(t, authority)

	conn := env.dial(t, "alice")
	readEventOfType(t, conn, types.EventAuthenticated)
	sendCommand(t, conn, map[string]any{"type": "join_room", "team_id": "acme", "room_type": "general"})
	readEventOfType(t, conn, types.EventRoomJoined)

	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if env.registry.Count() == 0 && env.rooms.Count() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("Disconnect did not cascade: connections=%d rooms=%d", env.registry.Count(), env.rooms.Count())
}

func TestMapErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want types.ErrorCode
	}{
		{ErrNotATeamMember, types.CodeForbidden},
		{collab.ErrEndNotAllowed, types.CodeForbidden},
		{stream.ErrNotSubscriptionOwner, types.CodeForbidden},
		{collab.ErrSessionNotFound, types.CodeNotFound},
		{stream.ErrSubscriptionNotFound, types.CodeNotFound},
		{room.ErrRoomNotFound, types.CodeNotFound},
		{ErrRateLimited, types.CodeRateLimited},
		{types.ErrMalformedCommand, types.CodeInvalidCommand},
		{types.ErrInvalidTeamID, types.CodeInvalidCommand},
		{context.DeadlineExceeded, types.CodeInternal},
	}
	for _, tc := range cases {
		if got := mapErrorCode(tc.err); got != tc.want {
			t.Errorf("mapErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
