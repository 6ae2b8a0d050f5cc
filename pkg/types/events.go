package types

import "time"

// EventType enumerates outbound server events.
type EventType string

const (
	EventAuthenticated          EventType = "authenticated"
	EventError                  EventType = "error"
	EventConnectionClosed       EventType = "connection_closed"
	EventRoomJoined             EventType = "room_joined"
	EventRoomLeft               EventType = "room_left"
	EventPresenceSync           EventType = "presence_sync"
	EventPresenceJoin           EventType = "presence_join"
	EventPresenceLeave          EventType = "presence_leave"
	EventPresenceUpdate         EventType = "presence_update"
	EventStreamSnapshot         EventType = "stream_snapshot"
	EventStreamUpdate           EventType = "stream_update"
	EventStreamPaused           EventType = "stream_paused"
	EventStreamResumed          EventType = "stream_resumed"
	EventSessionCreated         EventType = "session_created"
	EventSessionJoined          EventType = "session_joined"
	EventSessionEvent           EventType = "session_event"
	EventSessionParticipantLeft EventType = "session_participant_left"
	EventSessionEnded           EventType = "session_ended"
	EventFeed                   EventType = "feed_event"
	EventHeartbeat              EventType = "heartbeat"
)

// ServerEvent is the single outbound frame shape. Payload is one of the
// typed payload structs below (or nil).
type ServerEvent struct {
	Type      EventType `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent stamps an outbound event.
func NewEvent(t EventType, payload any) ServerEvent {
	return ServerEvent{Type: t, Payload: payload, Timestamp: time.Now()}
}

// ErrorPayload carries a scoped error back to the offending caller only.
type ErrorPayload struct {
	Message string    `json:"message"`
	Code    ErrorCode `json:"code"`
}

// AuthenticatedPayload confirms a successful connection handshake.
type AuthenticatedPayload struct {
	ConnectionID string   `json:"connection_id"`
	User         Identity `json:"user"`
}

// ConnectionClosedPayload announces a forced close; reason "superseded"
// means a newer connection for the same identity replaced this one.
type ConnectionClosedPayload struct {
	Reason string `json:"reason"`
}

const CloseReasonSuperseded = "superseded"

type RoomJoinedPayload struct {
	RoomID      string `json:"room_id"`
	TeamID      string `json:"team_id"`
	RoomType    string `json:"room_type"`
	MemberCount int    `json:"member_count"`
}

type RoomLeftPayload struct {
	RoomID string `json:"room_id"`
}

type PresenceSyncPayload struct {
	RoomID string          `json:"room_id"`
	Roster []PresenceEntry `json:"roster"`
}

type PresenceDeltaPayload struct {
	RoomID string        `json:"room_id"`
	User   PresenceEntry `json:"user"`
}

type StreamDataPayload struct {
	SubscriptionID string `json:"subscription_id"`
	Data           any    `json:"data"`
}

type StreamStatePayload struct {
	SubscriptionID string `json:"subscription_id"`
}

type SessionCreatedPayload struct {
	SessionID    string   `json:"session_id"`
	TeamID       string   `json:"team_id"`
	Kind         string   `json:"kind"`
	CreatorID    string   `json:"creator_id"`
	Participants []string `json:"participants"`
}

type SessionJoinedPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

type SessionEventPayload struct {
	SessionID string         `json:"session_id"`
	Actor     string         `json:"actor"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type SessionParticipantLeftPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

type SessionEndedPayload struct {
	SessionID string `json:"session_id"`
	EndedBy   string `json:"ended_by"`
}

type FeedEventPayload struct {
	TeamID   string         `json:"team_id"`
	Category string         `json:"category"`
	Payload  map[string]any `json:"payload"`
}

type HeartbeatPayload struct {
	Timestamp        time.Time `json:"timestamp"`
	ConnectedClients int       `json:"connected_clients"`
}
