package types

import (
	"encoding/json"
)

// CommandType enumerates the closed set of inbound client commands. Adding
// a command means adding a constant here, a payload struct below, and a
// handler table entry in the gateway; the dispatcher rejects anything else.
type CommandType string

const (
	CommandJoinRoom          CommandType = "join_room"
	CommandLeaveRoom         CommandType = "leave_room"
	CommandSubscribeStream   CommandType = "subscribe_stream"
	CommandUnsubscribeStream CommandType = "unsubscribe_stream"
	CommandStartSession      CommandType = "start_session"
	CommandJoinSession       CommandType = "join_session"
	CommandLeaveSession      CommandType = "leave_session"
	CommandSessionEvent      CommandType = "session_event"
	CommandEndSession        CommandType = "end_session"
	CommandUpdatePresence    CommandType = "update_presence"
	CommandActivityPing      CommandType = "activity_ping"
	CommandClientFocus       CommandType = "client_focus"
	CommandClientBlur        CommandType = "client_blur"
)

// Envelope is a decoded inbound frame: the command type plus the raw bytes,
// re-unmarshaled into the matching payload struct by the dispatcher.
type Envelope struct {
	Type CommandType
	Raw  json.RawMessage
}

// DecodeCommand parses the type discriminator out of an inbound frame.
// The payload is validated later, per command kind.
func DecodeCommand(data []byte) (*Envelope, error) {
	var head struct {
		Type CommandType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, ErrMalformedCommand
	}
	if head.Type == "" {
		return nil, ErrMalformedCommand
	}
	return &Envelope{Type: head.Type, Raw: json.RawMessage(data)}, nil
}

// JoinRoomCommand asks to join (and become present in) a team room.
type JoinRoomCommand struct {
	TeamID   string `json:"team_id"`
	RoomType string `json:"room_type"`
}

func (c *JoinRoomCommand) Validate() error {
	if !IsValidTeamID(c.TeamID) {
		return ErrInvalidTeamID
	}
	if !IsValidRoomType(c.RoomType) {
		return ErrInvalidRoomType
	}
	return nil
}

// LeaveRoomCommand asks to leave a team room.
type LeaveRoomCommand struct {
	TeamID   string `json:"team_id"`
	RoomType string `json:"room_type"`
}

func (c *LeaveRoomCommand) Validate() error {
	if !IsValidTeamID(c.TeamID) {
		return ErrInvalidTeamID
	}
	if !IsValidRoomType(c.RoomType) {
		return ErrInvalidRoomType
	}
	return nil
}

// SubscribeStreamCommand registers a recurring data push.
type SubscribeStreamCommand struct {
	TeamID string       `json:"team_id"`
	Kind   string       `json:"kind"`
	Params StreamParams `json:"params"`
}

func (c *SubscribeStreamCommand) Validate() error {
	if !IsValidTeamID(c.TeamID) {
		return ErrInvalidTeamID
	}
	if !IsValidStreamKind(c.Kind) {
		return ErrInvalidStreamKind
	}
	return nil
}

// UnsubscribeStreamCommand cancels a stream subscription by id.
type UnsubscribeStreamCommand struct {
	SubscriptionID string `json:"subscription_id"`
}

func (c *UnsubscribeStreamCommand) Validate() error {
	if c.SubscriptionID == "" {
		return ErrMalformedCommand
	}
	return nil
}

// StartSessionCommand creates a collaboration session.
type StartSessionCommand struct {
	TeamID   string         `json:"team_id"`
	Kind     string         `json:"kind"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (c *StartSessionCommand) Validate() error {
	if !IsValidTeamID(c.TeamID) {
		return ErrInvalidTeamID
	}
	if !IsValidSessionKind(c.Kind) {
		return ErrInvalidSessionKind
	}
	return CheckPayloadSize(c.Metadata)
}

// JoinSessionCommand adds the caller to a session's participant set.
type JoinSessionCommand struct {
	SessionID string `json:"session_id"`
}

func (c *JoinSessionCommand) Validate() error {
	if c.SessionID == "" {
		return ErrMalformedCommand
	}
	return nil
}

// LeaveSessionCommand removes the caller from a session's participant set.
type LeaveSessionCommand struct {
	SessionID string `json:"session_id"`
}

func (c *LeaveSessionCommand) Validate() error {
	if c.SessionID == "" {
		return ErrMalformedCommand
	}
	return nil
}

// SessionEventCommand relays an event to the other session participants.
type SessionEventCommand struct {
	SessionID string         `json:"session_id"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func (c *SessionEventCommand) Validate() error {
	if c.SessionID == "" || c.EventType == "" {
		return ErrMalformedCommand
	}
	return CheckPayloadSize(c.Payload)
}

// EndSessionCommand terminates a session.
type EndSessionCommand struct {
	SessionID string `json:"session_id"`
}

func (c *EndSessionCommand) Validate() error {
	if c.SessionID == "" {
		return ErrMalformedCommand
	}
	return nil
}

// UpdatePresenceCommand changes the caller's presence fields in every room
// they are present in.
type UpdatePresenceCommand struct {
	Status   string `json:"status,omitempty"`
	Activity string `json:"activity,omitempty"`
	Location string `json:"location,omitempty"`
}

func (c *UpdatePresenceCommand) Validate() error {
	if !IsValidStatusText(c.Status) || !IsValidStatusText(c.Activity) || !IsValidStatusText(c.Location) {
		return ErrInvalidStatusText
	}
	return nil
}
