package types

import (
	"fmt"
	"time"
)

// Identity is the authenticated principal behind a connection, as returned
// by the token verifier. Connections are keyed by UserID throughout the
// system; DisplayName and AvatarRef are carried for presence rosters only.
type Identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

// RoomID identifies a room by its (team, room type) pair. The string form
// "team_<id>_<type>" is what clients and the change feed see.
type RoomID struct {
	TeamID   string `json:"team_id"`
	RoomType string `json:"room_type"`
}

func (r RoomID) String() string {
	return fmt.Sprintf("team_%s_%s", r.TeamID, r.RoomType)
}

// GeneralRoom is the room every session-related announcement goes to.
const GeneralRoomType = "general"

// Room is a read-only snapshot of a live room, served by the management API.
// A room exists exactly while its member set is non-empty.
type Room struct {
	ID           RoomID    `json:"id"`
	Key          string    `json:"key"`
	Members      []string  `json:"members"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// PresenceEntry is one user's live presence inside a room.
type PresenceEntry struct {
	User     Identity  `json:"user"`
	Status   string    `json:"status,omitempty"`
	Activity string    `json:"activity,omitempty"`
	Location string    `json:"location,omitempty"`
	OnlineAt time.Time `json:"online_at"`
	LastSeen time.Time `json:"last_seen"`
}

// Collaboration session kinds.
const (
	SessionKindWhiteboard = "whiteboard"
	SessionKindDocument   = "document"
	SessionKindMeeting    = "meeting"
)

// Collaboration session status values. The transition is monotonic:
// active -> ended, set exactly once.
const (
	SessionStatusActive = "active"
	SessionStatusEnded  = "ended"
)

// CollabSession is an ephemeral shared-activity session. Ended sessions are
// retained in memory for late queries; they are never resurrected.
type CollabSession struct {
	ID           string         `json:"id"`
	TeamID       string         `json:"team_id"`
	Kind         string         `json:"kind"`
	CreatorID    string         `json:"creator_id"`
	Participants []string       `json:"participants"`
	Status       string         `json:"status"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
	EndedAt      *time.Time     `json:"ended_at,omitempty"`
	EndedBy      string         `json:"ended_by,omitempty"`
}

// Stream subscription kinds.
const (
	StreamKindAnalytics  = "analytics"
	StreamKindTeamEvents = "team_events"
)

// StreamParams are the client-chosen parameters of a stream subscription.
type StreamParams struct {
	ChartType string `json:"chart_type,omitempty"`
	Period    string `json:"period,omitempty"`
}

// StreamSubscription is a read-only snapshot of a recurring push
// registration, served by the management API. The subscription lives exactly
// as long as its owning connection.
type StreamSubscription struct {
	ID           string       `json:"id"`
	ConnectionID string       `json:"connection_id"`
	UserID       string       `json:"user_id"`
	TeamID       string       `json:"team_id"`
	Kind         string       `json:"kind"`
	Params       StreamParams `json:"params"`
	Active       bool         `json:"active"`
	Paused       bool         `json:"paused"`
	LastUpdate   time.Time    `json:"last_update"`
}

// FeedEvent is one externally sourced change event delivered by the
// upstream change feed, keyed by team and category.
type FeedEvent struct {
	TeamID   string         `json:"team_id"`
	Category string         `json:"category"`
	Payload  map[string]any `json:"payload"`
}

// IsValidSessionKind reports whether kind is one of the three session kinds.
func IsValidSessionKind(kind string) bool {
	switch kind {
	case SessionKindWhiteboard, SessionKindDocument, SessionKindMeeting:
		return true
	default:
		return false
	}
}

// IsValidStreamKind reports whether kind is a known stream kind.
func IsValidStreamKind(kind string) bool {
	switch kind {
	case StreamKindAnalytics, StreamKindTeamEvents:
		return true
	default:
		return false
	}
}
