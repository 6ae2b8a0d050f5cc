package types

import (
	"encoding/json"
	"regexp"
)

// Identifier format shared by user, team, and room-type fields. Compiled
// once at package initialization.
var identRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// MaxPayloadBytes bounds arbitrary client payloads (session events, feed
// payloads) after JSON encoding.
const MaxPayloadBytes = 65536

// IsValidUserID checks if a user ID meets format requirements.
func IsValidUserID(userID string) bool {
	return isValidIdent(userID)
}

// IsValidTeamID checks if a team ID meets format requirements.
func IsValidTeamID(teamID string) bool {
	return isValidIdent(teamID)
}

// IsValidRoomType checks if a room type meets format requirements.
func IsValidRoomType(roomType string) bool {
	return isValidIdent(roomType)
}

func isValidIdent(s string) bool {
	if len(s) < 1 || len(s) > 50 {
		return false
	}
	return identRegex.MatchString(s)
}

// IsValidStatusText bounds the free-form presence strings.
func IsValidStatusText(s string) bool {
	return len(s) <= 200
}

// CheckPayloadSize ensures an arbitrary payload stays within the wire limit.
// Marshaling is the only way to get an accurate byte count.
func CheckPayloadSize(payload any) error {
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ErrMalformedCommand
	}
	if len(data) > MaxPayloadBytes {
		return ErrPayloadTooLarge
	}
	return nil
}
