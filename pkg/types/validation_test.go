package types

import (
	"strings"
	"testing"
)

func TestIsValidUserID(t *testing.T) {
	cases := []struct {
		id    string
		valid bool
	}{
		{"alice", true},
		{"user_123", true},
		{"user-123", true},
		{strings.Repeat("a", 50), true},
		{"", false},
		{strings.Repeat("a", 51), false},
		{"has spaces", false},
		{"emoji🙂", false},
	}
	for _, tc := range cases {
		if got := IsValidUserID(tc.id); got != tc.valid {
			t.Errorf("IsValidUserID(%q) = %v, want %v", tc.id, got, tc.valid)
		}
	}
}

func TestIsValidStatusText(t *testing.T) {
	if !IsValidStatusText("") {
		t.Error("Empty status should be valid")
	}
	if !IsValidStatusText(strings.Repeat("a", 200)) {
		t.Error("200-character status should be valid")
	}
	if IsValidStatusText(strings.Repeat("a", 201)) {
		t.Error("201-character status should be rejected")
	}
}

func TestCheckPayloadSize(t *testing.T) {
	if err := CheckPayloadSize(nil); err != nil {
		t.Errorf("Nil payload rejected: %v", err)
	}
	if err := CheckPayloadSize(map[string]any{"k": "v"}); err != nil {
		t.Errorf("Small payload rejected: %v", err)
	}
	if err := CheckPayloadSize(map[string]any{"k": strings.Repeat("x", MaxPayloadBytes)}); err != ErrPayloadTooLarge {
		t.Errorf("Expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestRoomID_String(t *testing.T) {
	id := RoomID{TeamID: "acme", RoomType: "general"}
	if got := id.String(); got != "team_acme_general" {
		t.Errorf("RoomID.String() = %q", got)
	}
}

func TestKindValidators(t *testing.T) {
	for _, kind := range []string{SessionKindWhiteboard, SessionKindDocument, SessionKindMeeting} {
		if !IsValidSessionKind(kind) {
			t.Errorf("Session kind %q should be valid", kind)
		}
	}
	if IsValidSessionKind("karaoke") {
		t.Error("Unknown session kind accepted")
	}

	for _, kind := range []string{StreamKindAnalytics, StreamKindTeamEvents} {
		if !IsValidStreamKind(kind) {
			t.Errorf("Stream kind %q should be valid", kind)
		}
	}
	if IsValidStreamKind("weather") {
		t.Error("Unknown stream kind accepted")
	}
}
