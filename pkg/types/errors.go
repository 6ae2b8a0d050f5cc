package types

import "errors"

// Validation errors shared across components.
var (
	ErrInvalidUserID      = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidTeamID      = errors.New("team ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRoomType    = errors.New("room type must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidSessionKind = errors.New("session kind must be whiteboard, document, or meeting")
	ErrInvalidStreamKind  = errors.New("stream kind must be analytics or team_events")
	ErrInvalidStatusText  = errors.New("presence fields must be at most 200 characters")
	ErrPayloadTooLarge    = errors.New("payload exceeds 64KB limit")
	ErrUnknownCommand     = errors.New("unknown command type")
	ErrMalformedCommand   = errors.New("malformed command payload")
)

// ErrorCode values carried on the wire in error events. Clients branch on
// the code, never on the message text.
type ErrorCode string

const (
	CodeAuthFailed     ErrorCode = "AUTH_FAILED"
	CodeForbidden      ErrorCode = "FORBIDDEN"
	CodeInvalidCommand ErrorCode = "INVALID_COMMAND"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeRateLimited    ErrorCode = "RATE_LIMITED"
	CodeInternal       ErrorCode = "INTERNAL"
)
