package interfaces

import "errors"

// Errors shared across collaborator boundaries.
var (
	ErrInvalidCredential = errors.New("invalid or expired credential")
	ErrNotAMember        = errors.New("user is not a member of this team")
	ErrUnknownTeam       = errors.New("unknown team")
	ErrFeedUnavailable   = errors.New("upstream feed unavailable")
)
