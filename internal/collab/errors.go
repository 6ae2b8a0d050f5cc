package collab

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionEnded    = errors.New("session has ended")
	ErrNotAParticipant = errors.New("user is not a session participant")
	ErrEndNotAllowed   = errors.New("not allowed to end this session")
)
