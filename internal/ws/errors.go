package ws

import "errors"

// Connection-related errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrInvalidEvent     = errors.New("event not JSON-encodable")
)

// Registry-related errors.
var (
	ErrNilConnection           = errors.New("connection cannot be nil")
	ErrMissingIdentity         = errors.New("connection has no authenticated identity")
	ErrConnectionNotRegistered = errors.New("connection is no longer registered")
)
