package heartbeat

import "errors"

var (
	ErrAlreadyRunning = errors.New("heartbeat monitor is already running")
	ErrNotRunning     = errors.New("heartbeat monitor is not running")
)
