package stream

import "errors"

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrNotSubscriptionOwner = errors.New("subscription is owned by another connection")
)
