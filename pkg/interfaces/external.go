// Package interfaces defines the boundaries to the external collaborators
// this core consumes. Implementations are injected at application assembly;
// tests substitute fakes behind the same interfaces.
package interfaces

import (
	"context"

	"teampulse/pkg/types"
)

// TokenVerifier is the external authentication provider. A verification
// failure rejects the connection outright.
type TokenVerifier interface {
	// Verify validates a credential and returns the identity it encodes.
	Verify(credential string) (types.Identity, error)
}

// TeamAuthority answers team-membership and role questions. It must be
// consulted before join_room, subscribe_stream, and privileged end_session.
type TeamAuthority interface {
	IsMember(ctx context.Context, teamID, userID string) (bool, error)
	RoleOf(ctx context.Context, teamID, userID string) (string, error)
}

// Roles known to the authority. Only RoleManager carries extra privilege
// inside this core.
const (
	RoleManager = "manager"
	RoleMember  = "member"
)

// DataSource produces the data pushed on stream subscriptions. Errors are
// per-cycle: the scheduler logs and skips, it never cancels the
// subscription.
type DataSource interface {
	// Snapshot returns the current data for a (team, kind, params) triple.
	Snapshot(ctx context.Context, teamID, kind string, params types.StreamParams) (any, error)
}

// CancelFunc tears down one upstream feed subscription. Idempotent.
type CancelFunc func()

// ChangeFeed is the upstream change-feed/message source. One subscription
// per (team, category) is opened on demand; deliver is invoked for every
// matching event until cancel is called.
type ChangeFeed interface {
	Subscribe(teamID, category string, deliver func(types.FeedEvent)) (CancelFunc, error)
}
