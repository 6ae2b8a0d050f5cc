package gateway

import "errors"

var (
	ErrNotATeamMember = errors.New("user is not a member of this team")
	ErrRateLimited    = errors.New("command rate limit exceeded")
)
