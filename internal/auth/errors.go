package auth

import "errors"

var (
	ErrVerifierDisabled  = errors.New("token verification is not configured")
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid or expired credential")
)
