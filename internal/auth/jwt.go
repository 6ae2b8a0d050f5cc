// Package auth implements the external authentication provider boundary
// with HS256 JWT verification. Tokens are issued elsewhere; this core only
// verifies them.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"teampulse/pkg/types"
)

// JWTVerifier validates bearer tokens and extracts the identity they carry.
type JWTVerifier struct {
	secret []byte
	leeway time.Duration
}

// NewJWTVerifier builds a verifier with the given shared secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), leeway: 30 * time.Second}
}

type claims struct {
	DisplayName string `json:"name,omitempty"`
	AvatarRef   string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// Verify parses and validates a credential and returns the embedded
// identity. Any parse, signature, or expiry problem yields
// ErrInvalidCredential; callers must not distinguish further.
func (v *JWTVerifier) Verify(credential string) (types.Identity, error) {
	if v == nil || len(v.secret) == 0 {
		return types.Identity{}, ErrVerifierDisabled
	}
	if strings.TrimSpace(credential) == "" {
		return types.Identity{}, ErrMissingCredential
	}

	parsed, err := jwt.ParseWithClaims(credential, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithLeeway(v.leeway))
	if err != nil {
		return types.Identity{}, ErrInvalidCredential
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return types.Identity{}, ErrInvalidCredential
	}
	userID := strings.TrimSpace(c.Subject)
	if !types.IsValidUserID(userID) {
		return types.Identity{}, ErrInvalidCredential
	}

	identity := types.Identity{
		UserID:      userID,
		DisplayName: strings.TrimSpace(c.DisplayName),
		AvatarRef:   strings.TrimSpace(c.AvatarRef),
	}
	if identity.DisplayName == "" {
		identity.DisplayName = userID
	}
	return identity, nil
}

// Issue signs a token for the given identity. Used by tests and local
// tooling; production tokens come from the identity service.
func (v *JWTVerifier) Issue(identity types.Identity, ttl time.Duration) (string, error) {
	if v == nil || len(v.secret) == 0 {
		return "", ErrVerifierDisabled
	}
	c := claims{
		DisplayName: identity.DisplayName,
		AvatarRef:   identity.AvatarRef,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(v.secret)
}
