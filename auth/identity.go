// Package auth exposes the local user's identity to the conversation
// subsystem. The identity is consumed read-only, to tell own messages from
// others' and to compute unread counters.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"convo/errors"
)

// Identity is the local user as seen by this client.
type Identity struct {
	UserID      string
	Username    string
	DisplayName string
}

// SessionClaims is the subset of the session token this subsystem reads.
type SessionClaims struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

// FromToken extracts the local identity from the session token.
// The token is decoded without signature verification: the server is the
// authority on it, the client only needs the identity it carries.
func FromToken(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, errors.ErrNoIdentity
	}

	claims := &SessionClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", errors.ErrNoIdentity, err)
	}
	if claims.UserID == "" {
		return Identity{}, errors.ErrNoIdentity
	}

	display := claims.DisplayName
	if display == "" {
		display = claims.Username
	}
	return Identity{
		UserID:      claims.UserID,
		Username:    claims.Username,
		DisplayName: display,
	}, nil
}
