package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"convo/errors"
)

func signedToken(t *testing.T, claims SessionClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func Test_FromToken_Extracts_Identity(t *testing.T) {
	req := require.New(t)
	token := signedToken(t, SessionClaims{
		UserID:      "alice",
		Username:    "alice",
		DisplayName: "Alice L.",
	})

	identity, err := FromToken(token)

	req.NoError(err)
	req.Equal("alice", identity.UserID)
	req.Equal("Alice L.", identity.DisplayName)
}

func Test_FromToken_Falls_Back_To_Username(t *testing.T) {
	req := require.New(t)
	token := signedToken(t, SessionClaims{UserID: "alice", Username: "alice"})

	identity, err := FromToken(token)

	req.NoError(err)
	req.Equal("alice", identity.DisplayName)
}

func Test_FromToken_Rejects_Empty_Token(t *testing.T) {
	req := require.New(t)

	_, err := FromToken("")

	req.ErrorIs(err, errors.ErrNoIdentity)
}

func Test_FromToken_Rejects_Garbage(t *testing.T) {
	req := require.New(t)

	_, err := FromToken("not-a-token")

	req.ErrorIs(err, errors.ErrNoIdentity)
}

func Test_FromToken_Requires_A_User(t *testing.T) {
	req := require.New(t)
	token := signedToken(t, SessionClaims{Username: "ghost"})

	_, err := FromToken(token)

	req.ErrorIs(err, errors.ErrNoIdentity)
}
