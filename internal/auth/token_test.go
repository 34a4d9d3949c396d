package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	v := NewTokenVerifier("secret", "accounts", time.Hour)

	token, err := v.Issue("u1")
	require.NoError(t, err)

	userID, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewTokenVerifier("other", "accounts", time.Hour).Issue("u1")
	require.NoError(t, err)

	_, err = NewTokenVerifier("secret", "accounts", time.Hour).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpired(t *testing.T) {
	v := NewTokenVerifier("secret", "", time.Minute)
	v.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, err := v.Issue("u1")
	require.NoError(t, err)

	v.now = time.Now
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	token, err := NewTokenVerifier("secret", "elsewhere", time.Hour).Issue("u1")
	require.NoError(t, err)

	_, err = NewTokenVerifier("secret", "accounts", time.Hour).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyFallsBackToSubject(t *testing.T) {
	claims := jwt.RegisteredClaims{Subject: "u9", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	userID, err := NewTokenVerifier("secret", "", time.Hour).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u9", userID)
}

func TestVerifyEmpty(t *testing.T) {
	_, err := NewTokenVerifier("secret", "", time.Hour).Verify("")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestBearerToken(t *testing.T) {
	token, err := BearerToken("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	_, err = BearerToken("")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = BearerToken("Basic abc")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
