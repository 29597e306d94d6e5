package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenService_RoundTrip(t *testing.T) {
	t.Parallel()

	service, err := NewTokenService("test-secret")
	require.NoError(t, err)

	token, err := service.Sign("user-1", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := service.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestTokenService_RejectsEmptySecret(t *testing.T) {
	t.Parallel()

	_, err := NewTokenService("")
	assert.Error(t, err)
}

func TestTokenService_RejectsEmptyUser(t *testing.T) {
	t.Parallel()

	service, err := NewTokenService("test-secret")
	require.NoError(t, err)

	_, err = service.Sign("", time.Minute)
	assert.Error(t, err)
}

func TestTokenService_RejectsExpiredToken(t *testing.T) {
	t.Parallel()

	service, err := NewTokenService("test-secret")
	require.NoError(t, err)

	token, err := service.Sign("user-1", -time.Minute)
	require.NoError(t, err)

	_, err = service.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_RejectsForeignSecret(t *testing.T) {
	t.Parallel()

	issuer, err := NewTokenService("secret-a")
	require.NoError(t, err)

	verifier, err := NewTokenService("secret-b")
	require.NoError(t, err)

	token, err := issuer.Sign("user-1", time.Minute)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_RejectsGarbage(t *testing.T) {
	t.Parallel()

	service, err := NewTokenService("test-secret")
	require.NoError(t, err)

	_, err = service.Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
