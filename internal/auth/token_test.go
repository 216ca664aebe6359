package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_RoundTrip(t *testing.T) {
	tm := NewTokenManager("test-secret", 30)

	token, exp, err := tm.GenerateToken(9000)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.False(t, exp.IsZero())

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(9000), claims.AdminID)
	assert.Equal(t, "9000", claims.Subject)
}

func TestTokenManager_RejectsWrongSecret(t *testing.T) {
	token, _, err := NewTokenManager("secret-a", 30).GenerateToken(9000)
	require.NoError(t, err)

	_, err = NewTokenManager("secret-b", 30).ParseToken(token)
	require.Error(t, err)
}

func TestTokenManager_RejectsGarbage(t *testing.T) {
	_, err := NewTokenManager("secret", 30).ParseToken("not.a.jwt")
	require.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hashed, err := HashPassword("hunter2")
	require.NoError(t, err)
	require.NotEqual(t, "hunter2", hashed)

	assert.NoError(t, ComparePassword(hashed, "hunter2"))
	assert.Error(t, ComparePassword(hashed, "hunter3"))
}
