package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("dev-1", "attendsync-agent", "secret", time.Hour, 24*time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.True(t, pair.RefreshExp.After(pair.AccessExp))

	claims, err := Parse(pair.AccessToken, "secret", "attendsync-agent")
	require.NoError(t, err)
	assert.Equal(t, "dev-1", claims.DeviceID)
	assert.Equal(t, "dev-1", claims.Subject)
}

func TestParse_WrongKey(t *testing.T) {
	pair, err := Issue("dev-1", "attendsync-agent", "secret", time.Hour, 24*time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "other-secret", "attendsync-agent")
	assert.Error(t, err)
}

func TestParse_IssuerMismatch(t *testing.T) {
	pair, err := Issue("dev-1", "someone-else", "secret", time.Hour, 24*time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "secret", "attendsync-agent")
	assert.EqualError(t, err, "issuer mismatch")
}

func TestParse_Expired(t *testing.T) {
	pair, err := Issue("dev-1", "attendsync-agent", "secret", -time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "secret", "attendsync-agent")
	assert.Error(t, err)
}
