package websession

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ccgw/cc-gw/types"
)

func newManagerWithClock(clock *time.Time) *Manager {
	m := NewManager(zap.NewNop())
	m.now = func() time.Time { return *clock }
	return m
}

func TestHashPassword_VerifyRoundTrip(t *testing.T) {
	hash, salt, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.True(t, VerifyPassword("hunter2", hash, salt))
	assert.False(t, VerifyPassword("hunter3", hash, salt))
	assert.False(t, VerifyPassword("hunter2", hash, "not-base64!!"))
}

func TestHashPassword_SaltVaries(t *testing.T) {
	h1, s1, err := HashPassword("same")
	require.NoError(t, err)
	h2, s2, err := HashPassword("same")
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)
	assert.NotEqual(t, h1, h2)
}

func TestLogin_ValidateLogout(t *testing.T) {
	hash, salt, err := HashPassword("pw")
	require.NoError(t, err)
	m := NewManager(zap.NewNop())

	token, err := m.Login("admin", "pw", "admin", hash, salt)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	user, ok := m.Validate(token)
	assert.True(t, ok)
	assert.Equal(t, "admin", user)

	m.Logout(token)
	_, ok = m.Validate(token)
	assert.False(t, ok)
}

func TestLogin_RejectsBadCredentials(t *testing.T) {
	hash, salt, err := HashPassword("pw")
	require.NoError(t, err)
	m := NewManager(zap.NewNop())

	_, err = m.Login("admin", "wrong", "admin", hash, salt)
	require.Error(t, err)
	assert.Equal(t, types.ErrAuthInvalid, types.GetErrorCode(err))

	_, err = m.Login("intruder", "pw", "admin", hash, salt)
	require.Error(t, err)
	assert.Equal(t, types.ErrAuthInvalid, types.GetErrorCode(err))
}

func TestValidate_SlidingExpiry(t *testing.T) {
	hash, salt, err := HashPassword("pw")
	require.NoError(t, err)
	clock := time.Now()
	m := newManagerWithClock(&clock)

	token, err := m.Login("admin", "pw", "admin", hash, salt)
	require.NoError(t, err)

	// Accesses inside the TTL keep sliding the window.
	for i := 0; i < 3; i++ {
		clock = clock.Add(11 * time.Hour)
		_, ok := m.Validate(token)
		require.True(t, ok, "access %d within TTL", i)
	}

	// A token idle past the TTL is rejected and purged.
	clock = clock.Add(TTL + time.Minute)
	_, ok := m.Validate(token)
	assert.False(t, ok)
	assert.Zero(t, m.ActiveCount())
}

func TestValidate_PurgesOtherExpiredSessions(t *testing.T) {
	hash, salt, err := HashPassword("pw")
	require.NoError(t, err)
	clock := time.Now()
	m := newManagerWithClock(&clock)

	stale, err := m.Login("admin", "pw", "admin", hash, salt)
	require.NoError(t, err)
	clock = clock.Add(TTL + time.Minute)
	fresh, err := m.Login("admin", "pw", "admin", hash, salt)
	require.NoError(t, err)

	_, ok := m.Validate(fresh)
	assert.True(t, ok)
	_, ok = m.Validate(stale)
	assert.False(t, ok)
	assert.Equal(t, 1, m.ActiveCount())
}
