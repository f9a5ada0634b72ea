package lease

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPolicy(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		policy, err := NewPolicy(30*time.Second, 0, 10*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, policy.Default())
	})

	t.Run("invalid default lease", func(t *testing.T) {
		policy, err := NewPolicy(0, time.Second, time.Minute)
		require.ErrorIs(t, err, ErrInvalidDefault)
		assert.Nil(t, policy)
	})
}

func TestPolicy_Resolve(t *testing.T) {
	policy, err := NewPolicy(30*time.Second, 5*time.Second, 10*time.Minute)
	require.NoError(t, err)

	t.Run("explicit duration", func(t *testing.T) {
		d := policy.Resolve(45 * time.Second)
		assert.Equal(t, 45*time.Second, d.TTL)
		assert.Equal(t, SourceExplicit, d.Source)
		assert.False(t, d.Clamped())
	})

	t.Run("zero uses default", func(t *testing.T) {
		d := policy.Resolve(0)
		assert.Equal(t, 30*time.Second, d.TTL)
		assert.Equal(t, SourceDefault, d.Source)
	})

	t.Run("below minimum clamps up", func(t *testing.T) {
		d := policy.Resolve(500 * time.Millisecond)
		assert.Equal(t, 5*time.Second, d.TTL)
		assert.True(t, d.Clamped())
	})

	t.Run("negative clamps up", func(t *testing.T) {
		d := policy.Resolve(-time.Minute)
		assert.Equal(t, 5*time.Second, d.TTL)
		assert.True(t, d.Clamped())
	})

	t.Run("above maximum clamps down", func(t *testing.T) {
		d := policy.Resolve(time.Hour)
		assert.Equal(t, 10*time.Minute, d.TTL)
		assert.True(t, d.Clamped())
	})

	t.Run("sub-second remainder truncated", func(t *testing.T) {
		d := policy.Resolve(7*time.Second + 400*time.Millisecond)
		assert.Equal(t, 7*time.Second, d.TTL)
	})
}

func TestNewToken(t *testing.T) {
	seen := make(map[string]struct{})
	for range 100 {
		tok, err := NewToken()
		require.NoError(t, err)
		require.Len(t, tok, 64)
		_, dup := seen[tok]
		require.False(t, dup)
		seen[tok] = struct{}{}
	}
}

func TestLease_Live(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := Lease{ExpiresAt: now.Add(time.Second)}
	assert.True(t, l.Live(now))
	assert.False(t, l.Live(now.Add(time.Second)))
}
