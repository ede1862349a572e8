package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))
	v, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	now = now.Add(time.Minute)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemorySetNX(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ok, err := m.SetNX(ctx, "idem", "1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.SetNX(ctx, "idem", "2", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	v, _ := m.Get(ctx, "idem")
	assert.Equal(t, "1", v)

	require.NoError(t, m.Delete(ctx, "idem"))
	ok, _ = m.SetNX(ctx, "idem", "3", 0)
	assert.True(t, ok)
}
