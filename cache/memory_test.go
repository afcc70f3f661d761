package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetGet(t *testing.T) {
	ctx := context.Background()
	b := NewMemory(ctx)
	defer b.Close()

	data, found, err := b.Get(ctx, "key")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, data)

	assert.NoError(t, b.Set(ctx, "key", []byte("value"), time.Minute))
	data, found, err = b.Get(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("value"), data)
}

func TestMemoryLazyExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	b := NewMemory(ctx, WithClock(clock.Now))
	defer b.Close()

	require.NoError(t, b.Set(ctx, "key", []byte("value"), time.Minute))
	clock.Advance(2 * time.Minute)

	_, found, err := b.Get(ctx, "key")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryJanitor(t *testing.T) {
	ctx := context.Background()
	b := NewMemory(ctx, WithExpiryCheck(10*time.Millisecond)).(*memoryBackend)
	defer b.Close()

	require.NoError(t, b.Set(ctx, "key", []byte("value"), 20*time.Millisecond))
	assert.Eventually(t, func() bool {
		return b.Len() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	b := NewMemory(ctx)
	defer b.Close()

	require.NoError(t, b.Set(ctx, "key", []byte("value"), time.Minute))
	assert.NoError(t, b.Delete(ctx, "key"))
	_, found, _ := b.Get(ctx, "key")
	assert.False(t, found)

	// Deleting a missing key is not an error.
	assert.NoError(t, b.Delete(ctx, "missing"))
}

func TestMemoryDeletePattern(t *testing.T) {
	ctx := context.Background()
	b := NewMemory(ctx)
	defer b.Close()

	require.NoError(t, b.Set(ctx, "session:user:u1", []byte("a"), time.Minute))
	require.NoError(t, b.Set(ctx, "session:user:u2", []byte("b"), time.Minute))
	require.NoError(t, b.Set(ctx, "profile:id:u1", []byte("c"), time.Minute))

	assert.NoError(t, b.DeletePattern(ctx, "session:user:*"))

	_, found, _ := b.Get(ctx, "session:user:u1")
	assert.False(t, found)
	_, found, _ = b.Get(ctx, "session:user:u2")
	assert.False(t, found)
	_, found, _ = b.Get(ctx, "profile:id:u1")
	assert.True(t, found)
}

func TestMemoryExpireAndTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	b := NewMemory(ctx, WithClock(clock.Now))
	defer b.Close()

	require.NoError(t, b.Set(ctx, "key", []byte("value"), time.Minute))

	ttl, found, err := b.TTL(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, time.Minute, ttl)

	ok, err := b.Expire(ctx, "key", time.Hour)
	assert.NoError(t, err)
	assert.True(t, ok)
	ttl, _, _ = b.TTL(ctx, "key")
	assert.Equal(t, time.Hour, ttl)

	ok, err = b.Expire(ctx, "missing", time.Hour)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryExistsAndClear(t *testing.T) {
	ctx := context.Background()
	b := NewMemory(ctx)
	defer b.Close()

	require.NoError(t, b.Set(ctx, "key", []byte("value"), time.Minute))
	found, err := b.Exists(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, found)

	assert.NoError(t, b.Clear(ctx))
	found, _ = b.Exists(ctx, "key")
	assert.False(t, found)
}
