package usercache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efaroni/authcache/store"
)

func seedUser(e *env) store.User {
	now := e.clock.Now()
	user := store.User{
		ID:        "u1",
		Email:     "alice@example.com",
		Name:      "Alice",
		Image:     "https://img.example.com/a.png",
		CreatedAt: now.Add(-30 * 24 * time.Hour),
		UpdatedAt: now,
	}
	e.db.addUser(user)
	return user
}

func TestProfileCacheAside(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Config{})
	c := e.profileCache()
	user := seedUser(e)

	got, err := c.GetProfile(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, user.Email, got.Email)

	_, err = c.GetProfile(ctx, user.ID)
	require.NoError(t, err)
	userReads, _, _ := e.db.reads()
	assert.Equal(t, 1, userReads)
}

func TestProfileByEmailPrimesIDKey(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Config{})
	c := e.profileCache()
	user := seedUser(e)

	got, err := c.GetProfileByEmail(ctx, user.Email)
	require.NoError(t, err)
	require.NotNil(t, got)

	_, err = c.GetProfile(ctx, user.ID)
	require.NoError(t, err)
	userReads, _, _ := e.db.reads()
	assert.Equal(t, 1, userReads, "email load primes the ID-keyed entry")
}

func TestProfileEmailKeyNormalized(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Config{})
	c := e.profileCache()
	user := seedUser(e)

	_, err := c.GetProfileByEmail(ctx, user.Email)
	require.NoError(t, err)

	got, err := c.GetProfileByEmail(ctx, "  Alice@Example.COM ")
	require.NoError(t, err)
	require.NotNil(t, got)
	userReads, _, _ := e.db.reads()
	assert.Equal(t, 1, userReads)
}

func TestProfileStaleUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Config{})
	c := e.profileCache()
	user := seedUser(e)

	got, err := c.GetProfile(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, "Alice", got.Name)

	user.Name = "Alicia"
	e.db.addUser(user)

	got, err = c.GetProfile(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name, "cached copy served until invalidation")

	c.InvalidateProfile(ctx, user.ID)

	got, err = c.GetProfile(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alicia", got.Name)
}

func TestInvalidateProfileDropsEmailKey(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Config{})
	c := e.profileCache()
	user := seedUser(e)

	_, err := c.GetProfileByEmail(ctx, user.Email)
	require.NoError(t, err)

	c.InvalidateProfile(ctx, user.ID)

	userReads, _, _ := e.db.reads()
	_, err = c.GetProfileByEmail(ctx, user.Email)
	require.NoError(t, err)
	after, _, _ := e.db.reads()
	assert.Greater(t, after, userReads, "email entry must not survive invalidation")
}

func TestUpdateProfileCache(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Config{})
	c := e.profileCache()
	user := seedUser(e)

	_, err := c.GetProfileByEmail(ctx, user.Email)
	require.NoError(t, err)

	name := "Alicia"
	keys := []string{"ak_live_1"}
	require.True(t, c.UpdateProfileCache(ctx, user.ID, ProfileUpdate{
		Name:    &name,
		APIKeys: keys,
	}))

	byID, err := c.GetProfile(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alicia", byID.Name)
	assert.Equal(t, keys, byID.APIKeys)
	assert.Equal(t, user.Email, byID.Email, "untouched fields survive")

	byEmail, err := c.GetProfileByEmail(ctx, user.Email)
	require.NoError(t, err)
	assert.Equal(t, "Alicia", byEmail.Name, "email-keyed copy updated too")

	assert.False(t, c.UpdateProfileCache(ctx, "u-unknown", ProfileUpdate{Name: &name}),
		"updates never create entries")
}

func TestProfileEmailEntryExpiresFaster(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Config{ProfileTTL: 15 * time.Minute})
	c := e.profileCache()
	user := seedUser(e)

	_, err := c.GetProfileByEmail(ctx, user.Email)
	require.NoError(t, err)

	e.clock.Advance(6 * time.Minute)

	userReads, _, _ := e.db.reads()
	_, err = c.GetProfile(ctx, user.ID)
	require.NoError(t, err)
	afterID, _, _ := e.db.reads()
	assert.Equal(t, userReads, afterID, "ID entry still live under its longer TTL")

	_, err = c.GetProfileByEmail(ctx, user.Email)
	require.NoError(t, err)
	afterEmail, _, _ := e.db.reads()
	assert.Equal(t, afterID+1, afterEmail, "email entry capped at five minutes")
}

func TestProfileNotFoundNotCached(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Config{})
	c := e.profileCache()

	got, err := c.GetProfile(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = c.GetProfile(ctx, "nobody")
	require.NoError(t, err)
	userReads, _, _ := e.db.reads()
	assert.Equal(t, 2, userReads)
}

func TestProfileWarmUp(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Config{})
	c := e.profileCache()
	user := seedUser(e)

	n, err := c.WarmUp(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	before, _, _ := e.db.reads()
	got, err := c.GetProfile(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	after, _, _ := e.db.reads()
	assert.Equal(t, before, after)
}
