package usercache

import (
	"context"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/efaroni/authcache/cache"
	"github.com/efaroni/authcache/logger"
	"github.com/efaroni/authcache/store"
)

// ProfileCache is the cache-aside wrapper for user profile lookups.
// Profiles are keyed by user ID; the email-keyed secondary entry carries a
// shorter TTL and a hashed key so addresses never appear in the keyspace.
type ProfileCache struct {
	store *cache.Tiered
	users store.UserStore
	log   logger.Logger
	cfg   Config
	group singleflight.Group
}

// NewProfileCache returns a ProfileCache over the given tiers and source of
// truth.
func NewProfileCache(tiered *cache.Tiered, users store.UserStore, log logger.Logger, cfg Config) *ProfileCache {
	return &ProfileCache{
		store: tiered,
		users: users,
		log:   log.WithPrefix("[profile-cache]"),
		cfg:   cfg.withDefaults(),
	}
}

func (c *ProfileCache) idKey(userID string) string {
	return fmt.Sprintf("%s:id:%s", c.cfg.ProfilePrefix, userID)
}

func (c *ProfileCache) emailKey(email string) string {
	sum := xxhash.Sum64String(strings.ToLower(strings.TrimSpace(email)))
	return fmt.Sprintf("%s:email:%x", c.cfg.ProfilePrefix, sum)
}

// GetProfile returns the profile for userID, loading and caching it from
// the source of truth on a miss. Returns (nil, nil) when the user does not
// exist — absence is never cached.
func (c *ProfileCache) GetProfile(ctx context.Context, userID string) (*CachedUserProfile, error) {
	key := c.idKey(userID)
	if cached, found := cache.GetTyped[CachedUserProfile](ctx, c.store, key); found {
		return &cached, nil
	}
	result, err, _ := c.group.Do(key, func() (any, error) {
		user, err := c.users.UserByID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("usercache: profile lookup failed: %w", err)
		}
		if user == nil {
			return (*CachedUserProfile)(nil), nil
		}
		shaped := newCachedProfile(*user)
		cache.SetTyped(ctx, c.store, key, shaped, c.cfg.ProfileTTL)
		return &shaped, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*CachedUserProfile), nil
}

// GetProfileByEmail returns the profile for an email address. A load from
// the source of truth also primes the ID-keyed entry, so a follow-up ID
// lookup is a hit.
func (c *ProfileCache) GetProfileByEmail(ctx context.Context, email string) (*CachedUserProfile, error) {
	key := c.emailKey(email)
	if cached, found := cache.GetTyped[CachedUserProfile](ctx, c.store, key); found {
		return &cached, nil
	}
	result, err, _ := c.group.Do(key, func() (any, error) {
		user, err := c.users.UserByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("usercache: profile email lookup failed: %w", err)
		}
		if user == nil {
			return (*CachedUserProfile)(nil), nil
		}
		shaped := newCachedProfile(*user)
		cache.SetTyped(ctx, c.store, key, shaped, c.cfg.emailTTL())
		cache.SetTyped(ctx, c.store, c.idKey(user.ID), shaped, c.cfg.ProfileTTL)
		return &shaped, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*CachedUserProfile), nil
}

// ProfileUpdate is a partial profile update. Nil fields are left unchanged.
type ProfileUpdate struct {
	Name        *string
	Image       *string
	APIKeys     []string
	Preferences map[string]string
	Stats       *ProfileStats
}

func (u ProfileUpdate) apply(p *CachedUserProfile) {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Image != nil {
		p.Image = *u.Image
	}
	if u.APIKeys != nil {
		p.APIKeys = u.APIKeys
	}
	if u.Preferences != nil {
		p.Preferences = u.Preferences
	}
	if u.Stats != nil {
		p.Stats = u.Stats
	}
}

// UpdateProfileCache applies a partial update to an already-cached profile,
// for callers that already know the new state and want to skip a source-of-
// truth round trip. Both the ID-keyed and (when present) email-keyed
// entries are updated; neither is created. Returns true if the primary
// entry was updated.
func (c *ProfileCache) UpdateProfileCache(ctx context.Context, userID string, update ProfileUpdate) bool {
	var email string
	updated := cache.UpdateTyped(ctx, c.store, c.idKey(userID), func(p *CachedUserProfile) {
		update.apply(p)
		email = p.Email
	})
	if updated && email != "" {
		cache.UpdateTyped(ctx, c.store, c.emailKey(email), func(p *CachedUserProfile) {
			update.apply(p)
		})
	}
	return updated
}

// InvalidateProfile removes a user's profile entries from the cache. The
// email-keyed entry is derived from the cached copy when available, with a
// best-effort source-of-truth lookup as fallback.
func (c *ProfileCache) InvalidateProfile(ctx context.Context, userID string) {
	key := c.idKey(userID)
	email := ""
	if cached, found := cache.GetTyped[CachedUserProfile](ctx, c.store, key); found {
		email = cached.Email
	} else if user, err := c.users.UserByID(ctx, userID); err == nil && user != nil {
		email = user.Email
	}
	if email != "" {
		c.store.Delete(ctx, c.emailKey(email))
	}
	c.store.Delete(ctx, key)
}

// InvalidateAll removes every profile entry. Used by the administrative
// clear path.
func (c *ProfileCache) InvalidateAll(ctx context.Context) {
	c.store.DeletePattern(ctx, c.cfg.ProfilePrefix+":*")
}

// WarmUp primes the cache with the most recently updated users. Returns the
// number of profiles cached.
func (c *ProfileCache) WarmUp(ctx context.Context, limit int) (int, error) {
	rows, err := c.users.RecentUsers(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("usercache: profile warm-up query failed: %w", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.WarmUpConcurrency)
	for _, row := range rows {
		row := row
		g.Go(func() error {
			cache.SetTyped(gctx, c.store, c.idKey(row.ID), newCachedProfile(row), c.cfg.ProfileTTL)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	c.log.Debug("warmed %d profiles", len(rows))
	return len(rows), nil
}

func newCachedProfile(user store.User) CachedUserProfile {
	return CachedUserProfile{
		ID:            user.ID,
		Email:         user.Email,
		Name:          user.Name,
		Image:         user.Image,
		EmailVerified: user.EmailVerified,
		CreatedAt:     user.CreatedAt,
		UpdatedAt:     user.UpdatedAt,
	}
}
