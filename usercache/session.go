package usercache

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/efaroni/authcache/cache"
	"github.com/efaroni/authcache/logger"
	"github.com/efaroni/authcache/store"
)

// SessionCache is the cache-aside wrapper for session lookups. Sessions are
// keyed by token; the per-user session list is a point-in-time snapshot
// under a secondary key, blown away on invalidation rather than edited in
// place.
type SessionCache struct {
	store    *cache.Tiered
	sessions store.SessionStore
	users    store.UserStore
	log      logger.Logger
	cfg      Config
	group    singleflight.Group
}

// NewSessionCache returns a SessionCache over the given tiers and source of
// truth.
func NewSessionCache(tiered *cache.Tiered, sessions store.SessionStore, users store.UserStore, log logger.Logger, cfg Config) *SessionCache {
	return &SessionCache{
		store:    tiered,
		sessions: sessions,
		users:    users,
		log:      log.WithPrefix("[session-cache]"),
		cfg:      cfg.withDefaults(),
	}
}

func (c *SessionCache) tokenKey(token string) string {
	return fmt.Sprintf("%s:token:%s", c.cfg.SessionPrefix, token)
}

func (c *SessionCache) userKey(userID string) string {
	return fmt.Sprintf("%s:user:%s", c.cfg.SessionPrefix, userID)
}

// GetSession returns the session for token, loading and caching it from the
// source of truth on a miss. Returns (nil, nil) when the session does not
// exist — absence is never cached.
func (c *SessionCache) GetSession(ctx context.Context, token string) (*CachedSession, error) {
	key := c.tokenKey(token)
	if cached, found := cache.GetTyped[CachedSession](ctx, c.store, key); found {
		return &cached, nil
	}
	result, err, _ := c.group.Do(key, func() (any, error) {
		row, err := c.sessions.SessionByToken(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("usercache: session lookup failed: %w", err)
		}
		if row == nil {
			return (*CachedSession)(nil), nil
		}
		shaped := c.shape(ctx, *row)
		cache.SetTyped(ctx, c.store, key, shaped, c.cfg.SessionTTL)
		return &shaped, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*CachedSession), nil
}

// GetUserSessions returns the cached session list for a user, loading it
// from the source of truth on a miss.
func (c *SessionCache) GetUserSessions(ctx context.Context, userID string) ([]CachedSession, error) {
	key := c.userKey(userID)
	if cached, found := cache.GetTyped[[]CachedSession](ctx, c.store, key); found {
		return cached, nil
	}
	result, err, _ := c.group.Do(key, func() (any, error) {
		rows, err := c.sessions.SessionsByUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("usercache: user session lookup failed: %w", err)
		}
		if len(rows) == 0 {
			return []CachedSession(nil), nil
		}
		summary := c.summary(ctx, userID)
		shaped := make([]CachedSession, 0, len(rows))
		for _, row := range rows {
			s := newCachedSession(row)
			s.User = summary
			shaped = append(shaped, s)
		}
		cache.SetTyped(ctx, c.store, key, shaped, c.cfg.SessionTTL)
		return shaped, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]CachedSession), nil
}

// UpdateSessionCache applies a partial update to an already-cached session.
// It never creates an entry and never touches the source of truth; the
// remaining TTL of the original write is preserved. Returns true if an
// entry was updated.
func (c *SessionCache) UpdateSessionCache(ctx context.Context, token string, update SessionUpdate) bool {
	return cache.UpdateTyped(ctx, c.store, c.tokenKey(token), func(s *CachedSession) {
		update.apply(s)
	})
}

// SessionUpdate is a partial session update. Nil fields are left unchanged.
type SessionUpdate struct {
	LastActivity *time.Time
	IsActive     *bool
	IPAddress    *string
	UserAgent    *string
}

func (u SessionUpdate) apply(s *CachedSession) {
	if u.LastActivity != nil {
		s.LastActivity = *u.LastActivity
	}
	if u.IsActive != nil {
		s.IsActive = *u.IsActive
	}
	if u.IPAddress != nil {
		s.IPAddress = *u.IPAddress
	}
	if u.UserAgent != nil {
		s.UserAgent = *u.UserAgent
	}
}

// InvalidateSession removes a session from the cache together with the
// user-keyed list it appears in.
func (c *SessionCache) InvalidateSession(ctx context.Context, token string) {
	key := c.tokenKey(token)
	if cached, found := cache.GetTyped[CachedSession](ctx, c.store, key); found {
		c.store.Delete(ctx, c.userKey(cached.UserID))
	}
	c.store.Delete(ctx, key)
}

// InvalidateUserSessions removes every cached session for a user: the
// tokens recorded in the cached list, the tokens the source of truth still
// knows about (best effort), and the list itself.
func (c *SessionCache) InvalidateUserSessions(ctx context.Context, userID string) {
	tokens := make(map[string]struct{})
	if cached, found := cache.GetTyped[[]CachedSession](ctx, c.store, c.userKey(userID)); found {
		for _, s := range cached {
			tokens[s.Token] = struct{}{}
		}
	}
	if rows, err := c.sessions.SessionsByUser(ctx, userID); err == nil {
		for _, row := range rows {
			tokens[row.Token] = struct{}{}
		}
	} else {
		c.log.Warn("session enumeration failed during invalidation for %s: %v", userID, err)
	}
	for token := range tokens {
		c.store.Delete(ctx, c.tokenKey(token))
	}
	c.store.Delete(ctx, c.userKey(userID))
}

// InvalidateAll removes every session entry. Used by the administrative
// clear path.
func (c *SessionCache) InvalidateAll(ctx context.Context) {
	c.store.DeletePattern(ctx, c.cfg.SessionPrefix+":*")
}

// WarmUp primes the cache with the most recently active sessions. Returns
// the number of sessions cached.
func (c *SessionCache) WarmUp(ctx context.Context, limit int) (int, error) {
	rows, err := c.sessions.RecentSessions(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("usercache: session warm-up query failed: %w", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.WarmUpConcurrency)
	for _, row := range rows {
		row := row
		g.Go(func() error {
			shaped := c.shape(gctx, row)
			cache.SetTyped(gctx, c.store, c.tokenKey(row.Token), shaped, c.cfg.SessionTTL)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	c.log.Debug("warmed %d sessions", len(rows))
	return len(rows), nil
}

// shape builds the cache entry for a session row, embedding the
// denormalized user summary.
func (c *SessionCache) shape(ctx context.Context, row store.Session) CachedSession {
	s := newCachedSession(row)
	s.User = c.summary(ctx, row.UserID)
	return s
}

// summary loads the embedded user copy. A summary lookup failure degrades
// the entry rather than failing the session read.
func (c *SessionCache) summary(ctx context.Context, userID string) *CachedUserSummary {
	user, err := c.users.UserByID(ctx, userID)
	if err != nil {
		c.log.Warn("user summary lookup failed for %s: %v", userID, err)
		return nil
	}
	if user == nil {
		return nil
	}
	return &CachedUserSummary{
		ID:    user.ID,
		Email: user.Email,
		Name:  user.Name,
		Image: user.Image,
	}
}

func newCachedSession(row store.Session) CachedSession {
	return CachedSession{
		ID:           row.ID,
		UserID:       row.UserID,
		Token:        row.Token,
		IPAddress:    row.IPAddress,
		UserAgent:    row.UserAgent,
		IsActive:     row.IsActive,
		LastActivity: row.LastActivity,
		ExpiresAt:    row.ExpiresAt,
		CreatedAt:    row.CreatedAt,
	}
}
