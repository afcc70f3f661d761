// Package usercache provides the domain cache wrappers: cache-aside
// session, profile and OAuth-token lookups over a tiered store, with
// partial cache-only updates, coordinated invalidation entry points and
// warm-up. Absence is never cached, and a cache-tier failure is never
// visible to callers; only source-of-truth failures propagate.
package usercache

import (
	"context"

	"github.com/efaroni/authcache/cache"
	"github.com/efaroni/authcache/crypto"
	"github.com/efaroni/authcache/logger"
	"github.com/efaroni/authcache/store"
)

// Manager bundles the three domain wrappers over one tiered store and is
// the unit the invalidation engine and the CLI operate on.
type Manager struct {
	Sessions *SessionCache
	Profiles *ProfileCache
	Tokens   *TokenCache

	store *cache.Tiered
	log   logger.Logger
	cfg   Config
}

// NewManager wires the domain wrappers to a shared tiered store and source
// of truth. cipher may be nil to skip token encryption.
func NewManager(tiered *cache.Tiered, db store.Store, cipher *crypto.TokenCipher, log logger.Logger, cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		Sessions: NewSessionCache(tiered, db, db, log, cfg),
		Profiles: NewProfileCache(tiered, db, log, cfg),
		Tokens:   NewTokenCache(tiered, db, cipher, log, cfg),
		store:    tiered,
		log:      log.WithPrefix("[usercache]"),
		cfg:      cfg,
	}
}

// ManagerStats is a point-in-time view of cache health and traffic.
type ManagerStats struct {
	Healthy bool                `json:"healthy"`
	State   string              `json:"state"`
	Stats   cache.StatsSnapshot `json:"stats"`
	Config  Config              `json:"config"`
}

// Stats reports connectivity, the remote tier's health state and the
// operation counters.
func (m *Manager) Stats(ctx context.Context) ManagerStats {
	return ManagerStats{
		Healthy: m.store.Healthy(ctx),
		State:   m.store.State().String(),
		Stats:   m.store.Stats(),
		Config:  m.cfg,
	}
}

// ResetStats zeroes the operation counters.
func (m *Manager) ResetStats() {
	m.store.ResetStats()
}

// WarmUp primes all three caches with recent rows, at most limit per kind.
// Partial failure warms what it can and returns the first error.
func (m *Manager) WarmUp(ctx context.Context, limit int) (int, error) {
	total := 0
	var firstErr error
	for _, warm := range []func(context.Context, int) (int, error){
		m.Sessions.WarmUp,
		m.Profiles.WarmUp,
		m.Tokens.WarmUp,
	} {
		n, err := warm(ctx, limit)
		total += n
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.log.Info("warm-up primed %d entries", total)
	return total, firstErr
}

// InvalidateUserSessions drops every cached session for a user. Cache-tier
// failures are absorbed by the store; only context cancellation surfaces.
func (m *Manager) InvalidateUserSessions(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Sessions.InvalidateUserSessions(ctx, userID)
	return nil
}

// InvalidateUserProfile drops a user's cached profile entries.
func (m *Manager) InvalidateUserProfile(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Profiles.InvalidateProfile(ctx, userID)
	return nil
}

// InvalidateUserTokens drops every cached OAuth token for a user.
func (m *Manager) InvalidateUserTokens(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Tokens.InvalidateUserTokens(ctx, userID)
	return nil
}

// ClearAll removes every entry in both tiers.
func (m *Manager) ClearAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.store.Clear(ctx)
	return nil
}

// Close stops the tiered store's background work.
func (m *Manager) Close() error {
	return m.store.Close()
}
