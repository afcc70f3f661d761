package cache

import (
	"context"
	"time"

	"github.com/efaroni/authcache/logger"
)

// Tiered supervises a remote backend and a process-local fallback backend.
// While the remote backend is healthy all reads and writes go to it; on any
// remote error the store degrades to the local tier and periodically probes
// the remote backend for recovery. Degradation is transparent: no operation
// surfaces a backend error to the caller — a failed cache write is always
// safe because the next read recomputes from the source of truth.
//
// Deletes are tier-agnostic: they are applied to both tiers unconditionally
// so a key invalidated during a remote outage cannot reappear once the
// remote tier recovers with a stale pre-outage copy.
type Tiered struct {
	remote Backend
	local  Backend
	health *health
	stats  *Stats
	log    logger.Logger
	cfg    config
}

// NewTiered returns a Tiered store supervising remote over local.
func NewTiered(remote Backend, local Backend, log logger.Logger, opts ...Option) *Tiered {
	cfg := applyOptions(opts)
	return &Tiered{
		remote: remote,
		local:  local,
		health: newHealth(cfg.cooldown, cfg.now),
		stats:  &Stats{},
		log:    log.WithPrefix("[cache]"),
		cfg:    cfg,
	}
}

// decode opens an envelope fetched from tier, enforcing logical staleness.
// Corrupt and stale entries are evicted and reported as a miss.
func (t *Tiered) decode(ctx context.Context, tier Backend, key string, buf []byte) ([]byte, bool) {
	env, err := openEnvelope(buf)
	if err != nil {
		t.log.Warn("evicting undecodable entry for %s: %v", key, err)
		t.stats.error()
		_ = tier.Delete(ctx, key)
		return nil, false
	}
	if env.stale(t.cfg.now()) {
		_ = tier.Delete(ctx, key)
		return nil, false
	}
	return env.Data, true
}

// Get returns the value stored at key. A backend failure is never surfaced;
// it degrades the store and the read falls through to the local tier.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	if t.health.allowRemote() {
		buf, found, err := t.remote.Get(ctx, key)
		if err == nil {
			t.health.markSuccess()
			if !found {
				t.stats.miss()
				return nil, false
			}
			data, ok := t.decode(ctx, t.remote, key, buf)
			if !ok {
				t.stats.miss()
				return nil, false
			}
			t.stats.hit()
			return data, true
		}
		t.degrade("get", key, err)
	}
	buf, found, _ := t.local.Get(ctx, key)
	if !found {
		t.stats.miss()
		return nil, false
	}
	data, ok := t.decode(ctx, t.local, key, buf)
	if !ok {
		t.stats.miss()
		return nil, false
	}
	t.stats.hit()
	return data, true
}

// GetEntry returns the decoded entry at key along with its TTL bookkeeping,
// for callers doing read-modify-write updates that must preserve the
// remaining lifetime of the original write.
func (t *Tiered) GetEntry(ctx context.Context, key string) (*Entry, bool) {
	if t.health.allowRemote() {
		buf, found, err := t.remote.Get(ctx, key)
		if err == nil {
			t.health.markSuccess()
			if !found {
				return nil, false
			}
			return t.entryFrom(ctx, t.remote, key, buf)
		}
		t.degrade("get", key, err)
	}
	buf, found, _ := t.local.Get(ctx, key)
	if !found {
		return nil, false
	}
	return t.entryFrom(ctx, t.local, key, buf)
}

func (t *Tiered) entryFrom(ctx context.Context, tier Backend, key string, buf []byte) (*Entry, bool) {
	env, err := openEnvelope(buf)
	if err != nil || env.stale(t.cfg.now()) {
		_ = tier.Delete(ctx, key)
		return nil, false
	}
	return &Entry{
		Data:      env.Data,
		WrittenAt: time.Unix(env.WrittenAt, 0),
		TTL:       time.Duration(env.TTLSeconds) * time.Second,
		Remaining: env.remaining(t.cfg.now()),
	}, true
}

// Set stores a value at key with a TTL. Never fails the caller: a write
// that cannot reach the remote backend silently falls back to the local
// tier. Returns false only when the value itself cannot be serialized.
func (t *Tiered) Set(ctx context.Context, key string, data []byte, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = t.cfg.defaultExpires
	}
	sealed, err := sealEnvelope(data, ttl, t.cfg.now())
	if err != nil {
		t.log.Error("failed to serialize entry for %s: %v", key, err)
		t.stats.error()
		return false
	}
	if t.health.allowRemote() {
		if err := t.remote.Set(ctx, key, sealed, ttl); err == nil {
			t.health.markSuccess()
			t.stats.set()
			return true
		} else {
			t.degrade("set", key, err)
		}
	}
	if err := t.local.Set(ctx, key, sealed, ttl); err != nil {
		t.log.Error("local set failed for %s: %v", key, err)
		t.stats.error()
	}
	t.stats.set()
	return true
}

// Delete removes key from both tiers unconditionally. Remote failures are
// recorded but never surfaced; the local delete always runs.
func (t *Tiered) Delete(ctx context.Context, key string) {
	if err := t.remote.Delete(ctx, key); err != nil {
		t.degrade("delete", key, err)
	}
	_ = t.local.Delete(ctx, key)
	t.stats.delete()
}

// DeletePattern removes every key matching the glob pattern from both tiers.
func (t *Tiered) DeletePattern(ctx context.Context, pattern string) {
	if err := t.remote.DeletePattern(ctx, pattern); err != nil {
		t.degrade("delete-pattern", pattern, err)
	}
	_ = t.local.DeletePattern(ctx, pattern)
	t.stats.delete()
}

// Expire resets the TTL of key in whichever tiers hold it. The envelope is
// rewritten with the new deadline, not just the backend expiry: the logical
// staleness check on read would otherwise still evict the entry at its
// original deadline.
func (t *Tiered) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = t.cfg.defaultExpires
	}
	var found bool
	if t.health.allowRemote() {
		ok, err := t.expireTier(ctx, t.remote, key, ttl)
		if err != nil {
			t.degrade("expire", key, err)
		} else {
			t.health.markSuccess()
			found = ok
		}
	}
	if ok, _ := t.expireTier(ctx, t.local, key, ttl); ok {
		found = true
	}
	return found
}

// expireTier re-seals one tier's copy with a fresh write time and the new
// TTL. A copy that is already logically stale is evicted rather than
// revived.
func (t *Tiered) expireTier(ctx context.Context, tier Backend, key string, ttl time.Duration) (bool, error) {
	buf, found, err := tier.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	env, err := openEnvelope(buf)
	if err != nil || env.stale(t.cfg.now()) {
		_ = tier.Delete(ctx, key)
		return false, nil
	}
	sealed, err := sealEnvelope(env.Data, ttl, t.cfg.now())
	if err != nil {
		t.log.Error("failed to reseal entry for %s: %v", key, err)
		t.stats.error()
		return false, nil
	}
	return true, tier.Set(ctx, key, sealed, ttl)
}

// TTL returns the remaining backend lifetime of key.
func (t *Tiered) TTL(ctx context.Context, key string) (time.Duration, bool) {
	if t.health.allowRemote() {
		ttl, found, err := t.remote.TTL(ctx, key)
		if err == nil {
			t.health.markSuccess()
			if found {
				return ttl, true
			}
		} else {
			t.degrade("ttl", key, err)
		}
	}
	ttl, found, _ := t.local.TTL(ctx, key)
	return ttl, found
}

// Exists reports whether key is present in either reachable tier.
func (t *Tiered) Exists(ctx context.Context, key string) bool {
	if t.health.allowRemote() {
		found, err := t.remote.Exists(ctx, key)
		if err == nil {
			t.health.markSuccess()
			if found {
				return true
			}
		} else {
			t.degrade("exists", key, err)
		}
	}
	found, _ := t.local.Exists(ctx, key)
	return found
}

// Clear flushes both tiers. Administrative escape hatch, not part of the
// normal invalidation flow.
func (t *Tiered) Clear(ctx context.Context) {
	if err := t.remote.Clear(ctx); err != nil {
		t.degrade("clear", "*", err)
	}
	_ = t.local.Clear(ctx)
}

// Healthy pings the remote backend. It reports true while operating in
// fallback mode — the local tier is definitionally healthy.
func (t *Tiered) Healthy(ctx context.Context) bool {
	if t.health.current() != StateHealthy {
		return true
	}
	if err := t.remote.Ping(ctx); err != nil {
		t.degrade("ping", "", err)
		return true
	}
	return true
}

// State returns the current remote-backend health state, for dashboards.
func (t *Tiered) State() HealthState {
	return t.health.current()
}

// Stats returns a snapshot of the running counters.
func (t *Tiered) Stats() StatsSnapshot {
	return t.stats.Snapshot()
}

// ResetStats zeroes the counters.
func (t *Tiered) ResetStats() {
	t.stats.Reset()
}

// Close shuts down both backends.
func (t *Tiered) Close() error {
	err := t.remote.Close()
	if lerr := t.local.Close(); err == nil {
		err = lerr
	}
	return err
}

func (t *Tiered) degrade(op, key string, err error) {
	t.stats.error()
	if t.health.current() == StateHealthy {
		t.log.Warn("remote backend failed during %s %s, degrading to local tier: %v", op, key, err)
	}
	t.health.markFailure()
}
