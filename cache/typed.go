package cache

import (
	"context"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// GetTyped retrieves a msgpack-encoded value from the store. A value that
// cannot be deserialized is evicted and treated as a miss — the caller falls
// through to the source of truth and the next write repairs the entry.
func GetTyped[T any](ctx context.Context, t *Tiered, key string) (T, bool) {
	var zero T
	data, found := t.Get(ctx, key)
	if !found {
		return zero, false
	}
	var val T
	if err := msgpack.Unmarshal(data, &val); err != nil {
		t.log.Warn("evicting unmarshalable entry for %s: %v", key, err)
		t.stats.error()
		t.remove(ctx, key)
		return zero, false
	}
	return val, true
}

// SetTyped stores a msgpack-encoded value with a TTL. Returns false only
// when the value cannot be serialized; backend failures fall back silently.
func SetTyped[T any](ctx context.Context, t *Tiered, key string, val T, ttl time.Duration) bool {
	data, err := msgpack.Marshal(val)
	if err != nil {
		t.log.Error("failed to marshal value for %s: %v", key, err)
		t.stats.error()
		return false
	}
	return t.Set(ctx, key, data, ttl)
}

// UpdateTyped applies fn to the value stored at key and writes it back with
// the remaining TTL of the original entry preserved. It only updates an
// entry that is already present — a partial update never creates one, to
// avoid caching incomplete entries. Returns true if an update was written.
func UpdateTyped[T any](ctx context.Context, t *Tiered, key string, fn func(*T)) bool {
	entry, found := t.GetEntry(ctx, key)
	if !found || entry.Remaining <= 0 {
		return false
	}
	var val T
	if err := msgpack.Unmarshal(entry.Data, &val); err != nil {
		t.log.Warn("evicting unmarshalable entry for %s: %v", key, err)
		t.stats.error()
		t.remove(ctx, key)
		return false
	}
	fn(&val)
	return SetTyped(ctx, t, key, val, entry.Remaining)
}

// remove evicts a key from both tiers without counting toward the delete
// statistics — evictions are bookkeeping, not caller-visible invalidations.
func (t *Tiered) remove(ctx context.Context, key string) {
	_ = t.remote.Delete(ctx, key)
	_ = t.local.Delete(ctx, key)
}
