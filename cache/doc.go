// Package cache implements the tiered store underpinning the auth caches.
//
// A Tiered store supervises two Backend tiers: a remote Redis backend and a
// process-local in-memory fallback. While the remote backend is healthy all
// traffic goes to it; any remote error degrades the store to the local tier,
// and after a fixed cooldown a single probe operation tests the remote
// backend for recovery.
//
//	remote := cache.NewRedis(client, cache.WithPrefix("authcache"))
//	local := cache.NewMemory(ctx)
//	store := cache.NewTiered(remote, local, log)
//
//	cache.SetTyped(ctx, store, "profile:id:u1", profile, 15*time.Minute)
//	profile, found := cache.GetTyped[CachedUserProfile](ctx, store, "profile:id:u1")
//
// Every stored value is wrapped in an envelope carrying the write timestamp
// and logical TTL, which both tiers enforce on read regardless of the
// backend's own expiry. Deletes always hit both tiers so an invalidation
// issued during a remote outage cannot be undone by the outage ending.
//
// No Tiered operation surfaces a backend error: a failed write falls back
// to the local tier and a failed read is a miss. The cache degrades, not
// the caller.
package cache
