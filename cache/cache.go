package cache

import (
	"context"
	"time"
)

// Backend is a single key-value storage tier. Implementations must be safe
// for concurrent use. A (nil, false, nil) Get result means the key does not
// exist; backend failures are reported as errors and handled by the Tiered
// supervisor, never by callers.
type Backend interface {
	// Get retrieves the raw bytes stored at key.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores raw bytes at key with a TTL. If ttl <= 0, the backend's
	// configured default TTL is used.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// DeletePattern removes every key matching a glob-style pattern
	// (e.g. "session:user:*").
	DeletePattern(ctx context.Context, pattern string) error
	// Expire resets the TTL for an existing key. Returns false if the key
	// does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// TTL returns the remaining lifetime of a key. Returns found=false if
	// the key does not exist.
	TTL(ctx context.Context, key string) (time.Duration, bool, error)
	// Exists checks whether a key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Clear removes every key owned by this backend.
	Clear(ctx context.Context) error
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}

// DefaultExpires is the default TTL used when Set is called with ttl <= 0.
const DefaultExpires = 5 * time.Minute

// DefaultQueryTimeout is the per-command timeout for I/O-backed backends.
// Prevents indefinite hangs on slow or unresponsive storage.
const DefaultQueryTimeout = 5 * time.Second

// DefaultCooldown is how long the Tiered store stays degraded before it
// probes the remote backend again. Fixed rather than exponential so that
// recovery latency stays predictable and reconnect storms are avoided.
const DefaultCooldown = 30 * time.Second

// config holds the resolved configuration for a cache implementation.
type config struct {
	defaultExpires time.Duration
	queryTimeout   time.Duration
	expiryCheck    time.Duration
	cooldown       time.Duration
	prefix         string
	now            func() time.Time
}

// Option configures a cache implementation.
type Option func(*config)

func defaultConfig() config {
	return config{
		defaultExpires: DefaultExpires,
		queryTimeout:   DefaultQueryTimeout,
		expiryCheck:    time.Minute,
		cooldown:       DefaultCooldown,
		now:            time.Now,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithExpires sets the default TTL used when Set is called with ttl <= 0.
// Defaults to DefaultExpires (5 minutes).
func WithExpires(d time.Duration) Option {
	return func(c *config) { c.defaultExpires = d }
}

// WithQueryTimeout sets the per-command timeout for I/O-backed backends.
// Defaults to DefaultQueryTimeout (5 seconds).
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithExpiryCheck sets the interval for background expired entry cleanup in
// the in-memory backend. Defaults to 1 minute.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithCooldown sets how long the Tiered store waits after a remote failure
// before probing the remote backend again. Defaults to DefaultCooldown.
func WithCooldown(d time.Duration) Option {
	return func(c *config) { c.cooldown = d }
}

// WithPrefix sets the key prefix for namespacing cache keys.
// Applies to the Redis backend. Defaults to empty (no prefix).
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// WithClock overrides the time source. Used by tests to exercise staleness
// and cooldown arithmetic without sleeping.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}
