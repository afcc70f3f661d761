package usercache

import "time"

const (
	// DefaultSessionTTL bounds session staleness.
	DefaultSessionTTL = 5 * time.Minute
	// DefaultProfileTTL bounds profile staleness.
	DefaultProfileTTL = 15 * time.Minute
	// DefaultTokenTTL caps how long a live OAuth token entry is cached.
	DefaultTokenTTL = 5 * time.Minute
	// DefaultExpiredTokenTTL caches the "already expired" fact briefly
	// instead of re-deriving it on every call.
	DefaultExpiredTokenTTL = time.Minute
	// emailTTLCap is the hard ceiling on the email-keyed profile entry.
	// Email lookups are more security-sensitive and must go stale faster.
	emailTTLCap = 5 * time.Minute
)

// Config tunes the domain cache wrappers. The zero value gets sensible
// defaults from withDefaults.
type Config struct {
	// SessionPrefix, ProfilePrefix and TokenPrefix namespace each wrapper's
	// keys inside the shared store.
	SessionPrefix string `json:"sessionPrefix"`
	ProfilePrefix string `json:"profilePrefix"`
	TokenPrefix   string `json:"tokenPrefix"`

	// SessionTTL, ProfileTTL and TokenTTL are the per-wrapper staleness
	// bounds. The email-keyed profile entry uses min(ProfileTTL, 5m).
	SessionTTL time.Duration `json:"sessionTTL"`
	ProfileTTL time.Duration `json:"profileTTL"`
	TokenTTL   time.Duration `json:"tokenTTL"`
	// ExpiredTokenTTL is used when the provider token has already expired.
	ExpiredTokenTTL time.Duration `json:"expiredTokenTTL"`

	// DisableRefreshTokenCache stops refresh tokens from entering the
	// cache; they are cached (encrypted) by default. CacheIDTokens opts ID
	// tokens in; they are large and rarely re-read, so off by default.
	DisableRefreshTokenCache bool `json:"disableRefreshTokenCache"`
	CacheIDTokens            bool `json:"cacheIDTokens"`

	// WarmUpConcurrency bounds parallel source-of-truth reads during
	// warm-up.
	WarmUpConcurrency int `json:"warmUpConcurrency"`

	// Clock overrides the time source for tests.
	Clock func() time.Time `json:"-"`
}

// DefaultConfig returns the default wrapper configuration.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.SessionPrefix == "" {
		c.SessionPrefix = "session"
	}
	if c.ProfilePrefix == "" {
		c.ProfilePrefix = "profile"
	}
	if c.TokenPrefix == "" {
		c.TokenPrefix = "oauth"
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.ProfileTTL <= 0 {
		c.ProfileTTL = DefaultProfileTTL
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = DefaultTokenTTL
	}
	if c.ExpiredTokenTTL <= 0 {
		c.ExpiredTokenTTL = DefaultExpiredTokenTTL
	}
	if c.WarmUpConcurrency <= 0 {
		c.WarmUpConcurrency = 8
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// emailTTL returns the TTL for email-keyed profile entries.
func (c Config) emailTTL() time.Duration {
	if c.ProfileTTL < emailTTLCap {
		return c.ProfileTTL
	}
	return emailTTLCap
}

// tokenWriteTTL computes the cache TTL for a token entry: the remaining
// token lifetime capped at TokenTTL, or ExpiredTokenTTL when the token has
// already expired.
func (c Config) tokenWriteTTL(expiresAt *time.Time, now time.Time) time.Duration {
	if expiresAt == nil {
		return c.TokenTTL
	}
	remaining := expiresAt.Sub(now)
	if remaining <= 0 {
		return c.ExpiredTokenTTL
	}
	if remaining < c.TokenTTL {
		return remaining
	}
	return c.TokenTTL
}
