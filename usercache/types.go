package usercache

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// CachedUserSummary is the denormalized user copy embedded in cached
// sessions. Its staleness is bounded by the profile TTL and the
// invalidation rules, not the session TTL.
type CachedUserSummary struct {
	ID    string `msgpack:"id"`
	Email string `msgpack:"email"`
	Name  string `msgpack:"name,omitempty"`
	Image string `msgpack:"image,omitempty"`
}

// CachedSession is a session shaped for the cache, keyed by token with a
// per-user list as a secondary index.
type CachedSession struct {
	ID           string             `msgpack:"id"`
	UserID       string             `msgpack:"userId"`
	Token        string             `msgpack:"token"`
	IPAddress    string             `msgpack:"ipAddress,omitempty"`
	UserAgent    string             `msgpack:"userAgent,omitempty"`
	IsActive     bool               `msgpack:"isActive"`
	LastActivity time.Time          `msgpack:"lastActivity"`
	ExpiresAt    time.Time          `msgpack:"expiresAt"`
	CreatedAt    time.Time          `msgpack:"createdAt"`
	User         *CachedUserSummary `msgpack:"user,omitempty"`
}

// ProfileStats is optional usage data attached to a cached profile by
// callers that already computed it.
type ProfileStats struct {
	SessionCount int        `msgpack:"sessionCount"`
	LastLoginAt  *time.Time `msgpack:"lastLoginAt,omitempty"`
}

// CachedUserProfile is a profile shaped for the cache, keyed by user ID
// with a shorter-lived email-keyed secondary entry.
type CachedUserProfile struct {
	ID            string            `msgpack:"id"`
	Email         string            `msgpack:"email"`
	Name          string            `msgpack:"name,omitempty"`
	Image         string            `msgpack:"image,omitempty"`
	EmailVerified *time.Time        `msgpack:"emailVerified,omitempty"`
	CreatedAt     time.Time         `msgpack:"createdAt"`
	UpdatedAt     time.Time         `msgpack:"updatedAt"`
	APIKeys       []string          `msgpack:"apiKeys,omitempty"`
	Preferences   map[string]string `msgpack:"preferences,omitempty"`
	Stats         *ProfileStats     `msgpack:"stats,omitempty"`
}

// CachedOAuthToken is a linked provider token shaped for the cache.
// IsExpired and ExpiresIn are always recomputed against the current time at
// read — an entry that was valid when cached may have expired within its
// cache TTL. Token values are stored encrypted when a cipher is configured.
type CachedOAuthToken struct {
	UserID            string     `msgpack:"userId"`
	Provider          string     `msgpack:"provider"`
	ProviderAccountID string     `msgpack:"providerAccountId"`
	AccessToken       string     `msgpack:"accessToken,omitempty"`
	RefreshToken      string     `msgpack:"refreshToken,omitempty"`
	ExpiresAt         *time.Time `msgpack:"expiresAt,omitempty"`
	IsExpired         bool       `msgpack:"isExpired"`
	ExpiresIn         int64      `msgpack:"expiresIn"`
	TokenType         string     `msgpack:"tokenType,omitempty"`
	Scope             string     `msgpack:"scope,omitempty"`
	IDToken           string     `msgpack:"idToken,omitempty"`
	SessionState      string     `msgpack:"sessionState,omitempty"`
}

// refreshExpiry recomputes the derived expiry fields relative to now.
func (t *CachedOAuthToken) refreshExpiry(now time.Time) {
	if t.ExpiresAt == nil {
		t.IsExpired = false
		t.ExpiresIn = 0
		return
	}
	remaining := t.ExpiresAt.Unix() - now.Unix()
	if remaining <= 0 {
		t.IsExpired = true
		t.ExpiresIn = 0
		return
	}
	t.IsExpired = false
	t.ExpiresIn = remaining
}

// decodeToken unmarshals a raw cache entry into a (still sealed) token.
func decodeToken(data []byte) (CachedOAuthToken, error) {
	var tok CachedOAuthToken
	err := msgpack.Unmarshal(data, &tok)
	return tok, err
}
