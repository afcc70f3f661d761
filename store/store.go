// Package store defines the source-of-truth boundary the caches sit in
// front of. The cache layer issues independent reads, never transactions;
// a nil row with a nil error means the record does not exist.
package store

import (
	"context"
	"time"
)

// User is a user row.
type User struct {
	ID            string
	Email         string
	Name          string
	Image         string
	EmailVerified *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Session is a session row.
type Session struct {
	ID           string
	UserID       string
	Token        string
	IPAddress    string
	UserAgent    string
	IsActive     bool
	LastActivity time.Time
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// OAuthAccount is a linked provider account row. Token columns hold the
// provider's current credentials; ExpiresAt is nil for non-expiring tokens.
type OAuthAccount struct {
	UserID            string
	Provider          string
	ProviderAccountID string
	AccessToken       string
	RefreshToken      string
	ExpiresAt         *time.Time
	TokenType         string
	Scope             string
	IDToken           string
	SessionState      string
}

// SessionStore reads session rows.
type SessionStore interface {
	SessionByToken(ctx context.Context, token string) (*Session, error)
	SessionsByUser(ctx context.Context, userID string) ([]Session, error)
	// RecentSessions returns up to limit active sessions ordered by most
	// recent activity, for cache warm-up.
	RecentSessions(ctx context.Context, limit int) ([]Session, error)
}

// UserStore reads user rows.
type UserStore interface {
	UserByID(ctx context.Context, id string) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
	RecentUsers(ctx context.Context, limit int) ([]User, error)
}

// OAuthStore reads linked provider account rows.
type OAuthStore interface {
	OAuthAccount(ctx context.Context, userID, provider string) (*OAuthAccount, error)
	OAuthAccountsByUser(ctx context.Context, userID string) ([]OAuthAccount, error)
	RecentOAuthAccounts(ctx context.Context, limit int) ([]OAuthAccount, error)
}

// Store is the full source-of-truth read surface the caches depend on.
type Store interface {
	SessionStore
	UserStore
	OAuthStore
}
