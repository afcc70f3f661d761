package usercache

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/efaroni/authcache/cache"
	"github.com/efaroni/authcache/crypto"
	"github.com/efaroni/authcache/logger"
	"github.com/efaroni/authcache/store"
)

// TokenCache is the cache-aside wrapper for OAuth provider tokens. Entries
// are keyed by (user, provider) with a per-user list as a secondary index.
// Token values are sealed with the configured cipher before they enter the
// cache; expiry fields are recomputed against the current time on every
// read, never trusted from the stored copy.
type TokenCache struct {
	store    *cache.Tiered
	accounts store.OAuthStore
	cipher   *crypto.TokenCipher
	log      logger.Logger
	cfg      Config
	group    singleflight.Group
}

// NewTokenCache returns a TokenCache over the given tiers and source of
// truth. cipher may be nil to cache token values unencrypted (not
// recommended outside tests).
func NewTokenCache(tiered *cache.Tiered, accounts store.OAuthStore, cipher *crypto.TokenCipher, log logger.Logger, cfg Config) *TokenCache {
	return &TokenCache{
		store:    tiered,
		accounts: accounts,
		cipher:   cipher,
		log:      log.WithPrefix("[token-cache]"),
		cfg:      cfg.withDefaults(),
	}
}

func (c *TokenCache) accountKey(userID, provider string) string {
	return fmt.Sprintf("%s:account:%s:%s", c.cfg.TokenPrefix, userID, provider)
}

func (c *TokenCache) userKey(userID string) string {
	return fmt.Sprintf("%s:user:%s", c.cfg.TokenPrefix, userID)
}

// GetToken returns the cached token for (userID, provider), loading it from
// the source of truth on a miss. Returns (nil, nil) when no account is
// linked. The entry's cache TTL is the remaining token lifetime capped at
// TokenTTL, or ExpiredTokenTTL for tokens that have already expired.
func (c *TokenCache) GetToken(ctx context.Context, userID, provider string) (*CachedOAuthToken, error) {
	key := c.accountKey(userID, provider)
	if sealed, found := cache.GetTyped[CachedOAuthToken](ctx, c.store, key); found {
		tok, err := c.reveal(sealed)
		if err == nil {
			tok.refreshExpiry(c.cfg.Clock())
			return &tok, nil
		}
		c.log.Warn("evicting undecryptable token entry for %s/%s: %v", userID, provider, err)
		c.store.Delete(ctx, key)
	}
	result, err, _ := c.group.Do(key, func() (any, error) {
		row, err := c.accounts.OAuthAccount(ctx, userID, provider)
		if err != nil {
			return nil, fmt.Errorf("usercache: oauth token lookup failed: %w", err)
		}
		if row == nil {
			return (*CachedOAuthToken)(nil), nil
		}
		now := c.cfg.Clock()
		shaped := newCachedToken(*row)
		c.writeToken(ctx, key, shaped, now)
		shaped.refreshExpiry(now)
		return &shaped, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*CachedOAuthToken), nil
}

// GetUserTokens returns all linked provider tokens for a user.
func (c *TokenCache) GetUserTokens(ctx context.Context, userID string) ([]CachedOAuthToken, error) {
	key := c.userKey(userID)
	now := c.cfg.Clock()
	if sealed, found := cache.GetTyped[[]CachedOAuthToken](ctx, c.store, key); found {
		tokens, err := c.revealAll(sealed, now)
		if err == nil {
			return tokens, nil
		}
		c.log.Warn("evicting undecryptable token list for %s: %v", userID, err)
		c.store.Delete(ctx, key)
	}
	result, err, _ := c.group.Do(key, func() (any, error) {
		rows, err := c.accounts.OAuthAccountsByUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("usercache: oauth token list lookup failed: %w", err)
		}
		if len(rows) == 0 {
			return []CachedOAuthToken(nil), nil
		}
		now := c.cfg.Clock()
		ttl := c.cfg.TokenTTL
		sealed := make([]CachedOAuthToken, 0, len(rows))
		shaped := make([]CachedOAuthToken, 0, len(rows))
		for _, row := range rows {
			tok := newCachedToken(row)
			if s, err := c.seal(tok); err != nil {
				c.log.Error("failed to seal token for %s/%s: %v", row.UserID, row.Provider, err)
			} else {
				sealed = append(sealed, s)
			}
			// The list expires with its soonest-expiring member.
			if wttl := c.cfg.tokenWriteTTL(row.ExpiresAt, now); wttl < ttl {
				ttl = wttl
			}
			tok.refreshExpiry(now)
			shaped = append(shaped, tok)
		}
		if len(sealed) == len(shaped) {
			cache.SetTyped(ctx, c.store, key, sealed, ttl)
		}
		return shaped, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]CachedOAuthToken), nil
}

// TokenUpdate is a partial token update. Nil fields are left unchanged.
type TokenUpdate struct {
	AccessToken  *string
	RefreshToken *string
	ExpiresAt    *time.Time
	TokenType    *string
	Scope        *string
	IDToken      *string
	SessionState *string
}

func (u TokenUpdate) apply(t *CachedOAuthToken) {
	if u.AccessToken != nil {
		t.AccessToken = *u.AccessToken
	}
	if u.RefreshToken != nil {
		t.RefreshToken = *u.RefreshToken
	}
	if u.ExpiresAt != nil {
		t.ExpiresAt = u.ExpiresAt
	}
	if u.TokenType != nil {
		t.TokenType = *u.TokenType
	}
	if u.Scope != nil {
		t.Scope = *u.Scope
	}
	if u.IDToken != nil {
		t.IDToken = *u.IDToken
	}
	if u.SessionState != nil {
		t.SessionState = *u.SessionState
	}
}

// UpdateTokenCache applies a partial update to an already-cached token,
// used after a token refresh when the caller already holds the new values.
// It never creates an entry. When the update carries a new ExpiresAt the
// entry's TTL is recomputed from it, otherwise the remaining TTL is
// preserved. The user-keyed list snapshot is dropped rather than edited.
// Returns true if an entry was updated.
func (c *TokenCache) UpdateTokenCache(ctx context.Context, userID, provider string, update TokenUpdate) bool {
	key := c.accountKey(userID, provider)
	entry, found := c.store.GetEntry(ctx, key)
	if !found {
		return false
	}
	sealed, err := decodeToken(entry.Data)
	if err != nil {
		c.store.Delete(ctx, key)
		return false
	}
	tok, err := c.reveal(sealed)
	if err != nil {
		c.log.Warn("evicting undecryptable token entry for %s/%s: %v", userID, provider, err)
		c.store.Delete(ctx, key)
		return false
	}
	update.apply(&tok)
	now := c.cfg.Clock()
	ttl := entry.Remaining
	if update.ExpiresAt != nil {
		ttl = c.cfg.tokenWriteTTL(update.ExpiresAt, now)
	}
	if ttl <= 0 {
		c.store.Delete(ctx, key)
		return false
	}
	resealed, err := c.seal(tok)
	if err != nil {
		c.log.Error("failed to seal token for %s/%s: %v", userID, provider, err)
		return false
	}
	if !cache.SetTyped(ctx, c.store, key, resealed, ttl) {
		return false
	}
	c.store.Delete(ctx, c.userKey(userID))
	return true
}

// InvalidateToken removes one provider token and the user-keyed list it
// appears in.
func (c *TokenCache) InvalidateToken(ctx context.Context, userID, provider string) {
	c.store.Delete(ctx, c.accountKey(userID, provider))
	c.store.Delete(ctx, c.userKey(userID))
}

// InvalidateUserTokens removes every cached token for a user.
func (c *TokenCache) InvalidateUserTokens(ctx context.Context, userID string) {
	c.store.DeletePattern(ctx, fmt.Sprintf("%s:account:%s:*", c.cfg.TokenPrefix, userID))
	c.store.Delete(ctx, c.userKey(userID))
}

// InvalidateAll removes every token entry. Used by the administrative clear
// path.
func (c *TokenCache) InvalidateAll(ctx context.Context) {
	c.store.DeletePattern(ctx, c.cfg.TokenPrefix+":*")
}

// WarmUp primes the cache with the most recently updated provider accounts.
// Returns the number of tokens cached.
func (c *TokenCache) WarmUp(ctx context.Context, limit int) (int, error) {
	rows, err := c.accounts.RecentOAuthAccounts(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("usercache: token warm-up query failed: %w", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.WarmUpConcurrency)
	for _, row := range rows {
		row := row
		g.Go(func() error {
			c.writeToken(gctx, c.accountKey(row.UserID, row.Provider), newCachedToken(row), c.cfg.Clock())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	c.log.Debug("warmed %d oauth tokens", len(rows))
	return len(rows), nil
}

// writeToken seals and stores one token entry with its computed TTL.
func (c *TokenCache) writeToken(ctx context.Context, key string, tok CachedOAuthToken, now time.Time) {
	sealed, err := c.seal(tok)
	if err != nil {
		c.log.Error("failed to seal token for %s/%s: %v", tok.UserID, tok.Provider, err)
		return
	}
	cache.SetTyped(ctx, c.store, key, sealed, c.cfg.tokenWriteTTL(tok.ExpiresAt, now))
}

// seal returns a copy with token values encrypted and, per configuration,
// refresh/ID tokens stripped.
func (c *TokenCache) seal(tok CachedOAuthToken) (CachedOAuthToken, error) {
	if c.cfg.DisableRefreshTokenCache {
		tok.RefreshToken = ""
	}
	if !c.cfg.CacheIDTokens {
		tok.IDToken = ""
	}
	if c.cipher == nil {
		return tok, nil
	}
	var err error
	if tok.AccessToken, err = c.cipher.Seal(tok.AccessToken); err != nil {
		return tok, err
	}
	if tok.RefreshToken, err = c.cipher.Seal(tok.RefreshToken); err != nil {
		return tok, err
	}
	if tok.IDToken, err = c.cipher.Seal(tok.IDToken); err != nil {
		return tok, err
	}
	return tok, nil
}

// reveal returns a copy with token values decrypted.
func (c *TokenCache) reveal(tok CachedOAuthToken) (CachedOAuthToken, error) {
	if c.cipher == nil {
		return tok, nil
	}
	var err error
	if tok.AccessToken, err = c.cipher.Open(tok.AccessToken); err != nil {
		return tok, err
	}
	if tok.RefreshToken, err = c.cipher.Open(tok.RefreshToken); err != nil {
		return tok, err
	}
	if tok.IDToken, err = c.cipher.Open(tok.IDToken); err != nil {
		return tok, err
	}
	return tok, nil
}

func (c *TokenCache) revealAll(sealed []CachedOAuthToken, now time.Time) ([]CachedOAuthToken, error) {
	tokens := make([]CachedOAuthToken, 0, len(sealed))
	for _, s := range sealed {
		tok, err := c.reveal(s)
		if err != nil {
			return nil, err
		}
		tok.refreshExpiry(now)
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

func newCachedToken(row store.OAuthAccount) CachedOAuthToken {
	return CachedOAuthToken{
		UserID:            row.UserID,
		Provider:          row.Provider,
		ProviderAccountID: row.ProviderAccountID,
		AccessToken:       row.AccessToken,
		RefreshToken:      row.RefreshToken,
		ExpiresAt:         row.ExpiresAt,
		TokenType:         row.TokenType,
		Scope:             row.Scope,
		IDToken:           row.IDToken,
		SessionState:      row.SessionState,
	}
}
