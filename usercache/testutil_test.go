package usercache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/efaroni/authcache/cache"
	"github.com/efaroni/authcache/crypto"
	"github.com/efaroni/authcache/logger"
	"github.com/efaroni/authcache/store"
)

var errRemoteDown = errors.New("remote tier down")

// fakeClock is a controllable time source shared by the store and the
// wrapper config.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// flakyBackend wraps a real backend and fails every call while down.
type flakyBackend struct {
	cache.Backend
	mu   sync.Mutex
	down bool
}

func (b *flakyBackend) setDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

func (b *flakyBackend) failing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.down
}

func (b *flakyBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if b.failing() {
		return nil, false, errRemoteDown
	}
	return b.Backend.Get(ctx, key)
}

func (b *flakyBackend) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if b.failing() {
		return errRemoteDown
	}
	return b.Backend.Set(ctx, key, data, ttl)
}

func (b *flakyBackend) Delete(ctx context.Context, key string) error {
	if b.failing() {
		return errRemoteDown
	}
	return b.Backend.Delete(ctx, key)
}

func (b *flakyBackend) DeletePattern(ctx context.Context, pattern string) error {
	if b.failing() {
		return errRemoteDown
	}
	return b.Backend.DeletePattern(ctx, pattern)
}

func (b *flakyBackend) Ping(ctx context.Context) error {
	if b.failing() {
		return errRemoteDown
	}
	return b.Backend.Ping(ctx)
}

// fakeStore is an in-memory source of truth with per-kind failure toggles
// and read counters.
type fakeStore struct {
	mu       sync.Mutex
	users    map[string]store.User
	sessions []store.Session
	oauth    []store.OAuthAccount

	failUsers    bool
	failSessions bool
	failOAuth    bool

	userReads    int
	sessionReads int
	oauthReads   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[string]store.User)}
}

func (s *fakeStore) addUser(u store.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *fakeStore) addSession(sess store.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sess)
}

func (s *fakeStore) addOAuth(acct store.OAuthAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oauth = append(s.oauth, acct)
}

func (s *fakeStore) removeSession(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.sessions[:0]
	for _, sess := range s.sessions {
		if sess.Token != token {
			kept = append(kept, sess)
		}
	}
	s.sessions = kept
}

func (s *fakeStore) UserByID(ctx context.Context, id string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userReads++
	if s.failUsers {
		return nil, errors.New("users table unavailable")
	}
	if u, ok := s.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (s *fakeStore) UserByEmail(ctx context.Context, email string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userReads++
	if s.failUsers {
		return nil, errors.New("users table unavailable")
	}
	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) RecentUsers(ctx context.Context, limit int) ([]store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUsers {
		return nil, errors.New("users table unavailable")
	}
	users := make([]store.User, 0, len(s.users))
	for _, u := range s.users {
		if len(users) == limit {
			break
		}
		users = append(users, u)
	}
	return users, nil
}

func (s *fakeStore) SessionByToken(ctx context.Context, token string) (*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionReads++
	if s.failSessions {
		return nil, errors.New("sessions table unavailable")
	}
	for _, sess := range s.sessions {
		if sess.Token == token {
			return &sess, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) SessionsByUser(ctx context.Context, userID string) ([]store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionReads++
	if s.failSessions {
		return nil, errors.New("sessions table unavailable")
	}
	var out []store.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *fakeStore) RecentSessions(ctx context.Context, limit int) ([]store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSessions {
		return nil, errors.New("sessions table unavailable")
	}
	if limit > len(s.sessions) {
		limit = len(s.sessions)
	}
	return append([]store.Session(nil), s.sessions[:limit]...), nil
}

func (s *fakeStore) OAuthAccount(ctx context.Context, userID, provider string) (*store.OAuthAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oauthReads++
	if s.failOAuth {
		return nil, errors.New("oauth table unavailable")
	}
	for _, acct := range s.oauth {
		if acct.UserID == userID && acct.Provider == provider {
			return &acct, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) OAuthAccountsByUser(ctx context.Context, userID string) ([]store.OAuthAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oauthReads++
	if s.failOAuth {
		return nil, errors.New("oauth table unavailable")
	}
	var out []store.OAuthAccount
	for _, acct := range s.oauth {
		if acct.UserID == userID {
			out = append(out, acct)
		}
	}
	return out, nil
}

func (s *fakeStore) RecentOAuthAccounts(ctx context.Context, limit int) ([]store.OAuthAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOAuth {
		return nil, errors.New("oauth table unavailable")
	}
	if limit > len(s.oauth) {
		limit = len(s.oauth)
	}
	return append([]store.OAuthAccount(nil), s.oauth[:limit]...), nil
}

func (s *fakeStore) setFailUsers(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failUsers = fail
}

func (s *fakeStore) setFailSessions(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSessions = fail
}

func (s *fakeStore) setFailOAuth(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOAuth = fail
}

func (s *fakeStore) reads() (users, sessions, oauth int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userReads, s.sessionReads, s.oauthReads
}

// env bundles a tiered store over a controllable remote tier with a fake
// source of truth.
type env struct {
	tiered *cache.Tiered
	db     *fakeStore
	remote *flakyBackend
	log    *logger.TestLogger
	clock  *fakeClock
	cfg    Config
}

func newEnv(t *testing.T, cfg Config) *env {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	clock := newFakeClock()
	remote := &flakyBackend{Backend: cache.NewMemory(ctx, cache.WithClock(clock.Now))}
	local := cache.NewMemory(ctx, cache.WithClock(clock.Now))
	log := logger.NewTestLogger()
	tiered := cache.NewTiered(remote, local, log, cache.WithClock(clock.Now))
	t.Cleanup(func() { tiered.Close() })
	cfg.Clock = clock.Now
	return &env{
		tiered: tiered,
		db:     newFakeStore(),
		remote: remote,
		log:    log,
		clock:  clock,
		cfg:    cfg.withDefaults(),
	}
}

func (e *env) sessionCache() *SessionCache {
	return NewSessionCache(e.tiered, e.db, e.db, e.log, e.cfg)
}

func (e *env) profileCache() *ProfileCache {
	return NewProfileCache(e.tiered, e.db, e.log, e.cfg)
}

func (e *env) tokenCache(cipher *crypto.TokenCipher) *TokenCache {
	return NewTokenCache(e.tiered, e.db, cipher, e.log, e.cfg)
}
