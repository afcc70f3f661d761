package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// fakeClock is a controllable time source for staleness and cooldown tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

var errBackendDown = errors.New("backend unavailable")

// stubBackend is a map-backed Backend with no native TTL support and a
// switchable failure mode, for exercising degradation and the logical
// staleness check independent of backend expiry.
type stubBackend struct {
	mu      sync.Mutex
	entries map[string][]byte
	failing bool
}

var _ Backend = (*stubBackend)(nil)

func newStubBackend() *stubBackend {
	return &stubBackend{entries: make(map[string][]byte)}
}

func (b *stubBackend) fail(v bool) {
	b.mu.Lock()
	b.failing = v
	b.mu.Unlock()
}

func (b *stubBackend) err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failing {
		return errBackendDown
	}
	return nil
}

func (b *stubBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := b.err(); err != nil {
		return nil, false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.entries[key]
	return data, ok, nil
}

func (b *stubBackend) Set(_ context.Context, key string, data []byte, _ time.Duration) error {
	if err := b.err(); err != nil {
		return err
	}
	b.mu.Lock()
	b.entries[key] = data
	b.mu.Unlock()
	return nil
}

func (b *stubBackend) Delete(_ context.Context, key string) error {
	if err := b.err(); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
	return nil
}

func (b *stubBackend) DeletePattern(_ context.Context, _ string) error {
	return b.err()
}

func (b *stubBackend) Expire(_ context.Context, key string, _ time.Duration) (bool, error) {
	if err := b.err(); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[key]
	return ok, nil
}

func (b *stubBackend) TTL(_ context.Context, key string) (time.Duration, bool, error) {
	if err := b.err(); err != nil {
		return 0, false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[key]
	return time.Minute, ok, nil
}

func (b *stubBackend) Exists(_ context.Context, key string) (bool, error) {
	if err := b.err(); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[key]
	return ok, nil
}

func (b *stubBackend) Clear(_ context.Context) error {
	if err := b.err(); err != nil {
		return err
	}
	b.mu.Lock()
	b.entries = make(map[string][]byte)
	b.mu.Unlock()
	return nil
}

func (b *stubBackend) Ping(_ context.Context) error {
	return b.err()
}

func (b *stubBackend) Close() error {
	return nil
}

func (b *stubBackend) has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[key]
	return ok
}
