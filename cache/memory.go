package cache

import (
	"context"
	"path"
	"sync"
	"time"
)

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// memoryBackend is the process-local fallback tier. Entries expire lazily on
// read and eagerly via a janitor goroutine, which bounds growth when keys
// are written during a remote outage but never read again. Data is lost on
// process restart.
type memoryBackend struct {
	ctx       context.Context
	cancel    context.CancelFunc
	entries   map[string]memoryEntry
	mutex     sync.Mutex
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Backend = (*memoryBackend)(nil)

// NewMemory returns a Backend backed by a process-local map.
func NewMemory(parent context.Context, opts ...Option) Backend {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	b := &memoryBackend{
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]memoryEntry),
		cfg:     cfg,
	}
	b.waitGroup.Add(1)
	go b.run()
	return b
}

func (b *memoryBackend) run() {
	defer b.waitGroup.Done()
	ticker := time.NewTicker(b.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			now := b.cfg.now()
			b.mutex.Lock()
			for key, entry := range b.entries {
				if entry.expires.Before(now) {
					delete(b.entries, key)
				}
			}
			b.mutex.Unlock()
		}
	}
}

func (b *memoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	entry, ok := b.entries[key]
	if !ok {
		return nil, false, nil
	}
	if entry.expires.Before(b.cfg.now()) {
		delete(b.entries, key)
		return nil, false, nil
	}
	return entry.data, true, nil
}

func (b *memoryBackend) Set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = b.cfg.defaultExpires
	}
	b.mutex.Lock()
	b.entries[key] = memoryEntry{data: data, expires: b.cfg.now().Add(ttl)}
	b.mutex.Unlock()
	return nil
}

func (b *memoryBackend) Delete(_ context.Context, key string) error {
	b.mutex.Lock()
	delete(b.entries, key)
	b.mutex.Unlock()
	return nil
}

func (b *memoryBackend) DeletePattern(_ context.Context, pattern string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	for key := range b.entries {
		if ok, _ := path.Match(pattern, key); ok {
			delete(b.entries, key)
		}
	}
	return nil
}

func (b *memoryBackend) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = b.cfg.defaultExpires
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	entry, ok := b.entries[key]
	if !ok || entry.expires.Before(b.cfg.now()) {
		return false, nil
	}
	entry.expires = b.cfg.now().Add(ttl)
	b.entries[key] = entry
	return true, nil
}

func (b *memoryBackend) TTL(_ context.Context, key string) (time.Duration, bool, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	entry, ok := b.entries[key]
	if !ok {
		return 0, false, nil
	}
	left := entry.expires.Sub(b.cfg.now())
	if left <= 0 {
		delete(b.entries, key)
		return 0, false, nil
	}
	return left, true, nil
}

func (b *memoryBackend) Exists(_ context.Context, key string) (bool, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	entry, ok := b.entries[key]
	if !ok {
		return false, nil
	}
	if entry.expires.Before(b.cfg.now()) {
		delete(b.entries, key)
		return false, nil
	}
	return true, nil
}

func (b *memoryBackend) Clear(_ context.Context) error {
	b.mutex.Lock()
	b.entries = make(map[string]memoryEntry)
	b.mutex.Unlock()
	return nil
}

func (b *memoryBackend) Ping(_ context.Context) error {
	return nil
}

func (b *memoryBackend) Close() error {
	b.once.Do(func() {
		b.cancel()
		b.waitGroup.Wait()
	})
	return nil
}

// Len returns the number of live entries. Used by tests and stats.
func (b *memoryBackend) Len() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.entries)
}
