package invalidation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/efaroni/authcache/logger"
)

const (
	// DefaultTickInterval is how often the background processor drains
	// the queue.
	DefaultTickInterval = 5 * time.Second
	// DefaultBatchSize bounds how many users one invalidation call covers.
	DefaultBatchSize = 50
	// DefaultBatchDelay paces successive batches so a drain cannot
	// saturate the cache backend.
	DefaultBatchDelay = 100 * time.Millisecond
	// DefaultMaxRetries bounds re-enqueues before an item is dropped.
	DefaultMaxRetries = 3
	// DefaultRetryDelay is the linear backoff unit between retries.
	DefaultRetryDelay = time.Second
)

// CacheSet is the invalidation surface the engine drives. Implemented by
// usercache.Manager.
type CacheSet interface {
	InvalidateUserSessions(ctx context.Context, userID string) error
	InvalidateUserProfile(ctx context.Context, userID string) error
	InvalidateUserTokens(ctx context.Context, userID string) error
	ClearAll(ctx context.Context) error
}

// Config tunes the engine. The zero value gets sensible defaults.
type Config struct {
	TickInterval time.Duration `json:"tickInterval"`
	BatchSize    int           `json:"batchSize"`
	BatchDelay   time.Duration `json:"batchDelay"`
	MaxRetries   int           `json:"maxRetries"`
	RetryDelay   time.Duration `json:"retryDelay"`

	// Rules overrides the default event mapping.
	Rules []Rule `json:"-"`
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = DefaultBatchDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.Rules == nil {
		c.Rules = DefaultRules()
	}
	return c
}

// Options alters one InvalidateForEvent call.
type Options struct {
	// Immediate runs the invalidation synchronously; the call does not
	// return until every user is invalidated.
	Immediate bool
	// Caches bypasses rule lookup when non-zero.
	Caches Set
}

// item is one queued invalidation request. Items live in memory only; a
// process restart loses them and the affected entries go stale at their
// normal TTL instead.
type item struct {
	id         string
	event      Event
	userIDs    []string
	caches     Set
	enqueuedAt time.Time
	retryCount int
}

// Engine owns the invalidation queue. Wrappers never enqueue for
// themselves; every event-driven invalidation funnels through here.
type Engine struct {
	caches CacheSet
	log    logger.Logger
	cfg    Config

	mu       sync.Mutex
	queue    []*item
	inFlight bool

	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// NewEngine returns a stopped engine. Call Start to run the background
// processor; immediate invalidation works without it.
func NewEngine(caches CacheSet, log logger.Logger, cfg Config) *Engine {
	return &Engine{
		caches: caches,
		log:    log.WithPrefix("[invalidation]"),
		cfg:    cfg.withDefaults(),
		done:   make(chan struct{}),
	}
}

// Start launches the background queue processor. Safe to call once.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		ctx, e.cancel = context.WithCancel(ctx)
		go e.run(ctx)
	})
}

// Close stops the background processor and waits for an in-flight tick to
// drain. Items still queued are dropped.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
			<-e.done
		}
	})
	return nil
}

// InvalidateForEvent resolves the cache kinds for a domain event and
// invalidates them for the given users, synchronously when opts.Immediate
// is set and queued otherwise. An event with no matching rule and no
// explicit kind set is a logged no-op, not an error.
func (e *Engine) InvalidateForEvent(ctx context.Context, event Event, userIDs []string, opts *Options) error {
	if len(userIDs) == 0 {
		return nil
	}
	var caches Set
	immediate := false
	if opts != nil {
		caches = opts.Caches
		immediate = opts.Immediate
	}
	if caches == 0 {
		caches = resolve(e.cfg.Rules, event)
	}
	if caches == 0 {
		e.log.Debug("no invalidation rule for event %s, skipping %d users", event, len(userIDs))
		return nil
	}
	if immediate {
		return e.InvalidateImmediately(ctx, userIDs, caches)
	}
	e.enqueue(&item{
		id:         uuid.New().String(),
		event:      event,
		userIDs:    userIDs,
		caches:     caches,
		enqueuedAt: time.Now(),
	})
	return nil
}

// InvalidateImmediately invalidates the given kinds for every user before
// returning. The direct path for critical callers such as account
// deletion.
func (e *Engine) InvalidateImmediately(ctx context.Context, userIDs []string, caches Set) error {
	for _, userID := range userIDs {
		if err := e.invalidateUser(ctx, userID, caches); err != nil {
			return err
		}
	}
	return nil
}

// ClearAllCaches flushes every wrapper unconditionally. Administrative
// escape hatch, not part of normal event flow.
func (e *Engine) ClearAllCaches(ctx context.Context) error {
	e.log.Warn("clearing all caches")
	return e.caches.ClearAll(ctx)
}

// QueueLen reports how many items are waiting for the next tick.
func (e *Engine) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

func (e *Engine) enqueue(it *item) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = append(e.queue, it)
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.processTick(ctx)
		}
	}
}

// processTick drains the queue once. Two ticks never run concurrently: the
// in-flight guard short-circuits a tick that fires while the previous one
// is still draining, and new arrivals simply wait in the queue.
func (e *Engine) processTick(ctx context.Context) {
	e.mu.Lock()
	if e.inFlight || len(e.queue) == 0 {
		e.mu.Unlock()
		return
	}
	e.inFlight = true
	pending := e.queue
	e.queue = nil
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.inFlight = false
		e.mu.Unlock()
	}()

	for _, group := range groupByCaches(pending) {
		if ctx.Err() != nil {
			return
		}
		if err := e.processGroup(ctx, group); err != nil {
			e.retryGroup(ctx, group, err)
		}
	}
}

// group is all pending items sharing one exact kind set, with their user
// IDs deduplicated.
type group struct {
	caches Set
	items  []*item
	users  []string
}

func groupByCaches(items []*item) []*group {
	byKey := make(map[Set]*group)
	var ordered []*group
	for _, it := range items {
		g, ok := byKey[it.caches]
		if !ok {
			g = &group{caches: it.caches}
			byKey[it.caches] = g
			ordered = append(ordered, g)
		}
		g.items = append(g.items, it)
	}
	for _, g := range ordered {
		seen := make(map[string]struct{})
		for _, it := range g.items {
			for _, userID := range it.userIDs {
				if _, dup := seen[userID]; dup {
					continue
				}
				seen[userID] = struct{}{}
				g.users = append(g.users, userID)
			}
		}
	}
	return ordered
}

// processGroup invalidates one group in bounded batches with a small
// inter-batch delay. The first failing batch aborts the group.
func (e *Engine) processGroup(ctx context.Context, g *group) error {
	for start := 0; start < len(g.users); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(g.users) {
			end = len(g.users)
		}
		for _, userID := range g.users[start:end] {
			if err := e.invalidateUser(ctx, userID, g.caches); err != nil {
				return fmt.Errorf("invalidation: batch failed for %s caches %s: %w", userID, g.caches, err)
			}
		}
		if end < len(g.users) {
			if err := sleepCtx(ctx, e.cfg.BatchDelay); err != nil {
				return err
			}
		}
	}
	e.log.Debug("invalidated %s caches for %d users", g.caches, len(g.users))
	return nil
}

// retryGroup re-enqueues a failed group's items with an incremented retry
// count, dropping items that exhausted their retries, then awaits a linear
// backoff before the tick moves to the next group.
func (e *Engine) retryGroup(ctx context.Context, g *group, cause error) {
	backoffUnits := 1
	for _, it := range g.items {
		it.retryCount++
		if it.retryCount > e.cfg.MaxRetries {
			e.log.Error("permanently dropping invalidation %s (event %s, %d users, caches %s) after %d attempts: %v",
				it.id, it.event, len(it.userIDs), it.caches, it.retryCount, cause)
			continue
		}
		if it.retryCount > backoffUnits {
			backoffUnits = it.retryCount
		}
		e.enqueue(it)
	}
	e.log.Warn("invalidation group %s failed, retrying next tick: %v", g.caches, cause)
	if err := sleepCtx(ctx, e.cfg.RetryDelay*time.Duration(backoffUnits)); err != nil {
		return
	}
}

func (e *Engine) invalidateUser(ctx context.Context, userID string, caches Set) error {
	if caches.Has(KindSession) {
		if err := e.caches.InvalidateUserSessions(ctx, userID); err != nil {
			return err
		}
	}
	if caches.Has(KindProfile) {
		if err := e.caches.InvalidateUserProfile(ctx, userID); err != nil {
			return err
		}
	}
	if caches.Has(KindToken) {
		if err := e.caches.InvalidateUserTokens(ctx, userID); err != nil {
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
