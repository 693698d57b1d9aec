// Package querycache holds the last fetched task list per (entity, user) key and
// mediates every read and write between the board and the task store.
package querycache

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// EntityTasks is the entity type of task list entries.
const EntityTasks = "tasks"

// Key identifies a cache entry.
type Key struct {
	Entity string
	UserID string
}

// TasksKey returns the key of a user's task list.
func TasksKey(userID string) Key {
	return Key{Entity: EntityTasks, UserID: userID}
}

func (k Key) String() string {
	return k.Entity + ":" + k.UserID
}

// Fetcher loads the authoritative value of an entry.
type Fetcher func(ctx context.Context, key Key) ([]domain.Task, error)

// Listener is told that the entry under key changed. Listeners read the new
// value through Get; notifications may arrive after later writes.
type Listener func(key Key)

// ErrFetchCancelled is returned by Fetch when the fetch was superseded or cancelled.
var ErrFetchCancelled = errors.New("fetch cancelled")

type entry struct {
	tasks    []domain.Task
	loaded   bool
	version  uint64
	lastErr  error
	inflight *fetchCall
}

type fetchCall struct {
	cancel context.CancelFunc
	done   chan struct{}
	tasks  []domain.Task
	err    error
}

// Cache is safe for concurrent use. Writes are last-write-wins.
type Cache struct {
	fetch   Fetcher
	logger  *log.Logger
	timeout time.Duration

	mu      sync.Mutex
	entries map[Key]*entry
	subs    map[Key]map[uint64]Listener
	nextSub uint64
	closed  bool

	wg sync.WaitGroup
}

// New creates a cache that loads entries with fetch. A positive timeout bounds
// each fetch.
func New(fetch Fetcher, logger *log.Logger, timeout time.Duration) *Cache {
	if fetch == nil {
		panic("querycache.New: fetcher is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Cache{
		fetch:   fetch,
		logger:  logger,
		timeout: timeout,
		entries: make(map[Key]*entry),
		subs:    make(map[Key]map[uint64]Listener),
	}
}

func (c *Cache) entryLocked(key Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	return e
}

// Get returns a copy of the cached list and whether the entry has been loaded.
func (c *Cache) Get(key Key) ([]domain.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.loaded {
		return nil, false
	}
	return domain.CloneTasks(e.tasks), true
}

// Lookup is Get plus the version of the returned value.
func (c *Cache) Lookup(key Key) ([]domain.Task, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, 0, false
	}
	return domain.CloneTasks(e.tasks), e.version, e.loaded
}

// Version increases on every write to the entry.
func (c *Cache) Version(key Key) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.version
	}
	return 0
}

// Loading reports whether a fetch for key is in flight.
func (c *Cache) Loading(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && e.inflight != nil
}

// Err returns the error of the last failed fetch, cleared by the next success.
func (c *Cache) Err(key Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.lastErr
	}
	return nil
}

// Set replaces the entry and returns its new version.
func (c *Cache) Set(key Key, tasks []domain.Task) uint64 {
	return c.Swap(key, func([]domain.Task, uint64) []domain.Task { return tasks })
}

// Update applies fn to a copy of the current list and stores the result.
func (c *Cache) Update(key Key, fn func([]domain.Task) []domain.Task) uint64 {
	return c.Swap(key, func(cur []domain.Task, _ uint64) []domain.Task { return fn(cur) })
}

// Swap is Update with access to the version the change is based on. fn runs
// under the cache lock and must not call back into the cache.
func (c *Cache) Swap(key Key, fn func(cur []domain.Task, version uint64) []domain.Task) uint64 {
	c.mu.Lock()
	v := c.swapLocked(c.entryLocked(key), fn)
	c.mu.Unlock()

	c.notify(key)
	return v
}

// SwapLoaded is Swap for an entry that already holds a fetched list. A missing
// or still loading entry is left untouched and false is returned.
func (c *Cache) SwapLoaded(key Key, fn func(cur []domain.Task, version uint64) []domain.Task) (uint64, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || !e.loaded {
		c.mu.Unlock()
		return 0, false
	}
	v := c.swapLocked(e, fn)
	c.mu.Unlock()

	c.notify(key)
	return v, true
}

func (c *Cache) swapLocked(e *entry, fn func(cur []domain.Task, version uint64) []domain.Task) uint64 {
	next := fn(domain.CloneTasks(e.tasks), e.version)
	if next == nil {
		next = []domain.Task{}
	}
	e.tasks = domain.CloneTasks(next)
	e.loaded = true
	e.version++
	return e.version
}

// Remove drops the entry and cancels its in-flight fetch.
func (c *Cache) Remove(key Key) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		if e.inflight != nil {
			e.inflight.cancel()
		}
		delete(c.entries, key)
	}
	c.mu.Unlock()
	if ok {
		c.notify(key)
	}
}

// CancelFetch aborts the in-flight fetch for key. Its result is discarded even
// if the fetcher ignores the cancellation.
func (c *Cache) CancelFetch(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.inflight != nil {
		e.inflight.cancel()
		e.inflight = nil
	}
}

// Fetch loads key from the store, replacing any fetch already in flight, and
// waits for the result.
func (c *Cache) Fetch(ctx context.Context, key Key) ([]domain.Task, error) {
	call, err := c.start(key)
	if err != nil {
		return nil, err
	}
	select {
	case <-call.done:
		return domain.CloneTasks(call.tasks), call.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate schedules a background refetch of key, replacing any fetch
// already in flight.
func (c *Cache) Invalidate(key Key) {
	if _, err := c.start(key); err != nil {
		c.logger.WithError(err).WithField("key", key.String()).Debug("invalidate skipped")
	}
}

func (c *Cache) start(key Key) (*fetchCall, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errClosed
	}
	e := c.entryLocked(key)
	if e.inflight != nil {
		e.inflight.cancel()
	}
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), c.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	call := &fetchCall{cancel: cancel, done: make(chan struct{})}
	e.inflight = call
	c.wg.Add(1)
	c.mu.Unlock()

	c.notify(key)
	go c.run(ctx, key, call)
	return call, nil
}

func (c *Cache) run(ctx context.Context, key Key, call *fetchCall) {
	defer c.wg.Done()
	defer close(call.done)
	defer call.cancel()

	tasks, err := c.fetch(ctx, key)

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.inflight != call {
		c.mu.Unlock()
		call.err = ErrFetchCancelled
		return
	}
	e.inflight = nil
	if err != nil {
		e.lastErr = err
		c.mu.Unlock()
		call.err = err
		c.logger.WithError(err).WithField("key", key.String()).Warn("task fetch failed")
		c.notify(key)
		return
	}
	e.tasks = domain.CloneTasks(tasks)
	if e.tasks == nil {
		e.tasks = []domain.Task{}
	}
	e.loaded = true
	e.lastErr = nil
	e.version++
	call.tasks = domain.CloneTasks(e.tasks)
	c.mu.Unlock()

	c.notify(key)
}

// Subscribe registers fn for changes to key and returns the function that
// removes it.
func (c *Cache) Subscribe(key Key, fn Listener) func() {
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	if c.subs[key] == nil {
		c.subs[key] = make(map[uint64]Listener)
	}
	c.subs[key][id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs[key], id)
			if len(c.subs[key]) == 0 {
				delete(c.subs, key)
			}
			c.mu.Unlock()
		})
	}
}

func (c *Cache) notify(key Key) {
	c.mu.Lock()
	listeners := make([]Listener, 0, len(c.subs[key]))
	for _, fn := range c.subs[key] {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(key)
	}
}

// Wait blocks until every background fetch started so far has finished.
func (c *Cache) Wait() {
	c.wg.Wait()
}

// Close cancels all in-flight fetches and waits for them.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	for _, e := range c.entries {
		if e.inflight != nil {
			e.inflight.cancel()
			e.inflight = nil
		}
	}
	c.mu.Unlock()
	c.wg.Wait()
}

var errClosed = errors.New("cache closed")
