// Package cache keeps local mirrors of the notebook collections. Every
// mutation is confirmed by the gateway before it touches local state, and
// realtime events go through the same transition as local confirmations.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/agentworkforce/labnotes/internal/gateway"
)

type Logger interface {
	Printf(format string, args ...any)
}

// Snapshot is an immutable view of a cache. Items must not be modified.
type Snapshot[T any] struct {
	Items   []T
	Version uint64
}

type Options[T any] struct {
	// ID returns the record identity. Required.
	ID func(T) string
	// Order keeps the sequence sorted after every transition. When nil,
	// created records are prepended and everything else keeps its place.
	Order func(a, b T) bool
	// Evict reports whether an updated record has left the loaded set and
	// should be dropped instead of replaced.
	Evict  func(T) bool
	Logger Logger
}

type Cache[T any] struct {
	coll *gateway.Collection[T]
	opts Options[T]

	mu        sync.Mutex
	items     []T
	version   uint64
	query     gateway.ListOptions
	loaded    bool
	listeners map[int]func(Snapshot[T])
	nextID    int

	// published is the last version whose listeners have returned.
	pubMu     sync.Mutex
	pubCond   *sync.Cond
	published uint64
}

func New[T any](coll *gateway.Collection[T], opts Options[T]) *Cache[T] {
	if opts.ID == nil {
		panic("cache: Options.ID is required")
	}
	c := &Cache[T]{
		coll:      coll,
		opts:      opts,
		listeners: map[int]func(Snapshot[T]){},
	}
	c.pubCond = sync.NewCond(&c.pubMu)
	return c
}

func (c *Cache[T]) Collection() *gateway.Collection[T] {
	return c.coll
}

// Load replaces the sequence with a fresh fetch. On failure it logs and
// keeps the previous state.
func (c *Cache[T]) Load(ctx context.Context, opts gateway.ListOptions) {
	if err := c.Refresh(ctx, opts); err != nil {
		c.logf("load %s failed: %v", c.coll.Name(), err)
	}
}

// Refresh is Load that reports the failure.
func (c *Cache[T]) Refresh(ctx context.Context, opts gateway.ListOptions) error {
	return c.refresh(ctx, opts, nil)
}

// refresh runs before, if set, under the cache lock ahead of the commit so
// that state tied to the query changes with the snapshot.
func (c *Cache[T]) refresh(ctx context.Context, opts gateway.ListOptions, before func()) error {
	items, err := c.coll.List(ctx, opts)
	if err != nil {
		return fmt.Errorf("list %s: %w", c.coll.Name(), err)
	}
	if items == nil {
		items = []T{}
	}
	c.mu.Lock()
	if before != nil {
		before()
	}
	c.query = opts
	c.loaded = true
	c.sortLocked(items)
	c.commitLocked(items)
	return nil
}

// Reload repeats the last query.
func (c *Cache[T]) Reload(ctx context.Context) error {
	c.mu.Lock()
	opts := c.query
	c.mu.Unlock()
	return c.Refresh(ctx, opts)
}

func (c *Cache[T]) Query() gateway.ListOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query
}

func (c *Cache[T]) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

func (c *Cache[T]) Create(ctx context.Context, fields map[string]any) (T, error) {
	record, err := c.coll.Create(ctx, fields)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("create %s: %w", c.coll.Name(), err)
	}
	c.apply(gateway.ActionCreate, record)
	return record, nil
}

func (c *Cache[T]) Update(ctx context.Context, id string, patch map[string]any) (T, error) {
	record, err := c.coll.Update(ctx, id, patch)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("update %s %s: %w", c.coll.Name(), id, err)
	}
	c.apply(gateway.ActionUpdate, record)
	return record, nil
}

// Remove hard-deletes a record. Deleting a record the store no longer has
// counts as success.
func (c *Cache[T]) Remove(ctx context.Context, id string) error {
	err := c.coll.Delete(ctx, id)
	if err != nil && !errors.Is(err, gateway.ErrNotFound) {
		return fmt.Errorf("delete %s %s: %w", c.coll.Name(), id, err)
	}
	c.removeID(id)
	return nil
}

// Reconcile applies a realtime event. It is idempotent: a repeated create
// overwrites in place and a delete of an absent id changes nothing.
func (c *Cache[T]) Reconcile(action gateway.Action, record T) {
	c.apply(action, record)
}

func (c *Cache[T]) Snapshot() Snapshot[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot[T]{Items: c.items, Version: c.version}
}

func (c *Cache[T]) Get(id string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexLocked(id); i >= 0 {
		return c.items[i], true
	}
	var zero T
	return zero, false
}

// Version counts committed transitions.
func (c *Cache[T]) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Subscribe registers fn to run after every transition, synchronously and
// in transition order. fn must not mutate the cache.
func (c *Cache[T]) Subscribe(fn func(Snapshot[T])) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// apply is the single transition function for every action.
func (c *Cache[T]) apply(action gateway.Action, record T) {
	id := c.opts.ID(record)
	if id == "" {
		c.logf("%s: ignoring %s without id", c.coll.Name(), action)
		return
	}
	c.mu.Lock()
	i := c.indexLocked(id)
	var next []T
	switch action {
	case gateway.ActionCreate:
		if i >= 0 {
			next = c.replaceLocked(i, record)
		} else {
			next = make([]T, 0, len(c.items)+1)
			next = append(next, record)
			next = append(next, c.items...)
		}
	case gateway.ActionUpdate:
		if i < 0 {
			c.mu.Unlock()
			return
		}
		if c.opts.Evict != nil && c.opts.Evict(record) {
			next = c.withoutLocked(i)
		} else {
			next = c.replaceLocked(i, record)
		}
	case gateway.ActionDelete:
		if i < 0 {
			c.mu.Unlock()
			return
		}
		next = c.withoutLocked(i)
	default:
		c.mu.Unlock()
		c.logf("%s: ignoring unknown action %q", c.coll.Name(), action)
		return
	}
	c.sortLocked(next)
	c.commitLocked(next)
}

func (c *Cache[T]) removeID(id string) {
	c.mu.Lock()
	i := c.indexLocked(id)
	if i < 0 {
		c.mu.Unlock()
		return
	}
	c.commitLocked(c.withoutLocked(i))
}

// commitLocked publishes next and releases c.mu. Listeners run with the
// cache unlocked, so they may read it, and each version's listeners finish
// before the next version's start.
func (c *Cache[T]) commitLocked(next []T) {
	c.items = next
	c.version++
	snap := Snapshot[T]{Items: next, Version: c.version}
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]func(Snapshot[T]), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, c.listeners[id])
	}
	c.mu.Unlock()

	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	for c.published+1 != snap.Version {
		c.pubCond.Wait()
	}
	defer func() {
		c.published = snap.Version
		c.pubCond.Broadcast()
	}()
	for _, fn := range listeners {
		fn(snap)
	}
}

func (c *Cache[T]) indexLocked(id string) int {
	for i, item := range c.items {
		if c.opts.ID(item) == id {
			return i
		}
	}
	return -1
}

func (c *Cache[T]) replaceLocked(i int, record T) []T {
	next := make([]T, len(c.items))
	copy(next, c.items)
	next[i] = record
	return next
}

func (c *Cache[T]) withoutLocked(i int) []T {
	next := make([]T, 0, len(c.items)-1)
	next = append(next, c.items[:i]...)
	return append(next, c.items[i+1:]...)
}

func (c *Cache[T]) sortLocked(items []T) {
	if c.opts.Order == nil {
		return
	}
	sort.SliceStable(items, func(i, j int) bool { return c.opts.Order(items[i], items[j]) })
}

func (c *Cache[T]) logf(format string, args ...any) {
	if c.opts.Logger == nil {
		return
	}
	c.opts.Logger.Printf(format, args...)
}
