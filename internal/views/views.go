// Package views computes read-only projections of cache snapshots. A View
// recomputes on every snapshot its source publishes, so its value is
// always a function of the current snapshot only.
package views

import (
	"sort"
	"sync"

	"github.com/agentworkforce/labnotes/internal/cache"
)

// Source is what a View observes. *cache.Cache satisfies it.
type Source[T any] interface {
	Snapshot() cache.Snapshot[T]
	Subscribe(fn func(cache.Snapshot[T])) (cancel func())
}

type View[R any] struct {
	mu        sync.RWMutex
	value     R
	version   uint64
	started   bool
	listeners map[int]func(R)
	nextID    int
	cancel    func()
}

// New projects src through fn. fn must not retain the slice it is given.
func New[T, R any](src Source[T], fn func([]T) R) *View[R] {
	v := &View[R]{listeners: map[int]func(R){}}
	v.cancel = src.Subscribe(func(snap cache.Snapshot[T]) {
		v.update(snap.Version, fn(snap.Items))
	})
	snap := src.Snapshot()
	v.update(snap.Version, fn(snap.Items))
	return v
}

// update installs a value computed from snapshot version. A notification
// racing construction can arrive before the initial read; older versions
// are dropped.
func (v *View[R]) update(version uint64, value R) {
	v.mu.Lock()
	if v.started && version < v.version {
		v.mu.Unlock()
		return
	}
	v.started = true
	v.version = version
	v.value = value
	listeners := v.sortedListenersLocked()
	v.mu.Unlock()

	for _, fn := range listeners {
		fn(value)
	}
}

func (v *View[R]) sortedListenersLocked() []func(R) {
	ids := make([]int, 0, len(v.listeners))
	for id := range v.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(R), 0, len(ids))
	for _, id := range ids {
		out = append(out, v.listeners[id])
	}
	return out
}

func (v *View[R]) Value() R {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// Version is the snapshot version the current value was computed from.
func (v *View[R]) Version() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.version
}

// Subscribe registers fn for every recomputation. It is not called with
// the current value.
func (v *View[R]) Subscribe(fn func(R)) (cancel func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.nextID
	v.nextID++
	v.listeners[id] = fn
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.listeners, id)
	}
}

// Close detaches the view from its source. The last value stays readable.
func (v *View[R]) Close() {
	v.mu.Lock()
	cancel := v.cancel
	v.cancel = nil
	v.listeners = map[int]func(R){}
	v.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
