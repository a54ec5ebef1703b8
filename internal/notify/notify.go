// Package notify holds the transient notifications that report the outcome
// of user actions.
package notify

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindInfo    Kind = "info"
	KindWarning Kind = "warning"
)

const (
	DefaultDuration        = 3 * time.Second
	DefaultErrorDuration   = 5 * time.Second
	DefaultWarningDuration = 4 * time.Second
)

type Notification struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	Created time.Time `json:"created"`
	// Duration is how long the notification stays. Zero keeps it until
	// removed.
	Duration time.Duration `json:"duration"`
}

// Timer is the part of *time.Timer the center needs.
type Timer interface {
	Stop() bool
}

type Options struct {
	// Durations overrides the default lifetime per kind.
	Durations map[Kind]time.Duration
	Now       func() time.Time
	AfterFunc func(d time.Duration, f func()) Timer
}

type Center struct {
	mu        sync.Mutex
	items     []Notification
	timers    map[string]Timer
	listeners map[int]func([]Notification)
	nextID    int
	commits   uint64

	pubMu     sync.Mutex
	pubCond   *sync.Cond
	published uint64

	durations map[Kind]time.Duration
	now       func() time.Time
	afterFunc func(time.Duration, func()) Timer
}

func NewCenter(opts Options) *Center {
	c := &Center{
		timers:    map[string]Timer{},
		listeners: map[int]func([]Notification){},
		durations: map[Kind]time.Duration{
			KindSuccess: DefaultDuration,
			KindInfo:    DefaultDuration,
			KindError:   DefaultErrorDuration,
			KindWarning: DefaultWarningDuration,
		},
		now:       opts.Now,
		afterFunc: opts.AfterFunc,
	}
	c.pubCond = sync.NewCond(&c.pubMu)
	for kind, d := range opts.Durations {
		c.durations[kind] = d
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.afterFunc == nil {
		c.afterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	return c
}

func (c *Center) Success(message string) string {
	return c.Add(KindSuccess, message, c.durations[KindSuccess])
}
func (c *Center) Error(message string) string {
	return c.Add(KindError, message, c.durations[KindError])
}
func (c *Center) Info(message string) string { return c.Add(KindInfo, message, c.durations[KindInfo]) }
func (c *Center) Warning(message string) string {
	return c.Add(KindWarning, message, c.durations[KindWarning])
}

// Add appends a notification and returns its id. A positive d schedules
// its removal.
func (c *Center) Add(kind Kind, message string, d time.Duration) string {
	n := Notification{
		ID:       uuid.NewString(),
		Kind:     kind,
		Message:  message,
		Created:  c.now(),
		Duration: d,
	}
	c.mu.Lock()
	c.items = append(c.items, n)
	if d > 0 {
		c.timers[n.ID] = c.afterFunc(d, func() { c.Remove(n.ID) })
	}
	c.commitLocked()
	return n.ID
}

// Remove drops a notification. Unknown ids are ignored.
func (c *Center) Remove(id string) {
	c.mu.Lock()
	i := -1
	for j, n := range c.items {
		if n.ID == id {
			i = j
			break
		}
	}
	if i < 0 {
		c.mu.Unlock()
		return
	}
	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}
	next := make([]Notification, 0, len(c.items)-1)
	next = append(next, c.items[:i]...)
	c.items = append(next, c.items[i+1:]...)
	c.commitLocked()
}

// List returns the live notifications, oldest first.
func (c *Center) List() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.items...)
}

// Subscribe registers fn for every change to the list.
func (c *Center) Subscribe(fn func([]Notification)) (cancel func()) {
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

// Close stops every pending expiry. Notifications stay listed.
func (c *Center) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
}

// commitLocked releases mu and delivers the new list in commit order.
func (c *Center) commitLocked() {
	items := append([]Notification(nil), c.items...)
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]func([]Notification), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, c.listeners[id])
	}
	c.commits++
	seq := c.commits
	c.mu.Unlock()

	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	for c.published+1 != seq {
		c.pubCond.Wait()
	}
	defer func() {
		c.published = seq
		c.pubCond.Broadcast()
	}()
	for _, fn := range listeners {
		fn(items)
	}
}
