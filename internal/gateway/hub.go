package gateway

import (
	"context"
	"sync"
)

// subscription is the Subscription used by every gateway. stop releases
// whatever resource feeds it and is called at most once.
type subscription struct {
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	err       error
	stop      func()
}

func newSubscription(stop func()) *subscription {
	return &subscription{done: make(chan struct{}), stop: stop}
}

func (s *subscription) Done() <-chan struct{} {
	return s.done
}

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.finish(nil)
	return nil
}

// finish ends the subscription with err. Only the first call counts.
func (s *subscription) finish(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		if s.stop != nil {
			s.stop()
		}
		close(s.done)
	})
}

// hub fans out in-process change events to subscribers of a collection.
// Delivery is synchronous and in publish order.
type hub struct {
	mu     sync.Mutex
	pubMu  sync.Mutex
	nextID int
	subs   map[string]map[int]*hubSubscriber
	closed bool
}

type hubSubscriber struct {
	handler Handler
	sub     *subscription
}

func newHub() *hub {
	return &hub{subs: map[string]map[int]*hubSubscriber{}}
}

func (h *hub) subscribe(ctx context.Context, collection string, handler Handler) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	id := h.nextID
	h.nextID++
	sub := newSubscription(func() { h.remove(collection, id) })
	if h.subs[collection] == nil {
		h.subs[collection] = map[int]*hubSubscriber{}
	}
	h.subs[collection][id] = &hubSubscriber{handler: handler, sub: sub}
	go func() {
		select {
		case <-ctx.Done():
			sub.finish(ctx.Err())
		case <-sub.done:
		}
	}()
	return sub, nil
}

func (h *hub) remove(collection string, id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[collection], id)
}

func (h *hub) publish(ev Event) {
	h.publishAfter(func() {}, ev)
}

// publishAfter takes the publish lock, then calls release (typically the
// caller's store unlock) before delivering. Events are therefore delivered
// in the order the store committed them.
func (h *hub) publishAfter(release func(), ev Event) {
	h.pubMu.Lock()
	release()
	defer h.pubMu.Unlock()
	h.mu.Lock()
	targets := make([]*hubSubscriber, 0, len(h.subs[ev.Collection]))
	for _, s := range h.subs[ev.Collection] {
		targets = append(targets, s)
	}
	h.mu.Unlock()
	for _, s := range targets {
		select {
		case <-s.sub.done:
			continue
		default:
		}
		s.handler(ev)
	}
}

// close ends every live subscription with ErrClosed.
func (h *hub) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()
	h.dropAll(ErrClosed)
}

// dropAll ends every live subscription with err but keeps the hub open for
// new subscribers.
func (h *hub) dropAll(err error) {
	h.mu.Lock()
	var all []*subscription
	for _, byID := range h.subs {
		for _, s := range byID {
			all = append(all, s.sub)
		}
	}
	h.mu.Unlock()
	for _, s := range all {
		s.finish(err)
	}
}
