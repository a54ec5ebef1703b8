package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agentworkforce/labnotes/internal/gateway"
	"github.com/agentworkforce/labnotes/internal/notebook"
	"github.com/agentworkforce/labnotes/internal/notify"
	"github.com/agentworkforce/labnotes/internal/search"
)

// droppingGateway remembers live subscriptions so a test can cut them.
type droppingGateway struct {
	gateway.Gateway

	mu   sync.Mutex
	subs map[string][]gateway.Subscription
}

func (g *droppingGateway) Subscribe(ctx context.Context, collection string, handler gateway.Handler) (gateway.Subscription, error) {
	sub, err := g.Gateway.Subscribe(ctx, collection, handler)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.subs[collection] = append(g.subs[collection], sub)
	g.mu.Unlock()
	return sub, nil
}

func (g *droppingGateway) count(collection string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs[collection])
}

func (g *droppingGateway) drop(collection string) {
	g.mu.Lock()
	subs := g.subs[collection]
	g.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Close()
	}
}

func newSession(t *testing.T) (*Session, *gateway.MemoryGateway, *droppingGateway) {
	t.Helper()
	mem, err := gateway.NewMemoryGateway(notebook.Schema(), gateway.MemoryOptions{})
	if err != nil {
		t.Fatalf("new memory gateway failed: %v", err)
	}
	t.Cleanup(func() { _ = mem.Close() })
	gw := &droppingGateway{Gateway: mem, subs: map[string][]gateway.Subscription{}}
	s := New(gw, Options{
		ReconnectInterval: 10 * time.Millisecond,
		Sample:            func() float64 { return 0.5 },
		Notify:            notify.NewCenter(notify.Options{Durations: map[notify.Kind]time.Duration{notify.KindSuccess: 0, notify.KindError: 0, notify.KindWarning: 0}}),
	})
	t.Cleanup(s.Close)
	return s, mem, gw
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func rawCreate(t *testing.T, mem *gateway.MemoryGateway, fields map[string]any) string {
	t.Helper()
	raw, err := mem.Create(context.Background(), notebook.CollectionEntries, fields, nil)
	if err != nil {
		t.Fatalf("remote create failed: %v", err)
	}
	e, err := gateway.Decode[notebook.Entry](raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return e.ID
}

func TestStartLoadsAndReconcilesRemoteChanges(t *testing.T) {
	s, mem, gw := newSession(t)
	preexisting := rawCreate(t, mem, notebook.EntryForm{Mode: notebook.ModeResearch, Title: "before start"}.Fields())

	var mu sync.Mutex
	var events []Event
	s.OnEvent(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, ok := s.Entries.Cached(preexisting); !ok {
		t.Fatalf("expected start to load existing entries")
	}
	eventually(t, "subscriptions", func() bool {
		return gw.count(notebook.CollectionEntries) == 1 && s.Live(notebook.CollectionEntries)
	})

	remote := rawCreate(t, mem, notebook.EntryForm{Mode: notebook.ModeReference, Title: "Docker registry"}.Fields())
	eventually(t, "reconciled create", func() bool {
		_, ok := s.Entries.Cached(remote)
		return ok
	})
	if got := s.SearchEntries("docker", search.Filters{}); len(got) != 1 || got[0].Entry.ID != remote {
		t.Fatalf("expected realtime entry to be searchable, got %+v", got)
	}
	if got := s.EntryViews.Counts.Value(); got.Reference != 1 || got.Total != 2 {
		t.Fatalf("expected views to follow realtime changes, got %+v", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) == 0 || events[len(events)-1].ID != remote || events[len(events)-1].Action != gateway.ActionCreate {
		t.Fatalf("expected a create event for %s, got %+v", remote, events)
	}
}

func TestPumpResubscribesAndCatchesUp(t *testing.T) {
	s, mem, gw := newSession(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	eventually(t, "first subscription", func() bool { return gw.count(notebook.CollectionEntries) == 1 })

	gw.drop(notebook.CollectionEntries)
	missed := rawCreate(t, mem, notebook.EntryForm{Mode: notebook.ModeResearch, Title: "while offline"}.Fields())

	eventually(t, "resubscription", func() bool { return gw.count(notebook.CollectionEntries) == 2 })
	eventually(t, "catch-up reload", func() bool {
		_, ok := s.Entries.Cached(missed)
		return ok
	})
}

func TestCloseStopsPumps(t *testing.T) {
	s, mem, gw := newSession(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	eventually(t, "subscription", func() bool { return gw.count(notebook.CollectionTags) == 1 })
	s.Close()
	if s.Live(notebook.CollectionTags) {
		t.Fatalf("expected pumps to go offline after close")
	}
	before := s.Entries.Len()
	rawCreate(t, mem, notebook.EntryForm{Mode: notebook.ModeResearch, Title: "after close"}.Fields())
	time.Sleep(30 * time.Millisecond)
	if s.Entries.Len() != before {
		t.Fatalf("closed session must not reconcile")
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected start after close to fail")
	}
}

func TestMutationsReportToNotifications(t *testing.T) {
	s, _, _ := newSession(t)
	ctx := context.Background()
	s.Load(ctx)

	e, err := s.CreateEntry(ctx, notebook.EntryForm{Mode: notebook.ModeResearch, Title: "notes"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := s.CreateEntry(ctx, notebook.EntryForm{Mode: "diary", Title: "bad"}); err == nil {
		t.Fatalf("expected invalid mode to fail")
	}
	old, _ := s.CreateTag(ctx, notebook.TagForm{Name: "old"})
	tgt, _ := s.CreateTag(ctx, notebook.TagForm{Name: "new"})
	if _, err := s.UpdateEntry(ctx, e.ID, notebook.EntryPatch{Tags: []string{old.ID}}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if _, err := s.MergeTags(ctx, old.ID, tgt.ID); err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	var kinds []notify.Kind
	for _, n := range s.Notify.List() {
		kinds = append(kinds, n.Kind)
	}
	want := []notify.Kind{notify.KindSuccess, notify.KindError, notify.KindSuccess, notify.KindSuccess, notify.KindSuccess, notify.KindSuccess}
	if len(kinds) != len(want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, kinds)
		}
	}
	last := s.Notify.List()[len(want)-1]
	if last.Message != "Tag merged on 1 of 1 entries" {
		t.Fatalf("unexpected merge message %q", last.Message)
	}
}

func TestReconnectDelay(t *testing.T) {
	base := 100 * time.Millisecond
	cases := []struct {
		attempt int
		jitter  float64
		sample  float64
		want    time.Duration
	}{
		{0, 0, 0.9, base},
		{1, 0, 0.9, 2 * base},
		{3, 0, 0, 8 * base},
		{20, 0, 0, 32 * base},
		{0, 0.5, 0, 50 * time.Millisecond},
		{0, 0.5, 1, 150 * time.Millisecond},
		{1, 0.5, 0.5, 2 * base},
		{0, 5, 0, time.Millisecond},
	}
	for _, tc := range cases {
		if got := reconnectDelay(tc.attempt, base, tc.jitter, tc.sample); got != tc.want {
			t.Fatalf("reconnectDelay(%d, %s, %g, %g) = %s, want %s", tc.attempt, base, tc.jitter, tc.sample, got, tc.want)
		}
	}
	if got := reconnectDelay(3, 0, 0.2, 0.5); got != 0 {
		t.Fatalf("expected zero base to stay zero, got %s", got)
	}
}
