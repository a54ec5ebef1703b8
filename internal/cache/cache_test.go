package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"

	"github.com/agentworkforce/labnotes/internal/gateway"
	"github.com/agentworkforce/labnotes/internal/notebook"
)

type testLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *testLogger) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *testLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lines)
}

// flakyGateway fails selected calls with a network error.
type flakyGateway struct {
	gateway.Gateway
	mu         sync.Mutex
	failList   bool
	failUpdate map[string]bool
}

func (g *flakyGateway) List(ctx context.Context, collection string, opts gateway.ListOptions) ([]json.RawMessage, error) {
	g.mu.Lock()
	fail := g.failList
	g.mu.Unlock()
	if fail {
		return nil, &gateway.NetworkError{Op: "list " + collection, Err: errors.New("connection refused")}
	}
	return g.Gateway.List(ctx, collection, opts)
}

func (g *flakyGateway) Update(ctx context.Context, collection, id string, patch map[string]any, expand []string) (json.RawMessage, error) {
	g.mu.Lock()
	fail := g.failUpdate[id]
	g.mu.Unlock()
	if fail {
		return nil, &gateway.NetworkError{Op: "update " + collection, Err: errors.New("timeout")}
	}
	return g.Gateway.Update(ctx, collection, id, patch, expand)
}

func newMemory(t testing.TB) *gateway.MemoryGateway {
	t.Helper()
	g, err := gateway.NewMemoryGateway(notebook.Schema(), gateway.MemoryOptions{})
	if err != nil {
		t.Fatalf("new memory gateway failed: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func ids[T any](items []T, id func(T) string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, id(item))
	}
	return out
}

func entryForm(title string) notebook.EntryForm {
	return notebook.EntryForm{Mode: notebook.ModeResearch, Title: title, Content: "body of " + title}
}

func TestCacheCreatePrependsAndReturnsRecord(t *testing.T) {
	entries := NewEntries(newMemory(t), nil)
	ctx := context.Background()
	entries.Load(ctx, EntryQuery{})

	a, err := entries.Create(ctx, entryForm("a"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	b, err := entries.Create(ctx, entryForm("b"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if diff := cmp.Diff([]string{b.ID, a.ID}, ids(entries.Snapshot().Items, notebook.EntryID)); diff != "" {
		t.Fatalf("snapshot order mismatch (-want +got):\n%s", diff)
	}
	if a.ID == "" || a.Mode != notebook.ModeResearch || a.Archived {
		t.Fatalf("unexpected created entry %+v", a)
	}
}

func TestReconcileCreatePrependsWithoutResorting(t *testing.T) {
	entries := NewEntries(newMemory(t), nil)
	t3 := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)
	a := notebook.Entry{ID: "A", Title: "A", Created: t3}
	b := notebook.Entry{ID: "B", Title: "B", Created: t3.Add(-time.Hour)}
	c := notebook.Entry{ID: "C", Title: "C", Created: t3.Add(time.Hour)}

	entries.Reconcile(gateway.ActionCreate, b)
	entries.Reconcile(gateway.ActionCreate, a)
	entries.Reconcile(gateway.ActionCreate, c)

	if diff := cmp.Diff([]string{"C", "A", "B"}, ids(entries.Snapshot().Items, notebook.EntryID)); diff != "" {
		t.Fatalf("snapshot order mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	entries := NewEntries(newMemory(t), nil)
	r := notebook.Entry{ID: "r", Title: "first"}
	entries.Reconcile(gateway.ActionCreate, notebook.Entry{ID: "x", Title: "x"})
	entries.Reconcile(gateway.ActionCreate, r)
	r.Title = "second"
	entries.Reconcile(gateway.ActionCreate, r)

	snap := entries.Snapshot()
	if diff := cmp.Diff([]string{"r", "x"}, ids(snap.Items, notebook.EntryID)); diff != "" {
		t.Fatalf("duplicate create must overwrite in place (-want +got):\n%s", diff)
	}
	if snap.Items[0].Title != "second" {
		t.Fatalf("expected latest field values, got %q", snap.Items[0].Title)
	}

	entries.Reconcile(gateway.ActionDelete, r)
	after := entries.Snapshot()
	entries.Reconcile(gateway.ActionDelete, r)
	entries.Reconcile(gateway.ActionDelete, notebook.Entry{ID: "never"})
	again := entries.Snapshot()
	if again.Version != after.Version {
		t.Fatalf("no-op delete must not publish a new snapshot")
	}
	if diff := cmp.Diff(after.Items, again.Items); diff != "" {
		t.Fatalf("repeated delete changed the snapshot:\n%s", diff)
	}
}

func TestReconcileUpdateOfAbsentRecordIsDiscarded(t *testing.T) {
	entries := NewEntries(newMemory(t), nil)
	entries.Reconcile(gateway.ActionUpdate, notebook.Entry{ID: "ghost", Title: "ghost"})
	if entries.Len() != 0 {
		t.Fatalf("update of an absent record must not insert it")
	}
}

func TestUpdateAfterRacingDeleteIsDiscarded(t *testing.T) {
	mem := newMemory(t)
	entries := NewEntries(mem, nil)
	ctx := context.Background()
	a, err := entries.Create(ctx, entryForm("a"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	entries.Reconcile(gateway.ActionDelete, a)
	if _, err := entries.Update(ctx, a.ID, notebook.EntryPatch{Title: ptr("renamed")}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if _, ok := entries.Cached(a.ID); ok {
		t.Fatalf("confirmed update must not resurrect a locally deleted entry")
	}
}

func TestLoadFailsSoft(t *testing.T) {
	mem := newMemory(t)
	flaky := &flakyGateway{Gateway: mem}
	logger := &testLogger{}
	entries := NewEntries(flaky, logger)
	ctx := context.Background()

	if _, err := entries.Create(ctx, entryForm("kept")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	entries.Load(ctx, EntryQuery{})
	before := entries.Snapshot()
	if len(before.Items) != 1 {
		t.Fatalf("expected one loaded entry, got %d", len(before.Items))
	}

	flaky.mu.Lock()
	flaky.failList = true
	flaky.mu.Unlock()
	entries.Load(ctx, EntryQuery{Mode: notebook.ModeProject})

	after := entries.Snapshot()
	if after.Version != before.Version || len(after.Items) != 1 {
		t.Fatalf("failed load must keep previous snapshot")
	}
	if logger.count() != 1 {
		t.Fatalf("expected failed load to be logged once, got %d", logger.count())
	}
	if got := entries.CurrentQuery(); got.Mode != "" {
		t.Fatalf("failed load must keep the previous query, got %+v", got)
	}
	if err := entries.Refresh(ctx, EntryQuery{}); !errors.Is(err, gateway.ErrNetwork) {
		t.Fatalf("expected strict refresh to report network failure, got %v", err)
	}
}

func TestFailedMutationLeavesSnapshotUntouched(t *testing.T) {
	mem := newMemory(t)
	flaky := &flakyGateway{Gateway: mem, failUpdate: map[string]bool{}}
	entries := NewEntries(flaky, nil)
	ctx := context.Background()
	a, err := entries.Create(ctx, entryForm("a"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	flaky.failUpdate[a.ID] = true
	before := entries.Snapshot()
	if _, err := entries.Update(ctx, a.ID, notebook.EntryPatch{Title: ptr("b")}); !errors.Is(err, gateway.ErrNetwork) {
		t.Fatalf("expected network failure, got %v", err)
	}
	if _, err := entries.Create(ctx, notebook.EntryForm{Mode: notebook.ModeResearch}); !errors.Is(err, gateway.ErrValidation) {
		t.Fatalf("expected validation error for missing title, got %v", err)
	}
	if after := entries.Snapshot(); after.Version != before.Version {
		t.Fatalf("failed mutations must not publish snapshots")
	}
}

func TestListenersObserveEveryTransitionInOrder(t *testing.T) {
	entries := NewEntries(newMemory(t), nil)
	var versions []uint64
	var sizes []int
	cancel := entries.Subscribe(func(s Snapshot[notebook.Entry]) {
		versions = append(versions, s.Version)
		sizes = append(sizes, len(s.Items))
	})
	ctx := context.Background()

	entries.Load(ctx, EntryQuery{})
	a, _ := entries.Create(ctx, entryForm("a"))
	_, _ = entries.Update(ctx, a.ID, notebook.EntryPatch{Title: ptr("a2")})
	_ = entries.Delete(ctx, a.ID)
	cancel()
	_, _ = entries.Create(ctx, entryForm("after cancel"))

	if diff := cmp.Diff([]uint64{1, 2, 3, 4}, versions); diff != "" {
		t.Fatalf("listener versions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 1, 1, 0}, sizes); diff != "" {
		t.Fatalf("listener sizes mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentWritersWithReadingListener(t *testing.T) {
	entries := NewEntries(newMemory(t), nil)
	var versions []uint64
	cancel := entries.Subscribe(func(s Snapshot[notebook.Entry]) {
		if cur := entries.Snapshot(); cur.Version < s.Version {
			t.Errorf("cache at version %d while publishing %d", cur.Version, s.Version)
		}
		versions = append(versions, s.Version)
	})
	defer cancel()

	const writers, perWriter = 4, 250
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				entries.Reconcile(gateway.ActionCreate, notebook.Entry{ID: id, Title: id, Mode: notebook.ModeResearch})
			}
		}(w)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("concurrent reconciles with a reading listener did not finish")
	}

	if got := entries.Len(); got != writers*perWriter {
		t.Fatalf("expected %d entries, got %d", writers*perWriter, got)
	}
	if len(versions) != writers*perWriter {
		t.Fatalf("expected %d notifications, got %d", writers*perWriter, len(versions))
	}
	for i, v := range versions {
		if v != uint64(i+1) {
			t.Fatalf("notification %d carried version %d", i, v)
		}
	}
}

func TestRefreshSetsQueryBeforeNotifying(t *testing.T) {
	ctx := context.Background()
	entries := NewEntries(newMemory(t), nil)
	entries.Load(ctx, EntryQuery{})

	var seen []EntryQuery
	cancel := entries.Subscribe(func(Snapshot[notebook.Entry]) {
		seen = append(seen, entries.CurrentQuery())
	})
	defer cancel()

	want := EntryQuery{Mode: notebook.ModeProject}
	if err := entries.Refresh(ctx, want); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if len(seen) != 1 || seen[0] != want {
		t.Fatalf("listener must see the new query, got %+v", seen)
	}
}

type cacheModel struct {
	order  []string
	titles map[string]string
}

// TestCacheMatchesGatewayForAllSequences drives random create/update/remove
// sequences, including echoed realtime events, and checks the snapshot
// against what the store confirmed.
func TestCacheMatchesGatewayForAllSequences(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		mem, err := gateway.NewMemoryGateway(notebook.Schema(), gateway.MemoryOptions{})
		if err != nil {
			rt.Fatalf("new memory gateway failed: %v", err)
		}
		defer mem.Close()
		entries := NewEntries(mem, nil)
		ctx := context.Background()
		model := cacheModel{titles: map[string]string{}}

		steps := rapid.IntRange(1, 30).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			op := rapid.SampledFrom([]string{"create", "update", "remove", "echo", "delete-absent"}).Draw(rt, "op")
			switch op {
			case "create":
				title := rapid.StringMatching(`[a-z]{1,8}`).Draw(rt, "title")
				e, err := entries.Create(ctx, entryForm(title))
				if err != nil {
					rt.Fatalf("create failed: %v", err)
				}
				model.order = append([]string{e.ID}, model.order...)
				model.titles[e.ID] = title
			case "update":
				if len(model.order) == 0 {
					continue
				}
				id := rapid.SampledFrom(model.order).Draw(rt, "update id")
				title := rapid.StringMatching(`[a-z]{1,8}`).Draw(rt, "new title")
				if _, err := entries.Update(ctx, id, notebook.EntryPatch{Title: &title}); err != nil {
					rt.Fatalf("update failed: %v", err)
				}
				model.titles[id] = title
			case "remove":
				if len(model.order) == 0 {
					continue
				}
				id := rapid.SampledFrom(model.order).Draw(rt, "remove id")
				if err := entries.Delete(ctx, id); err != nil {
					rt.Fatalf("delete failed: %v", err)
				}
				model.order = without(model.order, id)
				delete(model.titles, id)
			case "echo":
				if len(model.order) == 0 {
					continue
				}
				id := rapid.SampledFrom(model.order).Draw(rt, "echo id")
				current, _ := entries.Cached(id)
				entries.Reconcile(gateway.ActionCreate, current)
			case "delete-absent":
				entries.Reconcile(gateway.ActionDelete, notebook.Entry{ID: "absent"})
			}

			snap := entries.Snapshot().Items
			if diff := cmp.Diff(model.order, ids(snap, notebook.EntryID)); diff != "" {
				rt.Fatalf("after %s snapshot ids mismatch (-want +got):\n%s", op, diff)
			}
			for _, e := range snap {
				if e.Title != model.titles[e.ID] {
					rt.Fatalf("after %s entry %s has title %q, want %q", op, e.ID, e.Title, model.titles[e.ID])
				}
			}
		}

		remote, err := entries.Find(ctx, nil)
		if err != nil {
			rt.Fatalf("find failed: %v", err)
		}
		if diff := cmp.Diff(model.order, ids(remote, notebook.EntryID)); diff != "" {
			rt.Fatalf("store and snapshot diverged (-want +got):\n%s", diff)
		}
	})
}

func without(list []string, id string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}
