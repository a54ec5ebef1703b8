package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// runGatewayConformance exercises behaviour every embedded gateway shares.
// g must be empty and use testSchema.
func runGatewayConformance(t *testing.T, g Gateway) {
	t.Helper()
	ctx := context.Background()

	var mu sync.Mutex
	var events []Event
	sub, err := g.Subscribe(ctx, "entries", func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Close()

	tag := decodeTestRecord(t, mustCreate(t, g, "tags", map[string]any{"name": "sql"}))
	a := decodeTestRecord(t, mustCreate(t, g, "entries", map[string]any{"mode": "research", "title": "Alpha notes", "tags": []string{tag.ID}, "archived": false}))
	b := decodeTestRecord(t, mustCreate(t, g, "entries", map[string]any{"mode": "project", "title": "beta log", "archived": false}))
	c := decodeTestRecord(t, mustCreate(t, g, "entries", map[string]any{"mode": "research", "title": "gamma", "archived": true}))

	raws, err := g.List(ctx, "entries", ListOptions{Filter: Where(Eq("archived", false)), Sort: "-created", Expand: []string{"tags"}})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(raws) != 2 {
		t.Fatalf("expected 2 non-archived entries, got %d", len(raws))
	}
	first, second := decodeTestRecord(t, raws[0]), decodeTestRecord(t, raws[1])
	if first.ID != b.ID || second.ID != a.ID {
		t.Fatalf("expected -created order [%s %s], got [%s %s]", b.ID, a.ID, first.ID, second.ID)
	}
	if len(second.Expand.Tags) != 1 || second.Expand.Tags[0].Name != "sql" {
		t.Fatalf("expected expanded tag sql, got %+v", second.Expand.Tags)
	}

	raws, err = g.List(ctx, "entries", ListOptions{Filter: Where(Contains("tags", tag.ID))})
	if err != nil {
		t.Fatalf("list by tag failed: %v", err)
	}
	if len(raws) != 1 || decodeTestRecord(t, raws[0]).ID != a.ID {
		t.Fatalf("expected only %s to carry the tag, got %d records", a.ID, len(raws))
	}

	raws, err = g.List(ctx, "entries", ListOptions{Filter: Where(Contains("title", "NOTES"))})
	if err != nil {
		t.Fatalf("list by title substring failed: %v", err)
	}
	if len(raws) != 1 {
		t.Fatalf("expected case-insensitive substring match on title, got %d", len(raws))
	}

	raws, err = g.List(ctx, "entries", ListOptions{Filter: Where(Neq("mode", "research"))})
	if err != nil {
		t.Fatalf("list by mode failed: %v", err)
	}
	if len(raws) != 1 || decodeTestRecord(t, raws[0]).ID != b.ID {
		t.Fatalf("expected only the project entry, got %d records", len(raws))
	}

	updatedRaw, err := g.Update(ctx, "entries", c.ID, map[string]any{"archived": false}, nil)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	updated := decodeTestRecord(t, updatedRaw)
	if updated.Archived || updated.Title != "gamma" {
		t.Fatalf("expected merge patch to keep title and clear archived, got %+v", updated)
	}
	if !updated.Updated.After(c.Updated) {
		t.Fatalf("expected updated timestamp to advance")
	}
	if !updated.Created.Equal(c.Created) {
		t.Fatalf("expected created timestamp to be preserved")
	}

	if _, err := g.Create(ctx, "entries", map[string]any{"mode": "journal", "title": "x"}, nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := g.Delete(ctx, "entries", a.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := g.Get(ctx, "entries", a.ID, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}

	want := []Action{ActionCreate, ActionCreate, ActionCreate, ActionUpdate, ActionDelete}
	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(events)
		mu.Unlock()
		if n >= len(want) || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != len(want) {
		t.Fatalf("expected %d entry events, got %d", len(want), len(events))
	}
	for i, ev := range events {
		if ev.Action != want[i] || ev.Collection != "entries" {
			t.Fatalf("event %d: expected %s on entries, got %s on %s", i, want[i], ev.Action, ev.Collection)
		}
	}
	if got := decodeTestRecord(t, events[4].Record); got.ID != a.ID {
		t.Fatalf("expected delete event to carry id %s, got %s", a.ID, got.ID)
	}
}

func TestMemoryGatewayConformance(t *testing.T) {
	runGatewayConformance(t, newTestMemoryGateway(t))
}
