package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentworkforce/labnotes/internal/gateway"
	"github.com/agentworkforce/labnotes/internal/notebook"
)

var (
	// EntryListExpand is what list reads resolve.
	EntryListExpand = []string{"project", "tags"}
	// EntryDetailExpand is what single-entry reads resolve.
	EntryDetailExpand = []string{"project", "tags", "linked_entries", "promoted_from"}
)

// EntryQuery selects which entries the cache mirrors.
type EntryQuery struct {
	Mode            notebook.Mode
	Project         string
	IncludeArchived bool
}

func (q EntryQuery) ListOptions() gateway.ListOptions {
	var filter gateway.Filter
	if !q.IncludeArchived {
		filter = filter.And(gateway.Eq("archived", false))
	}
	if q.Mode != "" {
		filter = filter.And(gateway.Eq("mode", string(q.Mode)))
	}
	if q.Project != "" {
		filter = filter.And(gateway.Eq("project", q.Project))
	}
	return gateway.ListOptions{Filter: filter, Sort: "-created", Expand: EntryListExpand}
}

// admits reports whether an entry belongs to the mirrored set.
func (q EntryQuery) admits(e notebook.Entry) bool {
	if e.Archived && !q.IncludeArchived {
		return false
	}
	if q.Project != "" && e.Project != q.Project {
		return false
	}
	return true
}

type Entries struct {
	*Cache[notebook.Entry]

	qmu   sync.Mutex
	query EntryQuery
}

func NewEntries(gw gateway.Gateway, logger Logger) *Entries {
	coll := gateway.NewCollection[notebook.Entry](gw, notebook.CollectionEntries, EntryListExpand...).WithLogger(logger)
	e := &Entries{}
	e.Cache = New(coll, Options[notebook.Entry]{
		ID:     notebook.EntryID,
		Evict:  func(entry notebook.Entry) bool { return !e.currentQuery().admits(entry) },
		Logger: logger,
	})
	return e
}

func (e *Entries) currentQuery() EntryQuery {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	return e.query
}

func (e *Entries) CurrentQuery() EntryQuery {
	return e.currentQuery()
}

// Load mirrors the entries q selects. Failures are logged and the previous
// snapshot stays.
func (e *Entries) Load(ctx context.Context, q EntryQuery) {
	if err := e.Refresh(ctx, q); err != nil {
		e.logf("load entries failed: %v", err)
	}
}

// Refresh mirrors the entries q selects. The query changes together with
// the snapshot, so listeners and later updates judge against q.
func (e *Entries) Refresh(ctx context.Context, q EntryQuery) error {
	return e.refresh(ctx, q.ListOptions(), func() {
		e.qmu.Lock()
		e.query = q
		e.qmu.Unlock()
	})
}

func (e *Entries) Reload(ctx context.Context) error {
	return e.Refresh(ctx, e.currentQuery())
}

func (e *Entries) LoadByMode(ctx context.Context, mode notebook.Mode) {
	e.Load(ctx, EntryQuery{Mode: mode})
}

func (e *Entries) LoadByProject(ctx context.Context, projectID string) {
	e.Load(ctx, EntryQuery{Project: projectID})
}

func (e *Entries) Create(ctx context.Context, form notebook.EntryForm) (notebook.Entry, error) {
	if !form.Mode.Valid() {
		return notebook.Entry{}, fmt.Errorf("%w: entry mode %q", gateway.ErrInvalidInput, form.Mode)
	}
	return e.Cache.Create(ctx, form.Fields())
}

func (e *Entries) Update(ctx context.Context, id string, patch notebook.EntryPatch) (notebook.Entry, error) {
	return e.Cache.Update(ctx, id, patch.Fields())
}

// Archive soft-deletes an entry. It leaves the snapshot unless archived
// entries are being mirrored, in which case it is replaced in place.
func (e *Entries) Archive(ctx context.Context, id string) (notebook.Entry, error) {
	archived := true
	return e.Update(ctx, id, notebook.EntryPatch{Archived: &archived})
}

// Restore clears the archived flag and puts the entry at the front of the
// snapshot.
func (e *Entries) Restore(ctx context.Context, id string) (notebook.Entry, error) {
	record, err := e.Collection().Update(ctx, id, map[string]any{"archived": false})
	if err != nil {
		return notebook.Entry{}, fmt.Errorf("restore entries %s: %w", id, err)
	}
	if e.currentQuery().admits(record) {
		e.apply(gateway.ActionCreate, record)
	}
	return record, nil
}

func (e *Entries) Delete(ctx context.Context, id string) error {
	return e.Cache.Remove(ctx, id)
}

// Get reads one entry from the store with every reference resolved. It
// does not touch the snapshot.
func (e *Entries) Get(ctx context.Context, id string) (notebook.Entry, error) {
	return e.Collection().Get(ctx, id, EntryDetailExpand...)
}

// Cached returns the mirrored copy of an entry.
func (e *Entries) Cached(id string) (notebook.Entry, bool) {
	return e.Cache.Get(id)
}

// Find lists entries straight from the store, bypassing the snapshot.
func (e *Entries) Find(ctx context.Context, filter gateway.Filter) ([]notebook.Entry, error) {
	return e.Collection().List(ctx, gateway.ListOptions{Filter: filter, Sort: "-created"})
}
