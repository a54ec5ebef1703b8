package search

import (
	"sync"

	"github.com/agentworkforce/labnotes/internal/cache"
	"github.com/agentworkforce/labnotes/internal/notebook"
)

type source[T any] interface {
	Snapshot() cache.Snapshot[T]
	Subscribe(fn func(cache.Snapshot[T])) (cancel func())
}

// Engine keeps an Index in step with the entries cache. Tag and project
// snapshots supply names for entries read without expansion, so a change
// to any of the three rebuilds the index.
type Engine struct {
	index    *Index
	entries  source[notebook.Entry]
	tags     source[notebook.Tag]
	projects source[notebook.Project]

	rebuildMu sync.Mutex
	cancels   []func()
}

// NewEngine builds the index from the current snapshots and follows every
// later change. tags and projects may be nil.
func NewEngine(entries source[notebook.Entry], tags source[notebook.Tag], projects source[notebook.Project]) *Engine {
	e := &Engine{index: NewIndex(), entries: entries, tags: tags, projects: projects}
	e.cancels = append(e.cancels, entries.Subscribe(func(cache.Snapshot[notebook.Entry]) { e.Rebuild() }))
	if tags != nil {
		e.cancels = append(e.cancels, tags.Subscribe(func(cache.Snapshot[notebook.Tag]) { e.Rebuild() }))
	}
	if projects != nil {
		e.cancels = append(e.cancels, projects.Subscribe(func(cache.Snapshot[notebook.Project]) { e.Rebuild() }))
	}
	e.Rebuild()
	return e
}

// Rebuild reindexes the current snapshots. Snapshots are read under the
// rebuild lock so the last rebuild always sees the newest state.
func (e *Engine) Rebuild() {
	e.rebuildMu.Lock()
	defer e.rebuildMu.Unlock()

	var names Names
	if e.tags != nil {
		tags := e.tags.Snapshot().Items
		names.Tags = make(map[string]string, len(tags))
		for _, t := range tags {
			names.Tags[t.ID] = t.Name
		}
	}
	if e.projects != nil {
		projects := e.projects.Snapshot().Items
		names.Projects = make(map[string]string, len(projects))
		for _, p := range projects {
			names.Projects[p.ID] = p.Name
		}
	}
	e.index.Rebuild(e.entries.Snapshot().Items, names)
}

func (e *Engine) Search(query string, filters Filters) []Result {
	return e.index.Search(query, filters)
}

func (e *Engine) Index() *Index {
	return e.index
}

func (e *Engine) Close() {
	e.rebuildMu.Lock()
	cancels := e.cancels
	e.cancels = nil
	e.rebuildMu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
