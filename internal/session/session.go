// Package session owns the live notebook state for one process: the three
// collection caches, the search engine over them, the standing views, the
// workflow orchestrator and the notification center. Start loads every
// collection and keeps each one current with a realtime pump.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/agentworkforce/labnotes/internal/cache"
	"github.com/agentworkforce/labnotes/internal/gateway"
	"github.com/agentworkforce/labnotes/internal/notebook"
	"github.com/agentworkforce/labnotes/internal/notify"
	"github.com/agentworkforce/labnotes/internal/search"
	"github.com/agentworkforce/labnotes/internal/views"
	"github.com/agentworkforce/labnotes/internal/workflow"
)

type Logger interface {
	Printf(format string, args ...any)
}

// Event describes a reconciled realtime change.
type Event struct {
	Collection string
	Action     gateway.Action
	ID         string
}

type Options struct {
	Logger Logger
	// Notify receives the outcome of every mutation. A center with the
	// default durations is created when nil.
	Notify            *notify.Center
	EntryQuery        cache.EntryQuery
	ArchivedProjects  bool
	ReconnectInterval time.Duration
	ReconnectJitter   float64
	// SearchLimit applies when a query sets no limit of its own.
	SearchLimit int
	// Sample returns values in [0, 1) for reconnect jitter.
	Sample func() float64
}

type Session struct {
	gw   gateway.Gateway
	opts Options

	Entries  *cache.Entries
	Projects *cache.Projects
	Tags     *cache.Tags

	Search       *search.Engine
	EntryViews   *views.EntryViews
	ProjectViews *views.ProjectViews
	TagViews     *views.TagViews
	Workflow     *workflow.Orchestrator
	Notify       *notify.Center

	mu        sync.Mutex
	started   bool
	closed    bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	listeners map[int]func(Event)
	nextID    int
	live      map[string]bool
}

func New(gw gateway.Gateway, opts Options) *Session {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 2 * time.Second
	}
	if opts.Sample == nil {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		var rngMu sync.Mutex
		opts.Sample = func() float64 {
			rngMu.Lock()
			defer rngMu.Unlock()
			return rng.Float64()
		}
	}
	if opts.Notify == nil {
		opts.Notify = notify.NewCenter(notify.Options{})
	}
	s := &Session{
		gw:        gw,
		opts:      opts,
		Entries:   cache.NewEntries(gw, opts.Logger),
		Projects:  cache.NewProjects(gw, opts.Logger),
		Tags:      cache.NewTags(gw, opts.Logger),
		Notify:    opts.Notify,
		listeners: map[int]func(Event){},
		live:      map[string]bool{},
	}
	s.Search = search.NewEngine(s.Entries, s.Tags, s.Projects)
	s.EntryViews = views.NewEntryViews(s.Entries)
	s.ProjectViews = views.NewProjectViews(s.Projects)
	s.TagViews = views.NewTagViews(s.Tags)
	s.Workflow = workflow.New(s.Entries, s.Tags, opts.Logger)
	return s
}

func (s *Session) Gateway() gateway.Gateway {
	return s.gw
}

// Load fetches every collection. Failures are logged by the caches and the
// session keeps whatever it had.
func (s *Session) Load(ctx context.Context) {
	s.Entries.Load(ctx, s.opts.EntryQuery)
	s.Projects.Load(ctx, s.opts.ArchivedProjects)
	s.Tags.Load(ctx)
}

// Refresh is Load that reports every failure.
func (s *Session) Refresh(ctx context.Context) error {
	return errors.Join(
		s.Entries.Refresh(ctx, s.opts.EntryQuery),
		s.Projects.Refresh(ctx, s.opts.ArchivedProjects),
		s.Tags.Refresh(ctx),
	)
}

// Start loads every collection and starts one realtime pump per
// collection. The pumps stop when ctx ends or the session is closed.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return gateway.ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.Load(ctx)
	s.wg.Add(3)
	go runPump(ctx, s, s.Entries.Cache, notebook.EntryID)
	go runPump(ctx, s, s.Projects.Cache, notebook.ProjectID)
	go runPump(ctx, s, s.Tags.Cache, notebook.TagID)
	return nil
}

// Close stops the pumps and detaches every view. It does not close the
// gateway.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.Search.Close()
	s.EntryViews.Close()
	s.ProjectViews.Close()
	s.TagViews.Close()
	s.Notify.Close()
}

// OnEvent registers fn for every reconciled realtime event.
func (s *Session) OnEvent(fn func(Event)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Live reports whether the collection currently has a realtime channel.
func (s *Session) Live(collection string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live[collection]
}

func (s *Session) setLive(collection string, live bool) {
	s.mu.Lock()
	s.live[collection] = live
	s.mu.Unlock()
}

func (s *Session) emit(ev Event) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// runPump keeps one collection subscribed. When the channel drops it waits
// a jittered, growing delay, resubscribes, then reloads the collection to
// pick up anything missed while disconnected.
func runPump[T any](ctx context.Context, s *Session, c *cache.Cache[T], idOf func(T) string) {
	defer s.wg.Done()
	coll := c.Collection()
	name := coll.Name()
	attempt := 0
	connected := false
	for {
		sub, err := coll.Subscribe(ctx, func(action gateway.Action, record T) {
			c.Reconcile(action, record)
			s.emit(Event{Collection: name, Action: action, ID: idOf(record)})
		})
		switch {
		case err == nil:
			s.setLive(name, true)
			if connected {
				if err := c.Reload(ctx); err != nil {
					s.logf("realtime %s: reload after reconnect failed: %v", name, err)
				}
			}
			connected = true
			attempt = 0
			select {
			case <-ctx.Done():
				_ = sub.Close()
				s.setLive(name, false)
				return
			case <-sub.Done():
			}
			s.setLive(name, false)
			if ctx.Err() != nil {
				return
			}
			s.logf("realtime %s dropped: %v", name, sub.Err())
		case errors.Is(err, gateway.ErrNotImplemented), errors.Is(err, gateway.ErrClosed):
			s.logf("realtime %s unavailable: %v", name, err)
			return
		default:
			if ctx.Err() != nil {
				return
			}
			s.logf("realtime %s subscribe failed: %v", name, err)
		}

		delay := reconnectDelay(attempt, s.opts.ReconnectInterval, s.opts.ReconnectJitter, s.opts.Sample())
		attempt++
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// report forwards the outcome of a mutation to the notification center and
// hands err back.
func (s *Session) report(success string, err error) error {
	switch {
	case err == nil:
		s.Notify.Success(success)
	case errors.Is(err, workflow.ErrPartialFailure):
		s.Notify.Warning(err.Error())
	default:
		s.Notify.Error(err.Error())
	}
	return err
}

func (s *Session) logf(format string, args ...any) {
	if s.opts.Logger == nil {
		return
	}
	s.opts.Logger.Printf(format, args...)
}

func (s *Session) CreateEntry(ctx context.Context, form notebook.EntryForm) (notebook.Entry, error) {
	e, err := s.Entries.Create(ctx, form)
	return e, s.report(fmt.Sprintf("Created %s entry %q", form.Mode, form.Title), err)
}

func (s *Session) UpdateEntry(ctx context.Context, id string, patch notebook.EntryPatch) (notebook.Entry, error) {
	e, err := s.Entries.Update(ctx, id, patch)
	return e, s.report("Entry updated", err)
}

func (s *Session) ArchiveEntry(ctx context.Context, id string) (notebook.Entry, error) {
	e, err := s.Entries.Archive(ctx, id)
	return e, s.report("Entry archived", err)
}

func (s *Session) RestoreEntry(ctx context.Context, id string) (notebook.Entry, error) {
	e, err := s.Entries.Restore(ctx, id)
	return e, s.report("Entry restored", err)
}

func (s *Session) DeleteEntry(ctx context.Context, id string) error {
	return s.report("Entry deleted", s.Entries.Delete(ctx, id))
}

func (s *Session) CreateProject(ctx context.Context, form notebook.ProjectForm) (notebook.Project, error) {
	p, err := s.Projects.Create(ctx, form)
	return p, s.report(fmt.Sprintf("Created project %q", form.Name), err)
}

func (s *Session) UpdateProject(ctx context.Context, id string, patch notebook.ProjectPatch) (notebook.Project, error) {
	p, err := s.Projects.Update(ctx, id, patch)
	return p, s.report("Project updated", err)
}

func (s *Session) SetProjectStatus(ctx context.Context, id string, status notebook.ProjectStatus) (notebook.Project, error) {
	p, err := s.Projects.UpdateStatus(ctx, id, status)
	return p, s.report(fmt.Sprintf("Project marked %s", status), err)
}

func (s *Session) DeleteProject(ctx context.Context, id string) error {
	return s.report("Project deleted", s.Projects.Delete(ctx, id))
}

func (s *Session) CreateTag(ctx context.Context, form notebook.TagForm) (notebook.Tag, error) {
	t, err := s.Tags.Create(ctx, form)
	return t, s.report(fmt.Sprintf("Created tag %q", notebook.CanonicalTagName(form.Name)), err)
}

func (s *Session) UpdateTag(ctx context.Context, id string, patch notebook.TagPatch) (notebook.Tag, error) {
	t, err := s.Tags.Update(ctx, id, patch)
	return t, s.report("Tag updated", err)
}

func (s *Session) DeleteTag(ctx context.Context, id string) error {
	return s.report("Tag deleted", s.Tags.Delete(ctx, id))
}

func (s *Session) Promote(ctx context.Context, entryID string, mode notebook.Mode) (notebook.Entry, error) {
	e, err := s.Workflow.Promote(ctx, entryID, mode)
	return e, s.report(fmt.Sprintf("Promoted to %s", mode), err)
}

func (s *Session) MergeTags(ctx context.Context, sourceID, targetID string) (workflow.MergeResult, error) {
	result, err := s.Workflow.MergeTags(ctx, sourceID, targetID)
	return result, s.report(fmt.Sprintf("Tag merged on %d of %d entries", result.Updated, result.Total), err)
}

func (s *Session) SearchEntries(query string, filters search.Filters) []search.Result {
	if filters.Limit <= 0 {
		filters.Limit = s.opts.SearchLimit
	}
	return s.Search.Search(query, filters)
}
