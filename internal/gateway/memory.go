package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryGateway is an in-process record store with the same behaviour the
// remote store has: server-assigned ids and timestamps, validation, expand
// and realtime events.
type MemoryGateway struct {
	mu        sync.Mutex
	schema    Schema
	validator *validator
	records   map[string]map[string]*storedRecord
	clock     monotonicClock
	seq       int64
	hub       *hub
	closed    bool
	newID     func() string
}

type MemoryOptions struct {
	// Now overrides the clock; timestamps stay strictly increasing.
	Now func() time.Time
	// NewID overrides id generation.
	NewID func() string
}

func NewMemoryGateway(schema Schema, opts MemoryOptions) (*MemoryGateway, error) {
	v, err := newValidator(schema)
	if err != nil {
		return nil, err
	}
	g := &MemoryGateway{
		schema:    schema,
		validator: v,
		records:   map[string]map[string]*storedRecord{},
		clock:     monotonicClock{now: opts.Now},
		hub:       newHub(),
		newID:     opts.NewID,
	}
	if g.newID == nil {
		g.newID = newRecordID
	}
	return g, nil
}

// newRecordID returns a 15 character lower-case id in the record store's
// usual shape.
func newRecordID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:15]
}

func (g *MemoryGateway) List(ctx context.Context, collection string, opts ListOptions) ([]json.RawMessage, error) {
	if err := opts.Filter.Validate(); err != nil {
		return nil, err
	}
	spec, err := ParseSort(opts.Sort)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	if err := g.check(ctx, collection); err != nil {
		g.mu.Unlock()
		return nil, err
	}
	var matched []storedRecord
	for _, rec := range g.records[collection] {
		if opts.Filter.Match(rec.body()) {
			matched = append(matched, *rec)
		}
	}
	g.mu.Unlock()

	sortRecords(matched, spec)
	bodies := make([]map[string]any, 0, len(matched))
	for _, rec := range matched {
		bodies = append(bodies, rec.body())
	}
	if err := expandBodies(ctx, g.schema, collection, bodies, opts.Expand, g.lookup); err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(bodies))
	for _, b := range bodies {
		raw, err := encodeBody(b)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func (g *MemoryGateway) Get(ctx context.Context, collection, id string, expand []string) (json.RawMessage, error) {
	g.mu.Lock()
	if err := g.check(ctx, collection); err != nil {
		g.mu.Unlock()
		return nil, err
	}
	rec, ok := g.records[collection][id]
	var snapshot storedRecord
	if ok {
		snapshot = *rec
	}
	g.mu.Unlock()
	if !ok {
		return nil, &NotFoundError{Collection: collection, ID: id}
	}
	return g.render(ctx, collection, snapshot, expand)
}

func (g *MemoryGateway) Create(ctx context.Context, collection string, fields map[string]any, expand []string) (json.RawMessage, error) {
	data, err := normalizeFields(fields)
	if err != nil {
		return nil, err
	}
	if err := g.validator.validate(collection, data); err != nil {
		return nil, err
	}
	g.mu.Lock()
	if err := g.check(ctx, collection); err != nil {
		g.mu.Unlock()
		return nil, err
	}
	now := g.clock.next()
	g.seq++
	rec := &storedRecord{ID: g.newID(), Data: data, Created: now, Updated: now, seq: g.seq}
	if g.records[collection] == nil {
		g.records[collection] = map[string]*storedRecord{}
	}
	g.records[collection][rec.ID] = rec
	snapshot := *rec
	g.publish(ActionCreate, collection, snapshot)
	return g.render(ctx, collection, snapshot, expand)
}

func (g *MemoryGateway) Update(ctx context.Context, collection, id string, patch map[string]any, expand []string) (json.RawMessage, error) {
	clean, err := normalizeFields(patch)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	if err := g.check(ctx, collection); err != nil {
		g.mu.Unlock()
		return nil, err
	}
	rec, ok := g.records[collection][id]
	if !ok {
		g.mu.Unlock()
		return nil, &NotFoundError{Collection: collection, ID: id}
	}
	merged := mergeFields(rec.Data, clean)
	if err := g.validator.validate(collection, merged); err != nil {
		g.mu.Unlock()
		return nil, err
	}
	rec.Data = merged
	rec.Updated = g.clock.next()
	snapshot := *rec
	g.publish(ActionUpdate, collection, snapshot)
	return g.render(ctx, collection, snapshot, expand)
}

func (g *MemoryGateway) Delete(ctx context.Context, collection, id string) error {
	g.mu.Lock()
	if err := g.check(ctx, collection); err != nil {
		g.mu.Unlock()
		return err
	}
	rec, ok := g.records[collection][id]
	if !ok {
		g.mu.Unlock()
		return &NotFoundError{Collection: collection, ID: id}
	}
	delete(g.records[collection], id)
	snapshot := *rec
	g.publish(ActionDelete, collection, snapshot)
	return nil
}

func (g *MemoryGateway) Subscribe(ctx context.Context, collection string, handler Handler) (Subscription, error) {
	if !g.schema.known(collection) {
		return nil, &NotFoundError{Collection: collection}
	}
	return g.hub.subscribe(ctx, collection, handler)
}

func (g *MemoryGateway) Close() error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.hub.close()
	return nil
}

// check must be called with g.mu held.
func (g *MemoryGateway) check(ctx context.Context, collection string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if g.closed {
		return ErrClosed
	}
	if !g.schema.known(collection) {
		return &NotFoundError{Collection: collection}
	}
	return nil
}

func (g *MemoryGateway) lookup(_ context.Context, collection string, ids []string) (map[string]map[string]any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]map[string]any, len(ids))
	for _, id := range ids {
		if rec, ok := g.records[collection][id]; ok {
			out[id] = rec.body()
		}
	}
	return out, nil
}

func (g *MemoryGateway) render(ctx context.Context, collection string, rec storedRecord, expand []string) (json.RawMessage, error) {
	body := rec.body()
	if err := expandBodies(ctx, g.schema, collection, []map[string]any{body}, expand, g.lookup); err != nil {
		return nil, err
	}
	return encodeBody(body)
}

// publish must be called with g.mu held; it releases it.
func (g *MemoryGateway) publish(action Action, collection string, rec storedRecord) {
	raw, err := encodeBody(rec.body())
	if err != nil {
		g.mu.Unlock()
		return
	}
	g.hub.publishAfter(g.mu.Unlock, Event{Action: action, Collection: collection, Record: raw})
}
