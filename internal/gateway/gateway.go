package gateway

import (
	"context"
	"encoding/json"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Event is a realtime change notification for one record. For deletes the
// record may carry only the id.
type Event struct {
	Action     Action          `json:"action"`
	Collection string          `json:"collection"`
	Record     json.RawMessage `json:"record"`
}

type Handler func(Event)

// Subscription is a live realtime channel. Done is closed when the channel
// drops or is closed; Err then reports why (nil after Close).
type Subscription interface {
	Done() <-chan struct{}
	Err() error
	Close() error
}

type ListOptions struct {
	Filter Filter
	Sort   string
	Expand []string
}

// Gateway is the remote record store boundary. Records cross it as raw JSON
// objects; the store assigns id, created and updated.
type Gateway interface {
	List(ctx context.Context, collection string, opts ListOptions) ([]json.RawMessage, error)
	Get(ctx context.Context, collection, id string, expand []string) (json.RawMessage, error)
	Create(ctx context.Context, collection string, fields map[string]any, expand []string) (json.RawMessage, error)
	Update(ctx context.Context, collection, id string, patch map[string]any, expand []string) (json.RawMessage, error)
	Delete(ctx context.Context, collection, id string) error
	Subscribe(ctx context.Context, collection string, handler Handler) (Subscription, error)
	Close() error
}

type Logger interface {
	Printf(format string, args ...any)
}

// CollectionSchema describes one collection for the embedded gateways.
// Relations maps reference fields to the collection they point at.
type CollectionSchema struct {
	Name      string
	Relations map[string]string
	Document  []byte
}

type Schema struct {
	Collections map[string]CollectionSchema
}

func (s Schema) relation(collection, field string) (string, bool) {
	c, ok := s.Collections[collection]
	if !ok || c.Relations == nil {
		return "", false
	}
	target, ok := c.Relations[field]
	return target, ok
}

func (s Schema) known(collection string) bool {
	if len(s.Collections) == 0 {
		return true
	}
	_, ok := s.Collections[collection]
	return ok
}
