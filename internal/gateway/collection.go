package gateway

import (
	"context"
	"encoding/json"
	"fmt"
)

// Collection is a typed view over one gateway collection. Every
// record-returning call applies the default expand unless the caller passes
// its own.
type Collection[T any] struct {
	gw     Gateway
	name   string
	expand []string
	logger Logger
}

func NewCollection[T any](gw Gateway, name string, expand ...string) *Collection[T] {
	return &Collection[T]{gw: gw, name: name, expand: expand}
}

func (c *Collection[T]) WithLogger(logger Logger) *Collection[T] {
	c.logger = logger
	return c
}

func (c *Collection[T]) Name() string {
	return c.name
}

func (c *Collection[T]) Gateway() Gateway {
	return c.gw
}

func (c *Collection[T]) List(ctx context.Context, opts ListOptions) ([]T, error) {
	if opts.Expand == nil {
		opts.Expand = c.expand
	}
	raws, err := c.gw.List(ctx, c.name, opts)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		item, err := Decode[T](raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s record: %w", c.name, err)
		}
		out = append(out, item)
	}
	return out, nil
}

func (c *Collection[T]) Get(ctx context.Context, id string, expand ...string) (T, error) {
	if len(expand) == 0 {
		expand = c.expand
	}
	return decodeResult[T](c.name, func() (json.RawMessage, error) {
		return c.gw.Get(ctx, c.name, id, expand)
	})
}

func (c *Collection[T]) Create(ctx context.Context, fields map[string]any) (T, error) {
	return decodeResult[T](c.name, func() (json.RawMessage, error) {
		return c.gw.Create(ctx, c.name, fields, c.expand)
	})
}

func (c *Collection[T]) Update(ctx context.Context, id string, patch map[string]any) (T, error) {
	return decodeResult[T](c.name, func() (json.RawMessage, error) {
		return c.gw.Update(ctx, c.name, id, patch, c.expand)
	})
}

func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return c.gw.Delete(ctx, c.name, id)
}

// Subscribe decodes realtime events for this collection. Events that do not
// decode are logged and dropped.
func (c *Collection[T]) Subscribe(ctx context.Context, handler func(Action, T)) (Subscription, error) {
	return c.gw.Subscribe(ctx, c.name, func(ev Event) {
		if !ev.Action.Valid() {
			c.logf("%s: ignoring realtime event with action %q", c.name, ev.Action)
			return
		}
		record, err := Decode[T](ev.Record)
		if err != nil {
			c.logf("%s: dropping undecodable %s event: %v", c.name, ev.Action, err)
			return
		}
		handler(ev.Action, record)
	})
}

func (c *Collection[T]) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}

func Decode[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, fmt.Errorf("%w: empty record", ErrInvalidInput)
	}
	err := json.Unmarshal(raw, &out)
	return out, err
}

func decodeResult[T any](collection string, call func() (json.RawMessage, error)) (T, error) {
	var zero T
	raw, err := call()
	if err != nil {
		return zero, err
	}
	out, err := Decode[T](raw)
	if err != nil {
		return zero, fmt.Errorf("decode %s record: %w", collection, err)
	}
	return out, nil
}
