package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// systemFields are assigned by the store and never taken from callers.
var systemFields = map[string]struct{}{
	"id":      {},
	"created": {},
	"updated": {},
	"expand":  {},
}

// storedRecord is one record as the embedded gateways keep it.
type storedRecord struct {
	ID      string
	Data    map[string]any
	Created time.Time
	Updated time.Time
	seq     int64
}

// body is the record as clients see it: data plus system fields.
func (r storedRecord) body() map[string]any {
	out := make(map[string]any, len(r.Data)+3)
	for k, v := range r.Data {
		out[k] = v
	}
	out["id"] = r.ID
	out["created"] = r.Created.UTC().Format(time.RFC3339Nano)
	out["updated"] = r.Updated.UTC().Format(time.RFC3339Nano)
	return out
}

// normalizeFields drops system fields and round-trips the rest through JSON
// so stored values have the shapes a decoder produces.
func normalizeFields(fields map[string]any) (map[string]any, error) {
	clean := make(map[string]any, len(fields))
	for k, v := range fields {
		if _, ok := systemFields[k]; ok {
			continue
		}
		if !validField(k) {
			return nil, fmt.Errorf("%w: field name %q", ErrInvalidInput, k)
		}
		clean[k] = v
	}
	raw, err := json.Marshal(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: encode fields: %v", ErrInvalidInput, err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode fields: %v", ErrInvalidInput, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func mergeFields(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// monotonicClock hands out strictly increasing timestamps.
type monotonicClock struct {
	now  func() time.Time
	last time.Time
}

func (c *monotonicClock) next() time.Time {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	t := now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}

// lookupFunc fetches record bodies by id; missing ids are simply absent
// from the result.
type lookupFunc func(ctx context.Context, collection string, ids []string) (map[string]map[string]any, error)

// expandBodies resolves the requested reference fields of each body into an
// "expand" object. Dangling references are left out.
func expandBodies(ctx context.Context, schema Schema, collection string, bodies []map[string]any, expand []string, lookup lookupFunc) error {
	if len(expand) == 0 || len(bodies) == 0 {
		return nil
	}
	for _, field := range expand {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		target, ok := schema.relation(collection, field)
		if !ok {
			return fmt.Errorf("%w: %s has no relation %q", ErrInvalidInput, collection, field)
		}
		var ids []string
		seen := map[string]struct{}{}
		for _, b := range bodies {
			for _, id := range refIDs(b[field]) {
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					ids = append(ids, id)
				}
			}
		}
		if len(ids) == 0 {
			continue
		}
		found, err := lookup(ctx, target, ids)
		if err != nil {
			return err
		}
		for _, b := range bodies {
			resolved, ok := resolveRef(b[field], found)
			if !ok {
				continue
			}
			ex, _ := b["expand"].(map[string]any)
			if ex == nil {
				ex = map[string]any{}
				b["expand"] = ex
			}
			ex[field] = resolved
		}
	}
	return nil
}

func refIDs(v any) []string {
	switch ref := v.(type) {
	case string:
		if ref == "" {
			return nil
		}
		return []string{ref}
	case []any:
		out := make([]string, 0, len(ref))
		for _, item := range ref {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func resolveRef(v any, found map[string]map[string]any) (any, bool) {
	switch ref := v.(type) {
	case string:
		rec, ok := found[ref]
		return rec, ok
	case []any:
		out := make([]any, 0, len(ref))
		for _, item := range ref {
			if s, ok := item.(string); ok {
				if rec, ok := found[s]; ok {
					out = append(out, rec)
				}
			}
		}
		return out, len(out) > 0
	}
	return nil, false
}

// sortRecords orders records by spec, falling back to insertion order.
func sortRecords(records []storedRecord, spec SortSpec) {
	sort.SliceStable(records, func(i, j int) bool {
		if spec.Field != "" {
			c := compareField(records[i], records[j], spec.Field)
			if c != 0 {
				if spec.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		return records[i].seq < records[j].seq
	})
}

func compareField(a, b storedRecord, field string) int {
	switch field {
	case "created":
		return a.Created.Compare(b.Created)
	case "updated":
		return a.Updated.Compare(b.Updated)
	case "id":
		return strings.Compare(a.ID, b.ID)
	}
	return compareValues(a.Data[field], b.Data[field])
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case float64:
		bv, _ := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case bool:
		bv, _ := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		}
		return 1
	}
	return strings.Compare(fmt.Sprint(orEmpty(a)), fmt.Sprint(orEmpty(b)))
}

func orEmpty(v any) any {
	if v == nil {
		return ""
	}
	return v
}

func encodeBody(body map[string]any) (json.RawMessage, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return raw, nil
}
