package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentworkforce/labnotes/internal/gateway"
	"github.com/agentworkforce/labnotes/internal/notebook"
)

// Tags mirrors every tag, kept sorted by name.
type Tags struct {
	*Cache[notebook.Tag]
}

func NewTags(gw gateway.Gateway, logger Logger) *Tags {
	coll := gateway.NewCollection[notebook.Tag](gw, notebook.CollectionTags).WithLogger(logger)
	return &Tags{Cache: New(coll, Options[notebook.Tag]{
		ID:     notebook.TagID,
		Order:  tagLess,
		Logger: logger,
	})}
}

func tagLess(a, b notebook.Tag) bool {
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.ID < b.ID
}

func (t *Tags) Load(ctx context.Context) {
	if err := t.Refresh(ctx); err != nil {
		t.logf("load tags failed: %v", err)
	}
}

func (t *Tags) Refresh(ctx context.Context) error {
	return t.Cache.Refresh(ctx, gateway.ListOptions{Sort: "name"})
}

func (t *Tags) Create(ctx context.Context, form notebook.TagForm) (notebook.Tag, error) {
	if err := checkTagName(form.Name); err != nil {
		return notebook.Tag{}, err
	}
	if form.Category != "" && !form.Category.Valid() {
		return notebook.Tag{}, fmt.Errorf("%w: tag category %q", gateway.ErrInvalidInput, form.Category)
	}
	return t.Cache.Create(ctx, form.Fields())
}

// FindOrCreate returns the tag with this name, creating it when the store
// has none. The snapshot gains the tag only if it was not already there.
func (t *Tags) FindOrCreate(ctx context.Context, name string) (notebook.Tag, error) {
	if err := checkTagName(name); err != nil {
		return notebook.Tag{}, err
	}
	canonical := notebook.CanonicalTagName(name)
	if tag, ok := t.ByName(canonical); ok {
		return tag, nil
	}
	found, err := t.Collection().List(ctx, gateway.ListOptions{
		Filter: gateway.Where(gateway.Eq("name", canonical)),
	})
	if err != nil {
		return notebook.Tag{}, fmt.Errorf("find tag %q: %w", canonical, err)
	}
	if len(found) > 0 {
		tag := found[0]
		if _, ok := t.Cache.Get(tag.ID); !ok {
			t.Reconcile(gateway.ActionCreate, tag)
		}
		return tag, nil
	}
	return t.Create(ctx, notebook.TagForm{Name: canonical})
}

func (t *Tags) Update(ctx context.Context, id string, patch notebook.TagPatch) (notebook.Tag, error) {
	if patch.Name != nil {
		if err := checkTagName(*patch.Name); err != nil {
			return notebook.Tag{}, err
		}
	}
	return t.Cache.Update(ctx, id, patch.Fields())
}

func (t *Tags) Delete(ctx context.Context, id string) error {
	return t.Cache.Remove(ctx, id)
}

// ByName finds a mirrored tag, ignoring case.
func (t *Tags) ByName(name string) (notebook.Tag, bool) {
	name = notebook.CanonicalTagName(name)
	for _, tag := range t.Snapshot().Items {
		if strings.ToLower(tag.Name) == name {
			return tag, true
		}
	}
	return notebook.Tag{}, false
}

func checkTagName(name string) error {
	if notebook.CanonicalTagName(name) == "" {
		return fmt.Errorf("%w: empty tag name", gateway.ErrInvalidInput)
	}
	return nil
}
