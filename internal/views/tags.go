package views

import (
	"strings"

	"github.com/agentworkforce/labnotes/internal/notebook"
)

// Uncategorized groups tags with no category, or one that is not known.
const Uncategorized notebook.TagCategory = "uncategorized"

func TagsWithCategory(category notebook.TagCategory) func([]notebook.Tag) []notebook.Tag {
	return func(tags []notebook.Tag) []notebook.Tag {
		out := []notebook.Tag{}
		for _, t := range tags {
			if t.Category == category {
				out = append(out, t)
			}
		}
		return out
	}
}

// OtherTags keeps tags filed under other, or under nothing at all.
func OtherTags(tags []notebook.Tag) []notebook.Tag {
	out := []notebook.Tag{}
	for _, t := range tags {
		if t.Category == "" || t.Category == notebook.CategoryOther {
			out = append(out, t)
		}
	}
	return out
}

func TagsByCategory(tags []notebook.Tag) map[notebook.TagCategory][]notebook.Tag {
	out := make(map[notebook.TagCategory][]notebook.Tag, 5)
	for _, c := range notebook.Categories() {
		out[c] = []notebook.Tag{}
	}
	out[Uncategorized] = []notebook.Tag{}
	for _, t := range tags {
		key := t.Category
		if !key.Valid() {
			key = Uncategorized
		}
		out[key] = append(out[key], t)
	}
	return out
}

// TagNameMap indexes tags by id.
func TagNameMap(tags []notebook.Tag) map[string]notebook.Tag {
	out := make(map[string]notebook.Tag, len(tags))
	for _, t := range tags {
		out[t.ID] = t
	}
	return out
}

func TagByID(tags []notebook.Tag, id string) (notebook.Tag, bool) {
	for _, t := range tags {
		if t.ID == id {
			return t, true
		}
	}
	return notebook.Tag{}, false
}

func TagByName(tags []notebook.Tag, name string) (notebook.Tag, bool) {
	for _, t := range tags {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return notebook.Tag{}, false
}

type TagViews struct {
	ByCategory *View[map[notebook.TagCategory][]notebook.Tag]
	Other      *View[[]notebook.Tag]
	ByID       *View[map[string]notebook.Tag]
}

func NewTagViews(src Source[notebook.Tag]) *TagViews {
	return &TagViews{
		ByCategory: New(src, TagsByCategory),
		Other:      New(src, OtherTags),
		ByID:       New(src, TagNameMap),
	}
}

func (v *TagViews) Close() {
	v.ByCategory.Close()
	v.Other.Close()
	v.ByID.Close()
}
