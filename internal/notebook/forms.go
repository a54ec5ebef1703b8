package notebook

import "strings"

// EntryForm is the payload for creating an entry.
type EntryForm struct {
	Mode          Mode
	Title         string
	Content       string
	URL           string
	Language      string
	Project       string
	Tags          []string
	LinkedEntries []string
	PromotedFrom  string
}

func (f EntryForm) Fields() map[string]any {
	fields := map[string]any{
		"mode":           string(f.Mode),
		"title":          f.Title,
		"content":        f.Content,
		"tags":           nonNil(f.Tags),
		"linked_entries": nonNil(f.LinkedEntries),
		"archived":       false,
	}
	if f.URL != "" {
		fields["url"] = f.URL
	}
	if f.Language != "" {
		fields["language"] = f.Language
	}
	if f.Project != "" {
		fields["project"] = f.Project
	}
	if f.PromotedFrom != "" {
		fields["promoted_from"] = f.PromotedFrom
	}
	return fields
}

// EntryPatch carries a partial update. Nil fields are left untouched.
// Mode is deliberately absent: changing mode is a promotion.
type EntryPatch struct {
	Title         *string
	Content       *string
	URL           *string
	Language      *string
	Project       *string
	Tags          []string
	LinkedEntries []string
	PromotedFrom  *string
	Archived      *bool
}

func (p EntryPatch) Fields() map[string]any {
	fields := map[string]any{}
	setString(fields, "title", p.Title)
	setString(fields, "content", p.Content)
	setString(fields, "url", p.URL)
	setString(fields, "language", p.Language)
	setString(fields, "project", p.Project)
	setString(fields, "promoted_from", p.PromotedFrom)
	if p.Tags != nil {
		fields["tags"] = p.Tags
	}
	if p.LinkedEntries != nil {
		fields["linked_entries"] = p.LinkedEntries
	}
	if p.Archived != nil {
		fields["archived"] = *p.Archived
	}
	return fields
}

type ProjectForm struct {
	Name        string
	Description string
	Status      ProjectStatus
	Color       string
}

func (f ProjectForm) Fields() map[string]any {
	status := f.Status
	if status == "" {
		status = StatusActive
	}
	fields := map[string]any{
		"name":   f.Name,
		"status": string(status),
	}
	if f.Description != "" {
		fields["description"] = f.Description
	}
	if f.Color != "" {
		fields["color"] = f.Color
	}
	return fields
}

type ProjectPatch struct {
	Name        *string
	Description *string
	Status      *ProjectStatus
	Color       *string
}

func (p ProjectPatch) Fields() map[string]any {
	fields := map[string]any{}
	setString(fields, "name", p.Name)
	setString(fields, "description", p.Description)
	setString(fields, "color", p.Color)
	if p.Status != nil {
		fields["status"] = string(*p.Status)
	}
	return fields
}

// TagForm creates a tag. Names are stored lower-cased.
type TagForm struct {
	Name     string
	Category TagCategory
	Color    string
}

func (f TagForm) Fields() map[string]any {
	fields := map[string]any{
		"name":           CanonicalTagName(f.Name),
		"auto_generated": false,
	}
	if f.Category != "" {
		fields["category"] = string(f.Category)
	}
	if f.Color != "" {
		fields["color"] = f.Color
	}
	return fields
}

type TagPatch struct {
	Name     *string
	Category *TagCategory
	Color    *string
}

func (p TagPatch) Fields() map[string]any {
	fields := map[string]any{}
	if p.Name != nil {
		fields["name"] = CanonicalTagName(*p.Name)
	}
	if p.Category != nil {
		fields["category"] = string(*p.Category)
	}
	setString(fields, "color", p.Color)
	return fields
}

func CanonicalTagName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func setString(fields map[string]any, key string, value *string) {
	if value != nil {
		fields[key] = *value
	}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
