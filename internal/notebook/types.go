package notebook

import "time"

// Collection names in the record store.
const (
	CollectionEntries  = "entries"
	CollectionProjects = "projects"
	CollectionTags     = "tags"
)

type Mode string

const (
	ModeResearch  Mode = "research"
	ModeProject   Mode = "project"
	ModeReference Mode = "reference"
)

func Modes() []Mode {
	return []Mode{ModeResearch, ModeProject, ModeReference}
}

func (m Mode) Valid() bool {
	switch m {
	case ModeResearch, ModeProject, ModeReference:
		return true
	}
	return false
}

type ProjectStatus string

const (
	StatusActive    ProjectStatus = "active"
	StatusPaused    ProjectStatus = "paused"
	StatusCompleted ProjectStatus = "completed"
	StatusArchived  ProjectStatus = "archived"
)

func Statuses() []ProjectStatus {
	return []ProjectStatus{StatusActive, StatusPaused, StatusCompleted, StatusArchived}
}

func (s ProjectStatus) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted, StatusArchived:
		return true
	}
	return false
}

type TagCategory string

const (
	CategoryTechnology     TagCategory = "technology"
	CategoryConcept        TagCategory = "concept"
	CategoryInfrastructure TagCategory = "infrastructure"
	CategoryOther          TagCategory = "other"
)

func Categories() []TagCategory {
	return []TagCategory{CategoryTechnology, CategoryConcept, CategoryInfrastructure, CategoryOther}
}

func (c TagCategory) Valid() bool {
	switch c {
	case CategoryTechnology, CategoryConcept, CategoryInfrastructure, CategoryOther:
		return true
	}
	return false
}

// Entry is a captured note. Mode never changes in place; a different mode
// means a new entry created by promotion.
type Entry struct {
	ID            string       `json:"id"`
	Mode          Mode         `json:"mode"`
	Title         string       `json:"title"`
	Content       string       `json:"content"`
	URL           string       `json:"url,omitempty"`
	Language      string       `json:"language,omitempty"`
	Project       string       `json:"project,omitempty"`
	Tags          []string     `json:"tags"`
	LinkedEntries []string     `json:"linked_entries"`
	PromotedFrom  string       `json:"promoted_from,omitempty"`
	Archived      bool         `json:"archived"`
	Created       time.Time    `json:"created"`
	Updated       time.Time    `json:"updated"`
	Expand        *EntryExpand `json:"expand,omitempty"`
}

// EntryExpand holds reference fields resolved by the record store. It is
// only present when the read asked for expansion.
type EntryExpand struct {
	Project       *Project `json:"project,omitempty"`
	Tags          []Tag    `json:"tags,omitempty"`
	LinkedEntries []Entry  `json:"linked_entries,omitempty"`
	PromotedFrom  *Entry   `json:"promoted_from,omitempty"`
}

func (e Entry) HasTag(tagID string) bool {
	for _, id := range e.Tags {
		if id == tagID {
			return true
		}
	}
	return false
}

type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Status      ProjectStatus `json:"status"`
	Color       string        `json:"color,omitempty"`
	Created     time.Time     `json:"created"`
	Updated     time.Time     `json:"updated"`
}

type Tag struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Category      TagCategory `json:"category,omitempty"`
	Color         string      `json:"color,omitempty"`
	AutoGenerated bool        `json:"auto_generated"`
	Created       time.Time   `json:"created"`
	Updated       time.Time   `json:"updated"`
}

func EntryID(e Entry) string     { return e.ID }
func ProjectID(p Project) string { return p.ID }
func TagID(t Tag) string         { return t.ID }

// Relations lists the reference fields of each collection and the
// collection they point at.
func Relations() map[string]map[string]string {
	return map[string]map[string]string{
		CollectionEntries: {
			"project":        CollectionProjects,
			"tags":           CollectionTags,
			"linked_entries": CollectionEntries,
			"promoted_from":  CollectionEntries,
		},
	}
}

// ModeCounts tallies entries per mode.
type ModeCounts struct {
	Research  int `json:"research"`
	Project   int `json:"project"`
	Reference int `json:"reference"`
	Total     int `json:"total"`
}

func (c *ModeCounts) Add(m Mode) {
	switch m {
	case ModeResearch:
		c.Research++
	case ModeProject:
		c.Project++
	case ModeReference:
		c.Reference++
	}
	c.Total++
}

func (c ModeCounts) Of(m Mode) int {
	switch m {
	case ModeResearch:
		return c.Research
	case ModeProject:
		return c.Project
	case ModeReference:
		return c.Reference
	}
	return 0
}
