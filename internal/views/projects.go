package views

import "github.com/agentworkforce/labnotes/internal/notebook"

type ProjectCounts struct {
	Active    int `json:"active"`
	Paused    int `json:"paused"`
	Completed int `json:"completed"`
	Archived  int `json:"archived"`
	Total     int `json:"total"`
}

func (c ProjectCounts) Of(s notebook.ProjectStatus) int {
	switch s {
	case notebook.StatusActive:
		return c.Active
	case notebook.StatusPaused:
		return c.Paused
	case notebook.StatusCompleted:
		return c.Completed
	case notebook.StatusArchived:
		return c.Archived
	}
	return 0
}

func ProjectsByStatus(projects []notebook.Project) map[notebook.ProjectStatus][]notebook.Project {
	out := make(map[notebook.ProjectStatus][]notebook.Project, 4)
	for _, s := range notebook.Statuses() {
		out[s] = []notebook.Project{}
	}
	for _, p := range projects {
		if _, ok := out[p.Status]; ok {
			out[p.Status] = append(out[p.Status], p)
		}
	}
	return out
}

// VisibleProjects drops archived projects.
func VisibleProjects(projects []notebook.Project) []notebook.Project {
	out := []notebook.Project{}
	for _, p := range projects {
		if p.Status != notebook.StatusArchived {
			out = append(out, p)
		}
	}
	return out
}

func CountProjects(projects []notebook.Project) ProjectCounts {
	var c ProjectCounts
	for _, p := range projects {
		switch p.Status {
		case notebook.StatusActive:
			c.Active++
		case notebook.StatusPaused:
			c.Paused++
		case notebook.StatusCompleted:
			c.Completed++
		case notebook.StatusArchived:
			c.Archived++
		}
		c.Total++
	}
	return c
}

type ProjectViews struct {
	ByStatus *View[map[notebook.ProjectStatus][]notebook.Project]
	Visible  *View[[]notebook.Project]
	Counts   *View[ProjectCounts]
}

func NewProjectViews(src Source[notebook.Project]) *ProjectViews {
	return &ProjectViews{
		ByStatus: New(src, ProjectsByStatus),
		Visible:  New(src, VisibleProjects),
		Counts:   New(src, CountProjects),
	}
}

func (v *ProjectViews) Close() {
	v.ByStatus.Close()
	v.Visible.Close()
	v.Counts.Close()
}
