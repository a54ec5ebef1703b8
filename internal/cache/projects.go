package cache

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/agentworkforce/labnotes/internal/gateway"
	"github.com/agentworkforce/labnotes/internal/notebook"
)

type Projects struct {
	*Cache[notebook.Project]

	entries         *gateway.Collection[notebook.Entry]
	includeArchived atomic.Bool
}

func NewProjects(gw gateway.Gateway, logger Logger) *Projects {
	coll := gateway.NewCollection[notebook.Project](gw, notebook.CollectionProjects).WithLogger(logger)
	p := &Projects{
		entries: gateway.NewCollection[notebook.Entry](gw, notebook.CollectionEntries),
	}
	p.Cache = New(coll, Options[notebook.Project]{
		ID: notebook.ProjectID,
		Evict: func(project notebook.Project) bool {
			return project.Status == notebook.StatusArchived && !p.includeArchived.Load()
		},
		Logger: logger,
	})
	return p
}

func projectListOptions(includeArchived bool) gateway.ListOptions {
	opts := gateway.ListOptions{Sort: "-updated"}
	if !includeArchived {
		opts.Filter = gateway.Where(gateway.Neq("status", string(notebook.StatusArchived)))
	}
	return opts
}

func (p *Projects) Load(ctx context.Context, includeArchived bool) {
	if err := p.Refresh(ctx, includeArchived); err != nil {
		p.logf("load projects failed: %v", err)
	}
}

func (p *Projects) Refresh(ctx context.Context, includeArchived bool) error {
	if err := p.Cache.Refresh(ctx, projectListOptions(includeArchived)); err != nil {
		return err
	}
	p.includeArchived.Store(includeArchived)
	return nil
}

func (p *Projects) Create(ctx context.Context, form notebook.ProjectForm) (notebook.Project, error) {
	if form.Status != "" && !form.Status.Valid() {
		return notebook.Project{}, fmt.Errorf("%w: project status %q", gateway.ErrInvalidInput, form.Status)
	}
	return p.Cache.Create(ctx, form.Fields())
}

func (p *Projects) Update(ctx context.Context, id string, patch notebook.ProjectPatch) (notebook.Project, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return notebook.Project{}, fmt.Errorf("%w: project status %q", gateway.ErrInvalidInput, *patch.Status)
	}
	return p.Cache.Update(ctx, id, patch.Fields())
}

func (p *Projects) UpdateStatus(ctx context.Context, id string, status notebook.ProjectStatus) (notebook.Project, error) {
	return p.Update(ctx, id, notebook.ProjectPatch{Status: &status})
}

// Delete removes a project. Entries referencing it keep the dangling id.
func (p *Projects) Delete(ctx context.Context, id string) error {
	return p.Cache.Remove(ctx, id)
}

// EntryCounts counts a project's non-archived entries per mode.
func (p *Projects) EntryCounts(ctx context.Context, projectID string) (notebook.ModeCounts, error) {
	var counts notebook.ModeCounts
	entries, err := p.entries.List(ctx, gateway.ListOptions{
		Filter: gateway.Where(gateway.Eq("project", projectID), gateway.Eq("archived", false)),
		Expand: []string{},
	})
	if err != nil {
		return counts, fmt.Errorf("count entries of project %s: %w", projectID, err)
	}
	for _, e := range entries {
		counts.Add(e.Mode)
	}
	return counts, nil
}
