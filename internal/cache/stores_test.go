package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/agentworkforce/labnotes/internal/gateway"
	"github.com/agentworkforce/labnotes/internal/notebook"
)

func TestEntryQueryListOptions(t *testing.T) {
	opts := EntryQuery{Mode: notebook.ModeReference, Project: "p1"}.ListOptions()
	if got := opts.Filter.PocketBase(); got != `archived = false && mode = "reference" && project = "p1"` {
		t.Fatalf("unexpected filter %s", got)
	}
	if opts.Sort != "-created" {
		t.Fatalf("expected -created sort, got %s", opts.Sort)
	}
	if diff := cmp.Diff([]string{"project", "tags"}, opts.Expand); diff != "" {
		t.Fatalf("unexpected expand:\n%s", diff)
	}
	if got := (EntryQuery{IncludeArchived: true}).ListOptions().Filter; len(got) != 0 {
		t.Fatalf("expected no filter when archived entries are included, got %v", got)
	}
}

func TestEntriesArchiveAndRestore(t *testing.T) {
	entries := NewEntries(newMemory(t), nil)
	ctx := context.Background()
	a, _ := entries.Create(ctx, entryForm("a"))
	b, _ := entries.Create(ctx, entryForm("b"))
	entries.Load(ctx, EntryQuery{})

	archived, err := entries.Archive(ctx, a.ID)
	if err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	if !archived.Archived {
		t.Fatalf("expected archived flag on returned entry")
	}
	if diff := cmp.Diff([]string{b.ID}, ids(entries.Snapshot().Items, notebook.EntryID)); diff != "" {
		t.Fatalf("archived entry must leave the default listing (-want +got):\n%s", diff)
	}

	restored, err := entries.Restore(ctx, a.ID)
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if restored.Archived {
		t.Fatalf("expected restored entry to be unarchived")
	}
	if diff := cmp.Diff([]string{a.ID, b.ID}, ids(entries.Snapshot().Items, notebook.EntryID)); diff != "" {
		t.Fatalf("restored entry must be prepended (-want +got):\n%s", diff)
	}
}

func TestEntriesArchiveInPlaceWhenArchivedIncluded(t *testing.T) {
	entries := NewEntries(newMemory(t), nil)
	ctx := context.Background()
	a, _ := entries.Create(ctx, entryForm("a"))
	b, _ := entries.Create(ctx, entryForm("b"))
	entries.Load(ctx, EntryQuery{IncludeArchived: true})

	if _, err := entries.Archive(ctx, a.ID); err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	snap := entries.Snapshot().Items
	if diff := cmp.Diff([]string{b.ID, a.ID}, ids(snap, notebook.EntryID)); diff != "" {
		t.Fatalf("expected archive to replace in place (-want +got):\n%s", diff)
	}
	if !snap[1].Archived {
		t.Fatalf("expected archived flag in snapshot")
	}
}

func TestEntriesLoadByModeAndProject(t *testing.T) {
	entries := NewEntries(newMemory(t), nil)
	ctx := context.Background()
	_, _ = entries.Create(ctx, entryForm("research one"))
	ref, _ := entries.Create(ctx, notebook.EntryForm{Mode: notebook.ModeReference, Title: "ref", Project: "p1"})

	entries.LoadByMode(ctx, notebook.ModeReference)
	if diff := cmp.Diff([]string{ref.ID}, ids(entries.Snapshot().Items, notebook.EntryID)); diff != "" {
		t.Fatalf("load by mode mismatch:\n%s", diff)
	}
	entries.LoadByProject(ctx, "p1")
	if diff := cmp.Diff([]string{ref.ID}, ids(entries.Snapshot().Items, notebook.EntryID)); diff != "" {
		t.Fatalf("load by project mismatch:\n%s", diff)
	}

	moved, err := entries.Update(ctx, ref.ID, notebook.EntryPatch{Project: ptr("p2")})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if moved.Project != "p2" || entries.Len() != 0 {
		t.Fatalf("entry moved out of the loaded project must leave the snapshot")
	}
}

func TestEntriesCreateRejectsInvalidModeLocally(t *testing.T) {
	entries := NewEntries(newMemory(t), nil)
	_, err := entries.Create(context.Background(), notebook.EntryForm{Mode: "diary", Title: "x"})
	if !errors.Is(err, gateway.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestEntriesGetResolvesFullExpand(t *testing.T) {
	mem := newMemory(t)
	entries := NewEntries(mem, nil)
	tags := NewTags(mem, nil)
	ctx := context.Background()

	tag, err := tags.Create(ctx, notebook.TagForm{Name: "Go"})
	if err != nil {
		t.Fatalf("create tag failed: %v", err)
	}
	src, _ := entries.Create(ctx, entryForm("source"))
	e, err := entries.Create(ctx, notebook.EntryForm{
		Mode: notebook.ModeProject, Title: "derived", Tags: []string{tag.ID},
		LinkedEntries: []string{src.ID}, PromotedFrom: src.ID,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	got, err := entries.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Expand == nil || got.Expand.PromotedFrom == nil || got.Expand.PromotedFrom.ID != src.ID {
		t.Fatalf("expected promoted_from expanded, got %+v", got.Expand)
	}
	if len(got.Expand.LinkedEntries) != 1 || len(got.Expand.Tags) != 1 || got.Expand.Tags[0].Name != "go" {
		t.Fatalf("expected linked entries and tags expanded, got %+v", got.Expand)
	}
}

func TestProjectsLoadFilterAndStatus(t *testing.T) {
	mem := newMemory(t)
	projects := NewProjects(mem, nil)
	ctx := context.Background()

	lab, err := projects.Create(ctx, notebook.ProjectForm{Name: "lab"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if lab.Status != notebook.StatusActive {
		t.Fatalf("expected default status active, got %s", lab.Status)
	}
	old, _ := projects.Create(ctx, notebook.ProjectForm{Name: "old", Status: notebook.StatusArchived})
	projects.Load(ctx, false)
	if diff := cmp.Diff([]string{lab.ID}, ids(projects.Snapshot().Items, notebook.ProjectID)); diff != "" {
		t.Fatalf("archived projects must be excluded by default:\n%s", diff)
	}

	if _, err := projects.UpdateStatus(ctx, lab.ID, notebook.StatusPaused); err != nil {
		t.Fatalf("update status failed: %v", err)
	}
	if p, _ := projects.Get(lab.ID); p.Status != notebook.StatusPaused {
		t.Fatalf("expected paused in snapshot, got %s", p.Status)
	}
	if _, err := projects.UpdateStatus(ctx, lab.ID, notebook.StatusArchived); err != nil {
		t.Fatalf("archive status failed: %v", err)
	}
	if projects.Len() != 0 {
		t.Fatalf("archived project must leave the default listing")
	}

	projects.Load(ctx, true)
	if diff := cmp.Diff([]string{lab.ID, old.ID}, ids(projects.Snapshot().Items, notebook.ProjectID)); diff != "" {
		t.Fatalf("expected -updated order with archived included (-want +got):\n%s", diff)
	}
	if _, err := projects.UpdateStatus(ctx, lab.ID, "frozen"); !errors.Is(err, gateway.ErrInvalidInput) {
		t.Fatalf("expected invalid status to be rejected, got %v", err)
	}
}

func TestProjectsEntryCounts(t *testing.T) {
	mem := newMemory(t)
	projects := NewProjects(mem, nil)
	entries := NewEntries(mem, nil)
	ctx := context.Background()

	p, _ := projects.Create(ctx, notebook.ProjectForm{Name: "lab"})
	_, _ = entries.Create(ctx, notebook.EntryForm{Mode: notebook.ModeResearch, Title: "r1", Project: p.ID})
	_, _ = entries.Create(ctx, notebook.EntryForm{Mode: notebook.ModeResearch, Title: "r2", Project: p.ID})
	pr, _ := entries.Create(ctx, notebook.EntryForm{Mode: notebook.ModeProject, Title: "p1", Project: p.ID})
	_, _ = entries.Create(ctx, notebook.EntryForm{Mode: notebook.ModeReference, Title: "elsewhere"})
	if _, err := entries.Archive(ctx, pr.ID); err != nil {
		t.Fatalf("archive failed: %v", err)
	}

	counts, err := projects.EntryCounts(ctx, p.ID)
	if err != nil {
		t.Fatalf("entry counts failed: %v", err)
	}
	want := notebook.ModeCounts{Research: 2, Total: 2}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Fatalf("entry counts mismatch (-want +got):\n%s", diff)
	}
}

func TestProjectDeleteLeavesEntryReference(t *testing.T) {
	mem := newMemory(t)
	projects := NewProjects(mem, nil)
	entries := NewEntries(mem, nil)
	ctx := context.Background()

	p, _ := projects.Create(ctx, notebook.ProjectForm{Name: "gone soon"})
	e, _ := entries.Create(ctx, notebook.EntryForm{Mode: notebook.ModeProject, Title: "log", Project: p.ID})
	if err := projects.Delete(ctx, p.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	got, err := entries.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Project != p.ID {
		t.Fatalf("expected dangling project reference to stay, got %q", got.Project)
	}
	if got.Expand != nil && got.Expand.Project != nil {
		t.Fatalf("expected dangling reference not to expand")
	}
}

func TestTagsSortedByNameAndLowerCased(t *testing.T) {
	tags := NewTags(newMemory(t), nil)
	ctx := context.Background()
	tags.Load(ctx)

	for _, name := range []string{"Rust", "go", "Kubernetes"} {
		if _, err := tags.Create(ctx, notebook.TagForm{Name: name, Category: notebook.CategoryTechnology}); err != nil {
			t.Fatalf("create %s failed: %v", name, err)
		}
	}
	names := func() []string {
		var out []string
		for _, tag := range tags.Snapshot().Items {
			out = append(out, tag.Name)
		}
		return out
	}
	if diff := cmp.Diff([]string{"go", "kubernetes", "rust"}, names()); diff != "" {
		t.Fatalf("tags must stay name-sorted (-want +got):\n%s", diff)
	}

	rust, _ := tags.ByName("RUST")
	if _, err := tags.Update(ctx, rust.ID, notebook.TagPatch{Name: ptr("Assembly")}); err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	if diff := cmp.Diff([]string{"assembly", "go", "kubernetes"}, names()); diff != "" {
		t.Fatalf("rename must re-sort and lower-case (-want +got):\n%s", diff)
	}
	if got, _ := tags.Get(rust.ID); got.AutoGenerated {
		t.Fatalf("manual tags are never auto-generated")
	}
}

func TestTagsFindOrCreate(t *testing.T) {
	mem := newMemory(t)
	tags := NewTags(mem, nil)
	other := NewTags(mem, nil)
	ctx := context.Background()

	created, err := tags.FindOrCreate(ctx, "  Docker ")
	if err != nil {
		t.Fatalf("find or create failed: %v", err)
	}
	if created.Name != "docker" {
		t.Fatalf("expected canonical name, got %q", created.Name)
	}
	again, err := tags.FindOrCreate(ctx, "DOCKER")
	if err != nil {
		t.Fatalf("second find or create failed: %v", err)
	}
	if again.ID != created.ID || tags.Len() != 1 {
		t.Fatalf("expected existing tag to be reused without duplication")
	}

	found, err := other.FindOrCreate(ctx, "docker")
	if err != nil {
		t.Fatalf("find from a fresh cache failed: %v", err)
	}
	if found.ID != created.ID || other.Len() != 1 {
		t.Fatalf("expected remote lookup to find the existing tag and cache it once")
	}
	if _, err := tags.FindOrCreate(ctx, "   "); !errors.Is(err, gateway.ErrInvalidInput) {
		t.Fatalf("expected blank tag name to be rejected, got %v", err)
	}
}
