// Package workflow runs the notebook operations that span several gateway
// calls. Each step goes through the caches so local state follows every
// confirmed change; a later step failing after an earlier one succeeded is
// reported as a PartialFailure rather than rolled back.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentworkforce/labnotes/internal/cache"
	"github.com/agentworkforce/labnotes/internal/gateway"
	"github.com/agentworkforce/labnotes/internal/notebook"
)

type Logger interface {
	Printf(format string, args ...any)
}

type Orchestrator struct {
	entries *cache.Entries
	tags    *cache.Tags
	logger  Logger
}

func New(entries *cache.Entries, tags *cache.Tags, logger Logger) *Orchestrator {
	return &Orchestrator{entries: entries, tags: tags, logger: logger}
}

// Promote copies an entry into another mode and links the copy back to its
// source. The source is never modified. When linking fails the unlinked
// copy is returned together with a PartialFailure.
func (o *Orchestrator) Promote(ctx context.Context, entryID string, target notebook.Mode) (notebook.Entry, error) {
	if strings.TrimSpace(entryID) == "" {
		return notebook.Entry{}, fmt.Errorf("%w: empty entry id", gateway.ErrInvalidInput)
	}
	if !target.Valid() {
		return notebook.Entry{}, fmt.Errorf("%w: entry mode %q", gateway.ErrInvalidInput, target)
	}
	source, err := o.entries.Get(ctx, entryID)
	if err != nil {
		return notebook.Entry{}, fmt.Errorf("promote %s: read source: %w", entryID, err)
	}
	if source.Mode == target {
		return notebook.Entry{}, fmt.Errorf("%w: entry %s is already %s", gateway.ErrInvalidInput, entryID, target)
	}

	created, err := o.entries.Create(ctx, notebook.EntryForm{
		Mode:     target,
		Title:    source.Title,
		Content:  source.Content,
		URL:      source.URL,
		Language: source.Language,
		Project:  source.Project,
		Tags:     append([]string{}, source.Tags...),
	})
	if err != nil {
		return notebook.Entry{}, fmt.Errorf("promote %s: create %s entry: %w", entryID, target, err)
	}

	linked, err := o.entries.Update(ctx, created.ID, notebook.EntryPatch{PromotedFrom: &source.ID})
	if err != nil {
		o.logf("promote %s: created %s but linking failed: %v", entryID, created.ID, err)
		return created, &PartialFailure{
			Operation:  "promote",
			Summary:    fmt.Sprintf("created %s entry %s but could not link it to %s", target, created.ID, source.ID),
			Completed:  []string{"create " + created.ID},
			FailedStep: "link promoted_from",
			Pending:    []string{created.ID},
			Err:        err,
		}
	}
	return linked, nil
}

type MergeResult struct {
	Total   int `json:"total"`
	Updated int `json:"updated"`
	// Failed lists entries still carrying the source tag.
	Failed        []string `json:"failed"`
	SourceDeleted bool     `json:"source_deleted"`
}

func (r MergeResult) summary() string {
	s := fmt.Sprintf("tag merged on %d of %d entries", r.Updated, r.Total)
	if n := len(r.Failed); n > 0 {
		s += fmt.Sprintf("; %d failed", n)
	}
	if !r.SourceDeleted {
		s += "; source tag not deleted"
	}
	return s
}

// MergeTags moves every reference to sourceID onto targetID, then deletes
// the source tag. Entry patches are best effort, and the source tag is
// deleted even when some of them failed.
func (o *Orchestrator) MergeTags(ctx context.Context, sourceID, targetID string) (MergeResult, error) {
	var result MergeResult
	if strings.TrimSpace(sourceID) == "" || strings.TrimSpace(targetID) == "" {
		return result, fmt.Errorf("%w: empty tag id", gateway.ErrInvalidInput)
	}
	if sourceID == targetID {
		return result, fmt.Errorf("%w: cannot merge tag %s into itself", gateway.ErrInvalidInput, sourceID)
	}

	tagged, err := o.entries.Find(ctx, gateway.Where(gateway.Contains("tags", sourceID)))
	if err != nil {
		return result, fmt.Errorf("merge tags %s into %s: list entries: %w", sourceID, targetID, err)
	}
	result.Total = len(tagged)

	var errs []error
	for _, e := range tagged {
		tags := retarget(e.Tags, sourceID, targetID)
		if _, err := o.entries.Update(ctx, e.ID, notebook.EntryPatch{Tags: tags}); err != nil {
			o.logf("merge tags: update entry %s failed: %v", e.ID, err)
			result.Failed = append(result.Failed, e.ID)
			errs = append(errs, fmt.Errorf("entry %s: %w", e.ID, err))
			continue
		}
		result.Updated++
	}

	deleteErr := o.tags.Delete(ctx, sourceID)
	result.SourceDeleted = deleteErr == nil
	if deleteErr != nil {
		o.logf("merge tags: delete source tag %s failed: %v", sourceID, deleteErr)
		errs = append(errs, fmt.Errorf("delete tag %s: %w", sourceID, deleteErr))
	}

	if len(errs) == 0 {
		return result, nil
	}
	if result.Updated == 0 && !result.SourceDeleted && len(result.Failed) == 0 {
		return result, fmt.Errorf("merge tags %s into %s: delete source: %w", sourceID, targetID, deleteErr)
	}
	pf := &PartialFailure{
		Operation: "merge tags",
		Summary:   result.summary(),
		Pending:   result.Failed,
		Err:       errors.Join(errs...),
	}
	if result.Updated > 0 {
		pf.Completed = append(pf.Completed, fmt.Sprintf("retag %d entries", result.Updated))
	}
	if result.SourceDeleted {
		pf.Completed = append(pf.Completed, "delete "+sourceID)
	}
	if len(result.Failed) > 0 {
		pf.FailedStep = "retag entries"
	} else {
		pf.FailedStep = "delete " + sourceID
	}
	return result, pf
}

// retarget replaces source with target, keeping order and dropping the
// duplicate when the entry already carries target.
func retarget(tags []string, source, target string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, id := range tags {
		if id == source {
			id = target
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.logger == nil {
		return
	}
	o.logger.Printf(format, args...)
}
