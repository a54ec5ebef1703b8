package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/labnotes/internal/cache"
	"github.com/agentworkforce/labnotes/internal/notebook"
	"github.com/agentworkforce/labnotes/internal/session"
	"github.com/agentworkforce/labnotes/internal/views"
)

func tagsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tags",
		Short: "List and merge tags",
	}
	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List tags by category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, closeFn, err := a.loadSession(cmd.Context(), sessionOptions{})
			if err != nil {
				return err
			}
			defer closeFn()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), s.Tags.Snapshot().Items)
			}
			printTags(cmd.OutOrStdout(), s.TagViews.ByCategory.Value())
			return nil
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "output as JSON")

	merge := &cobra.Command{
		Use:   "merge <source> <target>",
		Short: "Retag every entry from source to target, then delete source",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, closeFn, err := a.loadSession(ctx, sessionOptions{entries: cache.EntryQuery{IncludeArchived: true}})
			if err != nil {
				return err
			}
			defer closeFn()
			src, err := resolveTag(s, args[0])
			if err != nil {
				return err
			}
			dst, err := resolveTag(s, args[1])
			if err != nil {
				return err
			}
			result, err := s.MergeTags(ctx, src, dst)
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d entries retagged\n", result.Updated, result.Total)
			for _, id := range result.Failed {
				fmt.Fprintf(cmd.OutOrStdout(), "  not updated: %s\n", id)
			}
			return err
		},
	}
	cmd.AddCommand(list, merge)
	return cmd
}

// resolveTag accepts a tag id or name.
func resolveTag(s *session.Session, ref string) (string, error) {
	if t, ok := s.Tags.Get(ref); ok {
		return t.ID, nil
	}
	if t, ok := s.Tags.ByName(ref); ok {
		return t.ID, nil
	}
	return "", fmt.Errorf("unknown tag %q", ref)
}

func printTags(w io.Writer, byCategory map[notebook.TagCategory][]notebook.Tag) {
	categories := append(notebook.Categories(), views.Uncategorized)
	for _, c := range categories {
		tags := byCategory[c]
		if len(tags) == 0 {
			continue
		}
		names := make([]string, 0, len(tags))
		for _, t := range tags {
			names = append(names, t.Name)
		}
		fmt.Fprintf(w, "%-15s %s\n", c, strings.Join(names, ", "))
	}
}

func projectsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List projects and change their status",
	}
	var (
		archived bool
		asJSON   bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List projects by status with entry counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, closeFn, err := a.loadSession(ctx, sessionOptions{archivedProjects: archived})
			if err != nil {
				return err
			}
			defer closeFn()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), s.Projects.Snapshot().Items)
			}
			return printProjects(cmd, s, archived)
		},
	}
	list.Flags().BoolVar(&archived, "archived", false, "include archived projects")
	list.Flags().BoolVar(&asJSON, "json", false, "output as JSON")

	status := &cobra.Command{
		Use:   "status <project> <status>",
		Short: "Set a project's status (active, paused, completed, archived)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			next := notebook.ProjectStatus(strings.ToLower(args[1]))
			if !next.Valid() {
				return fmt.Errorf("unknown status %q", args[1])
			}
			ctx := cmd.Context()
			s, closeFn, err := a.loadSession(ctx, sessionOptions{archivedProjects: true})
			if err != nil {
				return err
			}
			defer closeFn()
			id, err := resolveProject(s, args[0])
			if err != nil {
				return err
			}
			_, err = s.SetProjectStatus(ctx, id, next)
			return err
		},
	}
	cmd.AddCommand(list, status)
	return cmd
}

func printProjects(cmd *cobra.Command, s *session.Session, archived bool) error {
	w := cmd.OutOrStdout()
	byStatus := s.ProjectViews.ByStatus.Value()
	for _, st := range notebook.Statuses() {
		if st == notebook.StatusArchived && !archived {
			continue
		}
		projects := byStatus[st]
		if len(projects) == 0 {
			continue
		}
		fmt.Fprintln(w, strings.ToUpper(st.Config().Label))
		for _, p := range projects {
			counts, err := s.Projects.EntryCounts(cmd.Context(), p.ID)
			if err != nil {
				return fmt.Errorf("count entries of %s: %w", p.Name, err)
			}
			fmt.Fprintf(w, "  %-30s %3d research  %3d project  %3d reference  (%s)\n", p.Name,
				counts.Of(notebook.ModeResearch), counts.Of(notebook.ModeProject), counts.Of(notebook.ModeReference), p.ID)
		}
	}
	c := s.ProjectViews.Counts.Value()
	fmt.Fprintf(w, "\n%d active, %d paused, %d completed, %d archived\n", c.Active, c.Paused, c.Completed, c.Archived)
	return nil
}
