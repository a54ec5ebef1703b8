package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/labnotes/internal/cache"
	"github.com/agentworkforce/labnotes/internal/format"
	"github.com/agentworkforce/labnotes/internal/mountfs"
	"github.com/agentworkforce/labnotes/internal/notebook"
	"github.com/agentworkforce/labnotes/internal/session"
)

func listCmd(a *app) *cobra.Command {
	var (
		mode     string
		project  string
		archived bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entries, newest first, grouped by day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := parseMode(mode, true)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, closeFn, err := a.loadSession(ctx, sessionOptions{
				entries:          cache.EntryQuery{Mode: m, IncludeArchived: archived},
				archivedProjects: true,
			})
			if err != nil {
				return err
			}
			defer closeFn()

			entries := s.Entries.Snapshot().Items
			if project != "" {
				id, err := resolveProject(s, project)
				if err != nil {
					return err
				}
				entries = filterEntries(entries, func(e notebook.Entry) bool { return e.Project == id })
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			printTimeline(cmd.OutOrStdout(), s, entries, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "only this mode (research, project, reference)")
	cmd.Flags().StringVarP(&project, "project", "p", "", "only this project (name or id)")
	cmd.Flags().BoolVar(&archived, "archived", false, "include archived entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func showCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one entry as markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, closeFn, err := a.loadSession(ctx, sessionOptions{archivedProjects: true})
			if err != nil {
				return err
			}
			defer closeFn()
			entry, err := s.Entries.Get(ctx, args[0])
			if err != nil {
				return fmt.Errorf("get entry %s: %w", args[0], err)
			}
			_, err = cmd.OutOrStdout().Write(mountfs.Render(mountfs.FromCaches(s.Entries, s.Tags, s.Projects), entry))
			return err
		},
	}
}

func addCmd(a *app) *cobra.Command {
	var (
		form    notebook.EntryForm
		mode    string
		project string
		tags    []string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Capture a new entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := parseMode(mode, false)
			if err != nil {
				return err
			}
			form.Mode = m
			if form.Content == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read content: %w", err)
				}
				form.Content = strings.TrimSpace(string(data))
			}
			ctx := cmd.Context()
			s, closeFn, err := a.loadSession(ctx, sessionOptions{})
			if err != nil {
				return err
			}
			defer closeFn()
			if project != "" {
				if form.Project, err = resolveProject(s, project); err != nil {
					return err
				}
			}
			for _, name := range tags {
				tag, err := s.Tags.FindOrCreate(ctx, name)
				if err != nil {
					return fmt.Errorf("tag %q: %w", name, err)
				}
				form.Tags = append(form.Tags, tag.ID)
			}
			entry, err := s.CreateEntry(ctx, form)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), entry.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&mode, "mode", "m", string(notebook.ModeResearch), "entry mode")
	f.StringVarP(&form.Title, "title", "t", "", "title")
	f.StringVarP(&form.Content, "content", "c", "", "content, or - to read stdin")
	f.StringVar(&form.URL, "url", "", "source link")
	f.StringVar(&form.Language, "language", "", "code language")
	f.StringVarP(&project, "project", "p", "", "project name or id")
	f.StringSliceVar(&tags, "tag", nil, "tag names, created when missing")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

// archiveCmd builds "archive" or, with archive false, "restore".
func archiveCmd(a *app, archive bool) *cobra.Command {
	use, short := "archive <id>...", "Hide entries from the default listing"
	if !archive {
		use, short = "restore <id>...", "Bring archived entries back"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, closeFn, err := a.openSession(sessionOptions{entries: cache.EntryQuery{IncludeArchived: true}})
			if err != nil {
				return err
			}
			defer closeFn()
			for _, id := range args {
				if archive {
					_, err = s.ArchiveEntry(ctx, id)
				} else {
					_, err = s.RestoreEntry(ctx, id)
				}
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func promoteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "promote <id> <mode>",
		Short: "Copy an entry into another mode, linked back to the original",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseMode(args[1], false)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, closeFn, err := a.openSession(sessionOptions{})
			if err != nil {
				return err
			}
			defer closeFn()
			created, err := s.Promote(ctx, args[0], target)
			if created.ID != "" {
				fmt.Fprintln(cmd.OutOrStdout(), created.ID)
			}
			return err
		},
	}
}

func parseMode(raw string, allowEmpty bool) (notebook.Mode, error) {
	m := notebook.Mode(strings.ToLower(strings.TrimSpace(raw)))
	if m == "" && allowEmpty {
		return "", nil
	}
	if !m.Valid() {
		return "", fmt.Errorf("unknown mode %q (want one of %s)", raw, joinModes())
	}
	return m, nil
}

func joinModes() string {
	names := make([]string, 0, len(notebook.Modes()))
	for _, m := range notebook.Modes() {
		names = append(names, string(m))
	}
	return strings.Join(names, ", ")
}

// resolveProject accepts a project id or a case-insensitive name.
func resolveProject(s *session.Session, ref string) (string, error) {
	if p, ok := s.Projects.Get(ref); ok {
		return p.ID, nil
	}
	for _, p := range s.Projects.Snapshot().Items {
		if strings.EqualFold(p.Name, ref) {
			return p.ID, nil
		}
	}
	return "", fmt.Errorf("unknown project %q", ref)
}

func filterEntries(entries []notebook.Entry, keep func(notebook.Entry) bool) []notebook.Entry {
	out := make([]notebook.Entry, 0, len(entries))
	for _, e := range entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func printTimeline(w io.Writer, s *session.Session, entries []notebook.Entry, now time.Time) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No entries")
		return
	}
	days := format.GroupByDay(entries, func(e notebook.Entry) time.Time { return e.Created }, now.Location())
	for i, day := range days {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, format.TimelineDate(day.Date, now))
		for _, e := range day.Items {
			fmt.Fprintf(w, "  %8s  %-9s  %s  (%s)\n", format.Time(e.Created.In(now.Location())), e.Mode, format.Truncate(e.Title, 60), e.ID)
			if meta := entryMeta(s, e); meta != "" {
				fmt.Fprintf(w, "            %s\n", meta)
			}
		}
	}
}

func entryMeta(s *session.Session, e notebook.Entry) string {
	var parts []string
	if e.Project != "" {
		if p, ok := s.Projects.Get(e.Project); ok {
			parts = append(parts, "project: "+p.Name)
		}
	}
	var names []string
	for _, id := range e.Tags {
		if t, ok := s.Tags.Get(id); ok {
			names = append(names, t.Name)
		}
	}
	if len(names) > 0 {
		parts = append(parts, "tags: "+strings.Join(names, ", "))
	}
	if e.URL != "" {
		parts = append(parts, format.ExtractDomain(e.URL))
	}
	if e.Archived {
		parts = append(parts, "archived")
	}
	return strings.Join(parts, " | ")
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
