package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/labnotes/internal/cache"
	"github.com/agentworkforce/labnotes/internal/format"
	"github.com/agentworkforce/labnotes/internal/notebook"
	"github.com/agentworkforce/labnotes/internal/search"
	"github.com/agentworkforce/labnotes/internal/session"
	"github.com/agentworkforce/labnotes/internal/views"
)

const snippetLength = 100

func searchCmd(a *app) *cobra.Command {
	var (
		mode     string
		project  string
		tags     []string
		archived bool
		since    string
		until    string
		limit    int
		grouped  bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search titles, tags, projects, links and content",
		Long: `Search ranks entries by where the words match: title, then tags,
then project, then link and content. Every word must match some field.

Examples:
  labnotes search "docker compose"
  labnotes search ebpf --mode research --tag linux
  labnotes search postgres --since 2025-11-01 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseMode(mode, true)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, closeFn, err := a.loadSession(ctx, sessionOptions{
				entries:          cache.EntryQuery{IncludeArchived: true},
				archivedProjects: true,
			})
			if err != nil {
				return err
			}
			defer closeFn()

			filters := search.Filters{Mode: m, Limit: limit}
			if project != "" {
				if filters.Project, err = resolveProject(s, project); err != nil {
					return err
				}
			}
			for _, name := range tags {
				tag, ok := s.Tags.ByName(name)
				if !ok {
					return fmt.Errorf("unknown tag %q", name)
				}
				filters.Tags = append(filters.Tags, tag.ID)
			}
			if cmd.Flags().Changed("archived") {
				filters.Archived = &archived
			} else {
				active := false
				filters.Archived = &active
			}
			if filters.From, err = parseDay(since, false); err != nil {
				return err
			}
			if filters.To, err = parseDay(until, true); err != nil {
				return err
			}

			query := strings.Join(args, " ")
			results := s.SearchEntries(query, filters)
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), struct {
					Query   string          `json:"query"`
					Count   int             `json:"count"`
					Results []search.Result `json:"results"`
				}{query, len(results), results})
			}
			printResults(cmd.OutOrStdout(), s, query, results, grouped)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&mode, "mode", "m", "", "only this mode")
	f.StringVarP(&project, "project", "p", "", "only this project (name or id)")
	f.StringSliceVar(&tags, "tag", nil, "only entries with any of these tags")
	f.BoolVar(&archived, "archived", false, "search archived entries instead of active ones")
	f.StringVar(&since, "since", "", "created on or after this day (YYYY-MM-DD)")
	f.StringVar(&until, "until", "", "created on or before this day (YYYY-MM-DD)")
	f.IntVarP(&limit, "limit", "n", 0, "maximum results (default from config)")
	f.BoolVar(&grouped, "by-mode", false, "group results by mode")
	f.BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

// parseDay reads YYYY-MM-DD in local time. With endOfDay the last instant
// of that day is returned.
func parseDay(raw string, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	day, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q: want YYYY-MM-DD", raw)
	}
	if endOfDay {
		day = day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return day, nil
}

func printResults(w io.Writer, s *session.Session, query string, results []search.Result, grouped bool) {
	if len(results) == 0 {
		fmt.Fprintf(w, "No results for %q\n", query)
		return
	}
	fmt.Fprintf(w, "Results for %q (%d)\n", query, len(results))
	if !grouped {
		for _, r := range results {
			printResult(w, s, r)
		}
		return
	}
	byMode := views.ResultsByMode(results)
	for _, m := range notebook.Modes() {
		if len(byMode[m]) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s\n", strings.ToUpper(m.Config().Label))
		for _, r := range byMode[m] {
			printResult(w, s, r)
		}
	}
}

func printResult(w io.Writer, s *session.Session, r search.Result) {
	e := r.Entry
	fmt.Fprintf(w, "\n%2d. [%s] %s  (%s, score %d)\n", r.Rank+1, e.Mode, e.Title, e.ID, r.Score)
	if meta := entryMeta(s, e); meta != "" {
		fmt.Fprintf(w, "    %s\n", meta)
	}
	if snippet := strings.Join(strings.Fields(e.Content), " "); snippet != "" {
		fmt.Fprintf(w, "    %s\n", format.Truncate(snippet, snippetLength))
	}
}
