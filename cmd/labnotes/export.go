package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/agentworkforce/labnotes/internal/cache"
	"github.com/agentworkforce/labnotes/internal/notebook"
)

const exportVersion = 1

// exportFile is the snapshot written by "labnotes export".
type exportFile struct {
	Version  int                `json:"version"`
	Exported time.Time          `json:"exported"`
	Entries  []notebook.Entry   `json:"entries"`
	Projects []notebook.Project `json:"projects"`
	Tags     []notebook.Tag     `json:"tags"`
}

func exportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write every entry, project and tag to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, closeFn, err := a.loadSession(ctx, sessionOptions{
				entries:          cache.EntryQuery{IncludeArchived: true},
				archivedProjects: true,
			})
			if err != nil {
				return err
			}
			defer closeFn()

			snapshot := exportFile{
				Version:  exportVersion,
				Exported: time.Now().UTC(),
				Entries:  s.Entries.Snapshot().Items,
				Projects: s.Projects.Snapshot().Items,
				Tags:     s.Tags.Snapshot().Items,
			}
			data, err := json.MarshalIndent(snapshot, "", "  ")
			if err != nil {
				return fmt.Errorf("encode export: %w", err)
			}
			if err := atomic.WriteFile(args[0], bytes.NewReader(append(data, '\n'))); err != nil {
				return fmt.Errorf("write %s: %w", args[0], err)
			}
			a.logger.Info("exported", "path", args[0], "entries", len(snapshot.Entries),
				"projects", len(snapshot.Projects), "tags", len(snapshot.Tags))
			return nil
		},
	}
}
