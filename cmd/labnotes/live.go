package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/labnotes/internal/cache"
	"github.com/agentworkforce/labnotes/internal/inbox"
	"github.com/agentworkforce/labnotes/internal/mountfs"
	"github.com/agentworkforce/labnotes/internal/notebook"
	"github.com/agentworkforce/labnotes/internal/session"
)

// startSession opens a session with realtime pumps running until ctx ends.
func (a *app) startSession(ctx context.Context, opts sessionOptions) (*session.Session, func(), error) {
	s, closeFn, err := a.openSession(opts)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Start(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}
	return s, closeFn, nil
}

func watchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stay connected and print changes as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, closeFn, err := a.startSession(ctx, sessionOptions{archivedProjects: true})
			if err != nil {
				return err
			}
			defer closeFn()

			out := &syncWriter{w: cmd.OutOrStdout()}
			counts := s.EntryViews.Counts.Value()
			fmt.Fprintf(out, "watching %s: %d research, %d project, %d reference\n", redactDSN(a.cfg.Gateway),
				counts.Of(notebook.ModeResearch), counts.Of(notebook.ModeProject), counts.Of(notebook.ModeReference))
			stop := s.OnEvent(func(ev session.Event) {
				fmt.Fprintf(out, "%s  %-8s %-6s %s%s\n", time.Now().Format("15:04:05"), ev.Collection, ev.Action, ev.ID, describe(s, ev))
			})
			defer stop()
			<-ctx.Done()
			return nil
		},
	}
}

func describe(s *session.Session, ev session.Event) string {
	switch ev.Collection {
	case notebook.CollectionEntries:
		if e, ok := s.Entries.Cached(ev.ID); ok {
			return "  " + e.Title
		}
	case notebook.CollectionProjects:
		if p, ok := s.Projects.Get(ev.ID); ok {
			return "  " + p.Name
		}
	case notebook.CollectionTags:
		if t, ok := s.Tags.Get(ev.ID); ok {
			return "  " + t.Name
		}
	}
	return ""
}

func inboxCmd(a *app) *cobra.Command {
	var (
		mode   string
		once   bool
		settle time.Duration
	)
	cmd := &cobra.Command{
		Use:   "inbox [dir]",
		Short: "Capture text files dropped into a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.InboxDir
			if len(args) == 1 {
				dir = args[0]
			}
			if dir == "" {
				return fmt.Errorf("no inbox directory: pass one or set inbox_dir")
			}
			m, err := parseMode(mode, false)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, closeFn, err := a.openSession(sessionOptions{})
			if err != nil {
				return err
			}
			defer closeFn()
			in, err := inbox.New(s, inbox.Options{Dir: dir, Mode: m, Settle: settle, Logger: a.logger})
			if err != nil {
				return err
			}
			if once {
				n, err := in.Scan(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "%d captured\n", n)
				return err
			}
			a.logger.Info("watching inbox", "dir", dir, "mode", m)
			return in.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", string(notebook.ModeResearch), "mode for captured entries")
	cmd.Flags().BoolVar(&once, "once", false, "capture what is there and exit")
	cmd.Flags().DurationVar(&settle, "settle", inbox.DefaultSettle, "quiet time before a file is captured")
	return cmd
}

func mountCmd(a *app) *cobra.Command {
	var opts mountfs.Options
	cmd := &cobra.Command{
		Use:   "mount <dir>",
		Short: "Mount entries read-only as markdown files, one directory per mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, closeFn, err := a.startSession(ctx, sessionOptions{
				entries:          cache.EntryQuery{IncludeArchived: true},
				archivedProjects: true,
			})
			if err != nil {
				return err
			}
			defer closeFn()
			opts.Logger = a.logger
			return mountfs.Serve(ctx, args[0], mountfs.FromCaches(s.Entries, s.Tags, s.Projects), opts)
		},
	}
	cmd.Flags().DurationVar(&opts.TTL, "ttl", mountfs.DefaultTTL, "kernel cache time for names and attributes")
	cmd.Flags().BoolVar(&opts.AllowOther, "allow-other", false, "let other users read the mount")
	cmd.Flags().BoolVar(&opts.Debug, "debug", false, "log FUSE requests")
	return cmd
}

// syncWriter serializes writes from realtime callbacks.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}
