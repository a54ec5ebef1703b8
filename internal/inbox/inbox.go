// Package inbox turns text files dropped into a directory into notebook
// entries. Captured files move to a processed/ subdirectory; files that
// fail to capture stay where they are for the next attempt.
package inbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentworkforce/labnotes/internal/notebook"
)

const (
	ProcessedDir  = "processed"
	DefaultSettle = 250 * time.Millisecond
)

type Logger interface {
	Printf(format string, args ...any)
}

// Creator stores a captured entry. *session.Session satisfies it.
type Creator interface {
	CreateEntry(ctx context.Context, form notebook.EntryForm) (notebook.Entry, error)
}

type Options struct {
	Dir  string
	Mode notebook.Mode
	// Settle is how long a file must stay quiet before it is captured.
	Settle time.Duration
	Logger Logger
}

type Inbox struct {
	dir       string
	processed string
	mode      notebook.Mode
	settle    time.Duration
	creator   Creator
	logger    Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

func New(creator Creator, opts Options) (*Inbox, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, errors.New("inbox directory is required")
	}
	mode := opts.Mode
	if mode == "" {
		mode = notebook.ModeResearch
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("invalid inbox mode %q", mode)
	}
	settle := opts.Settle
	if settle <= 0 {
		settle = DefaultSettle
	}
	in := &Inbox{
		dir:       opts.Dir,
		processed: filepath.Join(opts.Dir, ProcessedDir),
		mode:      mode,
		settle:    settle,
		creator:   creator,
		logger:    opts.Logger,
		pending:   map[string]*time.Timer{},
	}
	if err := os.MkdirAll(in.processed, 0o755); err != nil {
		return nil, fmt.Errorf("create inbox: %w", err)
	}
	return in, nil
}

// Accepts reports whether a file name is a capture candidate.
func Accepts(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".md", ".txt":
		return true
	}
	return false
}

// Scan captures every candidate already in the directory and returns how
// many were stored.
func (in *Inbox) Scan(ctx context.Context) (int, error) {
	dirEntries, err := os.ReadDir(in.dir)
	if err != nil {
		return 0, fmt.Errorf("scan inbox: %w", err)
	}
	captured := 0
	for _, de := range dirEntries {
		if de.IsDir() || !Accepts(de.Name()) {
			continue
		}
		if ctx.Err() != nil {
			return captured, ctx.Err()
		}
		if _, err := in.Capture(ctx, filepath.Join(in.dir, de.Name())); err != nil {
			in.logf("inbox: capture %s failed: %v", de.Name(), err)
			continue
		}
		captured++
	}
	return captured, nil
}

// Capture stores one file as an entry and moves it to processed/.
func (in *Inbox) Capture(ctx context.Context, path string) (notebook.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return notebook.Entry{}, fmt.Errorf("read %s: %w", path, err)
	}
	form := ParseNote(filepath.Base(path), data)
	form.Mode = in.mode
	entry, err := in.creator.CreateEntry(ctx, form)
	if err != nil {
		return notebook.Entry{}, fmt.Errorf("store %s: %w", filepath.Base(path), err)
	}
	target := filepath.Join(in.processed, entry.ID+"-"+filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		return entry, fmt.Errorf("move %s to processed: %w", filepath.Base(path), err)
	}
	in.logf("inbox: captured %s as %s", filepath.Base(path), entry.ID)
	return entry, nil
}

// Run captures what is already waiting, then watches the directory until
// ctx ends.
func (in *Inbox) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(in.dir); err != nil {
		return fmt.Errorf("watch %s: %w", in.dir, err)
	}
	if _, err := in.Scan(ctx); err != nil && ctx.Err() == nil {
		in.logf("inbox: initial scan failed: %v", err)
	}

	ready := make(chan string, 16)
	defer in.stopPending()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !Accepts(event.Name) {
				continue
			}
			if filepath.Dir(event.Name) != filepath.Clean(in.dir) {
				continue
			}
			in.schedule(ctx, event.Name, ready)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			in.logf("inbox: watcher error: %v", err)
		case path := <-ready:
			if _, err := os.Stat(path); err != nil {
				continue
			}
			if _, err := in.Capture(ctx, path); err != nil {
				in.logf("inbox: capture %s failed: %v", filepath.Base(path), err)
			}
		}
	}
}

// schedule (re)starts the settle timer for path.
func (in *Inbox) schedule(ctx context.Context, path string, ready chan<- string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.pending[path]; ok {
		t.Stop()
	}
	in.pending[path] = time.AfterFunc(in.settle, func() {
		in.mu.Lock()
		delete(in.pending, path)
		in.mu.Unlock()
		select {
		case ready <- path:
		case <-ctx.Done():
		}
	})
}

func (in *Inbox) stopPending() {
	in.mu.Lock()
	defer in.mu.Unlock()
	for path, t := range in.pending {
		t.Stop()
		delete(in.pending, path)
	}
}

// ParseNote splits a dropped file into title and content. The title is
// the first markdown heading when the file starts with one, else the file
// name without extension.
func ParseNote(name string, data []byte) notebook.EntryForm {
	text := strings.TrimSpace(string(bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))))
	title := strings.TrimSuffix(name, filepath.Ext(name))
	if first, rest, _ := strings.Cut(text, "\n"); strings.HasPrefix(first, "#") {
		if heading := strings.TrimSpace(strings.TrimLeft(first, "#")); heading != "" {
			title = heading
			text = strings.TrimSpace(rest)
		}
	}
	form := notebook.EntryForm{Title: title, Content: text}
	if url := firstURL(text); url != "" && len(strings.Fields(text)) == 1 {
		form.URL = url
	}
	return form
}

func firstURL(text string) string {
	for _, field := range strings.Fields(text) {
		if strings.HasPrefix(field, "http://") || strings.HasPrefix(field, "https://") {
			return field
		}
	}
	return ""
}

func (in *Inbox) logf(format string, args ...any) {
	if in.logger == nil {
		return
	}
	in.logger.Printf(format, args...)
}
