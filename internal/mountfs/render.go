// Package mountfs presents the entries cache as a read-only tree of
// markdown files, one directory per mode: /<mode>/<slug>-<id>.md. Every
// lookup and read renders from the current snapshot.
package mountfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agentworkforce/labnotes/internal/cache"
	"github.com/agentworkforce/labnotes/internal/format"
	"github.com/agentworkforce/labnotes/internal/notebook"
)

var ErrUnsupported = errors.New("mount is not supported on this platform")

const (
	maxSlugLength = 60
	// DefaultTTL is how long the kernel may cache names and attributes.
	DefaultTTL = time.Second
)

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	TTL        time.Duration
	AllowOther bool
	Debug      bool
	Logger     Logger
}

func (o Options) ttl() time.Duration {
	if o.TTL <= 0 {
		return DefaultTTL
	}
	return o.TTL
}

// Serve mounts src at dir until ctx ends or the mount is removed from
// outside.
func Serve(ctx context.Context, dir string, src Source, opts Options) error {
	m, err := Start(dir, src, opts)
	if err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		if err := m.Unmount(); err != nil {
			return err
		}
		<-done
		return nil
	case <-done:
		return nil
	}
}

// Source feeds the tree.
type Source interface {
	Entries() []notebook.Entry
	TagName(id string) (string, bool)
	ProjectName(id string) (string, bool)
}

type cacheSource struct {
	entries  *cache.Entries
	tags     *cache.Tags
	projects *cache.Projects
}

// FromCaches reads the session caches. tags and projects may be nil.
func FromCaches(entries *cache.Entries, tags *cache.Tags, projects *cache.Projects) Source {
	return cacheSource{entries: entries, tags: tags, projects: projects}
}

func (s cacheSource) Entries() []notebook.Entry {
	return s.entries.Snapshot().Items
}

func (s cacheSource) TagName(id string) (string, bool) {
	if s.tags == nil {
		return "", false
	}
	t, ok := s.tags.Get(id)
	return t.Name, ok
}

func (s cacheSource) ProjectName(id string) (string, bool) {
	if s.projects == nil {
		return "", false
	}
	p, ok := s.projects.Get(id)
	return p.Name, ok
}

// FileName is the entry's name inside its mode directory.
func FileName(e notebook.Entry) string {
	slug := format.Slugify(e.Title)
	if r := []rune(slug); len(r) > maxSlugLength {
		slug = strings.TrimRight(string(r[:maxSlugLength]), "-")
	}
	if slug == "" {
		return e.ID + ".md"
	}
	return slug + "-" + e.ID + ".md"
}

// Listing maps each file name of a mode directory to its entry, in
// snapshot order.
type Listing struct {
	Names   []string
	Entries map[string]notebook.Entry
}

func List(src Source, mode notebook.Mode) Listing {
	l := Listing{Entries: map[string]notebook.Entry{}}
	for _, e := range src.Entries() {
		if e.Mode != mode {
			continue
		}
		name := FileName(e)
		if _, dup := l.Entries[name]; dup {
			continue
		}
		l.Names = append(l.Names, name)
		l.Entries[name] = e
	}
	return l
}

// Find resolves a file name in a mode directory against the current
// snapshot.
func Find(src Source, mode notebook.Mode, name string) (notebook.Entry, bool) {
	if !strings.HasSuffix(name, ".md") {
		return notebook.Entry{}, false
	}
	for _, e := range src.Entries() {
		if e.Mode == mode && FileName(e) == name {
			return e, true
		}
	}
	return notebook.Entry{}, false
}

// Render writes an entry as markdown with a YAML-style front matter block.
func Render(src Source, e notebook.Entry) []byte {
	var b bytes.Buffer
	b.WriteString("---\n")
	field := func(key, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", key, value)
		}
	}
	field("id", e.ID)
	field("mode", string(e.Mode))
	field("title", strconv.Quote(e.Title))
	if e.Project != "" {
		name, ok := src.ProjectName(e.Project)
		if !ok && e.Expand != nil && e.Expand.Project != nil {
			name, ok = e.Expand.Project.Name, true
		}
		if ok {
			field("project", strconv.Quote(name))
		} else {
			field("project", e.Project)
		}
	}
	if tags := tagNames(src, e); len(tags) > 0 {
		field("tags", "["+strings.Join(tags, ", ")+"]")
	}
	field("url", e.URL)
	field("language", e.Language)
	field("promoted_from", e.PromotedFrom)
	if e.Archived {
		field("archived", "true")
	}
	field("created", stamp(e.Created))
	field("updated", stamp(e.Updated))
	b.WriteString("---\n\n")

	fmt.Fprintf(&b, "# %s\n\n", e.Title)
	meta := []string{e.Mode.Config().Label}
	if !e.Created.IsZero() {
		meta = append(meta, format.Date(e.Created))
	}
	if minutes := format.ReadingTime(e.Content); minutes > 0 {
		meta = append(meta, fmt.Sprintf("%d min read", minutes))
	}
	if e.URL != "" {
		meta = append(meta, format.ExtractDomain(e.URL))
	}
	fmt.Fprintf(&b, "_%s_\n", strings.Join(meta, " · "))
	if content := strings.TrimSpace(e.Content); content != "" {
		b.WriteString("\n")
		b.WriteString(content)
		b.WriteString("\n")
	}
	return b.Bytes()
}

func tagNames(src Source, e notebook.Entry) []string {
	expanded := map[string]string{}
	if e.Expand != nil {
		for _, t := range e.Expand.Tags {
			expanded[t.ID] = t.Name
		}
	}
	out := make([]string, 0, len(e.Tags))
	for _, id := range e.Tags {
		if name, ok := src.TagName(id); ok {
			out = append(out, name)
		} else if name, ok := expanded[id]; ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
