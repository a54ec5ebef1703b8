package views

import (
	"github.com/agentworkforce/labnotes/internal/cache"
	"github.com/agentworkforce/labnotes/internal/notebook"
)

const DefaultRecent = 10

// EntriesByMode partitions entries by mode, keeping source order. Every
// mode has a key, possibly with an empty list.
func EntriesByMode(entries []notebook.Entry) map[notebook.Mode][]notebook.Entry {
	out := make(map[notebook.Mode][]notebook.Entry, 3)
	for _, m := range notebook.Modes() {
		out[m] = []notebook.Entry{}
	}
	for _, e := range entries {
		if _, ok := out[e.Mode]; ok {
			out[e.Mode] = append(out[e.Mode], e)
		}
	}
	return out
}

// EntriesOfMode keeps the entries in one mode.
func EntriesOfMode(mode notebook.Mode) func([]notebook.Entry) []notebook.Entry {
	return func(entries []notebook.Entry) []notebook.Entry {
		out := []notebook.Entry{}
		for _, e := range entries {
			if e.Mode == mode {
				out = append(out, e)
			}
		}
		return out
	}
}

func EntryCounts(entries []notebook.Entry) notebook.ModeCounts {
	var counts notebook.ModeCounts
	for _, e := range entries {
		counts.Add(e.Mode)
	}
	return counts
}

// Recent returns the first n entries of the snapshot. n <= 0 means
// DefaultRecent.
func Recent(n int) func([]notebook.Entry) []notebook.Entry {
	if n <= 0 {
		n = DefaultRecent
	}
	return func(entries []notebook.Entry) []notebook.Entry {
		end := min(n, len(entries))
		return append([]notebook.Entry{}, entries[:end]...)
	}
}

// EntryViews are the standing projections of the entries cache.
type EntryViews struct {
	ByMode *View[map[notebook.Mode][]notebook.Entry]
	Counts *View[notebook.ModeCounts]
	Recent *View[[]notebook.Entry]
}

func NewEntryViews(src Source[notebook.Entry]) *EntryViews {
	return &EntryViews{
		ByMode: New(src, EntriesByMode),
		Counts: New(src, EntryCounts),
		Recent: New(src, Recent(DefaultRecent)),
	}
}

func (v *EntryViews) Close() {
	v.ByMode.Close()
	v.Counts.Close()
	v.Recent.Close()
}

var _ Source[notebook.Entry] = (*cache.Cache[notebook.Entry])(nil)
