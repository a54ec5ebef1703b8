// Package format renders timestamps and text for terminal and file output.
package format

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const WordsPerMinute = 200

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

// RelativeTime describes t relative to now, e.g. "3 hours ago".
func RelativeTime(t, now time.Time) string {
	diff := now.Sub(t)
	secs := int(diff / time.Second)
	mins := secs / 60
	hours := mins / 60
	days := hours / 24
	switch {
	case secs < 60:
		return "Just now"
	case mins < 60:
		return plural(mins, "minute")
	case hours < 24:
		return plural(hours, "hour")
	case days == 1:
		return "Yesterday"
	case days < 7:
		return fmt.Sprintf("%d days ago", days)
	case days < 30:
		return plural(days/7, "week")
	case days < 365:
		return plural(days/30, "month")
	default:
		return plural(days/365, "year")
	}
}

// Date renders t as "Nov 30, 2025" in t's location.
func Date(t time.Time) string {
	return t.Format("Jan 2, 2006")
}

func Time(t time.Time) string {
	return t.Format("3:04 PM")
}

// TimelineDate heads a day group: "TODAY - November 30, 2025" for today,
// "YESTERDAY - ..." for yesterday, the upper-cased date otherwise.
func TimelineDate(t, now time.Time) string {
	long := t.Format("January 2, 2006")
	switch {
	case SameDay(t, now):
		return "TODAY - " + long
	case SameDay(t, now.AddDate(0, 0, -1)):
		return "YESTERDAY - " + long
	}
	return strings.ToUpper(long)
}

func SameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Day is one timeline group.
type Day[T any] struct {
	Date  time.Time
	Items []T
}

// GroupByDay groups items by the calendar day of created, in loc. Groups
// and the items in them keep input order.
func GroupByDay[T any](items []T, created func(T) time.Time, loc *time.Location) []Day[T] {
	if loc == nil {
		loc = time.Local
	}
	var out []Day[T]
	index := map[string]int{}
	for _, item := range items {
		t := created(item).In(loc)
		key := t.Format("2006-01-02")
		i, ok := index[key]
		if !ok {
			y, m, d := t.Date()
			out = append(out, Day[T]{Date: time.Date(y, m, d, 0, 0, 0, 0, loc)})
			i = len(out) - 1
			index[key] = i
		}
		out[i].Items = append(out[i].Items, item)
	}
	return out
}

// Truncate shortens text to at most limit runes, ending in "...".
func Truncate(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	if limit <= 3 {
		return string(r[:max(limit, 0)])
	}
	return string(r[:limit-3]) + "..."
}

// ExtractDomain returns the host of a URL without a leading "www.". Input
// that does not parse as an absolute URL comes back unchanged.
func ExtractDomain(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

var (
	slugStrip  = regexp.MustCompile(`[^a-z0-9\s_-]+`)
	slugSpaces = regexp.MustCompile(`[\s_-]+`)
)

// Slugify makes a file-name friendly slug. Accents are folded to their
// base letters before anything else is dropped.
func Slugify(text string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), text)
	if err != nil {
		folded = text
	}
	s := slugStrip.ReplaceAllString(strings.ToLower(folded), "")
	s = slugSpaces.ReplaceAllString(strings.TrimSpace(s), "-")
	return strings.Trim(s, "-")
}

func WordCount(text string) int {
	return len(strings.Fields(text))
}

// ReadingTime estimates minutes to read text, rounded up.
func ReadingTime(text string) int {
	return int(math.Ceil(float64(WordCount(text)) / WordsPerMinute))
}
