// Package search keeps a prefix index over entry text and answers ranked
// queries against it.
package search

import (
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/agentworkforce/labnotes/internal/notebook"
)

const DefaultLimit = 50

// Field weights. A query word scores the weight of the heaviest field it
// matches, doubled when it matches a whole word.
const (
	WeightTitle   = 4
	WeightTags    = 3
	WeightProject = 2
	WeightURL     = 1
	WeightContent = 1
)

type Filters struct {
	Mode    notebook.Mode
	Project string
	// Tags matches entries carrying any of the ids.
	Tags     []string
	Archived *bool
	// From and To bound the creation time, inclusive. Zero means open.
	From  time.Time
	To    time.Time
	Limit int
}

func (f Filters) admit(e notebook.Entry) bool {
	if f.Mode != "" && e.Mode != f.Mode {
		return false
	}
	if f.Project != "" && e.Project != f.Project {
		return false
	}
	if f.Archived != nil && e.Archived != *f.Archived {
		return false
	}
	if !f.From.IsZero() && e.Created.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Created.After(f.To) {
		return false
	}
	if len(f.Tags) > 0 {
		for _, id := range f.Tags {
			if e.HasTag(id) {
				return true
			}
		}
		return false
	}
	return true
}

// Match pairs a query word with the indexed word it matched.
type Match struct {
	Query string `json:"query"`
	Word  string `json:"word"`
}

type Result struct {
	Entry   notebook.Entry `json:"entry"`
	Score   int            `json:"score"`
	Rank    int            `json:"rank"`
	Matches []Match        `json:"matches"`
}

// Names resolves reference ids for entries whose read did not expand them.
type Names struct {
	Tags     map[string]string
	Projects map[string]string
}

type indexedWord struct {
	word   string
	weight int
}

type document struct {
	entry notebook.Entry
	pos   int
	words []indexedWord
}

// Index is rebuilt wholesale from a snapshot; it has no incremental
// updates.
type Index struct {
	mu       sync.RWMutex
	docs     []document
	prefixes map[string][]int
}

func NewIndex() *Index {
	return &Index{prefixes: map[string][]int{}}
}

func (ix *Index) Rebuild(entries []notebook.Entry, names Names) {
	docs := make([]document, 0, len(entries))
	prefixes := map[string][]int{}
	for pos, e := range entries {
		doc := document{entry: e, pos: pos, words: indexEntry(e, names)}
		for _, w := range doc.words {
			for _, p := range wordPrefixes(w.word) {
				if list := prefixes[p]; len(list) == 0 || list[len(list)-1] != pos {
					prefixes[p] = append(list, pos)
				}
			}
		}
		docs = append(docs, doc)
	}
	ix.mu.Lock()
	ix.docs = docs
	ix.prefixes = prefixes
	ix.mu.Unlock()
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

// Search returns entries matching every query word as a prefix of some
// indexed word. A blank query matches nothing.
func (ix *Index) Search(query string, filters Filters) []Result {
	terms := uniqueWords(query)
	if len(terms) == 0 {
		return []Result{}
	}
	limit := filters.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	candidates := ix.candidatesLocked(terms)
	results := make([]Result, 0, len(candidates))
	for _, pos := range candidates {
		doc := ix.docs[pos]
		if !filters.admit(doc.entry) {
			continue
		}
		score, matches := doc.score(terms)
		results = append(results, Result{Entry: doc.entry, Score: score, Matches: matches})
	}
	// Candidates arrive in snapshot order, so equal scores keep it.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	for i := range results {
		results[i].Rank = i
	}
	return results
}

// candidatesLocked intersects the posting lists of every term. Lists are
// ascending by snapshot position, so the result is too.
func (ix *Index) candidatesLocked(terms []string) []int {
	var out []int
	for i, term := range terms {
		list, ok := ix.prefixes[term]
		if !ok {
			return nil
		}
		if i == 0 {
			out = append([]int(nil), list...)
			continue
		}
		out = intersect(out, list)
		if len(out) == 0 {
			return nil
		}
	}
	return out
}

func intersect(a, b []int) []int {
	out := a[:0]
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

func (d document) score(terms []string) (int, []Match) {
	total := 0
	matches := make([]Match, 0, len(terms))
	for _, term := range terms {
		best, word := 0, ""
		for _, w := range d.words {
			if !strings.HasPrefix(w.word, term) {
				continue
			}
			s := w.weight
			if w.word == term {
				s *= 2
			}
			if s > best {
				best, word = s, w.word
			}
		}
		total += best
		matches = append(matches, Match{Query: term, Word: word})
	}
	return total, matches
}

func indexEntry(e notebook.Entry, names Names) []indexedWord {
	weights := map[string]int{}
	add := func(text string, weight int) {
		for _, w := range words(text) {
			if weight > weights[w] {
				weights[w] = weight
			}
		}
	}
	add(e.Title, WeightTitle)
	for _, name := range tagNames(e, names) {
		add(name, WeightTags)
	}
	add(projectName(e, names), WeightProject)
	add(e.URL, WeightURL)
	add(e.Content, WeightContent)

	out := make([]indexedWord, 0, len(weights))
	for w, weight := range weights {
		out = append(out, indexedWord{word: w, weight: weight})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].word < out[j].word })
	return out
}

func tagNames(e notebook.Entry, names Names) []string {
	if e.Expand != nil && len(e.Expand.Tags) > 0 {
		out := make([]string, 0, len(e.Expand.Tags))
		for _, t := range e.Expand.Tags {
			out = append(out, t.Name)
		}
		return out
	}
	out := make([]string, 0, len(e.Tags))
	for _, id := range e.Tags {
		if name, ok := names.Tags[id]; ok {
			out = append(out, name)
		}
	}
	return out
}

func projectName(e notebook.Entry, names Names) string {
	if e.Expand != nil && e.Expand.Project != nil {
		return e.Expand.Project.Name
	}
	if e.Project == "" {
		return ""
	}
	return names.Projects[e.Project]
}

// words lower-cases text and splits it on anything that is not a letter or
// digit.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func uniqueWords(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, w := range words(text) {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

func wordPrefixes(word string) []string {
	runes := []rune(word)
	out := make([]string, 0, len(runes))
	for i := 1; i <= len(runes); i++ {
		out = append(out, string(runes[:i]))
	}
	return out
}
