package views

import (
	"github.com/agentworkforce/labnotes/internal/notebook"
	"github.com/agentworkforce/labnotes/internal/search"
)

// ResultsByMode groups ranked results per mode. Each group keeps rank
// order.
func ResultsByMode(results []search.Result) map[notebook.Mode][]search.Result {
	out := make(map[notebook.Mode][]search.Result, 3)
	for _, m := range notebook.Modes() {
		out[m] = []search.Result{}
	}
	for _, r := range results {
		if _, ok := out[r.Entry.Mode]; ok {
			out[r.Entry.Mode] = append(out[r.Entry.Mode], r)
		}
	}
	return out
}
