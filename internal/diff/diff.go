// Package diff classifies pages between two crawl runs and renders
// per-page unified diffs for the change report.
package diff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Result partitions normalized URL keys into three disjoint sets plus an
// unchanged count. It is computed once after a run drains and is
// immutable thereafter.
type Result struct {
	Added     []string
	Removed   []string
	Changed   []string
	Unchanged int
}

// HasChanges reports whether anything differs between the two runs.
func (r Result) HasChanges() bool {
	return len(r.Added) > 0 || len(r.Removed) > 0 || len(r.Changed) > 0
}

// Classify compares two key→fingerprint maps. Added keys exist only in
// current, Removed only in previous, Changed in both with differing
// fingerprints. Output slices are sorted for deterministic reporting.
func Classify(previous, current map[string]string) Result {
	var res Result
	for key, print := range current {
		prev, ok := previous[key]
		switch {
		case !ok:
			res.Added = append(res.Added, key)
		case prev != print:
			res.Changed = append(res.Changed, key)
		default:
			res.Unchanged++
		}
	}
	for key := range previous {
		if _, ok := current[key]; !ok {
			res.Removed = append(res.Removed, key)
		}
	}
	sort.Strings(res.Added)
	sort.Strings(res.Removed)
	sort.Strings(res.Changed)
	return res
}

// Unified renders a unified diff between two versions of a page body
// with three lines of context.
func Unified(previous, current string) (string, error) {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(previous),
		B:        difflib.SplitLines(current),
		FromFile: "previous",
		ToFile:   "current",
		Context:  3,
	})
	if err != nil {
		return "", fmt.Errorf("unified diff: %w", err)
	}
	return strings.TrimRight(text, "\n"), nil
}
