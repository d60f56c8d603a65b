// Package diff implements line-level differencing between the original
// and modified content of a patch. The classifier scans added and
// removed lines for risk signals.
package diff

import "strings"

// Result holds the line-level difference between two texts.
type Result struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// HasChanges reports whether any line was added or removed.
func (r *Result) HasChanges() bool {
	return len(r.Added) > 0 || len(r.Removed) > 0
}

// AddedText returns all added lines joined, for pattern scanning.
func (r *Result) AddedText() string {
	return strings.Join(r.Added, "\n")
}

// RemovedText returns all removed lines joined, for pattern scanning.
func (r *Result) RemovedText() string {
	return strings.Join(r.Removed, "\n")
}

// ChangedText returns added and removed lines joined, for signals that
// fire on a line appearing on either side of the diff.
func (r *Result) ChangedText() string {
	return r.AddedText() + "\n" + r.RemovedText()
}

// Lines computes a multiset line difference: lines present in modified
// but not in original are added, and vice versa. Line order within each
// side is preserved. The result is deterministic for identical inputs,
// which the classifier depends on.
func Lines(original, modified string) *Result {
	origLines := splitLines(original)
	modLines := splitLines(modified)

	origCounts := countLines(origLines)
	modCounts := countLines(modLines)

	result := &Result{}

	remaining := make(map[string]int, len(origCounts))
	for line, n := range origCounts {
		remaining[line] = n
	}
	for _, line := range modLines {
		if remaining[line] > 0 {
			remaining[line]--
			continue
		}
		result.Added = append(result.Added, line)
	}

	remaining = make(map[string]int, len(modCounts))
	for line, n := range modCounts {
		remaining[line] = n
	}
	for _, line := range origLines {
		if remaining[line] > 0 {
			remaining[line]--
			continue
		}
		result.Removed = append(result.Removed, line)
	}

	return result
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}

func countLines(lines []string) map[string]int {
	counts := make(map[string]int, len(lines))
	for _, line := range lines {
		counts[line]++
	}
	return counts
}
