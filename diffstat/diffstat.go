// Package diffstat computes the line-added/line-deleted counts and
// unified diff text recorded alongside each committed transaction. It is
// a line-set diff, not a longest-common-subsequence diff, per the
// spec's "acceptable for counts" allowance; github.com/sergi/go-diff
// supplies the underlying diff-match-patch algorithm used to render the
// human-readable unified text.
package diffstat

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Stat mirrors the spec's Diff stat data model.
type Stat struct {
	LinesAdded         int
	LinesDeleted       int
	AffectedBlockNames []string
	UnifiedDiff        string
}

// Compute derives a Stat from before/after whole-file text. A nil or
// empty before represents a file that did not exist previously.
func Compute(path string, before []byte, after []byte) Stat {
	beforeLines := splitLines(string(before))
	afterLines := splitLines(string(after))

	added, deleted := lineSetDelta(beforeLines, afterLines)

	return Stat{
		LinesAdded:         added,
		LinesDeleted:       deleted,
		AffectedBlockNames: affectedBlocks(path, beforeLines, afterLines),
		UnifiedDiff:        unifiedDiff(path, string(before), string(after)),
	}
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// lineSetDelta counts lines present in after but not in before (added)
// and vice versa (deleted), treating duplicate lines by multiset
// membership so a line repeated 3x in before and 1x in after counts 2
// deletions.
func lineSetDelta(before, after []string) (added, deleted int) {
	counts := map[string]int{}
	for _, l := range before {
		counts[l]++
	}
	for _, l := range after {
		counts[l]--
	}
	for _, c := range counts {
		if c > 0 {
			deleted += c
		} else if c < 0 {
			added += -c
		}
	}
	return added, deleted
}

// affectedBlocks reports the line-number ranges (rendered as names) that
// differ, used to give the journal a human-scannable summary without a
// full diff. This is a coarse approximation: contiguous runs of changed
// lines by position, not semantic code blocks.
func affectedBlocks(path string, before, after []string) []string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(strings.Join(before, "\n"), strings.Join(after, "\n"), false)

	var blocks []string
	line := 1
	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		switch d.Type {
		case diffmatchpatch.DiffDelete, diffmatchpatch.DiffInsert:
			if n == 0 {
				blocks = append(blocks, fmt.Sprintf("%s:%d", path, line))
			} else {
				blocks = append(blocks, fmt.Sprintf("%s:%d-%d", path, line, line+n))
			}
			if d.Type == diffmatchpatch.DiffDelete {
				line += n
			}
		case diffmatchpatch.DiffEqual:
			line += n
		}
	}
	return blocks
}

func unifiedDiff(path, before, after string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", path, path)
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		}
		for _, line := range strings.Split(d.Text, "\n") {
			if line == "" {
				continue
			}
			b.WriteString(prefix)
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}
