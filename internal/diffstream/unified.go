package diffstream

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const diffContextLines = 3

type lineKind int

const (
	lineContext lineKind = iota
	lineAdded
	lineRemoved
)

type lineOp struct {
	kind    lineKind
	oldLine int
	newLine int
	text    string
}

type hunk struct {
	oldStart int
	oldCount int
	newStart int
	newCount int
	lines    []lineOp
}

// UnifiedDiff renders a unified diff between two versions of one file. nil
// stands for a missing side: old == nil is a file creation, new == nil a
// deletion.
func UnifiedDiff(path string, oldContent, newContent *string) string {
	oldText := ""
	if oldContent != nil {
		oldText = *oldContent
	}
	newText := ""
	if newContent != nil {
		newText = *newContent
	}
	if oldText == newText && oldContent != nil && newContent != nil {
		return ""
	}

	fromFile := "/dev/null"
	if oldContent != nil {
		fromFile = "a/" + path
	}
	toFile := "/dev/null"
	if newContent != nil {
		toFile = "b/" + path
	}

	// Creating an empty file produces no hunks; emit the header alone so the
	// creation is still visible.
	if oldText == "" && newText == "" {
		return fmt.Sprintf("--- %s\n+++ %s\n", fromFile, toFile)
	}

	hunks := computeHunks(oldText, newText)
	if len(hunks) == 0 {
		return ""
	}

	var out strings.Builder
	fmt.Fprintf(&out, "--- %s\n+++ %s\n", fromFile, toFile)

	oldLines := countTextLines(oldText)
	newLines := countTextLines(newText)
	oldEndsNL := oldText == "" || strings.HasSuffix(oldText, "\n")
	newEndsNL := newText == "" || strings.HasSuffix(newText, "\n")

	for _, h := range hunks {
		fmt.Fprintf(&out, "@@ -%s +%s @@\n", hunkRange(h.oldStart, h.oldCount), hunkRange(h.newStart, h.newCount))
		for _, l := range h.lines {
			switch l.kind {
			case lineAdded:
				out.WriteString("+" + l.text + "\n")
				if !newEndsNL && l.newLine == newLines-1 {
					out.WriteString("\\ No newline at end of file\n")
				}
			case lineRemoved:
				out.WriteString("-" + l.text + "\n")
				if !oldEndsNL && l.oldLine == oldLines-1 {
					out.WriteString("\\ No newline at end of file\n")
				}
			default:
				out.WriteString(" " + l.text + "\n")
				if !oldEndsNL && l.oldLine == oldLines-1 {
					out.WriteString("\\ No newline at end of file\n")
				}
			}
		}
	}
	return out.String()
}

func hunkRange(start, count int) string {
	if count == 1 {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d,%d", start, count)
}

func countTextLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

// computeHunks runs a line-level diff and groups the changes into hunks with
// surrounding context.
func computeHunks(oldText, newText string) []hunk {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0

	a, b, lineArray := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	ops := diffsToLineOps(diffs)
	return groupHunks(ops, diffContextLines)
}

func diffsToLineOps(diffs []diffmatchpatch.Diff) []lineOp {
	var ops []lineOp
	oldLine, newLine := 0, 0

	for _, d := range diffs {
		lines := strings.Split(d.Text, "\n")
		// Split leaves a trailing empty element when the chunk ends in \n.
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		for _, line := range lines {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				ops = append(ops, lineOp{kind: lineContext, oldLine: oldLine, newLine: newLine, text: line})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				ops = append(ops, lineOp{kind: lineRemoved, oldLine: oldLine, newLine: -1, text: line})
				oldLine++
			case diffmatchpatch.DiffInsert:
				ops = append(ops, lineOp{kind: lineAdded, oldLine: -1, newLine: newLine, text: line})
				newLine++
			}
		}
	}
	return ops
}

func groupHunks(ops []lineOp, context int) []hunk {
	var changed []int
	for i, op := range ops {
		if op.kind != lineContext {
			changed = append(changed, i)
		}
	}
	if len(changed) == 0 {
		return nil
	}

	var hunks []hunk
	start := changed[0] - context
	if start < 0 {
		start = 0
	}
	end := changed[0] + context

	for _, idx := range changed[1:] {
		if idx-context > end+1 {
			hunks = append(hunks, buildHunk(ops, start, end))
			start = idx - context
			if start < 0 {
				start = 0
			}
		}
		end = idx + context
	}
	if end >= len(ops) {
		end = len(ops) - 1
	}
	hunks = append(hunks, buildHunk(ops, start, end))
	return hunks
}

func buildHunk(ops []lineOp, start, end int) hunk {
	if end >= len(ops) {
		end = len(ops) - 1
	}
	h := hunk{lines: append([]lineOp{}, ops[start:end+1]...)}

	h.oldStart = 0
	h.newStart = 0
	for _, l := range h.lines {
		if l.kind == lineRemoved || l.kind == lineContext {
			h.oldCount++
		}
		if l.kind == lineAdded || l.kind == lineContext {
			h.newCount++
		}
	}
	// 1-based starts; a side with no lines in the hunk uses the position
	// before the change.
	for _, l := range h.lines {
		if l.oldLine >= 0 {
			h.oldStart = l.oldLine + 1
			break
		}
	}
	for _, l := range h.lines {
		if l.newLine >= 0 {
			h.newStart = l.newLine + 1
			break
		}
	}
	if h.oldCount == 0 {
		h.oldStart = 0
		for _, l := range h.lines {
			if l.newLine >= 0 {
				h.oldStart = l.newLine
				break
			}
		}
	}
	if h.newCount == 0 {
		h.newStart = 0
		for _, l := range h.lines {
			if l.oldLine >= 0 {
				h.newStart = l.oldLine
				break
			}
		}
	}
	return h
}
