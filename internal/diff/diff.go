// Package diff renders line differences between two versions of a file.
package diff

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Line represents a single line in a diff with its type and content
type Line struct {
	Type    LineType `json:"type"`
	Content string   `json:"content"`
	OldNum  int      `json:"old_num,omitempty"`
	NewNum  int      `json:"new_num,omitempty"`
}

// LineType indicates whether a line was added, removed, or is context
type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

func (t LineType) prefix() string {
	switch t {
	case Addition:
		return "+"
	case Deletion:
		return "-"
	default:
		return " "
	}
}

type Stats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
	Changes   int `json:"changes"`
}

// DiffResult contains the complete diff information
type DiffResult struct {
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
	// Binary is set when either side contains NUL bytes; no hunks are built.
	Binary bool   `json:"binary"`
	Hunks  []Hunk `json:"hunks"`
	Stats  Stats  `json:"stats"`
}

// Hunk represents a continuous section of changes
type Hunk struct {
	OldStart int    `json:"old_start"`
	OldLines int    `json:"old_lines"`
	NewStart int    `json:"new_start"`
	NewLines int    `json:"new_lines"`
	Lines    []Line `json:"lines"`
}

// Engine provides diffing capabilities
type Engine struct {
	contextLines int
}

// NewEngine creates a new diff engine with specified context lines
func NewEngine(contextLines int) *Engine {
	if contextLines < 0 {
		contextLines = 0
	}
	return &Engine{
		contextLines: contextLines,
	}
}

func isBinary(content []byte) bool {
	return bytes.IndexByte(content, 0) >= 0
}

func splitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	s := strings.TrimSuffix(string(content), "\n")
	return strings.Split(s, "\n")
}

// Diff generates a line-by-line diff between two contents
func (e *Engine) Diff(oldName string, oldContent []byte, newName string, newContent []byte) (*DiffResult, error) {
	result := &DiffResult{OldName: oldName, NewName: newName}
	if isBinary(oldContent) || isBinary(newContent) {
		result.Binary = true
		if !bytes.Equal(oldContent, newContent) {
			result.Stats.Changes = 1
		}
		return result, nil
	}

	oldLines := splitLines(oldContent)
	newLines := splitLines(newContent)

	groups, err := groupedOpCodes(oldLines, newLines, e.contextLines)
	if err != nil {
		return nil, err
	}

	for _, group := range groups {
		result.Hunks = append(result.Hunks, buildHunk(group, oldLines, newLines, &result.Stats))
	}
	result.Stats.Changes = result.Stats.Additions + result.Stats.Deletions
	return result, nil
}

func groupedOpCodes(a, b []string, context int) (groups [][]difflib.OpCode, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("diff failed: %v", r)
		}
	}()

	matcher := difflib.NewMatcher(a, b)
	return matcher.GetGroupedOpCodes(context), nil
}

func buildHunk(group []difflib.OpCode, a, b []string, stats *Stats) Hunk {
	first, last := group[0], group[len(group)-1]
	h := Hunk{
		OldStart: first.I1 + 1,
		OldLines: last.I2 - first.I1,
		NewStart: first.J1 + 1,
		NewLines: last.J2 - first.J1,
	}

	for _, op := range group {
		if op.Tag == 'e' {
			for i := op.I1; i < op.I2; i++ {
				h.Lines = append(h.Lines, Line{
					Type:    Context,
					Content: a[i],
					OldNum:  i + 1,
					NewNum:  op.J1 + (i - op.I1) + 1,
				})
			}
			continue
		}
		if op.Tag == 'r' || op.Tag == 'd' {
			for i := op.I1; i < op.I2; i++ {
				h.Lines = append(h.Lines, Line{Type: Deletion, Content: a[i], OldNum: i + 1})
				stats.Deletions++
			}
		}
		if op.Tag == 'r' || op.Tag == 'i' {
			for j := op.J1; j < op.J2; j++ {
				h.Lines = append(h.Lines, Line{Type: Addition, Content: b[j], NewNum: j + 1})
				stats.Additions++
			}
		}
	}
	return h
}

// Empty reports whether the two sides are identical.
func (r *DiffResult) Empty() bool {
	return r.Stats.Changes == 0
}

// Format renders the result as a unified diff.
func (r *DiffResult) Format() string {
	if r.Binary {
		if r.Empty() {
			return ""
		}
		return fmt.Sprintf("Binary files %s and %s differ\n", r.OldName, r.NewName)
	}
	if len(r.Hunks) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", r.OldName, r.NewName)
	for _, h := range r.Hunks {
		fmt.Fprintf(&b, "@@ -%s +%s @@\n", hunkRange(h.OldStart, h.OldLines), hunkRange(h.NewStart, h.NewLines))
		for _, l := range h.Lines {
			b.WriteString(l.Type.prefix())
			b.WriteString(l.Content)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func hunkRange(start, length int) string {
	if length == 0 {
		start--
	}
	if length == 1 {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d,%d", start, length)
}
