package patch

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Engine computes unified-diff hunks between two versions of a file's content
// using the sergi/go-diff library, with caching for identical input pairs.
// It is the inverse direction of Apply: the mutation engine uses it to report
// the effective change of an update, and tests use it to round-trip content.
type Engine struct {
	dmp   *diffmatchpatch.DiffMatchPatch
	cache sync.Map
}

type cacheKey struct {
	oldHash uint64
	newHash uint64
}

// NewEngine creates a diff engine tuned for code diffs.
func NewEngine() *Engine {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0 // accuracy over speed
	return &Engine{dmp: dmp}
}

// DefaultEngine is a singleton engine for general use.
var DefaultEngine = NewEngine()

// Compute produces the hunks transforming oldContent into newContent, with
// three lines of context.
func (e *Engine) Compute(oldContent, newContent string) []Hunk {
	key := cacheKey{fnv1a(oldContent), fnv1a(newContent)}
	if cached, ok := e.cache.Load(key); ok {
		if hunks, ok := cached.([]Hunk); ok {
			return hunks
		}
	}

	a, b, lineArray := e.dmp.DiffLinesToChars(oldContent, newContent)
	diffs := e.dmp.DiffMain(a, b, false)
	diffs = e.dmp.DiffCleanupSemantic(diffs)
	diffs = e.dmp.DiffCharsToLines(diffs, lineArray)

	hunks := groupIntoHunks(diffsToOperations(diffs), 3)
	e.cache.Store(key, hunks)
	return hunks
}

// Compute is a convenience using the default engine.
func Compute(oldContent, newContent string) []Hunk {
	return DefaultEngine.Compute(oldContent, newContent)
}

// Render formats a file's hunks as unified-diff text.
func Render(f File) string {
	var sb strings.Builder
	oldPath, newPath := f.OldPath, f.NewPath
	if oldPath == "" {
		oldPath = DevNull
	} else {
		oldPath = "a/" + oldPath
	}
	if newPath == "" {
		newPath = DevNull
	} else {
		newPath = "b/" + newPath
	}
	fmt.Fprintf(&sb, "--- %s\n+++ %s\n", oldPath, newPath)
	for _, h := range f.Hunks {
		fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldLines, h.NewStart, h.NewLines)
		for _, l := range h.Lines {
			sb.WriteString(l)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// operation is a single line-level op extracted from a character diff.
type operation struct {
	prefix  byte // ' ', '+', '-'
	oldLine int
	newLine int
	content string
}

func diffsToOperations(diffs []diffmatchpatch.Diff) []operation {
	ops := make([]operation, 0)
	oldLine, newLine := 0, 0

	for _, d := range diffs {
		lines := strings.Split(d.Text, "\n")
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		for _, line := range lines {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				ops = append(ops, operation{' ', oldLine, newLine, line})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				ops = append(ops, operation{'-', oldLine, -1, line})
				oldLine++
			case diffmatchpatch.DiffInsert:
				ops = append(ops, operation{'+', -1, newLine, line})
				newLine++
			}
		}
	}
	return ops
}

func groupIntoHunks(ops []operation, contextLines int) []Hunk {
	if len(ops) == 0 {
		return nil
	}

	var hunks []Hunk
	var cur *Hunk
	lastChange := -1
	boundary := 0 // first op index not yet covered by a flushed hunk

	flush := func(end int) {
		if cur == nil {
			return
		}
		computeCounts(cur)
		hunks = append(hunks, *cur)
		cur = nil
		boundary = end
	}

	for i, op := range ops {
		if op.prefix != ' ' {
			if cur == nil {
				start := i - contextLines
				if start < boundary {
					start = boundary
				}
				cur = &Hunk{}
				cur.OldStart = ops[start].oldLine + 1
				cur.NewStart = ops[start].newLine + 1
				if ops[start].oldLine < 0 {
					cur.OldStart = oldLineBefore(ops, start) + 1
				}
				if ops[start].newLine < 0 {
					cur.NewStart = newLineBefore(ops, start) + 1
				}
				for j := start; j < i; j++ {
					cur.Lines = append(cur.Lines, " "+ops[j].content)
				}
			}
			lastChange = i
		}

		if cur != nil {
			cur.Lines = append(cur.Lines, string(op.prefix)+op.content)

			if op.prefix == ' ' && i-lastChange >= contextLines {
				// Enough trailing context: close the hunk.
				flush(i + 1)
			}
		}
	}
	flush(len(ops))
	return hunks
}

func oldLineBefore(ops []operation, idx int) int {
	for j := idx - 1; j >= 0; j-- {
		if ops[j].oldLine >= 0 {
			return ops[j].oldLine + 1
		}
	}
	return 0
}

func newLineBefore(ops []operation, idx int) int {
	for j := idx - 1; j >= 0; j-- {
		if ops[j].newLine >= 0 {
			return ops[j].newLine + 1
		}
	}
	return 0
}

func computeCounts(h *Hunk) {
	h.OldLines, h.NewLines = 0, 0
	for _, l := range h.Lines {
		if l == "" {
			l = " "
		}
		switch l[0] {
		case ' ':
			h.OldLines++
			h.NewLines++
		case '-':
			h.OldLines++
		case '+':
			h.NewLines++
		}
	}
}

// fnv1a computes a 64-bit FNV-1a hash for the compute cache.
func fnv1a(s string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
