// Package patch parses unified-diff text and applies hunks to known file
// content. Applying is a strict cursor walk over the original lines: context
// and delete lines must match exactly, hunks may only move forward, and
// partial progress is always reported so callers can say "N of M hunks
// applied". Computation of diffs (the other direction) lives in compute.go on
// top of sergi/go-diff.
package patch

import (
	"fmt"
	"strconv"
	"strings"

	"codewarden/internal/logging"
)

// DevNull marks the nonexistent side of a create or delete in diff headers.
const DevNull = "/dev/null"

// Hunk is one contiguous changed region. Lines carry their unified-diff
// prefix: ' ' context, '+' addition, '-' deletion.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []string
}

// File is one file's worth of hunks. An empty OldPath means create; an empty
// NewPath means delete.
type File struct {
	OldPath string
	NewPath string
	Hunks   []Hunk
}

// IsCreate reports whether the patch creates the file.
func (f File) IsCreate() bool { return f.OldPath == "" }

// IsDelete reports whether the patch deletes the file.
func (f File) IsDelete() bool { return f.NewPath == "" }

// Path returns the effective target path.
func (f File) Path() string {
	if f.NewPath != "" {
		return f.NewPath
	}
	return f.OldPath
}

// ApplyResult reports the outcome of applying a hunk set. AppliedHunks is
// valid even when Err is set.
type ApplyResult struct {
	Text         string
	Err          error
	AppliedHunks int
	TotalHunks   int
}

// Parse splits unified-diff text into per-file hunk sets. Headers recognized:
// "--- a/path", "+++ b/path", "@@ -oldStart[,oldLines] +newStart[,newLines] @@".
// Omitted counts default to 1. /dev/null on either side marks create/delete.
func Parse(diffText string) ([]File, error) {
	var files []File
	var cur *File
	var curHunk *Hunk

	flushHunk := func() {
		if cur != nil && curHunk != nil {
			cur.Hunks = append(cur.Hunks, *curHunk)
			curHunk = nil
		}
	}
	flushFile := func() {
		flushHunk()
		if cur != nil {
			files = append(files, *cur)
			cur = nil
		}
	}

	lines := strings.Split(diffText, "\n")
	// A newline-terminated diff splits into a trailing empty element; that is
	// the terminator, not an empty context line.
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "--- "):
			flushFile()
			cur = &File{OldPath: stripPathPrefix(line[4:])}

		case strings.HasPrefix(line, "+++ "):
			if cur == nil {
				cur = &File{}
			}
			cur.NewPath = stripPathPrefix(line[4:])

		case strings.HasPrefix(line, "@@"):
			if cur == nil {
				return nil, fmt.Errorf("hunk header before file header: %q", line)
			}
			flushHunk()
			h, err := parseHunkHeader(line)
			if err != nil {
				return nil, err
			}
			curHunk = &h

		case curHunk != nil && len(line) > 0 && (line[0] == ' ' || line[0] == '+' || line[0] == '-'):
			curHunk.Lines = append(curHunk.Lines, line)

		case curHunk != nil && line == "":
			// A bare empty line inside a hunk is an empty context line.
			curHunk.Lines = append(curHunk.Lines, " ")
		}
	}
	flushFile()

	if len(files) == 0 {
		return nil, fmt.Errorf("no file headers found in diff")
	}
	logging.PatchDebug("Parsed diff: %d file(s)", len(files))
	return files, nil
}

// stripPathPrefix removes the conventional a/ or b/ prefix and maps /dev/null
// to the empty path.
func stripPathPrefix(p string) string {
	p = strings.TrimSpace(p)
	if p == DevNull {
		return ""
	}
	if strings.HasPrefix(p, "a/") || strings.HasPrefix(p, "b/") {
		return p[2:]
	}
	return p
}

// parseHunkHeader parses "@@ -oldStart[,oldLines] +newStart[,newLines] @@".
func parseHunkHeader(line string) (Hunk, error) {
	body := strings.TrimPrefix(line, "@@")
	if i := strings.Index(body, "@@"); i >= 0 {
		body = body[:i]
	}
	fields := strings.Fields(body)
	if len(fields) != 2 || !strings.HasPrefix(fields[0], "-") || !strings.HasPrefix(fields[1], "+") {
		return Hunk{}, fmt.Errorf("malformed hunk header: %q", line)
	}

	oldStart, oldLines, err := parseRange(fields[0][1:])
	if err != nil {
		return Hunk{}, fmt.Errorf("malformed hunk header: %q: %v", line, err)
	}
	newStart, newLines, err := parseRange(fields[1][1:])
	if err != nil {
		return Hunk{}, fmt.Errorf("malformed hunk header: %q: %v", line, err)
	}

	return Hunk{OldStart: oldStart, OldLines: oldLines, NewStart: newStart, NewLines: newLines}, nil
}

// parseRange parses "start[,count]"; an omitted count defaults to 1.
func parseRange(s string) (start, count int, err error) {
	count = 1
	if i := strings.IndexByte(s, ','); i >= 0 {
		if count, err = strconv.Atoi(s[i+1:]); err != nil {
			return 0, 0, err
		}
		s = s[:i]
	}
	if start, err = strconv.Atoi(s); err != nil {
		return 0, 0, err
	}
	return start, count, nil
}

// Apply applies hunks to the original text. The cursor into the original line
// array only advances: a hunk starting before the cursor or past end-of-file
// fails with "start out of range". Context (' ') and delete ('-') lines must
// equal the original line at the cursor exactly. The original's line
// terminator (LF vs CRLF) is detected and reused for the output.
func Apply(originalText string, hunks []Hunk) ApplyResult {
	timer := logging.StartTimer(logging.CategoryPatch, "Patch apply")
	defer timer.Stop()

	eol := "\n"
	if strings.Contains(originalText, "\r\n") {
		eol = "\r\n"
	}

	trailingNewline := strings.HasSuffix(originalText, "\n")
	orig := splitLines(originalText)

	res := ApplyResult{TotalHunks: len(hunks)}
	var out []string
	cursor := 0 // index into orig of the next unconsumed line

	for i, h := range hunks {
		start := h.OldStart - 1
		if h.OldLines == 0 {
			// Pure-insert hunks address the line after which to insert.
			start = h.OldStart
		}
		if start < cursor || start > len(orig) {
			res.Err = fmt.Errorf("hunk %d: start out of range (line %d, cursor %d, file %d lines)",
				i+1, h.OldStart, cursor+1, len(orig))
			return finish(res, out, orig, cursor, eol, trailingNewline)
		}

		// Copy untouched lines up to the hunk.
		out = append(out, orig[cursor:start]...)
		cursor = start

		for _, l := range h.Lines {
			if l == "" {
				l = " " // empty context line
			}
			op, text := l[0], l[1:]
			switch op {
			case ' ':
				if cursor >= len(orig) || orig[cursor] != text {
					res.Err = fmt.Errorf("hunk %d: context mismatch at line %d", i+1, cursor+1)
					return finish(res, out, orig, cursor, eol, trailingNewline)
				}
				out = append(out, text)
				cursor++
			case '-':
				if cursor >= len(orig) || orig[cursor] != text {
					res.Err = fmt.Errorf("hunk %d: delete mismatch at line %d", i+1, cursor+1)
					return finish(res, out, orig, cursor, eol, trailingNewline)
				}
				cursor++
			case '+':
				out = append(out, text)
			}
		}
		res.AppliedHunks++
	}

	return finish(res, out, orig, cursor, eol, trailingNewline)
}

// finish copies the untouched tail and joins the output with the detected
// terminator, so even a failed apply reports the text produced so far.
func finish(res ApplyResult, out, orig []string, cursor int, eol string, trailingNewline bool) ApplyResult {
	out = append(out, orig[cursor:]...)
	text := strings.Join(out, eol)
	if trailingNewline && text != "" {
		text += eol
	}
	if res.Err == nil {
		res.Text = text
	}
	return res
}

// splitLines splits on LF, tolerating CRLF, and drops the phantom empty
// element a trailing newline would produce.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Invert swaps additions and deletions in a hunk set, producing the patch
// that undoes it: for any clean apply, applying Invert(hunks) to the result
// reproduces the original text.
func Invert(hunks []Hunk) []Hunk {
	inverted := make([]Hunk, len(hunks))
	for i, h := range hunks {
		inv := Hunk{
			OldStart: h.NewStart,
			OldLines: h.NewLines,
			NewStart: h.OldStart,
			NewLines: h.OldLines,
			Lines:    make([]string, len(h.Lines)),
		}
		for j, l := range h.Lines {
			if l == "" {
				l = " "
			}
			switch l[0] {
			case '+':
				inv.Lines[j] = "-" + l[1:]
			case '-':
				inv.Lines[j] = "+" + l[1:]
			default:
				inv.Lines[j] = l
			}
		}
		inverted[i] = inv
	}
	return inverted
}
