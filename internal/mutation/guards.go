package mutation

import (
	"fmt"
	"path/filepath"
	"strings"
)

// binaryProbe is how many leading bytes the binary heuristic inspects.
const binaryProbe = 8 * 1024

// looksBinary reports whether content appears to be binary: any NUL byte, or
// more than 30% unusual control bytes in the probe window. UTF-8 continuation
// bytes count as text.
func looksBinary(content []byte) bool {
	probe := content
	if len(probe) > binaryProbe {
		probe = probe[:binaryProbe]
	}
	if len(probe) == 0 {
		return false
	}

	unusual := 0
	for _, b := range probe {
		if b == 0x00 {
			return true
		}
		switch {
		case b == '\t' || b == '\n' || b == '\r':
		case b >= 0x20 && b <= 0x7E:
		case b >= 0x80: // UTF-8 multibyte
		default:
			unusual++
		}
	}
	return float64(unusual)/float64(len(probe)) > 0.30
}

// sandbox resolves tool-supplied paths against a set of project roots and
// refuses anything that escapes them.
type sandbox struct {
	roots []string // absolute, cleaned
}

func newSandbox(roots []string) (*sandbox, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("at least one project root required")
	}
	abs := make([]string, 0, len(roots))
	for _, r := range roots {
		a, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("bad root %q: %w", r, err)
		}
		abs = append(abs, filepath.Clean(a))
	}
	return &sandbox{roots: abs}, nil
}

// Resolve turns a tool-supplied path into an absolute path inside one of the
// roots. Relative paths resolve against the first root. Traversal out of the
// root set is an error.
func (s *sandbox) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	var abs string
	if filepath.IsAbs(path) {
		abs = filepath.Clean(path)
	} else {
		abs = filepath.Clean(filepath.Join(s.roots[0], path))
	}
	for _, root := range s.roots {
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("path %q escapes the project roots", path)
}
