package toolcall

import "strings"

// Scope classifies a tool by the permission surface it touches. The scope
// decides only whether interactive confirmation is required; it carries no
// default-allow policy of its own.
type Scope string

const (
	ScopeRead     Scope = "read"
	ScopeEdit     Scope = "edit"
	ScopeCommands Scope = "commands"
	ScopeBrowser  Scope = "browser"
	ScopeMCP      Scope = "mcp"
)

var editTools = map[string]bool{
	"replace_lines": true,
	"apply_patch":   true,
	"write_file":    true,
	"rename_file":   true,
	"delete_file":   true,
}

var readTools = map[string]bool{
	"list_dir":     true,
	"read_file":    true,
	"search_files": true,
	"file_info":    true,
	"symbols":      true,
	"definition":   true,
	"references":   true,
	"diagnostics":  true,
}

// Classify maps a tool name to its permission scope. Unknown names default to
// the commands scope, the most restrictive interactive surface.
func Classify(name string) Scope {
	switch {
	case editTools[name]:
		return ScopeEdit
	case readTools[name]:
		return ScopeRead
	case strings.HasPrefix(name, "browser_"):
		return ScopeBrowser
	case strings.HasPrefix(name, "mcp_"):
		return ScopeMCP
	default:
		return ScopeCommands
	}
}

// IsMutating reports whether the tool writes to the workspace.
func IsMutating(name string) bool {
	return editTools[name]
}
