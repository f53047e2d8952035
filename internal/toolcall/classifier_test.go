package toolcall

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name  string
		scope Scope
	}{
		{"read_file", ScopeRead},
		{"list_dir", ScopeRead},
		{"search_files", ScopeRead},
		{"symbols", ScopeRead},
		{"diagnostics", ScopeRead},
		{"write_file", ScopeEdit},
		{"replace_lines", ScopeEdit},
		{"apply_patch", ScopeEdit},
		{"rename_file", ScopeEdit},
		{"delete_file", ScopeEdit},
		{"browser_snapshot", ScopeBrowser},
		{"mcp_list_resources", ScopeMCP},
		{"run_command", ScopeCommands},
		{"", ScopeCommands},
		{"made_up_tool", ScopeCommands},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.scope, Classify(tc.name), "tool %q", tc.name)
	}
}

func TestIsMutating(t *testing.T) {
	assert.True(t, IsMutating("write_file"))
	assert.True(t, IsMutating("delete_file"))
	assert.False(t, IsMutating("read_file"))
	assert.False(t, IsMutating("browser_snapshot"))
	// Unknown tools land in the commands scope but are not workspace writes.
	assert.False(t, IsMutating("run_command"))
}
