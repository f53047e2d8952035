package mutation

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codewarden/internal/config"
	"codewarden/internal/toolcall"
	"codewarden/internal/types"
)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig().Mutation
	cfg.Roots = []string{root}
	eng, err := NewEngine(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	return eng, root
}

func call(name string, args map[string]interface{}) types.ToolCall {
	return types.ToolCall{Name: name, Arguments: args}
}

func writeFixture(t *testing.T, root, name, content string) string {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadFileRecordsHash(t *testing.T) {
	eng, root := newTestEngine(t)
	path := writeFixture(t, root, "a.txt", "hello\nworld\n")

	res := eng.Dispatch(context.Background(), call("read_file", map[string]interface{}{"path": "a.txt"}), &types.MutationState{})
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "hello\nworld\n", res.Message)

	rec, found := eng.Hashes().Lookup(path)
	require.True(t, found)
	assert.Equal(t, HashContent([]byte("hello\nworld\n")), rec.Hash)
}

func TestReadFileLineRange(t *testing.T) {
	eng, root := newTestEngine(t)
	writeFixture(t, root, "a.txt", "one\ntwo\nthree\nfour\n")

	res := eng.Dispatch(context.Background(), call("read_file", map[string]interface{}{
		"path": "a.txt", "start_line": float64(2), "end_line": float64(3),
	}), &types.MutationState{})
	require.True(t, res.OK)
	assert.Equal(t, "two\nthree", res.Message)
}

func TestReadFileOverCeiling(t *testing.T) {
	eng, root := newTestEngine(t)
	writeFixture(t, root, "big.txt", strings.Repeat("x", 600*1024))

	res := eng.Dispatch(context.Background(), call("read_file", map[string]interface{}{"path": "big.txt"}), &types.MutationState{})
	require.False(t, res.OK)
	assert.Contains(t, res.Message, "read ceiling")
	assert.Contains(t, res.Message, "614400") // actual size is reported
}

func TestReadFileBinaryRefused(t *testing.T) {
	eng, root := newTestEngine(t)
	path := filepath.Join(root, "bin.dat")
	require.NoError(t, os.WriteFile(path, []byte{'a', 0x00, 'b'}, 0o644))

	res := eng.Dispatch(context.Background(), call("read_file", map[string]interface{}{"path": "bin.dat"}), &types.MutationState{})
	require.False(t, res.OK)
	assert.Contains(t, res.Message, "binary")
}

func TestPathEscapeRefused(t *testing.T) {
	eng, _ := newTestEngine(t)
	res := eng.Dispatch(context.Background(), call("read_file", map[string]interface{}{"path": "../../etc/passwd"}), &types.MutationState{})
	require.False(t, res.OK)
	assert.Contains(t, res.Message, "escapes")
}

func TestListDirMarksDirectories(t *testing.T) {
	eng, root := newTestEngine(t)
	writeFixture(t, root, "sub/x.txt", "x")
	writeFixture(t, root, "top.txt", "t")

	res := eng.Dispatch(context.Background(), call("list_dir", map[string]interface{}{"path": "."}), &types.MutationState{})
	require.True(t, res.OK)
	assert.Contains(t, res.Message, "sub/")
	assert.Contains(t, res.Message, "top.txt")
}

func TestSearchFiles(t *testing.T) {
	eng, root := newTestEngine(t)
	writeFixture(t, root, "a.go", "package a\nfunc Hello() {}\n")
	writeFixture(t, root, "b.go", "package b\n")

	res := eng.Dispatch(context.Background(), call("search_files", map[string]interface{}{"pattern": "func Hello"}), &types.MutationState{})
	require.True(t, res.OK)
	assert.Contains(t, res.Message, "a.go:2")
}

func TestWriteFileCreatedThenUpdated(t *testing.T) {
	eng, root := newTestEngine(t)
	state := &types.MutationState{}

	res := eng.Dispatch(context.Background(), call("write_file", map[string]interface{}{
		"path": "new/deep/file.txt", "content": "v1\n",
	}), state)
	require.True(t, res.OK, res.Message)
	assert.Contains(t, res.Message, "created")
	assert.True(t, state.HadMutations)
	assert.Equal(t, types.WriteActionCreated, state.LastWriteAction)

	res = eng.Dispatch(context.Background(), call("write_file", map[string]interface{}{
		"path": "new/deep/file.txt", "content": "v2\n",
	}), state)
	require.True(t, res.OK)
	assert.Contains(t, res.Message, "updated")
	assert.Equal(t, types.WriteActionUpdated, state.LastWriteAction)

	data, err := os.ReadFile(filepath.Join(root, "new/deep/file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v2\n", string(data))
}

func TestReplaceLines(t *testing.T) {
	eng, root := newTestEngine(t)
	path := writeFixture(t, root, "a.txt", "one\ntwo\nthree\n")
	state := &types.MutationState{}

	// read first so a hash record exists
	eng.Dispatch(context.Background(), call("read_file", map[string]interface{}{"path": "a.txt"}), state)

	res := eng.Dispatch(context.Background(), call("replace_lines", map[string]interface{}{
		"path": "a.txt", "start_line": float64(2), "end_line": float64(2), "content": "TWO",
	}), state)
	require.True(t, res.OK, res.Message)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "one\nTWO\nthree\n", string(data))
	assert.True(t, state.HadMutations)

	// hash record refreshed to the new content
	rec, found := eng.Hashes().Lookup(path)
	require.True(t, found)
	assert.Equal(t, HashContent([]byte("one\nTWO\nthree\n")), rec.Hash)
}

func TestReplaceLinesStaleRead(t *testing.T) {
	eng, root := newTestEngine(t)
	path := writeFixture(t, root, "a.txt", "one\ntwo\n")
	state := &types.MutationState{}

	eng.Dispatch(context.Background(), call("read_file", map[string]interface{}{"path": "a.txt"}), state)

	// external edit after the read
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644))

	res := eng.Dispatch(context.Background(), call("replace_lines", map[string]interface{}{
		"path": "a.txt", "start_line": float64(1), "end_line": float64(1), "content": "ONE",
	}), state)
	require.False(t, res.OK)
	assert.Contains(t, res.Message, "stale read")

	data, ok := res.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "stale_read", data["error"])
	assert.Equal(t, HashContent([]byte("one\ntwo\n")), data["last_known_hash"])
	assert.Equal(t, 14, data["current_size"])
	assert.Equal(t, 4, data["current_line_count"])

	// file untouched, ledger untouched
	after, _ := os.ReadFile(path)
	assert.Equal(t, "one\ntwo\nthree\n", string(after))
	assert.False(t, state.HadMutations)
}

func TestReplaceLinesNoRecordProceeds(t *testing.T) {
	eng, root := newTestEngine(t)
	writeFixture(t, root, "a.txt", "one\ntwo\n")
	state := &types.MutationState{}

	// no prior read in this process: first write proceeds
	res := eng.Dispatch(context.Background(), call("replace_lines", map[string]interface{}{
		"path": "a.txt", "start_line": float64(1), "end_line": float64(1), "content": "ONE",
	}), state)
	require.True(t, res.OK, res.Message)
}

func TestReplaceLinesExpectedMismatch(t *testing.T) {
	eng, root := newTestEngine(t)
	path := writeFixture(t, root, "a.txt", "one\ntwo\n")
	state := &types.MutationState{}

	res := eng.Dispatch(context.Background(), call("replace_lines", map[string]interface{}{
		"path": "a.txt", "start_line": float64(2), "end_line": float64(2),
		"content": "TWO", "expected": "not two",
	}), state)
	require.False(t, res.OK)
	assert.Contains(t, res.Message, "expected mismatch")

	after, _ := os.ReadFile(path)
	assert.Equal(t, "one\ntwo\n", string(after))
	assert.False(t, state.HadMutations)
}

func TestReplaceLinesExpectedMatches(t *testing.T) {
	eng, root := newTestEngine(t)
	path := writeFixture(t, root, "a.txt", "one\ntwo\nthree\n")
	state := &types.MutationState{}

	res := eng.Dispatch(context.Background(), call("replace_lines", map[string]interface{}{
		"path": "a.txt", "start_line": float64(2), "end_line": float64(3),
		"content": "TWO\nTHREE", "expected": "two\nthree",
	}), state)
	require.True(t, res.OK, res.Message)

	after, _ := os.ReadFile(path)
	assert.Equal(t, "one\nTWO\nTHREE\n", string(after))
}

func TestRenameFile(t *testing.T) {
	eng, root := newTestEngine(t)
	writeFixture(t, root, "old.txt", "content\n")
	state := &types.MutationState{}

	res := eng.Dispatch(context.Background(), call("rename_file", map[string]interface{}{
		"path": "old.txt", "new_path": "sub/new.txt",
	}), state)
	require.True(t, res.OK, res.Message)

	_, err := os.Stat(filepath.Join(root, "old.txt"))
	assert.True(t, os.IsNotExist(err))
	data, err := os.ReadFile(filepath.Join(root, "sub/new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "content\n", string(data))
	assert.True(t, state.HadMutations)
}

func TestDeleteFile(t *testing.T) {
	eng, root := newTestEngine(t)
	path := writeFixture(t, root, "doomed.txt", "x\n")
	state := &types.MutationState{}

	res := eng.Dispatch(context.Background(), call("delete_file", map[string]interface{}{"path": "doomed.txt"}), state)
	require.True(t, res.OK, res.Message)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.True(t, state.HadMutations)
	assert.Empty(t, state.LastWritePath)
}

func TestApplyPatchCreateUpdateDelete(t *testing.T) {
	eng, root := newTestEngine(t)
	writeFixture(t, root, "upd.txt", "a\nb\nc\n")
	writeFixture(t, root, "del.txt", "gone\n")
	state := &types.MutationState{}

	diff := `--- /dev/null
+++ b/made.txt
@@ -0,0 +1,2 @@
+hello
+world
--- a/upd.txt
+++ b/upd.txt
@@ -1,3 +1,3 @@
 a
-b
+B
 c
--- a/del.txt
+++ /dev/null
@@ -1,1 +0,0 @@
-gone
`
	res := eng.Dispatch(context.Background(), call("apply_patch", map[string]interface{}{"patch": diff}), state)
	require.True(t, res.OK, res.Message)
	assert.Contains(t, res.Message, "created")
	assert.Contains(t, res.Message, "1 of 1 hunks applied")
	assert.Contains(t, res.Message, "deleted")

	made, err := os.ReadFile(filepath.Join(root, "made.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", string(made))

	upd, err := os.ReadFile(filepath.Join(root, "upd.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a\nB\nc\n", string(upd))

	_, err = os.Stat(filepath.Join(root, "del.txt"))
	assert.True(t, os.IsNotExist(err))
	assert.True(t, state.HadMutations)
}

func TestApplyPatchPartialFailureReported(t *testing.T) {
	eng, root := newTestEngine(t)
	writeFixture(t, root, "a.txt", "x\ny\n")
	state := &types.MutationState{}

	diff := `--- a/a.txt
+++ b/a.txt
@@ -1,1 +1,1 @@
-NOT_THERE
+replaced
`
	res := eng.Dispatch(context.Background(), call("apply_patch", map[string]interface{}{"patch": diff}), state)
	require.False(t, res.OK)
	assert.Contains(t, res.Message, "0 of 1 hunks applied")
}

type vetoApprover struct{}

func (vetoApprover) Approve(_ context.Context, _ types.ToolCall, _ toolcall.Scope) (bool, error) {
	return false, nil
}

func TestApprovalVetoIsNoOp(t *testing.T) {
	root := t.TempDir()
	cfg := config.DefaultConfig().Mutation
	cfg.Roots = []string{root}
	cfg.AutoApproveScopes = nil // edits need approval

	eng, err := NewEngine(cfg, WithApprover(vetoApprover{}))
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	state := &types.MutationState{}
	res := eng.Dispatch(context.Background(), call("write_file", map[string]interface{}{
		"path": "x.txt", "content": "nope\n",
	}), state)

	assert.True(t, res.OK)
	assert.True(t, res.Vetoed())
	_, statErr := os.Stat(filepath.Join(root, "x.txt"))
	assert.True(t, os.IsNotExist(statErr))
	assert.False(t, state.HadMutations)
}

func TestWriteBinaryContentRefused(t *testing.T) {
	eng, _ := newTestEngine(t)
	state := &types.MutationState{}
	res := eng.Dispatch(context.Background(), call("write_file", map[string]interface{}{
		"path": "x.bin", "content": "abc\x00def",
	}), state)
	require.False(t, res.OK)
	assert.Contains(t, res.Message, "binary")
}

func TestSymbolsUnavailableWithoutBackend(t *testing.T) {
	eng, root := newTestEngine(t)
	writeFixture(t, root, "a.go", "package a\n")
	res := eng.Dispatch(context.Background(), call("symbols", map[string]interface{}{"path": "a.go"}), &types.MutationState{})
	require.False(t, res.OK)
	data, ok := res.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, data["unavailable"])
}

func TestAuditEventsEmitted(t *testing.T) {
	var events []AuditEvent
	root := t.TempDir()
	cfg := config.DefaultConfig().Mutation
	cfg.Roots = []string{root}

	eng, err := NewEngine(cfg, WithAudit(func(ev AuditEvent) { events = append(events, ev) }))
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	state := &types.MutationState{}
	eng.Dispatch(context.Background(), call("write_file", map[string]interface{}{"path": "a.txt", "content": "v\n"}), state)
	eng.Dispatch(context.Background(), call("read_file", map[string]interface{}{"path": "a.txt"}), state)

	require.Len(t, events, 2)
	assert.Equal(t, OpWrite, events[0].Type)
	assert.True(t, events[0].Success)
	assert.Equal(t, OpRead, events[1].Type)
	assert.NotEmpty(t, events[1].NewHash)
}

func TestUnknownToolFails(t *testing.T) {
	eng, _ := newTestEngine(t)
	res := eng.Dispatch(context.Background(), call("frobnicate", nil), &types.MutationState{})
	require.False(t, res.OK)
	assert.Contains(t, res.Message, "unknown tool")
}

func TestLooksBinary(t *testing.T) {
	assert.False(t, looksBinary([]byte("plain text\nwith lines\n")))
	assert.False(t, looksBinary([]byte("utf-8: héllo wörld")))
	assert.True(t, looksBinary([]byte{'a', 0x00, 'b'}))
	assert.True(t, looksBinary([]byte{0x01, 0x02, 0x03, 'a'}))
	assert.False(t, looksBinary(nil))
}
