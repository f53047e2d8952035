// Package mutation dispatches the named file operations a model may request
// during a turn. Mutating operations go through an optimistic-concurrency
// check against the hash cache, an approval gate, and binary/size guards;
// read-only operations only get the guards.
package mutation

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"codewarden/internal/config"
	"codewarden/internal/logging"
	"codewarden/internal/patch"
	"codewarden/internal/toolcall"
	"codewarden/internal/types"
)

// searchMatchLimit caps search_files output so one greedy pattern cannot
// flood the model context.
const searchMatchLimit = 100

// Approver decides whether a mutating operation may proceed. Implementations
// are interactive (terminal prompt) or policy-driven; a nil Approver means
// everything is approved.
type Approver interface {
	Approve(ctx context.Context, call types.ToolCall, scope toolcall.Scope) (bool, error)
}

// SymbolProvider answers symbol queries (symbols, definition, references)
// when a language backend is wired in. Without one those tools report
// themselves unavailable instead of failing.
type SymbolProvider interface {
	Symbols(ctx context.Context, path string) ([]string, error)
	Definition(ctx context.Context, path, symbol string) (string, error)
	References(ctx context.Context, path, symbol string) ([]string, error)
}

// DiagnosticsProvider answers diagnostics queries for a path.
type DiagnosticsProvider interface {
	Diagnostics(ctx context.Context, path string) ([]string, error)
}

// Engine dispatches tool calls against the filesystem.
type Engine struct {
	cfg      config.MutationConfig
	sandbox  *sandbox
	hashes   *HashCache
	diff     *patch.Engine
	approver Approver
	symbols  SymbolProvider
	diags    DiagnosticsProvider
	audit    func(AuditEvent)

	autoApprove map[toolcall.Scope]bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithApprover installs an interactive approval gate.
func WithApprover(a Approver) Option { return func(e *Engine) { e.approver = a } }

// WithAudit installs an audit-event callback.
func WithAudit(fn func(AuditEvent)) Option { return func(e *Engine) { e.audit = fn } }

// WithSymbolProvider installs a language backend for symbol tools.
func WithSymbolProvider(p SymbolProvider) Option { return func(e *Engine) { e.symbols = p } }

// WithDiagnosticsProvider installs a diagnostics backend.
func WithDiagnosticsProvider(p DiagnosticsProvider) Option { return func(e *Engine) { e.diags = p } }

// NewEngine creates an engine confined to cfg.Roots.
func NewEngine(cfg config.MutationConfig, opts ...Option) (*Engine, error) {
	sb, err := newSandbox(cfg.Roots)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:         cfg,
		sandbox:     sb,
		hashes:      NewHashCache(),
		diff:        patch.NewEngine(),
		autoApprove: make(map[toolcall.Scope]bool),
	}
	for _, s := range cfg.AutoApproveScopes {
		e.autoApprove[toolcall.Scope(s)] = true
	}
	for _, opt := range opts {
		opt(e)
	}
	if cfg.WatchInvalidate {
		if err := e.hashes.Watch(sb.roots); err != nil {
			logging.MutationError("Hash-cache watcher unavailable: %v", err)
		}
	}
	return e, nil
}

// Hashes exposes the engine's hash cache for diagnostics.
func (e *Engine) Hashes() *HashCache { return e.hashes }

// SetAuditCallback replaces the audit sink. The single-turn-in-flight
// invariant makes this safe to call between turns.
func (e *Engine) SetAuditCallback(fn func(AuditEvent)) { e.audit = fn }

// Close releases the watcher, if running.
func (e *Engine) Close() { e.hashes.Close() }

// Dispatch routes one tool call to its operation and updates the turn's
// mutation ledger on success. Unknown tool names fail; they do not panic.
func (e *Engine) Dispatch(ctx context.Context, call types.ToolCall, state *types.MutationState) types.ToolResult {
	if err := ctx.Err(); err != nil {
		return fail(call.Name, "cancelled: %v", err)
	}

	logging.MutationDebug("Dispatch %s %v", call.Name, call.Arguments)

	if toolcall.IsMutating(call.Name) {
		if res, ok := e.checkApproval(ctx, call); !ok {
			return res
		}
	}

	switch call.Name {
	case "list_dir":
		return e.listDir(call)
	case "read_file":
		return e.readFile(call)
	case "search_files":
		return e.searchFiles(ctx, call)
	case "file_info":
		return e.fileInfo(call)
	case "symbols", "definition", "references":
		return e.symbolQuery(ctx, call)
	case "diagnostics":
		return e.diagnosticsQuery(ctx, call)
	case "replace_lines":
		return e.replaceLines(call, state)
	case "apply_patch":
		return e.applyPatch(call, state)
	case "write_file":
		return e.writeFile(call, state)
	case "rename_file":
		return e.renameFile(call, state)
	case "delete_file":
		return e.deleteFile(call, state)
	}
	return fail(call.Name, "unknown tool %q", call.Name)
}

// checkApproval runs the approval gate for a mutating call. A decline is a
// no-op, not an error: {ok:true, approved:false}.
func (e *Engine) checkApproval(ctx context.Context, call types.ToolCall) (types.ToolResult, bool) {
	scope := toolcall.Classify(call.Name)
	if e.autoApprove[scope] || e.approver == nil {
		return types.ToolResult{}, true
	}
	approved, err := e.approver.Approve(ctx, call, scope)
	if err != nil {
		return fail(call.Name, "approval check failed: %v", err), false
	}
	if !approved {
		logging.Mutation("Declined by user: %s", call.Name)
		no := false
		return types.ToolResult{
			OK:       true,
			Tool:     call.Name,
			Approved: &no,
			Message:  "operation declined; nothing was changed",
		}, false
	}
	return types.ToolResult{}, true
}

// ---- read-only operations ----

func (e *Engine) listDir(call types.ToolCall) types.ToolResult {
	abs, err := e.sandbox.Resolve(call.StringArg("path"))
	if err != nil {
		return fail(call.Name, "%v", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return fail(call.Name, "list %s: %v", abs, err)
	}
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return ok(call.Name, strings.Join(names, "\n"), map[string]interface{}{
		"path":    abs,
		"entries": len(names),
	})
}

func (e *Engine) readFile(call types.ToolCall) types.ToolResult {
	abs, err := e.sandbox.Resolve(call.StringArg("path"))
	if err != nil {
		return fail(call.Name, "%v", err)
	}
	content, res, guarded := e.readGuarded(call.Name, abs)
	if guarded {
		return res
	}

	e.hashes.Record(abs, content)
	e.emit(AuditEvent{Type: OpRead, Timestamp: time.Now(), Path: abs, Success: true, NewHash: HashContent(content)})

	text := string(content)
	lines := strings.Split(text, "\n")
	start, hasStart := call.IntArg("start_line")
	end, hasEnd := call.IntArg("end_line")
	if hasStart || hasEnd {
		if !hasStart || start < 1 {
			start = 1
		}
		if !hasEnd || end > len(lines) {
			end = len(lines)
		}
		if start > end || start > len(lines) {
			return fail(call.Name, "line range %d..%d out of range (%d lines)", start, end, len(lines))
		}
		text = strings.Join(lines[start-1:end], "\n")
	}
	return ok(call.Name, text, map[string]interface{}{
		"path":       abs,
		"size":       len(content),
		"line_count": len(lines),
		"hash":       HashContent(content),
	})
}

func (e *Engine) searchFiles(ctx context.Context, call types.ToolCall) types.ToolResult {
	pattern := call.StringArg("pattern")
	if pattern == "" {
		return fail(call.Name, "pattern is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fail(call.Name, "bad pattern: %v", err)
	}
	root := e.sandbox.roots[0]
	if p := call.StringArg("path"); p != "" {
		if root, err = e.sandbox.Resolve(p); err != nil {
			return fail(call.Name, "%v", err)
		}
	}

	var matches []string
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if name := d.Name(); name == ".git" || name == "node_modules" || name == ".warden" {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > e.cfg.MaxReadBytes {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil || looksBinary(content) {
			return nil
		}
		for i, line := range strings.Split(string(content), "\n") {
			if re.MatchString(line) {
				rel, _ := filepath.Rel(root, path)
				matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, i+1, strings.TrimSpace(line)))
				if len(matches) >= searchMatchLimit {
					return fs.SkipAll
				}
			}
		}
		return nil
	})
	if walkErr != nil && walkErr != fs.SkipAll {
		return fail(call.Name, "search aborted: %v", walkErr)
	}

	msg := strings.Join(matches, "\n")
	if len(matches) == 0 {
		msg = "no matches"
	} else if len(matches) >= searchMatchLimit {
		msg += fmt.Sprintf("\n[truncated at %d matches]", searchMatchLimit)
	}
	return ok(call.Name, msg, map[string]interface{}{"matches": len(matches)})
}

func (e *Engine) fileInfo(call types.ToolCall) types.ToolResult {
	abs, err := e.sandbox.Resolve(call.StringArg("path"))
	if err != nil {
		return fail(call.Name, "%v", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fail(call.Name, "stat %s: %v", abs, err)
	}
	data := map[string]interface{}{
		"path":     abs,
		"size":     info.Size(),
		"mode":     info.Mode().String(),
		"modified": info.ModTime().Format(time.RFC3339),
		"is_dir":   info.IsDir(),
	}
	if !info.IsDir() && info.Size() <= e.cfg.MaxReadBytes {
		if content, err := os.ReadFile(abs); err == nil && !looksBinary(content) {
			data["line_count"] = strings.Count(string(content), "\n") + 1
		}
	}
	return ok(call.Name, fmt.Sprintf("%s (%d bytes, %s)", abs, info.Size(), info.Mode()), data)
}

func (e *Engine) symbolQuery(ctx context.Context, call types.ToolCall) types.ToolResult {
	if e.symbols == nil {
		return unavailable(call.Name, "no symbol backend configured")
	}
	abs, err := e.sandbox.Resolve(call.StringArg("path"))
	if err != nil {
		return fail(call.Name, "%v", err)
	}
	var (
		lines []string
		qerr  error
	)
	switch call.Name {
	case "symbols":
		lines, qerr = e.symbols.Symbols(ctx, abs)
	case "definition":
		var def string
		def, qerr = e.symbols.Definition(ctx, abs, call.StringArg("symbol"))
		lines = []string{def}
	case "references":
		lines, qerr = e.symbols.References(ctx, abs, call.StringArg("symbol"))
	}
	if qerr != nil {
		return fail(call.Name, "%v", qerr)
	}
	return ok(call.Name, strings.Join(lines, "\n"), nil)
}

func (e *Engine) diagnosticsQuery(ctx context.Context, call types.ToolCall) types.ToolResult {
	if e.diags == nil {
		return unavailable(call.Name, "no diagnostics backend configured")
	}
	abs, err := e.sandbox.Resolve(call.StringArg("path"))
	if err != nil {
		return fail(call.Name, "%v", err)
	}
	lines, err := e.diags.Diagnostics(ctx, abs)
	if err != nil {
		return fail(call.Name, "%v", err)
	}
	if len(lines) == 0 {
		return ok(call.Name, "no diagnostics", nil)
	}
	return ok(call.Name, strings.Join(lines, "\n"), map[string]interface{}{"count": len(lines)})
}

// ---- mutating operations ----

func (e *Engine) replaceLines(call types.ToolCall, state *types.MutationState) types.ToolResult {
	abs, err := e.sandbox.Resolve(call.StringArg("path"))
	if err != nil {
		return fail(call.Name, "%v", err)
	}
	start, okStart := call.IntArg("start_line")
	end, okEnd := call.IntArg("end_line")
	if !okStart || !okEnd || start < 1 || end < start {
		return fail(call.Name, "start_line and end_line must satisfy 1 <= start <= end")
	}

	content, res, guarded := e.readGuarded(call.Name, abs)
	if guarded {
		return res
	}

	if stale, res := e.staleCheck(call.Name, abs, content); stale {
		return res
	}

	text := string(content)
	trailingNewline := strings.HasSuffix(text, "\n")
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if end > len(lines) {
		return fail(call.Name, "line range %d..%d out of range (%d lines)", start, end, len(lines))
	}

	if expected, has := call.Arguments["expected"].(string); has {
		current := strings.Join(lines[start-1:end], "\n")
		if current != expected {
			e.emit(AuditEvent{Type: OpReplace, Timestamp: time.Now(), Path: abs, StartLine: start, EndLine: end, Error: "expected mismatch"})
			return types.ToolResult{
				OK:      false,
				Tool:    call.Name,
				Message: fmt.Sprintf("expected mismatch on lines %d..%d; re-read the file before retrying", start, end),
				Data: map[string]interface{}{
					"error":    "expected_mismatch",
					"expected": expected,
					"actual":   current,
				},
			}
		}
	}

	replacement := call.StringArg("content")
	var newLines []string
	newLines = append(newLines, lines[:start-1]...)
	if replacement != "" {
		newLines = append(newLines, strings.Split(strings.TrimSuffix(replacement, "\n"), "\n")...)
	}
	newLines = append(newLines, lines[end:]...)
	newText := strings.Join(newLines, "\n")
	if trailingNewline {
		newText += "\n"
	}

	if res, guarded := e.writeGuarded(call.Name, abs, []byte(newText)); guarded {
		return res
	}

	oldHash := HashContent(content)
	newHash := HashContent([]byte(newText))
	e.hashes.Record(abs, []byte(newText))
	state.RecordMutation(call.Name, abs, types.WriteActionUpdated)
	e.emit(AuditEvent{Type: OpReplace, Timestamp: time.Now(), Path: abs, StartLine: start, EndLine: end, Success: true, OldHash: oldHash, NewHash: newHash})
	logging.Mutation("replace_lines %s %d..%d", abs, start, end)

	return ok(call.Name, fmt.Sprintf("replaced lines %d..%d in %s", start, end, abs), map[string]interface{}{
		"path":       abs,
		"line_count": len(newLines),
		"hash":       newHash,
	})
}

func (e *Engine) writeFile(call types.ToolCall, state *types.MutationState) types.ToolResult {
	abs, err := e.sandbox.Resolve(call.StringArg("path"))
	if err != nil {
		return fail(call.Name, "%v", err)
	}
	content := []byte(call.StringArg("content"))

	action := types.WriteActionCreated
	if _, err := os.Stat(abs); err == nil {
		action = types.WriteActionUpdated
	}

	if res, guarded := e.writeGuarded(call.Name, abs, content); guarded {
		return res
	}

	e.hashes.Record(abs, content)
	state.RecordMutation(call.Name, abs, action)
	e.emit(AuditEvent{Type: OpWrite, Timestamp: time.Now(), Path: abs, Success: true, NewHash: HashContent(content)})
	logging.Mutation("write_file %s (%s, %d bytes)", abs, action, len(content))

	return ok(call.Name, fmt.Sprintf("%s %s (%d bytes)", action, abs, len(content)), map[string]interface{}{
		"path":   abs,
		"action": string(action),
		"hash":   HashContent(content),
	})
}

func (e *Engine) renameFile(call types.ToolCall, state *types.MutationState) types.ToolResult {
	oldAbs, err := e.sandbox.Resolve(call.StringArg("path"))
	if err != nil {
		return fail(call.Name, "%v", err)
	}
	newAbs, err := e.sandbox.Resolve(call.StringArg("new_path"))
	if err != nil {
		return fail(call.Name, "%v", err)
	}
	if err := os.MkdirAll(filepath.Dir(newAbs), 0o755); err != nil {
		return fail(call.Name, "create parent dir: %v", err)
	}
	if err := os.Rename(oldAbs, newAbs); err != nil {
		return fail(call.Name, "rename: %v", err)
	}

	e.hashes.Invalidate(oldAbs)
	if content, err := os.ReadFile(newAbs); err == nil {
		e.hashes.Record(newAbs, content)
	}
	state.RecordMutation(call.Name, newAbs, types.WriteActionUpdated)
	e.emit(AuditEvent{Type: OpRename, Timestamp: time.Now(), Path: oldAbs, Success: true})
	logging.Mutation("rename_file %s -> %s", oldAbs, newAbs)

	return ok(call.Name, fmt.Sprintf("renamed %s to %s", oldAbs, newAbs), map[string]interface{}{
		"old_path": oldAbs,
		"new_path": newAbs,
	})
}

func (e *Engine) deleteFile(call types.ToolCall, state *types.MutationState) types.ToolResult {
	abs, err := e.sandbox.Resolve(call.StringArg("path"))
	if err != nil {
		return fail(call.Name, "%v", err)
	}
	if err := os.Remove(abs); err != nil {
		return fail(call.Name, "delete %s: %v", abs, err)
	}

	e.hashes.Invalidate(abs)
	state.RecordMutation(call.Name, "", types.WriteActionUpdated)
	e.emit(AuditEvent{Type: OpDelete, Timestamp: time.Now(), Path: abs, Success: true})
	logging.Mutation("delete_file %s", abs)

	return ok(call.Name, fmt.Sprintf("deleted %s", abs), map[string]interface{}{"path": abs})
}

func (e *Engine) applyPatch(call types.ToolCall, state *types.MutationState) types.ToolResult {
	diffText := call.StringArg("patch")
	if diffText == "" {
		diffText = call.StringArg("diff")
	}
	files, err := patch.Parse(diffText)
	if err != nil {
		return fail(call.Name, "parse patch: %v", err)
	}

	outcomes := make([]string, 0, len(files))
	perFile := make([]map[string]interface{}, 0, len(files))
	allOK := true
	for _, f := range files {
		outcome := e.applyPatchFile(call.Name, f, state)
		if !outcome.ok {
			allOK = false
		}
		outcomes = append(outcomes, outcome.message)
		perFile = append(perFile, map[string]interface{}{
			"path":    outcome.path,
			"ok":      outcome.ok,
			"action":  outcome.action,
			"message": outcome.message,
		})
	}

	res := types.ToolResult{
		OK:      allOK,
		Tool:    call.Name,
		Message: strings.Join(outcomes, "\n"),
		Data:    map[string]interface{}{"files": perFile},
	}
	return res
}

type patchOutcome struct {
	path    string
	ok      bool
	action  string
	message string
}

func (e *Engine) applyPatchFile(tool string, f patch.File, state *types.MutationState) patchOutcome {
	abs, err := e.sandbox.Resolve(f.Path())
	if err != nil {
		return patchOutcome{path: f.Path(), message: err.Error()}
	}

	switch {
	case f.IsCreate():
		var sb strings.Builder
		for _, h := range f.Hunks {
			for _, l := range h.Lines {
				if l == "" {
					l = " "
				}
				if l[0] == '+' {
					sb.WriteString(l[1:])
					sb.WriteByte('\n')
				}
			}
		}
		content := []byte(sb.String())
		if res, guarded := e.writeGuarded(tool, abs, content); guarded {
			return patchOutcome{path: abs, message: res.Message}
		}
		e.hashes.Record(abs, content)
		state.RecordMutation(tool, abs, types.WriteActionCreated)
		e.emit(AuditEvent{Type: OpPatch, Timestamp: time.Now(), Path: abs, Success: true, NewHash: HashContent(content)})
		return patchOutcome{path: abs, ok: true, action: "created", message: fmt.Sprintf("created %s", abs)}

	case f.IsDelete():
		if err := os.Remove(abs); err != nil {
			return patchOutcome{path: abs, message: fmt.Sprintf("delete %s: %v", abs, err)}
		}
		e.hashes.Invalidate(abs)
		state.RecordMutation(tool, "", types.WriteActionUpdated)
		e.emit(AuditEvent{Type: OpPatch, Timestamp: time.Now(), Path: abs, Success: true})
		return patchOutcome{path: abs, ok: true, action: "deleted", message: fmt.Sprintf("deleted %s", abs)}

	default:
		content, res, guarded := e.readGuarded(tool, abs)
		if guarded {
			return patchOutcome{path: abs, message: res.Message}
		}
		if stale, res := e.staleCheck(tool, abs, content); stale {
			return patchOutcome{path: abs, message: res.Message}
		}

		applied := patch.Apply(string(content), f.Hunks)
		progress := fmt.Sprintf("%d of %d hunks applied", applied.AppliedHunks, applied.TotalHunks)
		if applied.Err != nil {
			e.emit(AuditEvent{Type: OpPatch, Timestamp: time.Now(), Path: abs, Error: applied.Err.Error()})
			return patchOutcome{path: abs, message: fmt.Sprintf("%s: %v (%s)", abs, applied.Err, progress)}
		}
		newContent := []byte(applied.Text)
		if res, guarded := e.writeGuarded(tool, abs, newContent); guarded {
			return patchOutcome{path: abs, message: res.Message}
		}
		e.hashes.Record(abs, newContent)
		state.RecordMutation(tool, abs, types.WriteActionUpdated)
		e.emit(AuditEvent{Type: OpPatch, Timestamp: time.Now(), Path: abs, Success: true, OldHash: HashContent(content), NewHash: HashContent(newContent)})
		return patchOutcome{path: abs, ok: true, action: "updated", message: fmt.Sprintf("updated %s (%s)", abs, progress)}
	}
}

// ---- shared guards ----

// staleCheck compares the on-disk content against the recorded read hash.
// No record means first contact with the file in this process and the write
// may proceed.
func (e *Engine) staleCheck(tool, abs string, current []byte) (bool, types.ToolResult) {
	rec, found := e.hashes.Lookup(abs)
	if !found {
		return false, types.ToolResult{}
	}
	currentHash := HashContent(current)
	if currentHash == rec.Hash {
		return false, types.ToolResult{}
	}

	lineCount := strings.Count(string(current), "\n") + 1
	logging.MutationError("Stale read on %s: recorded %s, current %s", abs, rec.Hash[:12], currentHash[:12])
	return true, types.ToolResult{
		OK:      false,
		Tool:    tool,
		Message: fmt.Sprintf("stale read: %s changed since it was last read; re-read the file and retry", abs),
		Data: map[string]interface{}{
			"error":              "stale_read",
			"path":               abs,
			"last_known_hash":    rec.Hash,
			"last_read_at":       rec.UpdatedAt.Format(time.RFC3339),
			"current_size":       len(current),
			"current_line_count": lineCount,
		},
	}
}

// readGuarded reads a file enforcing the size ceiling and binary guard.
// The third return is true when the caller must return res as-is.
func (e *Engine) readGuarded(tool, abs string) ([]byte, types.ToolResult, bool) {
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fail(tool, "stat %s: %v", abs, err), true
	}
	if info.IsDir() {
		return nil, fail(tool, "%s is a directory", abs), true
	}
	if info.Size() > e.cfg.MaxReadBytes {
		return nil, fail(tool, "%s is %d bytes, over the %d byte read ceiling", abs, info.Size(), e.cfg.MaxReadBytes), true
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, fail(tool, "read %s: %v", abs, err), true
	}
	if looksBinary(content) {
		return nil, fail(tool, "%s looks binary; refusing", abs), true
	}
	return content, types.ToolResult{}, false
}

// writeGuarded writes content enforcing the size ceiling and binary guard,
// creating parent directories as needed.
func (e *Engine) writeGuarded(tool, abs string, content []byte) (types.ToolResult, bool) {
	if int64(len(content)) > e.cfg.MaxWriteBytes {
		return fail(tool, "content is %d bytes, over the %d byte write ceiling", len(content), e.cfg.MaxWriteBytes), true
	}
	if looksBinary(content) {
		return fail(tool, "content looks binary; refusing to write %s", abs), true
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fail(tool, "create parent dir: %v", err), true
	}
	if err := os.WriteFile(abs, content, 0o644); err != nil {
		e.emit(AuditEvent{Type: OpWrite, Timestamp: time.Now(), Path: abs, Error: err.Error()})
		return fail(tool, "write %s: %v", abs, err), true
	}
	return types.ToolResult{}, false
}

func (e *Engine) emit(ev AuditEvent) {
	if e.audit != nil {
		e.audit(ev)
	}
}

func ok(tool, message string, data map[string]interface{}) types.ToolResult {
	return types.ToolResult{OK: true, Tool: tool, Message: message, Data: data}
}

func fail(tool, format string, args ...interface{}) types.ToolResult {
	msg := fmt.Sprintf(format, args...)
	logging.MutationError("%s: %s", tool, msg)
	return types.ToolResult{OK: false, Tool: tool, Message: msg}
}

func unavailable(tool, message string) types.ToolResult {
	return types.ToolResult{OK: false, Tool: tool, Message: message, Data: map[string]interface{}{"unavailable": true}}
}
