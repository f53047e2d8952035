package mutation

import "time"

// OpType classifies audited file operations.
type OpType string

const (
	OpRead    OpType = "read"
	OpWrite   OpType = "write"
	OpReplace OpType = "replace"
	OpPatch   OpType = "patch"
	OpRename  OpType = "rename"
	OpDelete  OpType = "delete"
)

// AuditEvent records one file operation for diagnostics and the optional
// durable store. Emitted through a callback so the engine stays ignorant of
// where events end up.
type AuditEvent struct {
	Type      OpType    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
	TurnID    string    `json:"turn_id,omitempty"`
	StartLine int       `json:"start_line,omitempty"`
	EndLine   int       `json:"end_line,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	OldHash   string    `json:"old_hash,omitempty"`
	NewHash   string    `json:"new_hash,omitempty"`
}
