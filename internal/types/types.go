// Package types holds the shared data model of the warden pipeline: tool calls
// extracted from model output, their results, the per-turn mutation ledger, and
// the uniform quality-check shape every validation stage is normalized into.
package types

import (
	"context"
	"time"
)

// ToolCall is one structured operation requested inside model-generated text.
// The arguments schema varies per tool name.
type ToolCall struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// StringArg returns a string argument, or "" if absent or not a string.
func (c ToolCall) StringArg(key string) string {
	v, _ := c.Arguments[key].(string)
	return v
}

// IntArg returns an integer argument. JSON numbers decode as float64, so both
// forms are accepted.
func (c ToolCall) IntArg(key string) (int, bool) {
	switch v := c.Arguments[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

// ToolResult is the outcome of dispatching a single ToolCall.
// Approved=false records a user veto, which is a no-op rather than a failure;
// OK=false is a real failure.
type ToolResult struct {
	OK       bool        `json:"ok"`
	Tool     string      `json:"tool"`
	Message  string      `json:"message,omitempty"`
	Data     interface{} `json:"data,omitempty"`
	Approved *bool       `json:"approved,omitempty"`
}

// Vetoed reports whether the result records a user veto.
func (r ToolResult) Vetoed() bool {
	return r.Approved != nil && !*r.Approved
}

// WriteAction describes how the most recent write affected its target.
type WriteAction string

const (
	WriteActionCreated WriteAction = "created"
	WriteActionUpdated WriteAction = "updated"
)

// MutationState is the per-turn mutation ledger. It is created at turn start,
// updated by the mutation engine on every successful mutating operation, and
// read by the validation gate (retries are unsafe once HadMutations is true)
// and by later tool calls in the same turn.
//
// HadMutations is monotonic within a turn: it is never reset to false mid-turn.
type MutationState struct {
	HadMutations    bool        `json:"had_mutations"`
	MutationTools   []string    `json:"mutation_tools,omitempty"`
	LastWritePath   string      `json:"last_write_path,omitempty"`
	LastWriteAction WriteAction `json:"last_write_action,omitempty"`
}

// RecordMutation marks the turn as having committed a mutation.
func (s *MutationState) RecordMutation(tool, path string, action WriteAction) {
	s.HadMutations = true
	s.MutationTools = append(s.MutationTools, tool)
	if path != "" {
		s.LastWritePath = path
		s.LastWriteAction = action
	}
}

// QualityCheckResult is the uniform shape every check (guardian, hallucination,
// judge, external validators) is normalized into before the gate decides.
// Score, when present, is on the same scale as Threshold (0..1 for validators,
// 1..10 for the judge).
type QualityCheckResult struct {
	Name        string   `json:"name"`
	OK          bool     `json:"ok"`
	Score       *float64 `json:"score,omitempty"`
	RawScore    *float64 `json:"raw_score,omitempty"`
	Threshold   *float64 `json:"threshold,omitempty"`
	Details     string   `json:"details,omitempty"`
	Unavailable bool     `json:"unavailable,omitempty"`
}

// ScoreRef builds an optional score field.
func ScoreRef(v float64) *float64 { return &v }

// Checkpoint is one immutable entry in a turn's audit trail.
type Checkpoint struct {
	State string                 `json:"state"`
	At    time.Time              `json:"at"`
	Meta  map[string]interface{} `json:"meta,omitempty"`
}

// LLMClient is the text-in/text-out contract with the model backend. Transport
// and streaming mechanics live behind this interface and are out of scope for
// the pipeline itself.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, system, user string) (string, error)
}
