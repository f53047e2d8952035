// Package session drives whole turns: generation rounds with a tool loop,
// the quality gate with its retry policy, and the bookkeeping around
// publishing, cancellation, and failure.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"codewarden/internal/config"
	"codewarden/internal/gate"
	"codewarden/internal/guardian"
	"codewarden/internal/hallucination"
	"codewarden/internal/judge"
	"codewarden/internal/logging"
	"codewarden/internal/mutation"
	"codewarden/internal/planner"
	"codewarden/internal/store"
	"codewarden/internal/toolcall"
	"codewarden/internal/turn"
	"codewarden/internal/types"
	"codewarden/internal/validators"
)

// maxToolRounds bounds how many generate-dispatch cycles one attempt may
// run before the accumulated text is taken as the response.
const maxToolRounds = 8

// stoppedMarker tags a response cut short by cancellation.
const stoppedMarker = "\n[stopped]"

// Stats are per-runner aggregate counters.
type Stats struct {
	TurnsPublished int `json:"turns_published"`
	TurnsRetried   int `json:"turns_retried"`
	TurnsFailed    int `json:"turns_failed"`
	TurnsStopped   int `json:"turns_stopped"`
	ToolCalls      int `json:"tool_calls"`
	Mutations      int `json:"mutations"`
}

// TurnResult is the outcome of one RunTurn call.
type TurnResult struct {
	TurnID          string                     `json:"turn_id"`
	Response        string                     `json:"response"`
	Published       bool                       `json:"published"`
	Stopped         bool                       `json:"stopped"`
	Attempts        int                        `json:"attempts"`
	Checks          []types.QualityCheckResult `json:"checks,omitempty"`
	Signals         []string                   `json:"signals,omitempty"`
	Feedback        string                     `json:"feedback,omitempty"`
	UserMessageKept bool                       `json:"user_message_kept"`
}

// Runner processes turns one at a time. All state it touches is owned by
// the single in-flight turn, so it must not be shared across conversations.
type Runner struct {
	cfg      *config.Config
	client   types.LLMClient
	parser   *toolcall.Parser
	engine   *mutation.Engine
	guardian *guardian.Analyzer
	gate     *gate.Gate
	planner  *planner.Planner
	store    *store.Store

	history []string
	stats   Stats
}

// NewRunner wires a runner from its components. engine, planner, and st may
// be nil; the corresponding features are skipped.
func NewRunner(cfg *config.Config, client types.LLMClient, engine *mutation.Engine, st *store.Store) *Runner {
	g := guardian.NewAnalyzer(cfg.Guardian)
	d := hallucination.NewDetector(cfg.Detector)
	j := judge.NewJudge(cfg.Judge, client)
	v := validators.NewClient(cfg.Validators)

	r := &Runner{
		cfg:      cfg,
		client:   client,
		parser:   toolcall.NewParser(),
		engine:   engine,
		guardian: g,
		gate:     gate.NewGate(cfg.Gate, g, d, j, v),
		store:    st,
	}
	if cfg.Planner.Enabled {
		r.planner = planner.NewPlanner(cfg.Planner, client, j)
	}
	return r
}

// Stats returns a copy of the aggregate counters.
func (r *Runner) Stats() Stats { return r.stats }

// RunTurn processes one user message to a terminal outcome: published,
// stopped, blocked, or failed.
func (r *Runner) RunTurn(ctx context.Context, userMessage string) (*TurnResult, error) {
	orch := turn.New()
	state := &types.MutationState{}
	defer r.persistCheckpoints(orch)

	if r.engine != nil && r.store != nil {
		turnID := orch.ID()
		r.engine.SetAuditCallback(func(ev mutation.AuditEvent) {
			ev.TurnID = turnID
			if err := r.store.RecordAudit(turnID, ev); err != nil {
				logging.StoreError("Audit write failed: %v", err)
			}
		})
	}

	feedback := ""
	for attempt := 0; ; attempt++ {
		prompt := userMessage
		if feedback != "" {
			prompt = userMessage + "\n\n[Your previous answer was rejected: " + feedback + "]"
		}
		if attempt == 0 {
			orch.Transition(turn.StateAct)
		}

		response, err := r.generate(ctx, prompt, state)
		if err != nil {
			if ctx.Err() != nil {
				return r.finishStopped(orch, response, attempt), nil
			}
			return r.finishFailed(orch, attempt, err)
		}

		if attempt == 0 {
			orch.Transition(turn.StateVerify)
		}
		decision := r.gate.Evaluate(ctx, userMessage, response, r.history, attempt, state)

		if decision.Retry {
			r.stats.TurnsRetried++
			r.bump("turns_retried")
			feedback = decision.Feedback
			logging.Turn("Turn %s attempt %d rejected, retrying: %s", orch.ID(), attempt, feedback)
			continue
		}

		result := &TurnResult{
			TurnID:          orch.ID(),
			Response:        decision.CleanedResponse,
			Published:       decision.Publish,
			Attempts:        attempt + 1,
			Checks:          decision.Checks,
			Signals:         decision.Signals,
			Feedback:        decision.Feedback,
			UserMessageKept: true,
		}
		if decision.Publish {
			orch.Transition(turn.StatePublish)
			r.history = append(r.history, decision.CleanedResponse)
			r.stats.TurnsPublished++
			r.bump("turns_published")
		} else {
			orch.Force(turn.StateError, map[string]interface{}{"cause": "publish blocked"})
		}
		return result, nil
	}
}

// generate runs the generation/tool loop for one attempt. The returned text
// is the concatenated prose of every round; tool results are echoed back
// into the conversation, not into the response.
func (r *Runner) generate(ctx context.Context, prompt string, state *types.MutationState) (string, error) {
	convo := prompt
	var parts []string

	for round := 0; round < maxToolRounds; round++ {
		if err := ctx.Err(); err != nil {
			return strings.Join(parts, "\n"), err
		}

		out, err := r.client.Complete(ctx, convo)
		if err != nil {
			return strings.Join(parts, "\n"), err
		}

		parsed := r.parser.Parse(out)
		for _, perr := range parsed.Errors {
			logging.Parser("Tool-call parse error (non-fatal): %v", perr)
		}
		if parsed.RemainingText != "" {
			parts = append(parts, parsed.RemainingText)
		}
		if len(parsed.Calls) == 0 {
			return strings.Join(parts, "\n"), nil
		}

		var echoes []string
		for _, call := range parsed.Calls {
			if err := ctx.Err(); err != nil {
				return strings.Join(parts, "\n"), err
			}
			res := r.dispatch(ctx, call, state)
			r.stats.ToolCalls++
			if state.HadMutations {
				r.stats.Mutations = len(state.MutationTools)
			}
			raw, merr := json.Marshal(res)
			if merr != nil {
				raw = []byte(fmt.Sprintf(`{"ok":false,"tool":%q,"message":"result not serializable"}`, call.Name))
			}
			echoes = append(echoes, "<tool_result>"+string(raw)+"</tool_result>")
		}
		convo = convo + "\n" + out + "\n" + strings.Join(echoes, "\n")
	}
	return strings.Join(parts, "\n"), nil
}

func (r *Runner) dispatch(ctx context.Context, call types.ToolCall, state *types.MutationState) types.ToolResult {
	if r.engine == nil {
		return types.ToolResult{OK: false, Tool: call.Name, Message: "no tool engine configured"}
	}
	return r.engine.Dispatch(ctx, call, state)
}

// RunPlanned decomposes the request, executes the steps, and pushes the
// concatenated result through the same gate as a plain turn.
func (r *Runner) RunPlanned(ctx context.Context, userMessage string) (*TurnResult, error) {
	if r.planner == nil {
		return r.RunTurn(ctx, userMessage)
	}

	orch := turn.New()
	defer r.persistCheckpoints(orch)
	orch.Transition(turn.StateAct)

	steps, err := r.planner.Plan(ctx, userMessage)
	if err != nil {
		return r.finishFailed(orch, 0, err)
	}
	response, _, err := r.planner.Execute(ctx, userMessage, steps)
	if err != nil {
		if ctx.Err() != nil {
			return r.finishStopped(orch, response, 0), nil
		}
		return r.finishFailed(orch, 0, err)
	}

	orch.Transition(turn.StateVerify)
	// Steps already carried their own retry budgets; the gate runs once.
	decision := r.gate.Evaluate(ctx, userMessage, response, r.history, r.cfg.Gate.MaxRetries, &types.MutationState{})

	result := &TurnResult{
		TurnID:          orch.ID(),
		Response:        decision.CleanedResponse,
		Published:       decision.Publish,
		Attempts:        1,
		Checks:          decision.Checks,
		Signals:         decision.Signals,
		Feedback:        decision.Feedback,
		UserMessageKept: true,
	}
	if decision.Publish {
		orch.Transition(turn.StatePublish)
		r.history = append(r.history, decision.CleanedResponse)
		r.stats.TurnsPublished++
		r.bump("turns_published")
	} else {
		orch.Force(turn.StateError, map[string]interface{}{"cause": "publish blocked"})
	}
	return result, nil
}

// finishStopped resolves a cancelled turn: the partial output still goes
// through the guardian for cleanup and is kept with a stopped marker.
func (r *Runner) finishStopped(orch *turn.Orchestrator, partial string, attempt int) *TurnResult {
	cleaned := partial
	if strings.TrimSpace(partial) != "" {
		cleaned = r.guardian.Analyze(partial, "").CleanedResponse
	}
	orch.Force(turn.StateError, map[string]interface{}{"cause": "cancelled"})
	r.stats.TurnsStopped++
	r.bump("turns_stopped")

	return &TurnResult{
		TurnID:          orch.ID(),
		Response:        cleaned + stoppedMarker,
		Stopped:         true,
		Attempts:        attempt + 1,
		UserMessageKept: attempt == 0,
	}
}

// finishFailed resolves an unexpected failure. The user message survives a
// first-attempt failure so it can be resubmitted; on a retry it was already
// consumed.
func (r *Runner) finishFailed(orch *turn.Orchestrator, attempt int, err error) (*TurnResult, error) {
	orch.Force(turn.StateError, map[string]interface{}{"cause": err.Error()})
	r.stats.TurnsFailed++
	r.bump("turns_failed")
	logging.Turn("Turn %s failed on attempt %d: %v", orch.ID(), attempt, err)

	return &TurnResult{
		TurnID:          orch.ID(),
		Attempts:        attempt + 1,
		UserMessageKept: attempt == 0,
	}, fmt.Errorf("turn failed: %w", err)
}

func (r *Runner) persistCheckpoints(orch *turn.Orchestrator) {
	if r.store == nil {
		return
	}
	for _, cp := range orch.Checkpoints() {
		if err := r.store.SaveCheckpoint(orch.ID(), cp); err != nil {
			logging.StoreError("Checkpoint write failed: %v", err)
			return
		}
	}
}

func (r *Runner) bump(name string) {
	if r.store == nil {
		return
	}
	if err := r.store.Increment(name); err != nil {
		logging.StoreError("Counter %s failed: %v", name, err)
	}
}
