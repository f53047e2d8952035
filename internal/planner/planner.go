// Package planner decomposes complex requests into ordered action steps,
// each generated, reviewed, and validated on its own with a small local
// retry budget. Completed step results concatenate into the turn's final
// response, which then passes through the normal quality pipeline.
package planner

import (
	"context"
	"fmt"
	"strings"

	"codewarden/internal/config"
	"codewarden/internal/judge"
	"codewarden/internal/logging"
	"codewarden/internal/types"
)

// StepState is the lifecycle phase of one step.
type StepState string

const (
	StepPending   StepState = "pending"
	StepRunning   StepState = "running"
	StepReviewed  StepState = "reviewed"
	StepValidated StepState = "validated"
	StepDone      StepState = "done"
	StepFailed    StepState = "failed"
)

// ActionStep is one unit of a decomposed request.
type ActionStep struct {
	Index       int       `json:"index"`
	Description string    `json:"description"`
	State       StepState `json:"state"`
	Result      string    `json:"result,omitempty"`
	Feedback    string    `json:"feedback,omitempty"`
	Attempts    int       `json:"attempts"`
	Forced      bool      `json:"forced,omitempty"` // accepted on exhausted budget
}

// Planner runs multi-step execution.
type Planner struct {
	cfg    config.PlannerConfig
	client types.LLMClient
	judge  *judge.Judge
}

// NewPlanner creates a planner. The judge may be nil, which skips the
// validation stage of each step.
func NewPlanner(cfg config.PlannerConfig, client types.LLMClient, j *judge.Judge) *Planner {
	return &Planner{cfg: cfg, client: client, judge: j}
}

const planPrompt = `Break the following request into a short ordered list of concrete steps.
One step per line, no numbering, no commentary. At most %d steps.

REQUEST:
%s`

// Plan asks the model to decompose a request. A single-step plan means the
// request did not need decomposition.
func (p *Planner) Plan(ctx context.Context, request string) ([]ActionStep, error) {
	out, err := p.client.Complete(ctx, fmt.Sprintf(planPrompt, p.cfg.MaxSteps, request))
	if err != nil {
		return nil, fmt.Errorf("planning failed: %w", err)
	}

	var steps []ActionStep
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if line == "" {
			continue
		}
		steps = append(steps, ActionStep{Index: len(steps), Description: line, State: StepPending})
		if len(steps) >= p.cfg.MaxSteps {
			break
		}
	}
	if len(steps) == 0 {
		steps = []ActionStep{{Index: 0, Description: request, State: StepPending}}
	}
	logging.Planner("Planned %d steps", len(steps))
	return steps, nil
}

// Execute runs every step in order and concatenates the results. Steps
// advance pending -> running -> reviewed -> validated -> done; a step whose
// local retry budget runs out is accepted anyway and annotated as forced.
func (p *Planner) Execute(ctx context.Context, request string, steps []ActionStep) (string, []ActionStep, error) {
	for i := range steps {
		if err := ctx.Err(); err != nil {
			steps[i].State = StepFailed
			steps[i].Feedback = "cancelled"
			return concatResults(steps), steps, err
		}
		p.runStep(ctx, request, &steps[i])
	}
	return concatResults(steps), steps, nil
}

func (p *Planner) runStep(ctx context.Context, request string, step *ActionStep) {
	budget := p.cfg.StepRetries
	feedback := ""

	for {
		step.State = StepRunning
		step.Attempts++

		prompt := fmt.Sprintf("Overall request: %s\n\nCurrent step: %s", request, step.Description)
		if feedback != "" {
			prompt += "\n\nYour previous attempt was rejected: " + feedback
		}
		result, err := p.client.Complete(ctx, prompt)
		if err != nil {
			step.State = StepFailed
			step.Feedback = err.Error()
			logging.Planner("Step %d failed: %v", step.Index, err)
			return
		}
		step.Result = result

		reviewOK, reviewFeedback := p.review(ctx, step.Description, result)
		if reviewOK {
			step.State = StepReviewed

			validated := true
			if p.judge != nil {
				v := p.judge.Evaluate(ctx, step.Description, result, "")
				validated = v.Unavailable || v.Valid
				if !validated && reviewFeedback == "" {
					reviewFeedback = v.Reason
				}
			}
			if validated {
				step.State = StepValidated
			}
			if step.State == StepValidated {
				step.State = StepDone
				return
			}
		}

		if step.Attempts > budget {
			step.State = StepDone
			step.Forced = true
			step.Feedback = reviewFeedback
			logging.Planner("Step %d accepted on exhausted budget: %s", step.Index, reviewFeedback)
			return
		}
		feedback = reviewFeedback
		if feedback == "" {
			feedback = "the step result did not address the step"
		}
	}
}

const reviewPrompt = `Does the RESULT complete the STEP? Answer on one line: PASS or FAIL: <reason>.

STEP: %s

RESULT:
%s`

// review is a quick model pass/fail check on one step result.
func (p *Planner) review(ctx context.Context, description, result string) (bool, string) {
	out, err := p.client.Complete(ctx, fmt.Sprintf(reviewPrompt, description, result))
	if err != nil {
		// Review unavailable degrades to pass; validation still runs.
		return true, ""
	}
	line := strings.TrimSpace(out)
	upper := strings.ToUpper(line)
	if strings.HasPrefix(upper, "PASS") {
		return true, ""
	}
	if strings.HasPrefix(upper, "FAIL") {
		reason := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line[4:], ":"), " "))
		return false, reason
	}
	return true, ""
}

func concatResults(steps []ActionStep) string {
	var parts []string
	for _, s := range steps {
		if s.Result != "" {
			parts = append(parts, s.Result)
		}
	}
	return strings.Join(parts, "\n\n")
}
