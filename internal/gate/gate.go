// Package gate runs the fixed per-turn quality pipeline and decides whether
// a response is published, retried, or blocked. The order is fixed: guardian
// structural scan, hallucination scan on the cleaned text, then the judge
// and the external validators concurrently.
package gate

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"codewarden/internal/config"
	"codewarden/internal/guardian"
	"codewarden/internal/hallucination"
	"codewarden/internal/judge"
	"codewarden/internal/logging"
	"codewarden/internal/types"
	"codewarden/internal/validators"
)

// Decision is the gate's verdict for one attempt.
type Decision struct {
	Publish         bool                       `json:"publish"`
	Retry           bool                       `json:"retry"`
	Feedback        string                     `json:"feedback,omitempty"`
	CleanedResponse string                     `json:"cleaned_response"`
	Checks          []types.QualityCheckResult `json:"checks"`
	Signals         []string                   `json:"signals,omitempty"`
}

// Gate wires the quality checks together.
type Gate struct {
	cfg        config.GateConfig
	guardian   *guardian.Analyzer
	detector   *hallucination.Detector
	judge      *judge.Judge
	validators *validators.Client
}

// NewGate builds a gate from already-constructed checks. judge and
// validators may be nil when those stages are not configured.
func NewGate(cfg config.GateConfig, g *guardian.Analyzer, d *hallucination.Detector, j *judge.Judge, v *validators.Client) *Gate {
	return &Gate{cfg: cfg, guardian: g, detector: d, judge: j, validators: v}
}

// Evaluate runs the pipeline for one attempt. attempt counts prior attempts
// this turn, so 0 on the first pass. The mutation ledger is consulted last:
// once a mutation committed, a retry would replay it, so retries are off for
// the rest of the turn.
func (g *Gate) Evaluate(ctx context.Context, prompt, response string, history []string, attempt int, state *types.MutationState) Decision {
	var checks []types.QualityCheckResult
	var signals []string

	guard := g.guardian.Analyze(response, prompt)
	cleaned := guard.CleanedResponse
	checks = append(checks, guardianCheck(guard))
	if guard.ForceRetry {
		signals = append(signals, describeGuardian(guard))
	}

	hall := g.detector.Analyze(cleaned, prompt, history)
	checks = append(checks, hallucinationCheck(hall, g.cfg.HallucinationRetry))
	if hall.Confidence > g.cfg.HallucinationRetry {
		signals = append(signals, fmt.Sprintf("hallucination confidence %.2f over %.2f", hall.Confidence, g.cfg.HallucinationRetry))
	}

	// Judge and external validators are the network-bound stages; they run
	// concurrently and each degrades to unavailable on its own.
	var verdict judge.Verdict
	var external []types.QualityCheckResult
	eg, egctx := errgroup.WithContext(ctx)
	if g.judge != nil {
		eg.Go(func() error {
			verdict = g.judge.Evaluate(egctx, prompt, cleaned, "")
			return nil
		})
	}
	if g.validators != nil {
		eg.Go(func() error {
			external = g.validators.Run(egctx, prompt, cleaned)
			return nil
		})
	}
	_ = eg.Wait()

	if g.judge != nil {
		checks = append(checks, verdict.QualityResult())
		if !verdict.Unavailable && verdict.ShouldRetry {
			signals = append(signals, fmt.Sprintf("judge scored %d (%s)", verdict.Score, verdict.Reason))
		}
	}
	for _, res := range external {
		checks = append(checks, res)
		if !res.Unavailable && !res.OK {
			signals = append(signals, describeValidator(res))
		}
	}

	unavailable := collectUnavailable(checks)
	decision := g.decide(signals, unavailable, attempt, state)
	decision.CleanedResponse = cleaned
	decision.Checks = checks
	decision.Signals = signals

	logging.Gate("Attempt %d: publish=%v retry=%v signals=%d unavailable=%d",
		attempt, decision.Publish, decision.Retry, len(signals), len(unavailable))
	return decision
}

// decide applies the retry policy and the fail-soft/fail-closed resolution
// for unavailable checks.
func (g *Gate) decide(signals, unavailable []string, attempt int, state *types.MutationState) Decision {
	anySignal := len(signals) > 0
	mutated := state != nil && state.HadMutations

	if g.cfg.FailClosed && len(unavailable) > 0 {
		return Decision{
			Publish:  false,
			Feedback: "publish blocked: checks unavailable under fail-closed policy: " + strings.Join(unavailable, "; "),
		}
	}

	if anySignal && mutated {
		if g.cfg.FailClosed {
			return Decision{
				Publish:  false,
				Feedback: "publish blocked: quality signals fired after a committed mutation: " + strings.Join(signals, "; "),
			}
		}
		// A retry would replay the mutation; publish with the signals noted.
		return Decision{Publish: true}
	}

	if anySignal && attempt < g.cfg.MaxRetries {
		return Decision{
			Retry:    true,
			Feedback: "previous attempt rejected: " + strings.Join(signals, "; "),
		}
	}

	return Decision{Publish: true}
}

func collectUnavailable(checks []types.QualityCheckResult) []string {
	var out []string
	for _, c := range checks {
		if c.Unavailable {
			out = append(out, c.Name)
		}
	}
	return out
}

func guardianCheck(res guardian.Result) types.QualityCheckResult {
	details := make([]string, 0, len(res.Issues))
	for _, iss := range res.Issues {
		details = append(details, fmt.Sprintf("%s(%s)", iss.Type, iss.Severity))
	}
	return types.QualityCheckResult{
		Name:    "guardian",
		OK:      res.OK,
		Details: strings.Join(details, ", "),
	}
}

func hallucinationCheck(res hallucination.Result, threshold float64) types.QualityCheckResult {
	return types.QualityCheckResult{
		Name:      "hallucination",
		OK:        !res.IsHallucination,
		Score:     types.ScoreRef(res.Confidence),
		Threshold: types.ScoreRef(threshold),
		Details:   strings.Join(res.Signals, "; "),
	}
}

func describeGuardian(res guardian.Result) string {
	for _, iss := range res.Issues {
		if iss.Severity == guardian.SeverityHigh {
			return fmt.Sprintf("guardian: %s (%s)", iss.Type, iss.Detail)
		}
	}
	return "guardian flagged the response"
}

func describeValidator(res types.QualityCheckResult) string {
	if res.Score != nil && res.Threshold != nil {
		return fmt.Sprintf("validator %s scored %.2f below %.2f", res.Name, *res.Score, *res.Threshold)
	}
	return fmt.Sprintf("validator %s rejected the response: %s", res.Name, res.Details)
}
