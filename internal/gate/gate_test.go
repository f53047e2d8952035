package gate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"codewarden/internal/config"
	"codewarden/internal/guardian"
	"codewarden/internal/hallucination"
	"codewarden/internal/judge"
	"codewarden/internal/types"
	"codewarden/internal/validators"
)

type scriptedClient struct {
	output string
	err    error
}

func (c *scriptedClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

func (c *scriptedClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return c.output, nil
}

const goodResponse = "The watcher invalidates cached hashes when files change outside the process, and the engine re-checks on every edit."

func newGate(gateCfg config.GateConfig, client types.LLMClient, vals *validators.Client) *Gate {
	cfg := config.DefaultConfig()
	var j *judge.Judge
	if client != nil {
		j = judge.NewJudge(cfg.Judge, client)
	}
	return NewGate(gateCfg, guardian.NewAnalyzer(cfg.Guardian), hallucination.NewDetector(cfg.Detector), j, vals)
}

func TestCleanResponsePublishes(t *testing.T) {
	g := newGate(config.DefaultConfig().Gate, &scriptedClient{output: "SCORE: 8\nVALID: true\nREASON: good"}, nil)

	d := g.Evaluate(context.Background(), "explain invalidation", goodResponse, nil, 0, &types.MutationState{})
	assert.True(t, d.Publish)
	assert.False(t, d.Retry)
	assert.Empty(t, d.Signals)
	require.Len(t, d.Checks, 3) // guardian, hallucination, judge
}

func TestGuardianSignalTriggersRetry(t *testing.T) {
	g := newGate(config.DefaultConfig().Gate, &scriptedClient{output: "SCORE: 8"}, nil)

	d := g.Evaluate(context.Background(), "p", strings.Repeat("a ", 2000), nil, 0, &types.MutationState{})
	assert.True(t, d.Retry)
	assert.False(t, d.Publish)
	assert.Contains(t, d.Feedback, "guardian")
}

func TestJudgeLowScoreTriggersRetry(t *testing.T) {
	g := newGate(config.DefaultConfig().Gate, &scriptedClient{output: "SCORE: 2\nVALID: false\nREASON: does not answer"}, nil)

	d := g.Evaluate(context.Background(), "p", goodResponse, nil, 0, &types.MutationState{})
	assert.True(t, d.Retry)
	assert.Contains(t, d.Feedback, "judge scored 2")
}

func TestRetryBudgetExhaustedPublishes(t *testing.T) {
	g := newGate(config.DefaultConfig().Gate, &scriptedClient{output: "SCORE: 2"}, nil)

	d := g.Evaluate(context.Background(), "p", goodResponse, nil, 2, &types.MutationState{})
	assert.True(t, d.Publish)
	assert.False(t, d.Retry)
	assert.NotEmpty(t, d.Signals)
}

func TestMutationDisablesRetry(t *testing.T) {
	g := newGate(config.DefaultConfig().Gate, &scriptedClient{output: "SCORE: 2"}, nil)

	state := &types.MutationState{}
	state.RecordMutation("write_file", "/tmp/x", types.WriteActionCreated)

	d := g.Evaluate(context.Background(), "p", goodResponse, nil, 0, state)
	assert.False(t, d.Retry)
	assert.True(t, d.Publish)
}

func TestMutationWithFailClosedBlocksPublish(t *testing.T) {
	cfg := config.DefaultConfig().Gate
	cfg.FailClosed = true
	g := newGate(cfg, &scriptedClient{output: "SCORE: 2"}, nil)

	state := &types.MutationState{}
	state.RecordMutation("write_file", "/tmp/x", types.WriteActionCreated)

	d := g.Evaluate(context.Background(), "p", goodResponse, nil, 0, state)
	assert.False(t, d.Retry)
	assert.False(t, d.Publish)
	assert.Contains(t, d.Feedback, "blocked")
}

func TestJudgeTimeoutFailSoftPublishes(t *testing.T) {
	g := newGate(config.DefaultConfig().Gate, &scriptedClient{err: errors.New("deadline exceeded")}, nil)

	d := g.Evaluate(context.Background(), "p", goodResponse, nil, 0, &types.MutationState{})
	assert.True(t, d.Publish)
	assert.False(t, d.Retry)
}

func TestJudgeTimeoutFailClosedBlocks(t *testing.T) {
	cfg := config.DefaultConfig().Gate
	cfg.FailClosed = true
	g := newGate(cfg, &scriptedClient{err: errors.New("deadline exceeded")}, nil)

	d := g.Evaluate(context.Background(), "p", goodResponse, nil, 0, &types.MutationState{})
	assert.False(t, d.Publish)
	assert.Contains(t, d.Feedback, "fail-closed")
}

func TestValidatorBelowThresholdSignals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"score": 0.2, "reason": "unfaithful"})
	}))
	defer srv.Close()

	vals := validators.NewClient([]config.ValidatorConfig{{
		Name: "faithfulness", URL: srv.URL, Threshold: 0.7, Timeout: "2s", Enabled: true,
	}})
	g := newGate(config.DefaultConfig().Gate, &scriptedClient{output: "SCORE: 8"}, vals)

	d := g.Evaluate(context.Background(), "p", goodResponse, nil, 0, &types.MutationState{})
	assert.True(t, d.Retry)
	assert.Contains(t, d.Feedback, "faithfulness")
}

func TestValidatorUnavailableFailSoft(t *testing.T) {
	vals := validators.NewClient([]config.ValidatorConfig{{
		Name: "gone", URL: "http://127.0.0.1:1/", Threshold: 0.7, Timeout: "200ms", Enabled: true,
	}})
	g := newGate(config.DefaultConfig().Gate, &scriptedClient{output: "SCORE: 8"}, vals)

	d := g.Evaluate(context.Background(), "p", goodResponse, nil, 0, &types.MutationState{})
	assert.True(t, d.Publish)
}

func TestFanOutLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"score": 0.9})
	}))
	defer srv.Close()

	vals := validators.NewClient([]config.ValidatorConfig{
		{Name: "v1", URL: srv.URL, Threshold: 0.5, Timeout: "2s", Enabled: true},
		{Name: "v2", URL: srv.URL, Threshold: 0.5, Timeout: "2s", Enabled: true},
		{Name: "v3", URL: srv.URL, Threshold: 0.5, Timeout: "2s", Enabled: true},
	})
	g := newGate(config.DefaultConfig().Gate, &scriptedClient{output: "SCORE: 8"}, vals)

	d := g.Evaluate(context.Background(), "p", goodResponse, nil, 0, &types.MutationState{})
	assert.True(t, d.Publish)
	require.Len(t, d.Checks, 6)
}

func TestCleanedResponseFlowsThrough(t *testing.T) {
	g := newGate(config.DefaultConfig().Gate, &scriptedClient{output: "SCORE: 8"}, nil)

	d := g.Evaluate(context.Background(), "p", strings.Repeat("I will now fix the bug. ", 12), nil, 0, &types.MutationState{})
	assert.Contains(t, d.CleanedResponse, "[loop removed]")
	assert.Less(t, len(d.CleanedResponse), 200)
}

func TestHallucinationSignal(t *testing.T) {
	g := newGate(config.DefaultConfig().Gate, &scriptedClient{output: "SCORE: 8"}, nil)

	response := "Studies show this works. Research indicates it scales. Experts agree. As previously mentioned, statistics show it, and according to research it is settled science for everyone involved."
	d := g.Evaluate(context.Background(), "p", response, nil, 0, &types.MutationState{})
	assert.True(t, d.Retry)
	assert.Contains(t, d.Feedback, "hallucination confidence")
}
