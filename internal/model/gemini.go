// Package model provides the LLM backends behind the pipeline's text-in,
// text-out client contract.
package model

import (
	"context"
	"fmt"

	genai "google.golang.org/genai"

	"codewarden/internal/config"
	"codewarden/internal/logging"
	"codewarden/internal/types"
)

// GeminiClient is a thin wrapper around the official genai client. It only
// does the call itself; timeouts and retries belong to the callers.
type GeminiClient struct {
	cli   *genai.Client
	model string
}

// NewGeminiClient creates a Gemini-backed client. The API key may also come
// from the environment; an explicit key in config wins.
func NewGeminiClient(ctx context.Context, cfg config.ModelConfig) (*GeminiClient, error) {
	cc := &genai.ClientConfig{Backend: genai.BackendGeminiAPI}
	if cfg.APIKey != "" {
		cc.APIKey = cfg.APIKey
	}
	cli, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiClient{cli: cli, model: model}, nil
}

// Complete sends one prompt and returns the model text.
func (g *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return g.generate(ctx, nil, prompt)
}

// CompleteWithSystem sends a prompt with a system instruction.
func (g *GeminiClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	var cfg *genai.GenerateContentConfig
	if system != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
		}
	}
	return g.generateWithConfig(ctx, cfg, user)
}

func (g *GeminiClient) generate(ctx context.Context, cfg *genai.GenerateContentConfig, prompt string) (string, error) {
	return g.generateWithConfig(ctx, cfg, prompt)
}

func (g *GeminiClient) generateWithConfig(ctx context.Context, cfg *genai.GenerateContentConfig, prompt string) (string, error) {
	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}}, cfg)
	if err != nil {
		logging.ModelDebug("GenerateContent failed: %v", err)
		return "", fmt.Errorf("model call failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("model returned no candidates")
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

var _ types.LLMClient = (*GeminiClient)(nil)
