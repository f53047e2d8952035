// Package validators calls external HTTP quality validators. Each validator
// is an opaque scoring oracle: POST {prompt, response}, get back a score and
// a pass flag under loosely standardized field names. A slow or failing
// validator degrades to unavailable instead of failing the turn.
package validators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"codewarden/internal/config"
	"codewarden/internal/logging"
	"codewarden/internal/types"
)

// maxResponseBody bounds how much validator output is read.
const maxResponseBody = 64 * 1024

// request is the wire format sent to every validator.
type request struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// response accepts both field-name conventions seen in the wild:
// {score, ok, reason} and {value, isFaithful, detail}.
type response struct {
	Score      *float64 `json:"score"`
	Value      *float64 `json:"value"`
	OK         *bool    `json:"ok"`
	IsFaithful *bool    `json:"isFaithful"`
	Reason     string   `json:"reason"`
	Detail     string   `json:"detail"`
}

// Client fans out to the configured validators.
type Client struct {
	configs []config.ValidatorConfig
	http    *http.Client
}

// NewClient creates a client for the enabled validators.
func NewClient(configs []config.ValidatorConfig) *Client {
	enabled := make([]config.ValidatorConfig, 0, len(configs))
	for _, c := range configs {
		if c.Enabled {
			enabled = append(enabled, c)
		}
	}
	return &Client{configs: enabled, http: &http.Client{}}
}

// Count returns how many validators are enabled.
func (c *Client) Count() int { return len(c.configs) }

// Run calls every enabled validator concurrently and waits for all of them
// to settle. Each call has its own timeout; an unreachable validator yields
// an unavailable result in its slot rather than an error.
func (c *Client) Run(ctx context.Context, prompt, responseText string) []types.QualityCheckResult {
	if len(c.configs) == 0 {
		return nil
	}

	results := make([]types.QualityCheckResult, len(c.configs))
	g, gctx := errgroup.WithContext(ctx)
	for i, vc := range c.configs {
		g.Go(func() error {
			results[i] = c.callOne(gctx, vc, prompt, responseText)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; unavailability is in-band
	return results
}

func (c *Client) callOne(ctx context.Context, vc config.ValidatorConfig, prompt, responseText string) types.QualityCheckResult {
	timeout := config.ParseDuration(vc.Timeout, 10*time.Second)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(request{Prompt: prompt, Response: responseText})
	if err != nil {
		return unavailable(vc, fmt.Sprintf("marshal: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, vc.URL, bytes.NewReader(body))
	if err != nil {
		return unavailable(vc, fmt.Sprintf("bad request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		logging.ValidatorsWarn("%s unreachable: %v", vc.Name, err)
		return unavailable(vc, fmt.Sprintf("unreachable: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logging.ValidatorsWarn("%s returned HTTP %d", vc.Name, resp.StatusCode)
		return unavailable(vc, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return unavailable(vc, fmt.Sprintf("read body: %v", err))
	}

	var parsed response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return unavailable(vc, fmt.Sprintf("bad JSON: %v", err))
	}
	return normalize(vc, parsed)
}

// normalize maps a validator reply into the shared check shape. The score
// field wins over the pass flag for the threshold comparison; a reply with
// neither is unusable.
func normalize(vc config.ValidatorConfig, parsed response) types.QualityCheckResult {
	res := types.QualityCheckResult{
		Name:      vc.Name,
		Threshold: types.ScoreRef(vc.Threshold),
	}

	score := parsed.Score
	if score == nil {
		score = parsed.Value
	}
	pass := parsed.OK
	if pass == nil {
		pass = parsed.IsFaithful
	}

	switch {
	case score != nil:
		res.Score = score
		res.RawScore = score
		res.OK = *score >= vc.Threshold
	case pass != nil:
		res.OK = *pass
	default:
		return unavailable(vc, "reply has neither score nor pass flag")
	}

	res.Details = parsed.Reason
	if res.Details == "" {
		res.Details = parsed.Detail
	}
	logging.Validators("%s: ok=%v score=%v", vc.Name, res.OK, parsed.Score)
	return res
}

func unavailable(vc config.ValidatorConfig, detail string) types.QualityCheckResult {
	return types.QualityCheckResult{
		Name:        vc.Name,
		Threshold:   types.ScoreRef(vc.Threshold),
		Details:     detail,
		Unavailable: true,
	}
}
