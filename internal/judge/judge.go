// Package judge asks a second model pass to grade a response against the
// prompt that produced it. Verdicts are cached by content hash with a TTL so
// retries of an unchanged response do not pay for a second model call.
package judge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"codewarden/internal/config"
	"codewarden/internal/logging"
	"codewarden/internal/types"
)

// Error codes for unavailable verdicts.
const (
	ErrCodeTransport = "transport_error"
	ErrCodeTimeout   = "timeout"
	ErrCodeEmpty     = "empty_output"
	ErrCodeDisabled  = "disabled"
)

const (
	scoreMin       = 1
	scoreMax       = 10
	scoreDefault   = 5
	retryAtOrBelow = 3
	maxReasonLen   = 100
)

// Verdict is a parsed judgment. Unavailable is a third outcome distinct
// from valid/invalid: the judge could not run, and policy decides later.
type Verdict struct {
	Score       int    `json:"score"`
	Valid       bool   `json:"valid"`
	Reason      string `json:"reason,omitempty"`
	ShouldRetry bool   `json:"should_retry"`
	Unavailable bool   `json:"unavailable,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
	Cached      bool   `json:"cached,omitempty"`
}

// QualityResult normalizes a verdict into the shared check shape. The judge
// scale is 1..10 with 5 as the passing threshold.
func (v Verdict) QualityResult() types.QualityCheckResult {
	res := types.QualityCheckResult{
		Name:        "judge",
		OK:          v.Valid,
		Details:     v.Reason,
		Unavailable: v.Unavailable,
	}
	if !v.Unavailable {
		res.Score = types.ScoreRef(float64(v.Score))
		res.Threshold = types.ScoreRef(float64(scoreDefault))
	}
	return res
}

// Judge grades responses through an LLM client.
type Judge struct {
	cfg    config.JudgeConfig
	client types.LLMClient
	cache  *lru.LRU[string, Verdict]
}

// NewJudge creates a judge. A nil client makes every Evaluate unavailable.
func NewJudge(cfg config.JudgeConfig, client types.LLMClient) *Judge {
	ttl := config.ParseDuration(cfg.CacheTTL, 15*time.Minute)
	size := cfg.CacheSize
	if size <= 0 {
		size = 256
	}
	return &Judge{
		cfg:    cfg,
		client: client,
		cache:  lru.NewLRU[string, Verdict](size, nil, ttl),
	}
}

const systemPrompt = `You are a strict reviewer of an assistant's answer. Grade how well the RESPONSE answers the PROMPT.
Reply with exactly three lines:
SCORE: <integer 1-10>
VALID: <true|false>
REASON: <one short sentence>`

// Evaluate grades a response. checklist is optional extra review criteria.
func (j *Judge) Evaluate(ctx context.Context, prompt, response, checklist string) Verdict {
	if !j.cfg.Enabled {
		return Verdict{Unavailable: true, ErrorCode: ErrCodeDisabled, Score: scoreDefault}
	}
	if j.client == nil {
		return Verdict{Unavailable: true, ErrorCode: ErrCodeTransport, Score: scoreDefault}
	}

	prompt = truncate(prompt, j.cfg.MaxPromptLen)
	response = truncate(response, j.cfg.MaxResponseLen)
	checklist = truncate(checklist, j.cfg.MaxChecklist)

	key := cacheKey(prompt, response)
	if v, found := j.cache.Get(key); found {
		logging.JudgeDebug("Cache hit %s (score %d)", key[:12], v.Score)
		v.Cached = true
		return v
	}

	timeout := config.ParseDuration(j.cfg.Timeout, 30*time.Second)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	user := buildRequest(prompt, response, checklist)
	out, err := j.client.CompleteWithSystem(ctx, systemPrompt, user)
	if err != nil {
		code := ErrCodeTransport
		if ctx.Err() == context.DeadlineExceeded {
			code = ErrCodeTimeout
		}
		logging.JudgeWarn("Judge unavailable (%s): %v", code, err)
		return Verdict{Unavailable: true, ErrorCode: code, Score: scoreDefault}
	}
	if strings.TrimSpace(out) == "" {
		logging.JudgeWarn("Judge returned empty output")
		return Verdict{Unavailable: true, ErrorCode: ErrCodeEmpty, Score: scoreDefault}
	}

	v := Parse(out)
	j.cache.Add(key, v)
	logging.Judge("Score %d valid=%v retry=%v", v.Score, v.Valid, v.ShouldRetry)
	return v
}

func buildRequest(prompt, response, checklist string) string {
	var sb strings.Builder
	sb.WriteString("PROMPT:\n")
	sb.WriteString(prompt)
	sb.WriteString("\n\nRESPONSE:\n")
	sb.WriteString(response)
	if checklist != "" {
		sb.WriteString("\n\nCHECKLIST:\n")
		sb.WriteString(checklist)
	}
	return sb.String()
}

func cacheKey(prompt, response string) string {
	h := sha256.New()
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write([]byte(response))
	return hex.EncodeToString(h.Sum(nil))
}

var (
	scoreRe  = regexp.MustCompile(`(?im)^\s*SCORE\s*[:=]\s*(-?[0-9]+(?:\.[0-9]+)?)`)
	validRe  = regexp.MustCompile(`(?im)^\s*VALID\s*[:=]\s*(true|false|yes|no)`)
	reasonRe = regexp.MustCompile(`(?im)^\s*REASON\s*[:=]\s*(.+)$`)
)

// Parse extracts a verdict from raw judge output. It is forgiving: a missing
// or unparseable score defaults to 5, an out-of-range score is clamped, and
// a missing VALID derives from the score. The returned score is always in
// 1..10.
func Parse(output string) Verdict {
	score := scoreDefault
	if m := scoreRe.FindStringSubmatch(output); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			score = int(f)
		}
	}
	if score < scoreMin {
		score = scoreMin
	}
	if score > scoreMax {
		score = scoreMax
	}

	valid := score >= scoreDefault
	if m := validRe.FindStringSubmatch(output); m != nil {
		switch strings.ToLower(m[1]) {
		case "true", "yes":
			valid = true
		case "false", "no":
			valid = false
		}
	}

	reason := ""
	if m := reasonRe.FindStringSubmatch(output); m != nil {
		reason = strings.TrimSpace(m[1])
		if len(reason) > maxReasonLen {
			reason = reason[:maxReasonLen-3] + "..."
		}
	}

	return Verdict{
		Score:       score,
		Valid:       valid,
		Reason:      reason,
		ShouldRetry: score <= retryAtOrBelow,
	}
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("\n[truncated at %d chars]", max)
}
