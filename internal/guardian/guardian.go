// Package guardian scans model output for structural quality defects before
// it reaches the user: degenerate loops, heavy repetition, garbage tokens,
// and responses that are stuck reproducing an earlier answer. It never calls
// a model; everything here is deterministic text analysis.
package guardian

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"codewarden/internal/config"
	"codewarden/internal/logging"
)

// Severity grades a detected issue.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// IssueType names a class of structural defect.
type IssueType string

const (
	IssueTooShort       IssueType = "too_short"
	IssueTruncated      IssueType = "truncated"
	IssueLoop           IssueType = "loop"
	IssueCharRun        IssueType = "char_run"
	IssueRepetition     IssueType = "repetition"
	IssueStuck          IssueType = "stuck"
	IssueGluedText      IssueType = "glued_text"
	IssueLowWhitespace  IssueType = "low_whitespace_tail"
	IssueOverlongToken  IssueType = "overlong_token"
	IssuePlaceholder    IssueType = "placeholder"
	IssuePunctuationRun IssueType = "punctuation_run"
	IssueUnbalancedCode IssueType = "unbalanced_code_fence"
	IssueEmptyLink      IssueType = "empty_link"
	IssueEmojiFlood     IssueType = "emoji_flood"
	IssueDuplicateSent  IssueType = "duplicate_sentences"
)

// criticalIssues force a retry regardless of any other signal.
var criticalIssues = map[IssueType]bool{
	IssueGluedText:      true,
	IssuePunctuationRun: true,
	IssueUnbalancedCode: true,
}

// Issue is one detected defect.
type Issue struct {
	Type     IssueType `json:"type"`
	Severity Severity  `json:"severity"`
	Detail   string    `json:"detail"`
}

// Result is the outcome of one analysis. CleanedResponse only ever removes
// content relative to the input, never adds prose.
type Result struct {
	OK              bool    `json:"ok"`
	Issues          []Issue `json:"issues,omitempty"`
	CleanedResponse string  `json:"cleaned_response"`
	LoopDetected    bool    `json:"loop_detected"`
	RepetitionScore float64 `json:"repetition_score"`
	ForceRetry      bool    `json:"force_retry"`
}

const (
	loopMarker      = "\n[loop removed]"
	truncatedMarker = "\n[truncated]"

	charRunLimit     = 20
	minLoopCount     = 3
	gluedRunLen      = 40
	overlongTokenLen = 60
	punctRunLen      = 10
	emojiLimit       = 20
)

var (
	placeholderRe = regexp.MustCompile(`(?i)\b(undefined|NaN|lorem ipsum)\b|\bnull null\b|\bTODO TODO\b`)
	emptyLinkRe   = regexp.MustCompile(`\[[^\]]*\]\(\s*\)`)
	wsRunRe       = regexp.MustCompile(`[ \t]{3,}`)
	sentenceRe    = regexp.MustCompile(`[.!?]+\s+`)
)

// Analyzer runs structural analysis and remembers recent responses per
// prompt so it can notice a model reproducing the same answer.
type Analyzer struct {
	cfg config.GuardianConfig

	mu      sync.Mutex
	history map[string][]string
}

// NewAnalyzer creates an analyzer with the given configuration.
func NewAnalyzer(cfg config.GuardianConfig) *Analyzer {
	return &Analyzer{cfg: cfg, history: make(map[string][]string)}
}

// Analyze scans a response in the context of the prompt that produced it.
func (a *Analyzer) Analyze(response, prompt string) Result {
	timer := logging.StartTimer(logging.CategoryGuardian, "analyze")
	defer timer.StopWithThreshold(500 * time.Millisecond)

	var issues []Issue
	forceRetry := false
	cleaned := response

	// Length bounds first: they decide how much text the rest even sees.
	if len(strings.TrimSpace(response)) < a.cfg.MinLength {
		issues = append(issues, Issue{IssueTooShort, SeverityHigh,
			fmt.Sprintf("response is %d chars, minimum is %d", len(strings.TrimSpace(response)), a.cfg.MinLength)})
		forceRetry = true
	}
	if len(cleaned) > a.cfg.MaxAnalysisWindow {
		cleaned = cleaned[:a.cfg.MaxAnalysisWindow] + truncatedMarker
		issues = append(issues, Issue{IssueTruncated, SeverityLow,
			fmt.Sprintf("clipped to %d chars for analysis", a.cfg.MaxAnalysisWindow)})
	}

	// Degenerate character runs are always high severity.
	if run, ch := longestCharRun(cleaned); run >= charRunLimit {
		issues = append(issues, Issue{IssueCharRun, SeverityHigh,
			fmt.Sprintf("%d consecutive %q characters", run, ch)})
		cleaned = collapseCharRuns(cleaned)
		forceRetry = true
	}

	loopDetected := false
	if loop, found := a.findLoop(cleaned); found {
		loopDetected = true
		issues = append(issues, Issue{IssueLoop, loop.severity,
			fmt.Sprintf("pattern of %d chars repeats %d times", len(loop.pattern), loop.count)})
		cleaned = removeLoop(cleaned, loop.pattern)
		if loop.severity == SeverityHigh {
			forceRetry = true
		}
	}

	repScore := repetitionScore(cleaned)
	if repScore > a.cfg.RepetitionThreshold {
		issues = append(issues, Issue{IssueRepetition, SeverityMedium,
			fmt.Sprintf("word repetition score %.2f exceeds %.2f", repScore, a.cfg.RepetitionThreshold)})
		cleaned = dedupeSentences(cleaned, a.cfg.DedupSimilarity)
	}

	issues = append(issues, scanPatterns(cleaned)...)

	if a.isStuck(prompt, cleaned) {
		issues = append(issues, Issue{IssueStuck, SeverityHigh,
			"response nearly identical to a recent answer for the same prompt"})
		forceRetry = true
	}
	a.remember(prompt, cleaned)

	for _, iss := range issues {
		if criticalIssues[iss.Type] {
			forceRetry = true
		}
	}

	if len(issues) > 0 {
		logging.Guardian("Found %d issues (retry=%v): %v", len(issues), forceRetry, issueTypes(issues))
	}
	return Result{
		OK:              len(issues) == 0,
		Issues:          issues,
		CleanedResponse: cleaned,
		LoopDetected:    loopDetected,
		RepetitionScore: repScore,
		ForceRetry:      forceRetry,
	}
}

func issueTypes(issues []Issue) []IssueType {
	out := make([]IssueType, len(issues))
	for i, iss := range issues {
		out[i] = iss.Type
	}
	return out
}

// ---- loop detection ----

type loopHit struct {
	pattern  string
	count    int
	severity Severity
}

// findLoop scans for a substring recurring at least three times. Pattern
// lengths run from the configured minimum to a third of the analyzed text.
// Both a comparison budget and a wall-clock budget bound the scan so a
// pathological input cannot stall a turn.
//
// Contiguous repeats always qualify. Skip-matched repeats only qualify when
// the pattern dominates the text (covers at least half of it): common short
// substrings recur in any prose without being a loop. The best hit is the
// one covering the most text, which keeps removal aligned with the full
// repeated unit rather than a fragment of it.
func (a *Analyzer) findLoop(text string) (loopHit, bool) {
	budget := a.cfg.LoopCheckBudget
	deadline := time.Now().Add(config.ParseDuration(a.cfg.LoopTimeBudget, 200*time.Millisecond))

	n := len(text)
	best := loopHit{}
	coverage := func(h loopHit) int { return h.count * len(h.pattern) }

	for plen := a.cfg.MinPatternLength; plen*3 <= n; plen++ {
		for start := 0; start+2*plen <= n; start++ {
			if budget <= 0 || time.Now().After(deadline) {
				return best, best.count >= minLoopCount
			}
			pattern := text[start : start+plen]
			if strings.TrimSpace(pattern) == "" {
				continue
			}

			count := 1
			for next := start + plen; next+plen <= n && text[next:next+plen] == pattern; next += plen {
				count++
			}
			budget -= count * plen

			if count < minLoopCount && start%plen == 0 {
				total := strings.Count(text, pattern)
				budget -= n / plen
				if total >= minLoopCount && total*plen*2 >= n {
					count = total
				}
			}

			if count >= minLoopCount {
				hit := loopHit{pattern: pattern, count: count, severity: loopSeverity(count)}
				if coverage(hit) > coverage(best) {
					best = hit
				}
			}
		}
	}
	return best, best.count >= minLoopCount
}

func loopSeverity(count int) Severity {
	switch {
	case count >= 10:
		return SeverityHigh
	case count >= 5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// removeLoop keeps the first two occurrences of the pattern and excises the
// rest, leaving a marker.
func removeLoop(text, pattern string) string {
	first := strings.Index(text, pattern)
	if first < 0 {
		return text
	}
	second := strings.Index(text[first+len(pattern):], pattern)
	if second < 0 {
		return text
	}
	keepEnd := first + len(pattern) + second + len(pattern)
	rest := strings.ReplaceAll(text[keepEnd:], pattern, "")
	// Excision leaves whitespace residue between removed occurrences.
	rest = wsRunRe.ReplaceAllString(rest, " ")
	return text[:keepEnd] + rest + loopMarker
}

func longestCharRun(text string) (int, rune) {
	best, bestCh := 0, rune(0)
	run := 0
	var prev rune
	for i, ch := range text {
		if i > 0 && ch == prev {
			run++
		} else {
			run = 1
		}
		if run > best {
			best, bestCh = run, ch
		}
		prev = ch
	}
	return best, bestCh
}

// collapseCharRuns keeps the first two characters of any run at or over the
// limit.
func collapseCharRuns(text string) string {
	var sb strings.Builder
	runes := []rune(text)
	i := 0
	for i < len(runes) {
		j := i
		for j < len(runes) && runes[j] == runes[i] {
			j++
		}
		if j-i >= charRunLimit {
			sb.WriteRune(runes[i])
			sb.WriteRune(runes[i])
		} else {
			for k := i; k < j; k++ {
				sb.WriteRune(runes[k])
			}
		}
		i = j
	}
	return sb.String()
}

// ---- repetition ----

// repetitionScore is sum(count-2) over words appearing more than twice,
// divided by the number of qualifying word tokens. Short words are noise and
// do not qualify.
func repetitionScore(text string) float64 {
	counts := make(map[string]int)
	total := 0
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?()[]{}\"'`")
		if len(w) < 4 {
			continue
		}
		counts[w]++
		total++
	}
	if total == 0 {
		return 0
	}
	excess := 0
	for _, c := range counts {
		if c > 2 {
			excess += c - 2
		}
	}
	return float64(excess) / float64(total)
}

// dedupeSentences drops a sentence once two near-duplicates of it have
// already been kept.
func dedupeSentences(text string, similarity float64) string {
	sentences := splitSentences(text)
	if len(sentences) < 3 {
		return text
	}

	var kept []string
	var keptSets []map[string]bool
	for _, s := range sentences {
		set := wordSet(s)
		dupes := 0
		for _, ks := range keptSets {
			if jaccard(set, ks) > similarity {
				dupes++
			}
		}
		if dupes >= 2 {
			continue
		}
		kept = append(kept, s)
		keptSets = append(keptSets, set)
	}
	if len(kept) == len(sentences) {
		return text
	}
	return strings.Join(kept, " ")
}

func splitSentences(text string) []string {
	parts := sentenceRe.Split(text, -1)
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, strings.TrimSpace(p))
		}
	}
	return out
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[strings.Trim(w, ".,;:!?()[]{}\"'`")] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// ---- history ----

func (a *Analyzer) isStuck(prompt, response string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	set := wordSet(response)
	for _, prev := range a.history[prompt] {
		if jaccard(set, wordSet(prev)) > a.cfg.HistorySimilarity {
			return true
		}
	}
	return false
}

func (a *Analyzer) remember(prompt, response string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := append(a.history[prompt], response)
	if len(h) > a.cfg.HistorySize {
		h = h[len(h)-a.cfg.HistorySize:]
	}
	a.history[prompt] = h
}

// Reset clears the per-prompt history, typically at session boundaries.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = make(map[string][]string)
}
