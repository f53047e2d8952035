// Package hallucination scores model output for fabrication signals using
// weighted pattern categories. It is a cheap heuristic pass that runs before
// the model-backed judge; code blocks are exempt because code legitimately
// contains phrases that look fabricated in prose.
package hallucination

import (
	"regexp"
	"strings"

	"codewarden/internal/config"
	"codewarden/internal/logging"
)

// Category names one signal family.
type Category string

const (
	CategorySelfReference Category = "self_reference"
	CategoryFactual       Category = "factual"
	CategoryContextual    Category = "contextual"
	CategoryURL           Category = "url"
)

// Result is the outcome of one scan. Confidence is always in [0,1] and a
// zero confidence never flags.
type Result struct {
	Confidence      float64    `json:"confidence"`
	IsHallucination bool       `json:"is_hallucination"`
	Categories      []Category `json:"categories,omitempty"`
	Signals         []string   `json:"signals,omitempty"`
}

var (
	selfReferencePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bas an AI\b`),
		regexp.MustCompile(`(?i)\bas a language model\b`),
		regexp.MustCompile(`(?i)\bI (?:don't|do not) have access to\b`),
		regexp.MustCompile(`(?i)\bI cannot actually\b`),
		regexp.MustCompile(`(?i)\bmy training data\b`),
		regexp.MustCompile(`(?i)\bI am unable to browse\b`),
	}

	factualPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bstudies (?:show|have shown)\b`),
		regexp.MustCompile(`(?i)\bresearch (?:proves|has proven|indicates)\b`),
		regexp.MustCompile(`(?i)\bit is a well-known fact\b`),
		regexp.MustCompile(`(?i)\bscientists agree\b`),
		regexp.MustCompile(`(?i)\bstatistics show\b`),
		regexp.MustCompile(`(?i)\baccording to (?:recent )?(?:research|studies)\b`),
		regexp.MustCompile(`(?i)\bexperts (?:say|agree|recommend)\b`),
	}

	contextualPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bas (?:previously|already) mentioned\b`),
		regexp.MustCompile(`(?i)\bas we discussed\b`),
		regexp.MustCompile(`(?i)\bas I (?:said|mentioned|noted) (?:earlier|before)\b`),
		regexp.MustCompile(`(?i)\blike I mentioned\b`),
		regexp.MustCompile(`(?i)\bcontinuing from (?:where we left off|our previous)\b`),
	}

	// backReferencePatterns claim a prior turn exists. With fewer than two
	// prior turns there is nothing to refer back to, which is stronger
	// evidence than the phrase alone.
	backReferencePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bas (?:previously|already) mentioned\b`),
		regexp.MustCompile(`(?i)\bas we discussed\b`),
	}

	// Long path-bearing URLs look specific; bare domains are usually safe.
	urlPattern = regexp.MustCompile(`https?://[^\s)>\]]{15,}`)

	fencedCodePattern = regexp.MustCompile("(?s)```.*?```")
	inlineCodePattern = regexp.MustCompile("`[^`\n]+`")
)

// Detector scans responses with configured category weights.
type Detector struct {
	cfg config.DetectorConfig
}

// NewDetector creates a detector.
func NewDetector(cfg config.DetectorConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Analyze scans a response given its prompt and the prior turns of the
// conversation. history holds prior turn texts, oldest first.
func (d *Detector) Analyze(response, prompt string, history []string) Result {
	prose := stripCode(response)

	res := Result{}
	confidence := 0.0
	triggered := make(map[Category]bool)

	add := func(cat Category, weight float64, count int, signal string) {
		if count == 0 {
			return
		}
		confidence += weight * float64(count)
		if !triggered[cat] {
			triggered[cat] = true
			res.Categories = append(res.Categories, cat)
		}
		res.Signals = append(res.Signals, signal)
	}

	if n, sig := countMatches(prose, selfReferencePatterns); n > 0 {
		add(CategorySelfReference, d.cfg.SelfReferenceWeight, n, sig)
	}
	if n, sig := countMatches(prose, factualPatterns); n > 0 {
		add(CategoryFactual, d.cfg.FactualWeight, n, sig)
	}
	if n, sig := countMatches(prose, contextualPatterns); n > 0 {
		add(CategoryContextual, d.cfg.ContextualWeight, n, sig)
	}

	// Claiming a prior discussion that never happened.
	if len(history) < 2 {
		if n, _ := countMatches(prose, backReferencePatterns); n > 0 {
			add(CategoryContextual, d.cfg.ContextualWeight, n, "back-reference with no prior turn")
		}
	}

	if n := countUnpromptedURLs(prose, prompt); n > 0 {
		add(CategoryURL, d.cfg.URLWeight, n, "specific URL absent from prompt")
	}

	// Self-reference alone is weak evidence.
	if len(res.Categories) == 1 && res.Categories[0] == CategorySelfReference && confidence > d.cfg.SelfReferenceCap {
		confidence = d.cfg.SelfReferenceCap
	}
	if confidence > 1.0 {
		confidence = 1.0
	}

	res.Confidence = confidence
	res.IsHallucination = confidence > d.cfg.Threshold
	if res.IsHallucination {
		logging.Detector("Flagged response (confidence %.2f): %v", confidence, res.Categories)
	} else if confidence > 0 {
		logging.DetectorDebug("Signals below threshold (confidence %.2f): %v", confidence, res.Categories)
	}
	return res
}

// stripCode removes fenced and inline code spans before scanning.
func stripCode(text string) string {
	text = fencedCodePattern.ReplaceAllString(text, "")
	return inlineCodePattern.ReplaceAllString(text, "")
}

func countMatches(text string, patterns []*regexp.Regexp) (int, string) {
	total := 0
	first := ""
	for _, re := range patterns {
		m := re.FindAllString(text, -1)
		total += len(m)
		if first == "" && len(m) > 0 {
			first = m[0]
		}
	}
	return total, first
}

func countUnpromptedURLs(text, prompt string) int {
	n := 0
	for _, url := range urlPattern.FindAllString(text, -1) {
		url = strings.TrimRight(url, ".,;:")
		if !strings.Contains(prompt, url) {
			n++
		}
	}
	return n
}
