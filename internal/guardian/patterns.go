package guardian

import (
	"fmt"
	"strings"
	"unicode"
)

// scanPatterns runs the fixed library of garbage-output checks. These only
// flag; cleaning is handled by the loop and repetition passes.
func scanPatterns(text string) []Issue {
	var issues []Issue

	if run := longestLetterRun(text); run >= gluedRunLen {
		issues = append(issues, Issue{IssueGluedText, SeverityHigh,
			fmt.Sprintf("%d letters with no whitespace", run)})
	}

	if iss, ok := lowWhitespaceTail(text); ok {
		issues = append(issues, iss)
	}

	for _, w := range strings.Fields(text) {
		if len(w) >= overlongTokenLen && !strings.Contains(w, "/") && !strings.Contains(w, "://") {
			issues = append(issues, Issue{IssueOverlongToken, SeverityMedium,
				fmt.Sprintf("token of %d chars", len(w))})
			break
		}
	}

	if m := placeholderRe.FindString(text); m != "" {
		issues = append(issues, Issue{IssuePlaceholder, SeverityMedium,
			fmt.Sprintf("placeholder token %q", m)})
	}

	if run := longestPunctRun(text); run >= punctRunLen {
		issues = append(issues, Issue{IssuePunctuationRun, SeverityHigh,
			fmt.Sprintf("%d consecutive punctuation characters", run)})
	}

	if strings.Count(text, "```")%2 != 0 {
		issues = append(issues, Issue{IssueUnbalancedCode, SeverityHigh,
			"odd number of code fences"})
	}

	if emptyLinkRe.MatchString(text) {
		issues = append(issues, Issue{IssueEmptyLink, SeverityLow, "markdown link with empty target"})
	}

	if n := emojiCount(text); n > emojiLimit {
		issues = append(issues, Issue{IssueEmojiFlood, SeverityLow,
			fmt.Sprintf("%d emoji", n)})
	}

	if n := duplicateSentenceCount(text); n >= 2 {
		issues = append(issues, Issue{IssueDuplicateSent, SeverityMedium,
			fmt.Sprintf("%d exact duplicate sentences", n)})
	}

	return issues
}

func longestLetterRun(text string) int {
	best, run := 0, 0
	for _, ch := range text {
		if unicode.IsLetter(ch) {
			run++
			if run > best {
				best = run
			}
		} else {
			run = 0
		}
	}
	return best
}

func longestPunctRun(text string) int {
	best, run := 0, 0
	for _, ch := range text {
		if unicode.IsPunct(ch) || unicode.IsSymbol(ch) {
			run++
			if run > best {
				best = run
			}
		} else {
			run = 0
		}
	}
	return best
}

// lowWhitespaceTail flags a final quarter of the text that has almost no
// whitespace, a common shape for output that degraded mid-generation.
func lowWhitespaceTail(text string) (Issue, bool) {
	if len(text) < 400 {
		return Issue{}, false
	}
	tail := text[len(text)*3/4:]
	spaces := 0
	for _, ch := range tail {
		if unicode.IsSpace(ch) {
			spaces++
		}
	}
	ratio := float64(spaces) / float64(len(tail))
	if ratio < 0.02 {
		return Issue{IssueLowWhitespace, SeverityMedium,
			fmt.Sprintf("whitespace ratio %.3f in the final quarter", ratio)}, true
	}
	return Issue{}, false
}

func emojiCount(text string) int {
	n := 0
	for _, ch := range text {
		if ch >= 0x1F300 && ch <= 0x1FAFF {
			n++
		}
	}
	return n
}

func duplicateSentenceCount(text string) int {
	seen := make(map[string]int)
	dupes := 0
	for _, s := range splitSentences(text) {
		key := strings.ToLower(strings.TrimSpace(s))
		if len(key) < 20 {
			continue
		}
		seen[key]++
		if seen[key] == 2 {
			dupes++
		}
	}
	return dupes
}
