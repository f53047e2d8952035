// Package toolcall extracts structured tool operations from raw model output.
//
// Parsing is a tolerant two-strategy affair: the strict tagged grammar
// (<tool_call>...</tool_call> blocks) is tried first, and only when it yields
// zero calls does the permissive fallback (bare or fenced JSON) get a chance.
// The result always records which path fired.
package toolcall

import (
	"encoding/json"
	"fmt"
	"strings"

	"codewarden/internal/logging"
	"codewarden/internal/types"
)

const (
	openTag  = "<tool_call>"
	closeTag = "</tool_call>"
)

// Strategy names reported in Result.Strategy.
const (
	StrategyTagged   = "tagged"
	StrategyFallback = "fallback"
	StrategyNone     = "none"
)

// Result is the outcome of parsing one response.
//
// RemainingText is the input with all tagged blocks removed and trimmed when
// the tagged strategy fired. When the fallback strategy yields calls, the
// whole text was tooling, so RemainingText is forced empty even though no
// tags were stripped.
type Result struct {
	Calls         []types.ToolCall
	RemainingText string
	Errors        []string
	Strategy      string
}

// Parser extracts tool calls from raw response text.
type Parser struct {
	strategies []strategy
}

// strategy is one interchangeable parsing approach.
type strategy interface {
	name() string
	parse(text string) Result
}

// NewParser returns a parser with the tagged strategy first and the JSON
// fallback second.
func NewParser() *Parser {
	return &Parser{strategies: []strategy{taggedStrategy{}, fallbackStrategy{}}}
}

// Parse runs the strategies in order; the first one that finds at least one
// call wins. Errors from earlier strategies are carried forward - a malformed
// block never aborts scanning of its siblings, and its error survives even
// when the fallback path ends up deciding the outcome.
func (p *Parser) Parse(text string) Result {
	var carried []string
	for _, s := range p.strategies {
		res := s.parse(text)
		if len(res.Calls) > 0 {
			res.Strategy = s.name()
			res.Errors = append(carried, res.Errors...)
			logging.Parser("Extracted %d tool call(s) via %s strategy (%d errors)",
				len(res.Calls), res.Strategy, len(res.Errors))
			return res
		}
		carried = append(carried, res.Errors...)
	}
	return Result{RemainingText: strings.TrimSpace(text), Errors: carried, Strategy: StrategyNone}
}

// taggedStrategy scans for <tool_call>...</tool_call> blocks whose inner text
// parses as {"name": string, "arguments": object}.
type taggedStrategy struct{}

func (taggedStrategy) name() string { return StrategyTagged }

func (taggedStrategy) parse(text string) Result {
	var res Result
	var cleaned strings.Builder
	rest := text

	for {
		start := strings.Index(rest, openTag)
		if start < 0 {
			cleaned.WriteString(rest)
			break
		}
		end := strings.Index(rest[start+len(openTag):], closeTag)
		if end < 0 {
			// Unterminated block: keep the text as prose.
			cleaned.WriteString(rest)
			res.Errors = append(res.Errors, "unterminated <tool_call> block")
			break
		}

		inner := rest[start+len(openTag) : start+len(openTag)+end]
		cleaned.WriteString(rest[:start])
		rest = rest[start+len(openTag)+end+len(closeTag):]

		call, err := decodeCall(inner)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		res.Calls = append(res.Calls, call)
	}

	res.RemainingText = strings.TrimSpace(cleaned.String())
	return res
}

// decodeCall parses the inner JSON of a tagged block.
func decodeCall(inner string) (types.ToolCall, error) {
	var raw struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(inner)), &raw); err != nil {
		return types.ToolCall{}, fmt.Errorf("malformed tool_call JSON: %v", err)
	}
	if raw.Name == "" {
		return types.ToolCall{}, fmt.Errorf("tool_call missing name")
	}
	return types.ToolCall{Name: raw.Name, Arguments: raw.Arguments}, nil
}

// fallbackStrategy looks for a bare JSON object/array in the whole text, or
// inside a fenced block with no language tag or tag "json". It accepts
// name/tool/type/action as synonyms for the operation name. When this path
// yields calls, the response was pure tooling: RemainingText is empty.
type fallbackStrategy struct{}

func (fallbackStrategy) name() string { return StrategyFallback }

func (fallbackStrategy) parse(text string) Result {
	var res Result

	candidates := fencedCandidates(text)
	if body := extractJSONValue(text); body != "" {
		candidates = append(candidates, body)
	}

	for _, cand := range candidates {
		calls, errs := decodeLoose(cand)
		res.Errors = append(res.Errors, errs...)
		if len(calls) > 0 {
			res.Calls = calls
			res.RemainingText = "" // pure-tooling convention
			return res
		}
	}

	res.RemainingText = strings.TrimSpace(text)
	return res
}

// fencedCandidates returns the bodies of ``` and ```json fenced blocks.
func fencedCandidates(text string) []string {
	var out []string
	rest := text
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			break
		}
		rest = rest[start+3:]
		nl := strings.Index(rest, "\n")
		if nl < 0 {
			break
		}
		lang := strings.TrimSpace(rest[:nl])
		body := rest[nl+1:]
		end := strings.Index(body, "```")
		if end < 0 {
			break
		}
		if lang == "" || strings.EqualFold(lang, "json") {
			out = append(out, strings.TrimSpace(body[:end]))
		}
		rest = body[end+3:]
	}
	return out
}

// extractJSONValue pulls the first balanced top-level JSON object or array out
// of free text.
func extractJSONValue(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	open := s[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// decodeLoose parses a candidate JSON value into tool calls, accepting the
// name synonyms the models actually emit.
func decodeLoose(body string) ([]types.ToolCall, []string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil
	}

	var objs []map[string]interface{}
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &objs); err != nil {
			return nil, []string{fmt.Sprintf("malformed JSON array: %v", err)}
		}
	} else {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(body), &obj); err != nil {
			return nil, []string{fmt.Sprintf("malformed JSON object: %v", err)}
		}
		objs = []map[string]interface{}{obj}
	}

	var calls []types.ToolCall
	var errs []string
	for i, obj := range objs {
		name := looseName(obj)
		if name == "" {
			errs = append(errs, fmt.Sprintf("object %d has no recognizable operation name", i))
			continue
		}
		args, _ := obj["arguments"].(map[string]interface{})
		if args == nil {
			if p, ok := obj["parameters"].(map[string]interface{}); ok {
				args = p
			}
		}
		calls = append(calls, types.ToolCall{Name: name, Arguments: args})
	}
	return calls, errs
}

// looseName accepts name/tool/type/action as synonyms for the operation name.
func looseName(obj map[string]interface{}) string {
	for _, key := range []string{"name", "tool", "type", "action"} {
		if v, ok := obj[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
