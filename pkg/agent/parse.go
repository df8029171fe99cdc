package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/gridmind/gridmind/pkg/domain"
)

var (
	actionLineRe = regexp.MustCompile(`(?m)^\s*Action:\s*(.+)$`)
	inputLabelRe = regexp.MustCompile(`Action Input:`)
)

// parseReAct extracts an action from the reasoning service's free-text
// reply. It tolerates multi-line thoughts before the action, inline or
// multi-line JSON arguments, and single-quote wrapped payloads. Returns nil
// when no action can be recovered; the caller then treats the whole reply
// as a free-text answer.
func parseReAct(text string) *domain.Action {
	var name string
	var input map[string]any

	// Fast path: line-oriented scan.
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "Action:"); ok {
			name = strings.TrimSpace(rest)
		} else if rest, ok := strings.CutPrefix(line, "Action Input:"); ok {
			input = parseInputJSON(strings.TrimSpace(rest))
		}
	}

	// Fallback: regex scan of the whole reply for an action token and a
	// brace-delimited object (the JSON may span lines or be wrapped in
	// markdown).
	if name == "" {
		if m := actionLineRe.FindStringSubmatch(text); m != nil {
			name = strings.TrimSpace(m[1])
		}
	}
	if input == nil {
		if loc := inputLabelRe.FindStringIndex(text); loc != nil {
			if obj := extractJSONObject(text[loc[1]:]); obj != "" {
				input = parseInputJSON(obj)
			}
		}
	}

	if name == "" || input == nil {
		return nil
	}
	return &domain.Action{Name: name, Input: input}
}

// parseInputJSON decodes an argument payload, stripping a single-quote
// wrapper if present (a common malformation).
func parseInputJSON(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "'") && strings.HasSuffix(raw, "'") && len(raw) >= 2 {
		raw = raw[1 : len(raw)-1]
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

// extractJSONObject returns the first balanced brace-delimited object in s,
// honoring double-quoted strings and escapes.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
