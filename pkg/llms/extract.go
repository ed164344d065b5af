package llms

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ExtractJSON recovers a JSON value from raw model output. It is the entire
// bridge between model text and the typed core, so it tolerates the usual
// model quirks in two passes:
//
//  1. strip markdown code fences, <think> blocks, and // and /* */ comments
//     outside string literals, then parse;
//  2. if that fails, additionally remove trailing commas and parse again.
//
// Anything still unparseable is an error; callers record a parse failure
// and carry on with an empty action list.
func ExtractJSON(text string) (json.RawMessage, error) {
	cleaned := stripFences(strings.TrimSpace(text))
	cleaned = thinkPattern.ReplaceAllString(cleaned, "")
	cleaned = stripComments(cleaned)
	cleaned = clampToBraces(cleaned)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return nil, fmt.Errorf("no JSON content in model output")
	}

	if json.Valid([]byte(cleaned)) {
		return json.RawMessage(cleaned), nil
	}

	retry := trailingCommaPattern.ReplaceAllString(cleaned, "$1")
	if json.Valid([]byte(retry)) {
		return json.RawMessage(retry), nil
	}

	return nil, fmt.Errorf("model output is not valid JSON")
}

var (
	thinkPattern         = regexp.MustCompile(`(?s)<think>.*?</think>`)
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// stripFences removes a surrounding markdown code fence, including an
// optional language tag on the opening line.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	// Drop the opening fence line and, when present, the closing one.
	lines = lines[1:]
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			lines = append(lines[:i], lines[i+1:]...)
			break
		}
	}
	return strings.Join(lines, "\n")
}

// stripComments removes // line comments and /* */ block comments while
// leaving string literals intact.
func stripComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]

		if inString {
			b.WriteByte(ch)
			if escaped {
				escaped = false
			} else if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
			}
			continue
		}

		switch {
		case ch == '"':
			inString = true
			b.WriteByte(ch)
		case ch == '/' && i+1 < len(s) && s[i+1] == '/':
			for i < len(s) && s[i] != '\n' {
				i++
			}
			if i < len(s) {
				b.WriteByte('\n')
			}
		case ch == '/' && i+1 < len(s) && s[i+1] == '*':
			i += 2
			for i+1 < len(s) && !(s[i] == '*' && s[i+1] == '/') {
				i++
			}
			i++ // skip the trailing '/'
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// clampToBraces trims prose surrounding the outermost JSON value.
func clampToBraces(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	var end int
	if s[start] == '{' {
		end = strings.LastIndexByte(s, '}')
	} else {
		end = strings.LastIndexByte(s, ']')
	}
	if end <= start {
		return s
	}
	return s[start : end+1]
}
