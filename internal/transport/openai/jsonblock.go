package openai

import (
	"errors"
	"strings"
)

var errNoJSON = errors.New("no JSON object in response")

// ExtractJSON returns the JSON object embedded in free text: the content of the first
// ```json fence if present, otherwise the first balanced {...} block.
// The scanner tracks string literals so braces inside strings do not count.
func ExtractJSON(text string) (string, error) {
	if body, ok := fenced(text); ok {
		if obj, err := balanced(body); err == nil {
			return obj, nil
		}
	}
	return balanced(text)
}

func fenced(text string) (string, bool) {
	lower := strings.ToLower(text)
	start := strings.Index(lower, "```json")
	if start < 0 {
		return "", false
	}
	body := text[start+len("```json"):]
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return body, true
}

func balanced(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", errNoJSON
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", errNoJSON
}
