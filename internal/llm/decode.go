package llm

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrUnparseable wraps JSON decode failures so callers can distinguish
// malformed model output from transport errors.
var ErrUnparseable = eris.New("llm: unparseable model output")

// Decode cleans a model completion (markdown fences, prose around the JSON
// object, truncation) and unmarshals it into T. Returns ErrUnparseable-wrapped
// errors on failure; callers must not write any fields in that case.
func Decode[T any](text string) (T, error) {
	var out T
	cleaned := CleanJSON(text)
	if cleaned == "" {
		return out, eris.Wrap(ErrUnparseable, "empty completion")
	}
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return out, eris.Wrap(ErrUnparseable, err.Error())
	}
	return out, nil
}

// CleanJSON strips markdown fences, extracts the JSON object, and repairs
// truncation. Models routinely wrap JSON in ```json fences or prepend prose
// despite being told not to.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	text = strings.TrimSpace(text)

	return repairTruncatedJSON(text)
}

// repairTruncatedJSON closes any unclosed brackets or braces in truncated
// JSON. Output cut off at the max-token limit is the common cause.
func repairTruncatedJSON(text string) string {
	if len(text) == 0 {
		return text
	}

	var stack []byte
	inString := false
	escape := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if escape {
			escape = false
			continue
		}
		if c == '\\' && inString {
			escape = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case '{', '[':
			stack = append(stack, c)
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		text += `"`
	}

	// Trim a dangling comma before closing.
	trimmed := strings.TrimRight(text, " \t\n")
	if strings.HasSuffix(trimmed, ",") {
		text = strings.TrimSuffix(trimmed, ",")
	}

	for i := len(stack) - 1; i >= 0; i-- {
		switch stack[i] {
		case '{':
			text += "}"
		case '[':
			text += "]"
		}
	}

	return text
}

// NormalizeEnum lowercases and matches a value against an allow-list,
// returning ("", false) for anything not in the list. Unknown enum values
// from the model are dropped rather than stored.
func NormalizeEnum(value string, allowed []string) (string, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, a := range allowed {
		if v == a {
			return a, true
		}
	}
	return "", false
}

// FilterAllowed keeps only values present in the allow-list, normalized to
// lowercase, deduplicated, preserving input order.
func FilterAllowed(values, allowed []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, v := range values {
		norm, ok := NormalizeEnum(v, allowed)
		if !ok || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, norm)
	}
	return out
}
