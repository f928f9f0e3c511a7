package provider

import (
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tidwall/gjson"
)

// ExtractJSONObjects pulls candidate JSON objects out of free-form agent
// output. Fenced ```json blocks are taken first; the remaining text is
// scanned for balanced top-level braces. Each candidate is run through
// jsonrepair so near-JSON (trailing commas, single quotes) still parses.
// Invalid candidates are dropped.
func ExtractJSONObjects(raw string) []string {
	var out []string
	for _, c := range fencedBlocks(raw) {
		if fixed, ok := repairObject(c); ok {
			out = append(out, fixed)
		}
	}
	for _, c := range balancedObjects(stripFences(raw)) {
		if fixed, ok := repairObject(c); ok {
			out = append(out, fixed)
		}
	}
	return out
}

func repairObject(candidate string) (string, bool) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" || candidate[0] != '{' {
		return "", false
	}
	if gjson.Valid(candidate) {
		return candidate, true
	}
	fixed, err := jsonrepair.JSONRepair(candidate)
	if err != nil || !gjson.Valid(fixed) {
		return "", false
	}
	if !strings.HasPrefix(strings.TrimSpace(fixed), "{") {
		return "", false
	}
	return fixed, true
}

// fencedBlocks returns the bodies of ```json (or bare ```) fenced blocks.
func fencedBlocks(raw string) []string {
	var blocks []string
	lines := strings.Split(raw, "\n")
	var body []string
	inFence := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if inFence {
				blocks = append(blocks, strings.Join(body, "\n"))
				body = nil
				inFence = false
			} else {
				lang := strings.TrimPrefix(trimmed, "```")
				if lang == "" || strings.EqualFold(lang, "json") {
					inFence = true
				}
			}
			continue
		}
		if inFence {
			body = append(body, line)
		}
	}
	return blocks
}

func stripFences(raw string) string {
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	inFence := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if !inFence {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// balancedObjects scans for top-level {...} spans, honoring string literals
// and escapes so braces inside strings do not terminate a span.
func balancedObjects(s string) []string {
	var spans []string
	depth := 0
	start := -1
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					spans = append(spans, s[start:i+1])
					start = -1
				}
			}
		}
	}
	return spans
}
