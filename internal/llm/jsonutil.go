package llm

import (
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// fencePattern matches one markdown code fence holding an object.
var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?[ \t]*\n?(\\{.*?\\})\\s*```")

// JSONCandidates returns the JSON objects embedded in model output in the
// order they should be tried: fenced blocks first, then every balanced
// top-level object in the text. Braces inside JSON strings do not count. An
// object still open at the end of the text is the last candidate so Repair
// can close it. Candidates have comments and trailing commas removed.
func JSONCandidates(content string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		s = cleanJSON(s)
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	for _, m := range fencePattern.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	objects, tail := scanObjects(content)
	for _, o := range objects {
		add(o)
	}
	if tail != "" {
		add(tail)
	}
	return out
}

// ExtractJSON returns the first candidate of JSONCandidates, or "" when the
// output contains no object at all.
func ExtractJSON(content string) string {
	if c := JSONCandidates(content); len(c) > 0 {
		return c[0]
	}
	return ""
}

// Repair turns almost-JSON (single quotes, unquoted keys, missing braces) into
// valid JSON.
func Repair(raw string) (string, error) {
	return jsonrepair.JSONRepair(raw)
}

// scanObjects returns each balanced top-level {...} span of content. Quotes
// are tracked only inside an object, so apostrophes and stray quotes in the
// surrounding prose are harmless.
func scanObjects(content string) (objects []string, tail string) {
	depth, start := 0, -1
	inString, escaped := false, false

	for i := 0; i < len(content); i++ {
		c := content[i]
		if depth == 0 {
			if c == '{' {
				start, depth = i, 1
				inString, escaped = false, false
			}
			continue
		}
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
				objects = append(objects, content[start:i+1])
			}
		}
	}
	if depth > 0 {
		tail = content[start:]
	}
	return objects, tail
}

// cleanJSON drops // and /* */ comments and trailing commas that appear
// outside strings.
func cleanJSON(raw string) string {
	out := make([]byte, 0, len(raw))
	inString, escaped := false, false

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			out = append(out, c)
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

		switch {
		case c == '"':
			inString = true
			out = append(out, c)
		case c == '/' && i+1 < len(raw) && raw[i+1] == '/':
			for i+1 < len(raw) && raw[i+1] != '\n' {
				i++
			}
			out = trimBlanks(out)
		case c == '/' && i+1 < len(raw) && raw[i+1] == '*':
			end := strings.Index(raw[i+2:], "*/")
			if end < 0 {
				return string(trimBlanks(out))
			}
			i += end + 3
		case c == ',' && closesNext(raw[i+1:]):
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

// closesNext reports whether the next non-blank byte of s ends an object or array.
func closesNext(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			continue
		case '}', ']':
			return true
		}
		return false
	}
	return false
}

func trimBlanks(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}
