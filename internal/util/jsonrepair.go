package util

import (
	"encoding/json"
	"strings"
	"unicode"

	moderr "github.com/lizzyg/qwenai/errors"
)

// RepairJSON coerces a model response toward valid JSON: it strips markdown
// fences and the prose around the first object or array. Text is cut only
// after that value's own closing bracket, so a truncated value keeps the keys
// that follow its inner objects. Returns the result and whether it changed.
func RepairJSON(s string) (string, bool) {
	out := extractValue(s)
	return out, out != s
}

// stripFences removes ```json ... ``` or ``` ... ``` around s.
func stripFences(s string) string {
	if strings.HasPrefix(s, "```") && strings.HasSuffix(s, "```") && len(s) >= 6 {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
		if strings.HasPrefix(strings.ToLower(s), "json") {
			s = strings.TrimSpace(s[4:])
		}
	}
	return s
}

func extractValue(s string) string {
	s = stripFences(strings.TrimSpace(s))
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	s = s[start:]
	var stack []byte
	inStr, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return s
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[:i+1]
			}
		}
	}
	return s
}

// toolArgFixups run in order; each works on the previous one's output.
var toolArgFixups = []func(string) string{
	blankToEmptyObject,
	func(s string) string { r, _ := RepairJSON(s); return r },
	normalizeQuotes,
	quoteKeys,
	quoteBareValues,
	removeTrailingCommas,
	balanceBrackets,
}

// RepairToolArguments returns raw unchanged when it is valid JSON. Otherwise it
// applies a fixed sequence of repairs, re-parsing after each, and gives up with
// a *MalformedToolArgumentsError carrying the original text.
func RepairToolArguments(raw string) (json.RawMessage, error) {
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw), nil
	}
	s := raw
	for _, fix := range toolArgFixups {
		s = fix(s)
		if json.Valid([]byte(s)) {
			return json.RawMessage(s), nil
		}
	}
	return nil, &moderr.MalformedToolArgumentsError{Raw: raw}
}

func blankToEmptyObject(s string) string {
	if strings.TrimSpace(s) == "" {
		return "{}"
	}
	return s
}

var quoteReplacer = strings.NewReplacer(
	"“", `"`, "”", `"`, "„", `"`, "″", `"`,
	"‘", "'", "’", "'",
)

// normalizeQuotes turns typographic quotes into ASCII and single-quoted
// strings into double-quoted ones. A single quote only opens a string where a
// JSON value or key may start, so apostrophes inside words survive.
func normalizeQuotes(s string) string {
	s = quoteReplacer.Replace(s)
	var b strings.Builder
	b.Grow(len(s) + 8)
	inDouble, escaped := false, false
	prev := rune(0) // last significant rune outside strings
	rs := []rune(s)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if inDouble {
			b.WriteRune(r)
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inDouble = false
				prev = '"'
			}
			continue
		}
		if r == '"' {
			inDouble = true
			b.WriteRune(r)
			continue
		}
		if r == '\'' && (prev == 0 || strings.ContainsRune("{[,:", prev)) {
			j := i + 1
			var lit strings.Builder
			closed := false
			for ; j < len(rs); j++ {
				c := rs[j]
				if c == '\\' && j+1 < len(rs) {
					if rs[j+1] != '\'' {
						lit.WriteRune(c)
					}
					lit.WriteRune(rs[j+1])
					j++
					continue
				}
				if c == '\'' {
					closed = true
					break
				}
				if c == '"' {
					lit.WriteString(`\"`)
					continue
				}
				lit.WriteRune(c)
			}
			if closed {
				b.WriteByte('"')
				b.WriteString(lit.String())
				b.WriteByte('"')
				i = j
				prev = '"'
				continue
			}
		}
		b.WriteRune(r)
		if !unicode.IsSpace(r) {
			prev = r
		}
	}
	return b.String()
}

// quoteKeys quotes object keys that are bare (`{a: 1}`) or only carry the
// closing quote (`{a": 1}`).
func quoteKeys(s string) string {
	rs := []rune(s)
	out := make([]rune, 0, len(rs)+16)
	inStr, escaped := false, false
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		out = append(out, r)
		if inStr {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inStr = false
			}
			continue
		}
		if r == '"' {
			inStr = true
			continue
		}
		if r != '{' && r != ',' {
			continue
		}
		j := i + 1
		for j < len(rs) && unicode.IsSpace(rs[j]) {
			j++
		}
		if j >= len(rs) || !isIdentStart(rs[j]) {
			continue
		}
		k := j
		for k < len(rs) && isIdentPart(rs[k]) {
			k++
		}
		m := k
		for m < len(rs) && unicode.IsSpace(rs[m]) {
			m++
		}
		switch {
		case m < len(rs) && rs[m] == ':':
			out = append(out, rs[i+1:j]...)
			out = append(out, '"')
			out = append(out, rs[j:k]...)
			out = append(out, '"')
			out = append(out, rs[k:m]...)
			i = m - 1
		case k+1 < len(rs) && rs[k] == '"' && rs[k+1] == ':':
			out = append(out, rs[i+1:j]...)
			out = append(out, '"')
			out = append(out, rs[j:k+1]...)
			i = k
		}
	}
	return string(out)
}

// quoteBareValues quotes identifier-like values (`{"domain": scene}`), leaving
// the JSON literals alone.
func quoteBareValues(s string) string {
	rs := []rune(s)
	out := make([]rune, 0, len(rs)+16)
	inStr, escaped := false, false
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		out = append(out, r)
		if inStr {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inStr = false
			}
			continue
		}
		if r == '"' {
			inStr = true
			continue
		}
		if r != ':' {
			continue
		}
		j := i + 1
		for j < len(rs) && unicode.IsSpace(rs[j]) {
			j++
		}
		if j >= len(rs) || !isIdentStart(rs[j]) {
			continue
		}
		k := j
		for k < len(rs) && isIdentPart(rs[k]) {
			k++
		}
		word := string(rs[j:k])
		if word == "true" || word == "false" || word == "null" {
			continue
		}
		m := k
		for m < len(rs) && unicode.IsSpace(rs[m]) {
			m++
		}
		if m < len(rs) && !strings.ContainsRune(",}]", rs[m]) {
			continue
		}
		out = append(out, rs[i+1:j]...)
		out = append(out, '"')
		out = append(out, rs[j:k]...)
		out = append(out, '"')
		i = k - 1
	}
	return string(out)
}

func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inStr, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		if c == '"' {
			inStr = true
			b.WriteByte(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// balanceBrackets closes unterminated objects and arrays. Text that stops
// inside a string or right after a ':' or ',' is left alone: the missing value
// cannot be guessed.
func balanceBrackets(s string) string {
	var stack []byte
	inStr, escaped := false, false
	last := byte(0)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
				last = c
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return s
			}
			stack = stack[:len(stack)-1]
		}
		if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
			last = c
		}
	}
	if inStr || len(stack) == 0 || last == ':' || last == ',' {
		return s
	}
	var b strings.Builder
	b.WriteString(s)
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }

func isIdentPart(r rune) bool { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }
