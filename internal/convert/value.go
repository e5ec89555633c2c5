package convert

import (
	"strconv"
	"strings"
)

// normalizeKey replaces spaces, hyphens, parentheses, slashes, and dots
// with underscores, per the converter key-normalization invariant (spec
// §4.5). Case is left untouched.
func normalizeKey(key string) string {
	replacer := strings.NewReplacer(
		" ", "_",
		"-", "_",
		"(", "_",
		")", "_",
		"/", "_",
		".", "_",
	)
	return replacer.Replace(strings.TrimSpace(key))
}

// isArrayLiteral reports whether value already uses FHiCL array syntax,
// which must be preserved verbatim.
func isArrayLiteral(value string) bool {
	v := strings.TrimSpace(value)
	return strings.HasPrefix(v, "[") && strings.HasSuffix(v, "]")
}

// isNumericLiteral reports whether value parses as an integer or float,
// in which case it is emitted unquoted.
func isNumericLiteral(value string) bool {
	v := strings.TrimSpace(value)
	if v == "" {
		return false
	}
	if _, err := strconv.ParseInt(v, 10, 64); err == nil {
		return true
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return true
	}
	return false
}

// unquote strips one layer of surrounding double quotes, if present.
func unquote(value string) string {
	v := strings.TrimSpace(value)
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		return v[1 : len(v)-1]
	}
	return v
}

// quoteEscaped double-quotes value, escaping any inner double quotes.
func quoteEscaped(value string) string {
	escaped := strings.ReplaceAll(value, `"`, `\"`)
	return `"` + escaped + `"`
}

// formatValue renders a raw scalar value per the converter invariants:
// existing arrays pass through verbatim, numeric literals are unquoted,
// everything else is quoted with inner-quote escaping.
func formatValue(raw string) string {
	trimmed := strings.TrimSpace(raw)
	switch {
	case isArrayLiteral(trimmed):
		return trimmed
	case isNumericLiteral(trimmed):
		return trimmed
	default:
		return quoteEscaped(unquote(trimmed))
	}
}

// stripComment removes a trailing '#'-introduced comment that falls
// outside any double-quoted span.
func stripComment(line string) string {
	inQuotes := false
	for i, c := range line {
		switch c {
		case '"':
			inQuotes = !inQuotes
		case '#':
			if !inQuotes {
				return line[:i]
			}
		}
	}
	return line
}
