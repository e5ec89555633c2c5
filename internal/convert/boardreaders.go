package convert

import "strings"

// KnownBoardreaders converts a known_boardreaders_list-kind source file:
// each line is "name field1 field2 ...", emitted as
// `name: ["field1", "field2", ...]` with any pre-existing quoting on the
// fields stripped and re-applied consistently (spec §8 scenario 4).
func KnownBoardreaders(text string) string {
	clean := toASCIIDots(text)
	var out strings.Builder
	for _, line := range strings.Split(clean, "\n") {
		line = stripComment(line)
		if strings.TrimSpace(line) == "" {
			continue
		}
		tokens := tokenize(line)
		if len(tokens) < 1 {
			continue
		}
		name := tokens[0]
		fields := tokens[1:]
		quoted := make([]string, len(fields))
		for i, f := range fields {
			quoted[i] = quoteEscaped(unquote(f))
		}
		out.WriteString(name)
		out.WriteString(": [")
		out.WriteString(strings.Join(quoted, ", "))
		out.WriteString("]\n")
	}
	return out.String()
}

// tokenize splits a line on whitespace, treating a double-quoted span as
// a single token (quotes retained so unquote can strip them uniformly).
func tokenize(line string) []string {
	var tokens []string
	var cur strings.Builder
	inQuotes := false
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case r == ' ' || r == '\t':
			if inQuotes {
				cur.WriteRune(r)
			} else {
				flush()
			}
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}
