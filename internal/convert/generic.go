package convert

import "strings"

// genericKeyValue converts a "key: value" (or "key value") text file to
// its FHiCL equivalent, applying the shared converter invariants: key
// normalization, numeric-vs-quoted-string values, verbatim arrays,
// comment stripping, and non-ASCII-to-'.' mapping. It backs the Boot,
// Settings, Setup, Environment, and Ranks converters, which differ only
// in the file kind they are registered under — the source systems all
// use the same flat key/value text convention.
func genericKeyValue(text string) string {
	clean := toASCIIDots(text)
	var out strings.Builder
	for _, line := range strings.Split(clean, "\n") {
		line = stripComment(line)
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, ok := splitKeyValue(line)
		if !ok {
			continue
		}
		out.WriteString(normalizeKey(key))
		out.WriteString(": ")
		out.WriteString(formatValue(value))
		out.WriteString("\n")
	}
	return out.String()
}

// splitKeyValue splits a line on the first colon if present, else the
// first run of whitespace.
func splitKeyValue(line string) (key, value string, ok bool) {
	if idx := strings.Index(line, ":"); idx >= 0 {
		return line[:idx], line[idx+1:], true
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", "", false
	}
	key = fields[0]
	value = strings.TrimSpace(strings.TrimPrefix(line, key))
	return key, value, true
}

// Boot converts a boot.fcl-kind source file.
func Boot(text string) string { return genericKeyValue(text) }

// Settings converts a settings.fcl-kind source file.
func Settings(text string) string { return genericKeyValue(text) }

// Setup converts a setup.fcl-kind source file.
func Setup(text string) string { return genericKeyValue(text) }

// Environment converts an environment.fcl-kind source file.
func Environment(text string) string { return genericKeyValue(text) }

// Ranks converts a ranks.fcl-kind source file.
func Ranks(text string) string { return genericKeyValue(text) }
