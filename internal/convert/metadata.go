package convert

import "strings"

// DefaultConfigName is used when a run's metadata carries no explicit
// config name (spec §3).
const DefaultConfigName = "standard"

// Metadata converts a metadata-kind source file: "key: value" lines plus
// "Component #N" repeated fields, with multi-line logfile sections
// (a key with an empty value, followed by further non-blank lines up to
// the next blank line) collapsed into a single array value.
func Metadata(text string) string {
	clean := toASCIIDots(text)
	lines := strings.Split(clean, "\n")

	var out strings.Builder
	i := 0
	for i < len(lines) {
		line := stripComment(lines[i])
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			i++
			continue
		}
		key, value, ok := splitKeyValue(line)
		if !ok {
			i++
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			// Candidate logfile section: collect subsequent non-blank
			// lines until the first blank line (or EOF).
			var section []string
			j := i + 1
			for j < len(lines) && strings.TrimSpace(lines[j]) != "" {
				section = append(section, strings.TrimSpace(stripComment(lines[j])))
				j++
			}
			out.WriteString(normalizeKey(key))
			out.WriteString(": [")
			for k, s := range section {
				if k > 0 {
					out.WriteString(", ")
				}
				out.WriteString(quoteEscaped(unquote(s)))
			}
			out.WriteString("]\n")
			i = j + 1
			continue
		}
		out.WriteString(normalizeKey(key))
		out.WriteString(": ")
		out.WriteString(formatValue(value))
		out.WriteString("\n")
		i++
	}
	return out.String()
}

// ExtractConfigName returns the "Config name" value from raw (unconverted)
// metadata text, defaulting to DefaultConfigName when absent.
func ExtractConfigName(rawMetadata string) string {
	for _, line := range strings.Split(rawMetadata, "\n") {
		key, value, ok := splitKeyValue(stripComment(line))
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(key), "Config name") {
			v := unquote(strings.TrimSpace(value))
			if v != "" {
				return v
			}
		}
	}
	return DefaultConfigName
}

// ExtractComponents returns every "Component #N" value in raw metadata,
// in file order.
func ExtractComponents(rawMetadata string) []string {
	var components []string
	for _, line := range strings.Split(rawMetadata, "\n") {
		key, value, ok := splitKeyValue(stripComment(line))
		if !ok {
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(key), "Component #") {
			components = append(components, strings.TrimSpace(value))
		}
	}
	return components
}

// ExtractTimes returns the DAQInterface start/stop times present in raw
// metadata. hasStop is false when no stop time line is present, which
// governs whether the import stage's update phase runs at all (spec §4.9).
func ExtractTimes(rawMetadata string) (start string, hasStart bool, stop string, hasStop bool) {
	for _, line := range strings.Split(rawMetadata, "\n") {
		key, value, ok := splitKeyValue(stripComment(line))
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "DAQInterface start time":
			start = strings.TrimSpace(value)
			hasStart = start != ""
		case "DAQInterface stop time":
			stop = strings.TrimSpace(value)
			hasStop = stop != ""
		}
	}
	return start, hasStart, stop, hasStop
}
