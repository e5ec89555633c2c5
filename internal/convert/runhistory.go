package convert

import "fmt"

// GenerateRunHistory derives a RunHistory.fcl-kind summary from raw
// metadata text: config name, components, and whatever of the start/stop
// times are present. runNumber is optional (0 means "not supplied") since
// the contract allows a bare metadata-only summary.
func GenerateRunHistory(rawMetadata string, runNumber int) string {
	name := ExtractConfigName(rawMetadata)
	components := ExtractComponents(rawMetadata)
	start, hasStart, stop, hasStop := ExtractTimes(rawMetadata)

	var out string
	if runNumber > 0 {
		out += fmt.Sprintf("run_number: %d\n", runNumber)
	}
	out += fmt.Sprintf("config_name: %s\n", quoteEscaped(name))
	out += fmt.Sprintf("component_count: %d\n", len(components))
	for i, c := range components {
		out += fmt.Sprintf("component_%d: %s\n", i, quoteEscaped(c))
	}
	if hasStart {
		out += fmt.Sprintf("start_time: %s\n", quoteEscaped(start))
	}
	if hasStop {
		out += fmt.Sprintf("stop_time: %s\n", quoteEscaped(stop))
	}
	return out
}
