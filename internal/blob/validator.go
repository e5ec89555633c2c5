package blob

import (
	"fmt"
	"regexp"
	"strings"
)

// FieldSpec names, per source file, the fhicl keys whose values should be
// extracted and the label to report them under (spec §4.7).
type FieldSpec map[string]map[string]string // filename -> { fhicl_key -> param_label }

// Validate unpacks document and extracts one value per (filename, fhicl_key)
// pair named in spec. It never returns an error itself — a missing file, a
// missing key, or a key appearing more than once in a file is recorded as a
// per-label error message in the result map and counted in errorCount.
func Validate(document string, spec FieldSpec) (errorCount int, results map[string]string) {
	results = make(map[string]string)

	files, err := Unpack(document)
	if err != nil {
		for filename, fields := range spec {
			for _, label := range fields {
				results[label] = fmt.Sprintf("unpack failed: %v", err)
				errorCount++
			}
			_ = filename
		}
		return errorCount, results
	}

	for filename, fields := range spec {
		content, ok := files[filename]
		if !ok {
			for _, label := range fields {
				results[label] = fmt.Sprintf("missing file: %s", filename)
				errorCount++
			}
			continue
		}
		for key, label := range fields {
			value, extractErr := extractKeyValue(content, key)
			if extractErr != nil {
				results[label] = extractErr.Error()
				errorCount++
				continue
			}
			results[label] = value
		}
	}
	return errorCount, results
}

// extractKeyValue finds exactly one line of the form "<key>:\s+(.+)" in
// content. Zero or more than one match is an error — the field is ambiguous
// or absent either way.
func extractKeyValue(content, key string) (string, error) {
	re := regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(key) + `:\s+(.+)$`)
	matches := re.FindAllStringSubmatch(content, -1)
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("key %q not found", key)
	case 1:
		return strings.TrimRight(matches[0][1], "\r"), nil
	default:
		return "", fmt.Errorf("key %q found %d times, expected exactly one", key, len(matches))
	}
}
