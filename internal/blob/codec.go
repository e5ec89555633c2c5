// Package blob implements the archive blob wire format: packing a
// directory of files into one delimited text document, and the inverse
// unpack (spec §4.6).
package blob

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/vitaliisemenov/run-record-archiver/internal/errs"
)

// tailOrder is the fixed trailing order for recognized file kinds. Files
// not in this set sort before it, case-insensitively by name.
var tailOrder = []string{
	"boot.fcl",
	"known_boardreaders_list.fcl",
	"setup.fcl",
	"environment.fcl",
	"metadata.fcl",
	"settings.fcl",
	"ranks.fcl",
	"RunHistory.fcl",
	"RunHistory2.fcl",
}

var tailSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(tailOrder))
	for _, name := range tailOrder {
		m[name] = struct{}{}
	}
	return m
}()

var delimiterRe = regexp.MustCompile(`(?s)\n#####\n(.+?):\n#####\n`)

// timestampLayout produces stable English month/day names independent of
// OS locale, matching the POSIX "C" locale guarantee of spec §4.6 — Go's
// time.Format never consults system locale, so no extra work is needed
// beyond picking the layout.
const timestampLayout = "Jan 02 15:04 UTC"

// nowFunc is overridable in tests so packed documents are reproducible.
var nowFunc = func() time.Time { return time.Now().UTC() }

// FileOrder returns the pack order for the file names present in names
// (not full paths): non-tail files first, case-insensitive sorted by
// name, followed by tail-set files in their fixed order.
func FileOrder(names []string) []string {
	present := make(map[string]struct{}, len(names))
	for _, n := range names {
		present[n] = struct{}{}
	}

	var nonTail []string
	for _, n := range names {
		if _, isTail := tailSet[n]; !isTail {
			nonTail = append(nonTail, n)
		}
	}
	sort.Slice(nonTail, func(i, j int) bool {
		return strings.ToLower(nonTail[i]) < strings.ToLower(nonTail[j])
	})

	var tail []string
	for _, n := range tailOrder {
		if _, ok := present[n]; ok {
			tail = append(tail, n)
		}
	}

	return append(nonTail, tail...)
}

// Pack reads every flat file in dir and packs them into the archive blob
// text document for runNumber.
func Pack(runNumber int, dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errs.Wrap(errs.KindBlobCreation, "read export directory", err).WithRun(runNumber).WithField("dir", dir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}

	contents := make(map[string]string, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", errs.Wrap(errs.KindBlobCreation, "read file for packing", err).WithRun(runNumber).WithField("file", name)
		}
		contents[name] = string(data) // permissive UTF-8: Go strings don't validate
	}

	order := FileOrder(names)
	ts := nowFunc().Format(timestampLayout)

	var out strings.Builder
	fmt.Fprintf(&out, "Start of Record\nRun Number: %d\nPacked on %s\n", runNumber, ts)
	for _, name := range order {
		out.WriteString("\n#####\n")
		out.WriteString(name)
		out.WriteString(":\n#####\n")
		out.WriteString(contents[name])
	}
	fmt.Fprintf(&out, "\nEnd of Record\nRun Number: %d\nPacked on %s\n", runNumber, ts)

	return out.String(), nil
}

// Unpack parses a blob document into a map from relative filename to
// content. It fails with KindBlobCreation ("no-delimiters") if the
// delimiter regex matches zero files.
func Unpack(document string) (map[string]string, error) {
	matches := delimiterRe.FindAllStringSubmatchIndex(document, -1)
	if len(matches) == 0 {
		return nil, errs.New(errs.KindBlobCreation, "no-delimiters: document contains no packed files")
	}

	files := make(map[string]string, len(matches))
	for i, m := range matches {
		nameStart, nameEnd := m[2], m[3]
		name := document[nameStart:nameEnd]

		contentStart := m[1]
		contentEnd := len(document)
		if i+1 < len(matches) {
			contentEnd = matches[i+1][0]
		} else if idx := strings.Index(document[contentStart:], "\nEnd of Record"); idx >= 0 {
			contentEnd = contentStart + idx
		}

		files[name] = document[contentStart:contentEnd]
	}
	return files, nil
}
