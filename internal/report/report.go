// Package report implements the status reporter (spec §4.12): enumerate
// the three data sources — filesystem, configuration store, archive
// store — and summarize totals, ranges, gaps, and cross-source
// differentials.
package report

import (
	"sort"

	"github.com/vitaliisemenov/run-record-archiver/internal/state"
)

// Source is one data source's presence summary.
type Source struct {
	Name  string
	Total int
	Min   int
	Max   int
	Gaps  []int // sorted missing integers within [Min, Max]
}

func summarize(name string, runs map[int]struct{}) Source {
	s := Source{Name: name, Total: len(runs)}
	if len(runs) == 0 {
		return s
	}
	first := true
	for r := range runs {
		if first {
			s.Min, s.Max = r, r
			first = false
			continue
		}
		if r < s.Min {
			s.Min = r
		}
		if r > s.Max {
			s.Max = r
		}
	}
	for r := s.Min; r <= s.Max; r++ {
		if _, ok := runs[r]; !ok {
			s.Gaps = append(s.Gaps, r)
		}
	}
	return s
}

// Differential names one ordered-pair presence comparison: runs present
// in From but absent from To.
type Differential struct {
	From, To string
	Missing  []int
}

func diff(fromName string, from map[int]struct{}, toName string, to map[int]struct{}) Differential {
	var missing []int
	for r := range from {
		if _, ok := to[r]; !ok {
			missing = append(missing, r)
		}
	}
	sort.Ints(missing)
	return Differential{From: fromName, To: toName, Missing: missing}
}

// Status is the full report-status output (spec §4.12).
type Status struct {
	Filesystem         Source
	ConfigurationStore Source
	ArchiveStore       Source
	FSToConfigStore    Differential
	ConfigStoreToAS    Differential
}

// Build enumerates the three sources and computes the operationally
// relevant differentials: FS→configuration-store (what import has not
// yet picked up) and configuration-store→archive-store (what migrate has
// not yet picked up).
func Build(fsRuns, configStoreRuns, archiveStoreRuns map[int]struct{}) Status {
	return Status{
		Filesystem:         summarize("filesystem", fsRuns),
		ConfigurationStore: summarize("configuration-store", configStoreRuns),
		ArchiveStore:       summarize("archive-store", archiveStoreRuns),
		FSToConfigStore:    diff("filesystem", fsRuns, "configuration-store", configStoreRuns),
		ConfigStoreToAS:    diff("configuration-store", configStoreRuns, "archive-store", archiveStoreRuns),
	}
}

// Discrepancy names one place a stored watermark disagrees with what the
// stage's own presence sets actually show.
type Discrepancy struct {
	Stage       string
	Field       string
	Watermark   int
	ActualValue int
}

// CompareState cross-checks each stage's persisted watermark against the
// presence sets that would be recomputed from scratch, surfacing any
// drift between what the state file claims and what the data actually
// shows (spec §4.12's --compare-state mode).
func CompareState(stage, stateFilePath string, dest map[int]struct{}) []Discrepancy {
	w := state.Read(stateFilePath)
	actualAttempted := maxOf(dest)
	actualContiguous := contiguousFrom(dest)

	var found []Discrepancy
	if w.LastAttemptedRun != actualAttempted {
		found = append(found, Discrepancy{Stage: stage, Field: "last_attempted_run", Watermark: w.LastAttemptedRun, ActualValue: actualAttempted})
	}
	if w.LastContiguousRun != actualContiguous {
		found = append(found, Discrepancy{Stage: stage, Field: "last_contiguous_run", Watermark: w.LastContiguousRun, ActualValue: actualContiguous})
	}
	return found
}

func maxOf(set map[int]struct{}) int {
	max := 0
	for r := range set {
		if r > max {
			max = r
		}
	}
	return max
}

func contiguousFrom(set map[int]struct{}) int {
	if len(set) == 0 {
		return 0
	}
	min := 0
	first := true
	for r := range set {
		if first || r < min {
			min = r
			first = false
		}
	}
	contiguous := min - 1
	next := min
	for {
		if _, ok := set[next]; !ok {
			break
		}
		contiguous = next
		next++
	}
	return contiguous
}
