// Package recovery rebuilds a stage's watermark state and failure log
// directly from the two authoritative presence sets either side of that
// stage, discarding whatever the state file previously held (spec
// §4.11). Import and migrate recovery are the same computation over a
// different pair of sets, so both dispatcher modes call Compute.
package recovery

import (
	"sort"

	"github.com/vitaliisemenov/run-record-archiver/internal/state"
)

// Result is the rebuilt watermark plus the set of runs now considered
// failed.
type Result struct {
	LastContiguousRun int
	LastAttemptedRun  int
	Missing           []int
}

// Compute derives Result from source (the upstream presence set, e.g.
// filesystem runs for import recovery) and dest (the downstream
// presence set, e.g. configuration-store runs for import recovery).
//
// last_attempted is max(dest); last_contiguous walks upward from min(dest)
// while each successor is also present in dest; missing is
// (source \ dest) ∩ {r ≤ last_attempted} — runs beyond the high
// watermark were never attempted, so they are not failures.
func Compute(source, dest map[int]struct{}) Result {
	if len(dest) == 0 {
		return Result{}
	}

	min, max := minMax(dest)
	lastAttempted := max

	lastContiguous := min - 1
	next := min
	for {
		if _, ok := dest[next]; !ok {
			break
		}
		lastContiguous = next
		next++
	}

	var missing []int
	for run := range source {
		if run > lastAttempted {
			continue
		}
		if _, ok := dest[run]; ok {
			continue
		}
		missing = append(missing, run)
	}
	sort.Ints(missing)

	return Result{LastContiguousRun: lastContiguous, LastAttemptedRun: lastAttempted, Missing: missing}
}

func minMax(set map[int]struct{}) (min, max int) {
	first := true
	for run := range set {
		if first {
			min, max = run, run
			first = false
			continue
		}
		if run < min {
			min = run
		}
		if run > max {
			max = run
		}
	}
	return min, max
}

// Apply overwrites the stage's state file and failure log with r,
// discarding whatever was previously recorded (spec §4.11 step 4).
func Apply(stateFilePath, failureLogPath string, r Result) error {
	if err := state.Write(stateFilePath, state.Watermark{
		LastContiguousRun: r.LastContiguousRun,
		LastAttemptedRun:  r.LastAttemptedRun,
	}); err != nil {
		return err
	}
	return state.WriteFailures(failureLogPath, r.Missing)
}
