// Package fuzz implements the fuzz mode consulted by a stage's
// process_one hook (spec §6 "fuzz" config section): a closed set of named
// faults driven entirely by configuration, used so stage-engine tests can
// exercise retry and permanent-skip paths deterministically instead of
// relying on sleeps or real flakiness.
package fuzz

import (
	"sync"
	"time"

	"github.com/vitaliisemenov/run-record-archiver/internal/errs"
)

// Fault names the closed set of injectable faults.
type Fault string

const (
	FaultPermanentSkip Fault = "permanent_skip"
	FaultTransientFail Fault = "transient_fail"
	FaultLatency       Fault = "latency"
)

// Config names, per run number, which fault to inject and how many times
// a transient failure should recur before succeeding.
type Config struct {
	Enabled           bool
	PermanentSkipRuns map[int]bool
	TransientFailRuns map[int]int // run -> number of failures before success
	LatencyRuns       map[int]time.Duration
}

// Injector applies Config during process_one. It is safe for concurrent
// use by the stage engine's worker pool.
type Injector struct {
	cfg Config
	mu  sync.Mutex
}

func NewInjector(cfg Config) *Injector {
	if cfg.TransientFailRuns == nil {
		cfg = Config{
			Enabled:           cfg.Enabled,
			PermanentSkipRuns: cfg.PermanentSkipRuns,
			TransientFailRuns: map[int]int{},
			LatencyRuns:       cfg.LatencyRuns,
		}
	}
	return &Injector{cfg: cfg}
}

// Consult is called by a stage's process_one before doing real work. It
// returns a non-nil error when a fault fires for run — callers should
// return that error directly, since its Kind already carries the correct
// retry semantics (errs.KindPermanentSkip short-circuits retries;
// anything else is retryable like a normal stage failure).
func (inj *Injector) Consult(run int) error {
	if inj == nil || !inj.cfg.Enabled {
		return nil
	}

	if inj.cfg.PermanentSkipRuns[run] {
		return errs.New(errs.KindPermanentSkip, "fuzz: permanent skip injected").WithRun(run)
	}

	if d, ok := inj.cfg.LatencyRuns[run]; ok {
		time.Sleep(d)
	}

	inj.mu.Lock()
	remaining, ok := inj.cfg.TransientFailRuns[run]
	if ok && remaining > 0 {
		inj.cfg.TransientFailRuns[run] = remaining - 1
		inj.mu.Unlock()
		return errs.New(errs.KindConfigurationStore, "fuzz: transient failure injected").WithRun(run)
	}
	inj.mu.Unlock()
	return nil
}
