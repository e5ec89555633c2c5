// Package stage implements the abstract stage engine (spec §4.8): the
// Template Method shared by the import and migrate stages — discover
// work, run it through a bounded worker pool with retries, advance
// watermarks, and report failures. Concrete stages supply only the five
// Hooks methods; this package owns every concurrency and state-tracking decision
// so the two stages cannot drift from each other.
package stage

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/vitaliisemenov/run-record-archiver/internal/errs"
	"github.com/vitaliisemenov/run-record-archiver/internal/notify"
	"github.com/vitaliisemenov/run-record-archiver/internal/state"
)

// ProgressReportInterval is the number of batch completions between
// progress log lines (spec §4.8).
const ProgressReportInterval = 10

// Hooks is the set of operations a concrete stage supplies to the engine.
type Hooks interface {
	Name() string
	StateFilePath() string
	FailureLogPath() string
	Discover(ctx context.Context, incremental bool) ([]int, error)
	ProcessOne(ctx context.Context, run int) error
}

// ShutdownFlag reports whether a graceful shutdown has been requested.
// Satisfied by *shutdown.Coordinator; kept as a narrow interface here so
// this package does not import the shutdown package's signal-handling
// machinery.
type ShutdownFlag interface {
	ShutdownRequested() bool
}

// Config governs the engine's concurrency and retry behavior, normally
// sourced from the app config section.
type Config struct {
	ParallelWorkers   int
	RunProcessRetries int
	RetryDelay        time.Duration
	// MaxConcurrency, when > 0, clamps ParallelWorkers — set from the
	// configuration-store adapter's own MaxConcurrency() for both stages
	// (spec §9: a driver-mode configuration-store adapter reports 1).
	MaxConcurrency int
}

// MetricsRecorder reports per-batch outcome counts to an external sink
// (spec §7). A nil recorder, the zero value of *Engine, disables reporting.
type MetricsRecorder interface {
	Push(stage string, attempted, succeeded, failed int) error
}

// Engine runs a stage's discover/process/retry/state-flush/report loop.
type Engine struct {
	hooks    Hooks
	cfg      Config
	shutdown ShutdownFlag
	notifier notify.Sink
	metrics  MetricsRecorder
	logger   *slog.Logger
}

func NewEngine(hooks Hooks, cfg Config, shutdown ShutdownFlag, notifier notify.Sink, logger *slog.Logger) *Engine {
	return &Engine{hooks: hooks, cfg: cfg, shutdown: shutdown, notifier: notifier, logger: logger}
}

// SetMetricsRecorder attaches a destination for per-batch outcome counts.
// Optional; call before Run or RunFailureRecovery.
func (e *Engine) SetMetricsRecorder(m MetricsRecorder) {
	e.metrics = m
}

func (e *Engine) workerCount() int {
	n := e.cfg.ParallelWorkers
	if n < 1 {
		n = 1
	}
	if e.cfg.MaxConcurrency > 0 && e.cfg.MaxConcurrency < n {
		n = e.cfg.MaxConcurrency
	}
	return n
}

// Run executes the stage's main discover→process→advance cycle.
func (e *Engine) Run(ctx context.Context, incremental bool) error {
	work, err := e.hooks.Discover(ctx, incremental)
	if err != nil {
		return errs.Wrap(errs.KindConfigurationStore, "discover work", err).WithStage(e.hooks.Name())
	}
	if len(work) == 0 {
		e.logger.Info("no new work discovered", "stage", e.hooks.Name())
		return nil
	}

	result := e.processBatch(ctx, work)
	return e.finish(ctx, result)
}

// RunFailureRecovery reprocesses every run in the stage's failure log.
func (e *Engine) RunFailureRecovery(ctx context.Context) error {
	failed := state.ParseFailureLog(e.hooks.FailureLogPath())
	if len(failed) == 0 {
		e.logger.Info("failure log empty, nothing to retry", "stage", e.hooks.Name())
		return nil
	}
	if err := clearFile(e.hooks.FailureLogPath()); err != nil {
		return errs.Wrap(errs.KindConfigurationStore, "clear failure log before retry", err).WithStage(e.hooks.Name())
	}

	result := e.processBatch(ctx, failed)
	return e.finish(ctx, result)
}

type batchResult struct {
	attempted []int
	succeeded []int
	failed    []int
}

// processBatch submits runs to a bounded worker pool, tracks outcomes,
// reports progress, and honors cooperative shutdown between submissions
// (spec §4.8, §5).
func (e *Engine) processBatch(ctx context.Context, runs []int) batchResult {
	sem := semaphore.NewWeighted(int64(e.workerCount()))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var attempted, succeeded, failed []int
	var completed int

	for _, run := range runs {
		if e.shutdown != nil && e.shutdown.ShutdownRequested() {
			e.logger.Warn("shutdown requested, cancelling remaining pending work", "stage", e.hooks.Name(), "remaining", len(runs)-completed)
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(run int) {
			defer wg.Done()
			defer sem.Release(1)

			ok := e.runOneWithRetry(ctx, run)

			mu.Lock()
			defer mu.Unlock()
			attempted = append(attempted, run)
			if ok {
				succeeded = append(succeeded, run)
			} else {
				failed = append(failed, run)
			}
			completed++
			if completed%ProgressReportInterval == 0 {
				e.logger.Info("batch progress", "stage", e.hooks.Name(), "completed", completed, "total", len(runs))
			}
		}(run)
	}

	wg.Wait()
	return batchResult{attempted: attempted, succeeded: succeeded, failed: failed}
}

// runOneWithRetry retries ProcessOne up to cfg.RunProcessRetries+1 times,
// separated by cfg.RetryDelay, short-circuiting on a permanent-skip error.
func (e *Engine) runOneWithRetry(ctx context.Context, run int) bool {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(e.cfg.RetryDelay), uint64(e.cfg.RunProcessRetries)),
		ctx,
	)

	operation := func() error {
		err := e.hooks.ProcessOne(ctx, run)
		if err == nil {
			return nil
		}
		if archErr, ok := errs.As(err); ok && archErr.Kind == errs.KindPermanentSkip {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(operation, policy)
	if err != nil {
		e.logger.Warn("run failed after retries", "stage", e.hooks.Name(), "run", run, "error", err)
		return false
	}
	return true
}

// finish advances watermarks, persists the failure log, and fires the
// consolidated end-of-batch notification.
func (e *Engine) finish(ctx context.Context, result batchResult) error {
	if len(result.succeeded) > 0 {
		if err := state.AdvanceContiguous(e.hooks.StateFilePath(), toSet(result.succeeded)); err != nil {
			return errs.Wrap(errs.KindConfigurationStore, "advance contiguous watermark", err).WithStage(e.hooks.Name())
		}
	}
	if err := state.AdvanceAttempted(e.hooks.StateFilePath(), result.attempted); err != nil {
		return errs.Wrap(errs.KindConfigurationStore, "advance attempted watermark", err).WithStage(e.hooks.Name())
	}
	if len(result.failed) > 0 {
		if err := state.AppendFailures(e.hooks.FailureLogPath(), result.failed); err != nil {
			return errs.Wrap(errs.KindConfigurationStore, "append failure log", err).WithStage(e.hooks.Name())
		}
		e.notify(ctx, result.failed)
	}

	if e.metrics != nil {
		if err := e.metrics.Push(e.hooks.Name(), len(result.attempted), len(result.succeeded), len(result.failed)); err != nil {
			e.logger.Warn("failed to push batch metrics", "stage", e.hooks.Name(), "error", err)
		}
	}

	if len(result.failed) > 0 {
		return errs.New(errs.KindConfigurationStore, "batch completed with failures").
			WithStage(e.hooks.Name()).WithField("failed_count", len(result.failed))
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, failed []int) {
	if e.notifier == nil {
		return
	}
	sorted := append([]int(nil), failed...)
	sort.Ints(sorted)
	if err := e.notifier.Notify(ctx, e.hooks.Name()+" stage: runs failed", formatFailureList(sorted)); err != nil {
		e.logger.Warn("failure notification delivery failed", "stage", e.hooks.Name(), "error", err)
	}
}

func toSet(runs []int) map[int]struct{} {
	m := make(map[int]struct{}, len(runs))
	for _, r := range runs {
		m[r] = struct{}{}
	}
	return m
}

func formatFailureList(runs []int) string {
	parts := make([]string, len(runs))
	for i, r := range runs {
		parts[i] = strconv.Itoa(r)
	}
	return strings.Join(parts, ", ")
}

func clearFile(path string) error {
	return state.WriteFailures(path, nil)
}
