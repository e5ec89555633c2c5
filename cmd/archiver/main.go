// Command archiver is the top-level dispatcher (spec §4.14): it loads
// configuration, acquires the process-scoped file lock, and runs exactly
// one of the mutually exclusive modes below against the import and
// migrate stages.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/run-record-archiver/internal/config"
	"github.com/vitaliisemenov/run-record-archiver/internal/convert"
	"github.com/vitaliisemenov/run-record-archiver/internal/errs"
	"github.com/vitaliisemenov/run-record-archiver/internal/fuzz"
	"github.com/vitaliisemenov/run-record-archiver/internal/importstage"
	"github.com/vitaliisemenov/run-record-archiver/internal/lock"
	"github.com/vitaliisemenov/run-record-archiver/internal/metrics"
	"github.com/vitaliisemenov/run-record-archiver/internal/migratestage"
	"github.com/vitaliisemenov/run-record-archiver/internal/recovery"
	"github.com/vitaliisemenov/run-record-archiver/internal/report"
	"github.com/vitaliisemenov/run-record-archiver/internal/shutdown"
	"github.com/vitaliisemenov/run-record-archiver/internal/stage"
	"github.com/vitaliisemenov/run-record-archiver/internal/wiring"
	"github.com/vitaliisemenov/run-record-archiver/pkg/logger"
)

// Exit codes (spec §6).
const (
	exitSuccess     = 0
	exitKnownError  = 1
	exitUnhandled   = 2
	exitInterrupted = 130
)

type modeFlags struct {
	incremental         bool
	importOnly          bool
	migrateOnly         bool
	retryFailedImport   bool
	retryFailedMigrate  bool
	reportStatus        bool
	compareState        bool
	recoverImportState  bool
	recoverMigrateState bool
	validate            bool
	verbose             bool
}

func main() {
	os.Exit(run())
}

func run() int {
	var flags modeFlags
	var interrupted bool

	cmd := &cobra.Command{
		Use:   "archiver [config_file]",
		Short: "Archive run records from the filesystem through the configuration store into the archive store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			wasInterrupted, err := dispatch(path, flags)
			interrupted = wasInterrupted
			return err
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().BoolVar(&flags.incremental, "incremental", false, "Skip work at or below the stage's incremental_start watermark")
	cmd.Flags().BoolVar(&flags.importOnly, "import-only", false, "Run import stage only")
	cmd.Flags().BoolVar(&flags.migrateOnly, "migrate-only", false, "Run migrate stage only")
	cmd.Flags().BoolVar(&flags.retryFailedImport, "retry-failed-import", false, "Process runs listed in the import failure log")
	cmd.Flags().BoolVar(&flags.retryFailedMigrate, "retry-failed-migrate", false, "Process runs listed in the migrate failure log")
	cmd.Flags().BoolVar(&flags.reportStatus, "report-status", false, "Generate a presence/gap report")
	cmd.Flags().BoolVar(&flags.compareState, "compare-state", false, "With --report-status, cross-check against persisted watermarks")
	cmd.Flags().BoolVar(&flags.recoverImportState, "recover-import-state", false, "Rebuild the import watermark and failure log from the stores")
	cmd.Flags().BoolVar(&flags.recoverMigrateState, "recover-migrate-state", false, "Rebuild the migrate watermark and failure log from the stores")
	cmd.Flags().BoolVar(&flags.validate, "validate", false, "In migrate, add an end-to-end MD5 round-trip check")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "Debug log level")

	err := cmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if _, ok := errs.As(err); ok {
			return exitKnownError
		}
		return exitUnhandled
	}
	if interrupted {
		return exitInterrupted
	}
	return exitSuccess
}

// dispatch implements the lifecycle from spec §4.14: load config →
// configure logging → acquire file lock → start lock watcher → run mode
// → cleanup. The first return reports whether a graceful shutdown was
// requested mid-run, so the caller can exit 130 even though dispatch
// itself returned no error.
func dispatch(path string, flags modeFlags) (bool, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return false, err
	}

	logCfg := cfg.App.Log.ToLoggerConfig()
	if flags.verbose {
		logCfg.Level = "debug"
	}
	log := logger.NewLogger(logCfg)

	lockPath := filepath.Join(cfg.App.WorkDir, ".archiver.lock")
	l, err := lock.Acquire(lockPath, log)
	if err != nil {
		return false, err
	}

	coord := shutdown.New(log)
	coord.Listen()
	l.Watch(func() {
		coord.RequestGraceful("lock invalidated")
	})

	defer func() {
		l.StopWatcher()
		if err := l.Release(); err != nil {
			log.Warn("failed to release lock", "error", err)
		}
		coord.Stop()
	}()

	ctx := context.Background()
	runErr := runMode(ctx, cfg, flags, coord, log)
	return coord.CurrentState() != shutdown.StateRunning, runErr
}

func runMode(ctx context.Context, cfg *config.Config, flags modeFlags, coord *shutdown.Coordinator, log *slog.Logger) error {
	switch {
	case flags.reportStatus:
		return runReportStatus(ctx, cfg, flags, log)
	case flags.recoverImportState:
		return runRecover(ctx, cfg, log, "import")
	case flags.recoverMigrateState:
		return runRecover(ctx, cfg, log, "migrate")
	case flags.retryFailedImport:
		return runImportEngine(ctx, cfg, flags, coord, log, engineModeRetry)
	case flags.retryFailedMigrate:
		return runMigrateEngine(ctx, cfg, flags, coord, log, engineModeRetry)
	case flags.importOnly:
		return runImportEngine(ctx, cfg, flags, coord, log, engineModeNormal)
	case flags.migrateOnly:
		return runMigrateEngine(ctx, cfg, flags, coord, log, engineModeNormal)
	default:
		if err := runImportEngine(ctx, cfg, flags, coord, log, engineModeNormal); err != nil {
			return err
		}
		return runMigrateEngine(ctx, cfg, flags, coord, log, engineModeNormal)
	}
}

type engineMode int

const (
	engineModeNormal engineMode = iota
	engineModeRetry
)

func buildFuzzInjector(cfg *config.Config) (*fuzz.Injector, error) {
	fuzzCfg, err := cfg.Fuzz.ToFuzzConfig()
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "convert fuzz configuration", err)
	}
	return fuzz.NewInjector(fuzzCfg), nil
}

func runImportEngine(ctx context.Context, cfg *config.Config, flags modeFlags, coord *shutdown.Coordinator, log *slog.Logger, mode engineMode) error {
	store, err := wiring.OpenConfigurationStore(ctx, cfg.ConfigurationStore, log)
	if err != nil {
		return err
	}

	converters, err := convert.NewRegistry(cfg.FHiclizeGenerate.Converters)
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, "build converter registry", err)
	}

	injector, err := buildFuzzInjector(cfg)
	if err != nil {
		return err
	}

	stateFile := filepath.Join(cfg.App.WorkDir, "importer_state.json")
	failureLog := filepath.Join(cfg.App.WorkDir, "import_failures.log")

	importStage := importstage.New(importstage.Config{
		RunRecordsDir:       cfg.SourceFiles.Directory,
		SchemaFCLPath:       cfg.FHiclizeGenerate.SchemaFCLPath,
		Converters:          converters,
		GenerateRunHistory:  cfg.FHiclizeGenerate.GenerateRunHistory,
		GenerateRunHistory2: cfg.FHiclizeGenerate.GenerateRunHistory2,
		StateFilePath:       stateFile,
		FailureLogPath:      failureLog,
	}, store, injector)

	engine := stage.NewEngine(importStage, engineConfig(cfg, store.MaxConcurrency()), coord, wiring.BuildNotifier(cfg.Reporting), log)
	attachMetrics(engine, cfg)

	if mode == engineModeRetry {
		return engine.RunFailureRecovery(ctx)
	}
	return engine.Run(ctx, flags.incremental)
}

func runMigrateEngine(ctx context.Context, cfg *config.Config, flags modeFlags, coord *shutdown.Coordinator, log *slog.Logger, mode engineMode) error {
	configStore, err := wiring.OpenConfigurationStore(ctx, cfg.ConfigurationStore, log)
	if err != nil {
		return err
	}
	archiveStore, err := wiring.OpenArchiveStore(ctx, cfg.ArchiveStore, log)
	if err != nil {
		return err
	}

	injector, err := buildFuzzInjector(cfg)
	if err != nil {
		return err
	}

	stateFile := filepath.Join(cfg.App.WorkDir, "migrator_state.json")
	failureLog := filepath.Join(cfg.App.WorkDir, "migrate_failures.log")

	migrateStage := migratestage.New(migratestage.Config{
		StateFilePath:  stateFile,
		FailureLogPath: failureLog,
		ValidateBlob:   flags.validate,
		VerifyUpload:   flags.validate || cfg.ArchiveStore.VerifyUpload,
	}, configStore, archiveStore, injector)

	engine := stage.NewEngine(migrateStage, engineConfig(cfg, configStore.MaxConcurrency()), coord, wiring.BuildNotifier(cfg.Reporting), log)
	attachMetrics(engine, cfg)

	if mode == engineModeRetry {
		return engine.RunFailureRecovery(ctx)
	}
	return engine.Run(ctx, flags.incremental)
}

// attachMetrics wires the configured Pushgateway recorder into the engine
// so Push carries the batch's real attempted/succeeded/failed counts,
// rather than a placeholder. A no-op when metrics reporting is disabled.
func attachMetrics(engine *stage.Engine, cfg *config.Config) {
	if !cfg.Reporting.Metrics.Enabled {
		return
	}
	engine.SetMetricsRecorder(metrics.NewBatchRecorder(cfg.Reporting.Metrics.PushgatewayURL, cfg.Reporting.Metrics.JobName))
}

func engineConfig(cfg *config.Config, maxConcurrency int) stage.Config {
	return stage.Config{
		ParallelWorkers:   cfg.App.ParallelWorkers,
		RunProcessRetries: cfg.App.RunProcessRetries,
		RetryDelay:        secondsToDuration(cfg.App.RetryDelaySeconds),
		MaxConcurrency:    maxConcurrency,
	}
}

func runReportStatus(ctx context.Context, cfg *config.Config, flags modeFlags, log *slog.Logger) error {
	fsRuns, err := importstage.ScanSourceDirectory(cfg.SourceFiles.Directory)
	if err != nil {
		return err
	}

	configStore, err := wiring.OpenConfigurationStore(ctx, cfg.ConfigurationStore, log)
	if err != nil {
		return err
	}
	configStoreRuns, err := configStore.ListRuns(ctx)
	if err != nil {
		return errs.Wrap(errs.KindConfigurationStore, "list configuration store runs", err)
	}

	archiveStore, err := wiring.OpenArchiveStore(ctx, cfg.ArchiveStore, log)
	if err != nil {
		return err
	}
	archiveStoreRuns, err := archiveStore.ListRuns(ctx)
	if err != nil {
		return errs.Wrap(errs.KindArchiveStore, "list archive store runs", err)
	}

	status := report.Build(fsRuns, configStoreRuns, archiveStoreRuns)
	fmt.Printf("filesystem: %d runs [%d-%d], %d gaps\n", status.Filesystem.Total, status.Filesystem.Min, status.Filesystem.Max, len(status.Filesystem.Gaps))
	fmt.Printf("configuration-store: %d runs [%d-%d], %d gaps\n", status.ConfigurationStore.Total, status.ConfigurationStore.Min, status.ConfigurationStore.Max, len(status.ConfigurationStore.Gaps))
	fmt.Printf("archive-store: %d runs [%d-%d], %d gaps\n", status.ArchiveStore.Total, status.ArchiveStore.Min, status.ArchiveStore.Max, len(status.ArchiveStore.Gaps))
	fmt.Printf("filesystem -> configuration-store missing: %v\n", status.FSToConfigStore.Missing)
	fmt.Printf("configuration-store -> archive-store missing: %v\n", status.ConfigStoreToAS.Missing)

	if flags.compareState {
		importStateFile := filepath.Join(cfg.App.WorkDir, "importer_state.json")
		migrateStateFile := filepath.Join(cfg.App.WorkDir, "migrator_state.json")

		for _, d := range report.CompareState("import", importStateFile, configStoreRuns) {
			fmt.Printf("import watermark drift: %s watermark=%d actual=%d\n", d.Field, d.Watermark, d.ActualValue)
		}
		for _, d := range report.CompareState("migrate", migrateStateFile, archiveStoreRuns) {
			fmt.Printf("migrate watermark drift: %s watermark=%d actual=%d\n", d.Field, d.Watermark, d.ActualValue)
		}
	}

	return nil
}

func runRecover(ctx context.Context, cfg *config.Config, log *slog.Logger, which string) error {
	fsRuns, err := importstage.ScanSourceDirectory(cfg.SourceFiles.Directory)
	if err != nil {
		return err
	}

	configStore, err := wiring.OpenConfigurationStore(ctx, cfg.ConfigurationStore, log)
	if err != nil {
		return err
	}
	configStoreRuns, err := configStore.ListRuns(ctx)
	if err != nil {
		return errs.Wrap(errs.KindConfigurationStore, "list configuration store runs", err)
	}

	if which == "import" {
		result := recovery.Compute(fsRuns, configStoreRuns)
		stateFile := filepath.Join(cfg.App.WorkDir, "importer_state.json")
		failureLog := filepath.Join(cfg.App.WorkDir, "import_failures.log")
		return recovery.Apply(stateFile, failureLog, result)
	}

	archiveStore, err := wiring.OpenArchiveStore(ctx, cfg.ArchiveStore, log)
	if err != nil {
		return err
	}
	archiveStoreRuns, err := archiveStore.ListRuns(ctx)
	if err != nil {
		return errs.Wrap(errs.KindArchiveStore, "list archive store runs", err)
	}

	result := recovery.Compute(configStoreRuns, archiveStoreRuns)
	stateFile := filepath.Join(cfg.App.WorkDir, "migrator_state.json")
	failureLog := filepath.Join(cfg.App.WorkDir, "migrate_failures.log")
	return recovery.Apply(stateFile, failureLog, result)
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
