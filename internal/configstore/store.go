// Package configstore implements the configuration-store adapter (spec
// §4.3): the intermediate database holding one record per run, keyed by
// run number, each record a flat set of FHiCL files.
//
// Two transport modes satisfy the same Store contract: an in-process
// driver backed by a SQL database (sql.go), and a subprocess CLI tool
// invoked locally or over SSH (cli.go, cli_remote.go). Driver mode reports
// MaxConcurrency() == 1 — its backing *sql.DB is shared and the adapter
// does not attempt to reason about the driver's internal thread-safety,
// so the stage engine must clamp its worker pool to match (spec §9).
package configstore

import "context"

// Store is the contract any backing configuration store must satisfy.
type Store interface {
	// ListRuns returns every run number currently present.
	ListRuns(ctx context.Context) (map[int]struct{}, error)

	// ResolveConfigName returns the exact config_name recorded for run.
	// Fails with errs.KindConfigurationStore ("not-found") if absent.
	ResolveConfigName(ctx context.Context, run int) (string, error)

	// Insert creates the first and only record for run. Fails with
	// errs.KindConfigurationStore ("already-exists") if run is already
	// present, regardless of configName.
	Insert(ctx context.Context, run int, configName string, dir string) error

	// Update applies an overlay of additional/replacement files onto an
	// existing record. Fails with errs.KindConfigurationStore
	// ("not-found") if run has no existing record.
	Update(ctx context.Context, run int, configName string, dir string) error

	// Export writes every file belonging to run's record into destDir as
	// a flat set of files.
	Export(ctx context.Context, run int, destDir string) error

	// MaxConcurrency caps the number of concurrent calls the stage engine
	// may make into this Store. 0 means unbounded.
	MaxConcurrency() int
}
