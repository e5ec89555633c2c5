// Package archivestore implements the archive-store adapter (spec §4.4):
// the long-term versioned blob repository that receives packed run
// records from the migrate stage.
package archivestore

import "context"

// AlreadyPresentVersion is the sentinel version string Upload returns
// when the run is already archived — idempotent, not a failure.
const AlreadyPresentVersion = "already-present"

// Store is the contract the archive-store adapter exposes to the migrate
// stage.
type Store interface {
	// ListRuns returns every run number currently archived.
	ListRuns(ctx context.Context) (map[int]struct{}, error)

	// Upload stores blobText under run. If run is already present, it
	// returns AlreadyPresentVersion and logs a warning rather than
	// failing (spec §4.4 idempotency).
	Upload(ctx context.Context, run int, blobText string) (version string, err error)

	// Download retrieves the archived blob text for run. Fails with
	// errs.KindArchiveStore ("not-found") if absent.
	Download(ctx context.Context, run int) (blobText string, err error)
}
