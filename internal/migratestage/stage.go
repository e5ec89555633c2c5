// Package migratestage implements the migrate stage (spec §4.10): the
// configuration-store-to-archive-store half of the pipeline. Like
// importstage, it only supplies stage.Hooks — the engine owns all
// concurrency, retry, and watermark bookkeeping.
package migratestage

import (
	"context"
	"crypto/md5"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/vitaliisemenov/run-record-archiver/internal/archivestore"
	"github.com/vitaliisemenov/run-record-archiver/internal/blob"
	"github.com/vitaliisemenov/run-record-archiver/internal/configstore"
	"github.com/vitaliisemenov/run-record-archiver/internal/errs"
	"github.com/vitaliisemenov/run-record-archiver/internal/fuzz"
	"github.com/vitaliisemenov/run-record-archiver/internal/state"
)

// Config governs optional blob validation and the end-to-end MD5
// round-trip check the dispatcher's --validate flag requests.
type Config struct {
	StateFilePath  string
	FailureLogPath string
	ValidateBlob   bool
	ValidatorSpec  blob.FieldSpec
	VerifyUpload   bool
}

// Stage implements stage.Hooks for the migrate direction.
type Stage struct {
	cfg          Config
	configStore  configstore.Store
	archiveStore archivestore.Store
	fuzz         *fuzz.Injector
}

func New(cfg Config, configStore configstore.Store, archiveStore archivestore.Store, injector *fuzz.Injector) *Stage {
	return &Stage{cfg: cfg, configStore: configStore, archiveStore: archiveStore, fuzz: injector}
}

func (s *Stage) Name() string           { return "migrate" }
func (s *Stage) StateFilePath() string  { return s.cfg.StateFilePath }
func (s *Stage) FailureLogPath() string { return s.cfg.FailureLogPath }

// Discover enumerates configuration-store runs not yet archived (spec
// §4.10 step 1-3).
func (s *Stage) Discover(ctx context.Context, incremental bool) ([]int, error) {
	archived, err := s.configStore.ListRuns(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfigurationStore, "list configuration-store runs", err)
	}
	uploaded, err := s.archiveStore.ListRuns(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindArchiveStore, "list archive-store runs", err)
	}

	var floor int
	if incremental {
		floor = state.IncrementalStart(s.cfg.StateFilePath)
	}

	var work []int
	for run := range archived {
		if _, ok := uploaded[run]; ok {
			continue
		}
		if incremental && run <= floor {
			continue
		}
		work = append(work, run)
	}
	sort.Ints(work)
	return work, nil
}

// ProcessOne exports, packs, optionally validates, and uploads one run
// (spec §4.10 step 1-6).
func (s *Stage) ProcessOne(ctx context.Context, run int) error {
	if s.fuzz != nil {
		if err := s.fuzz.Consult(run); err != nil {
			return err
		}
	}

	configName, err := s.configStore.ResolveConfigName(ctx, run)
	if err != nil {
		return errs.Wrap(errs.KindConfigurationStore, "resolve config name", err).WithRun(run)
	}
	// Strip a "<run>/" prefix some transport modes embed in the name.
	configName = strings.TrimPrefix(configName, strconv.Itoa(run)+"/")

	exportDir, err := os.MkdirTemp("", "archiver-migrate-export-")
	if err != nil {
		return errs.Wrap(errs.KindConfigurationStore, "create export directory", err).WithRun(run)
	}
	defer os.RemoveAll(exportDir)

	if err := s.configStore.Export(ctx, run, exportDir); err != nil {
		return errs.Wrap(errs.KindConfigurationStore, "export configuration record", err).WithRun(run).WithField("config_name", configName)
	}

	blobText, err := blob.Pack(run, exportDir)
	if err != nil {
		return errs.Wrap(errs.KindBlobCreation, "pack blob", err).WithRun(run)
	}

	if s.cfg.ValidateBlob {
		if errCount, results := blob.Validate(blobText, s.cfg.ValidatorSpec); errCount > 0 {
			return errs.New(errs.KindBlobCreation, "blob validation failed").WithRun(run).WithField("errors", results)
		}
	}

	version, err := s.archiveStore.Upload(ctx, run, blobText)
	if err != nil {
		return errs.Wrap(errs.KindArchiveStore, "upload blob", err).WithRun(run)
	}

	if s.cfg.VerifyUpload && version != archivestore.AlreadyPresentVersion {
		if err := s.verifyRoundTrip(ctx, run, blobText); err != nil {
			return err
		}
	}

	return nil
}

// verifyRoundTrip re-downloads the just-uploaded blob and compares MD5
// sums, per the --validate flag's end-to-end check (spec §4.10 step 6).
func (s *Stage) verifyRoundTrip(ctx context.Context, run int, uploaded string) error {
	downloaded, err := s.archiveStore.Download(ctx, run)
	if err != nil {
		return errs.Wrap(errs.KindVerification, "re-download blob for verification", err).WithRun(run)
	}
	uploadedSum := md5.Sum([]byte(uploaded))
	downloadedSum := md5.Sum([]byte(downloaded))
	if uploadedSum != downloadedSum {
		return errs.New(errs.KindVerification, "md5 mismatch after upload").WithRun(run)
	}
	return nil
}
