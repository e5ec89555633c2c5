// Package importstage implements the import stage (spec §4.9): the
// filesystem-to-configuration-store half of the pipeline. It supplies the
// five stage.Hooks methods the engine drives; all concurrency, retry, and
// watermark bookkeeping lives in package stage.
package importstage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/vitaliisemenov/run-record-archiver/internal/configstore"
	"github.com/vitaliisemenov/run-record-archiver/internal/convert"
	"github.com/vitaliisemenov/run-record-archiver/internal/errs"
	"github.com/vitaliisemenov/run-record-archiver/internal/fuzz"
	"github.com/vitaliisemenov/run-record-archiver/internal/state"
)

// Config governs source discovery and the set of file conversions an
// import run performs.
type Config struct {
	RunRecordsDir       string
	SchemaFCLPath       string
	Converters          *convert.Registry
	GenerateRunHistory  bool
	GenerateRunHistory2 bool
	StateFilePath       string
	FailureLogPath      string
}

// Stage implements stage.Hooks for the import direction.
type Stage struct {
	cfg   Config
	store configstore.Store
	fuzz  *fuzz.Injector
}

func New(cfg Config, store configstore.Store, injector *fuzz.Injector) *Stage {
	return &Stage{cfg: cfg, store: store, fuzz: injector}
}

func (s *Stage) Name() string           { return "import" }
func (s *Stage) StateFilePath() string  { return s.cfg.StateFilePath }
func (s *Stage) FailureLogPath() string { return s.cfg.FailureLogPath }

// ScanSourceDirectory enumerates numerically-named run directories
// directly under dir (spec §4.9 step 1-2). Shared by Discover and the
// dispatcher's --report-status filesystem enumeration.
func ScanSourceDirectory(dir string) (map[int]struct{}, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfigurationStore, "read run records directory", err)
	}

	found := make(map[int]struct{})
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(e.Name())
		if err != nil || n <= 0 {
			continue
		}
		found[n] = struct{}{}
	}
	return found, nil
}

// Discover enumerates source run directories not yet present in the
// configuration store (spec §4.9 step 1-5).
func (s *Stage) Discover(ctx context.Context, incremental bool) ([]int, error) {
	found, err := ScanSourceDirectory(s.cfg.RunRecordsDir)
	if err != nil {
		return nil, err
	}

	archived, err := s.store.ListRuns(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfigurationStore, "list archived runs", err)
	}

	var floor int
	if incremental {
		floor = state.IncrementalStart(s.cfg.StateFilePath)
	}

	var work []int
	for run := range found {
		if _, ok := archived[run]; ok {
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

// ProcessOne performs the two-phase insert+update described in spec §4.9.
func (s *Stage) ProcessOne(ctx context.Context, run int) error {
	if s.fuzz != nil {
		if err := s.fuzz.Consult(run); err != nil {
			return err
		}
	}

	sourceDir := filepath.Join(s.cfg.RunRecordsDir, strconv.Itoa(run))

	initialDir, err := os.MkdirTemp("", "archiver-import-initial-")
	if err != nil {
		return errs.Wrap(errs.KindFCLPreparation, "create initial working directory", err).WithRun(run)
	}
	defer os.RemoveAll(initialDir)

	rawMetadata, configName, err := s.prepareInitialDir(sourceDir, initialDir)
	if err != nil {
		return err
	}

	if err := s.store.Insert(ctx, run, configName, initialDir); err != nil {
		return errs.Wrap(errs.KindConfigurationStore, "insert configuration record", err).WithRun(run)
	}

	updateDir, produced, err := s.prepareUpdateDir(run, rawMetadata)
	if err != nil {
		return err
	}
	if produced {
		defer os.RemoveAll(updateDir)
		if err := s.store.Update(ctx, run, configName, updateDir); err != nil {
			return errs.Wrap(errs.KindConfigurationStore, "update configuration record", err).WithRun(run)
		}
	}

	return nil
}

// prepareInitialDir copies the source run directory into initialDir,
// writes each enabled file kind's FHiCL conversion beside its raw copy as
// <kind>.fcl, and returns the raw metadata text plus the extracted config
// name.
func (s *Stage) prepareInitialDir(sourceDir, initialDir string) (rawMetadata, configName string, err error) {
	entries, readErr := os.ReadDir(sourceDir)
	if readErr != nil {
		return "", "", errs.Wrap(errs.KindFCLPreparation, "read source run directory", readErr)
	}

	sourceFiles := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(sourceDir, e.Name()))
		if err != nil {
			return "", "", errs.Wrap(errs.KindFCLPreparation, "read source file", err).WithField("file", e.Name())
		}
		sourceFiles[e.Name()] = string(data)
		if err := copyFile(filepath.Join(sourceDir, e.Name()), filepath.Join(initialDir, e.Name())); err != nil {
			return "", "", errs.Wrap(errs.KindFCLPreparation, "copy source file", err).WithField("file", e.Name())
		}
	}

	for _, kind := range s.cfg.Converters.Enabled() {
		raw, ok := sourceFiles[kind]
		if !ok {
			continue
		}
		fn, _ := s.cfg.Converters.Get(kind)
		converted := fn(raw)
		if err := os.WriteFile(filepath.Join(initialDir, kind+".fcl"), []byte(converted), 0o644); err != nil {
			return "", "", errs.Wrap(errs.KindFCLPreparation, "write converted file", err).WithField("kind", kind)
		}
	}

	rawMetadata = sourceFiles["metadata"]
	configName = convert.ExtractConfigName(rawMetadata)

	if s.cfg.GenerateRunHistory {
		history := convert.GenerateRunHistory(rawMetadata, 0)
		if err := os.WriteFile(filepath.Join(initialDir, "RunHistory.fcl"), []byte(history), 0o644); err != nil {
			return "", "", errs.Wrap(errs.KindFCLPreparation, "write RunHistory.fcl", err)
		}
	}

	if err := copySchema(s.cfg.SchemaFCLPath, initialDir); err != nil {
		return "", "", err
	}

	return rawMetadata, configName, nil
}

// prepareUpdateDir builds the stop-time overlay directory when metadata
// carries both a start and stop time and RunHistory2 generation is
// enabled; otherwise the update phase is skipped entirely (spec §4.9
// step 3-4).
func (s *Stage) prepareUpdateDir(run int, rawMetadata string) (dir string, produced bool, err error) {
	if !s.cfg.GenerateRunHistory2 {
		return "", false, nil
	}
	_, hasStart, _, hasStop := convert.ExtractTimes(rawMetadata)
	if !hasStart || !hasStop {
		return "", false, nil
	}

	updateDir, mkErr := os.MkdirTemp("", "archiver-import-update-")
	if mkErr != nil {
		return "", false, errs.Wrap(errs.KindFCLPreparation, "create update working directory", mkErr).WithRun(run)
	}

	history2 := convert.GenerateRunHistory(rawMetadata, run)
	if err := os.WriteFile(filepath.Join(updateDir, "RunHistory2.fcl"), []byte(history2), 0o644); err != nil {
		os.RemoveAll(updateDir)
		return "", false, errs.Wrap(errs.KindFCLPreparation, "write RunHistory2.fcl", err).WithRun(run)
	}
	if err := copySchema(s.cfg.SchemaFCLPath, updateDir); err != nil {
		os.RemoveAll(updateDir)
		return "", false, err
	}

	return updateDir, true, nil
}

func copySchema(schemaPath, destDir string) error {
	if schemaPath == "" {
		return nil
	}
	return copyFile(schemaPath, filepath.Join(destDir, filepath.Base(schemaPath)))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
