package importstage

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/run-record-archiver/internal/convert"
	"github.com/vitaliisemenov/run-record-archiver/internal/fuzz"
)

type insertCall struct {
	run        int
	configName string
	files      map[string]string
}

type fakeStore struct {
	runs    map[int]struct{}
	inserts []insertCall
	updates []insertCall

	insertErr error
	updateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{runs: map[int]struct{}{}}
}

func (f *fakeStore) ListRuns(ctx context.Context) (map[int]struct{}, error) {
	return f.runs, nil
}

func (f *fakeStore) ResolveConfigName(ctx context.Context, run int) (string, error) {
	return "", nil
}

func (f *fakeStore) Insert(ctx context.Context, run int, configName string, dir string) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	files := make(map[string]string)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return err
		}
		files[e.Name()] = string(data)
	}
	f.inserts = append(f.inserts, insertCall{run: run, configName: configName, files: files})
	return nil
}

func (f *fakeStore) Update(ctx context.Context, run int, configName string, dir string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	files := make(map[string]string)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return err
		}
		files[e.Name()] = string(data)
	}
	f.updates = append(f.updates, insertCall{run: run, configName: configName, files: files})
	return nil
}

func (f *fakeStore) Export(ctx context.Context, run int, destDir string) error { return nil }

func (f *fakeStore) MaxConcurrency() int { return 0 }

func writeRunDir(t *testing.T, runRecordsDir string, run int, files map[string]string) {
	t.Helper()
	dir := filepath.Join(runRecordsDir, strconv.Itoa(run))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

const metadataNoStop = `Run Number: 99
Config name: "demo-config"
DAQInterface start time: 2026-01-01T00:00:00
`

const metadataWithStop = `Run Number: 100
Config name: "demo-config"
DAQInterface start time: 2026-01-01T00:00:00
DAQInterface stop time: 2026-01-01T01:00:00
`

func TestDiscoverExcludesAlreadyArchivedRuns(t *testing.T) {
	runRecordsDir := t.TempDir()
	writeRunDir(t, runRecordsDir, 1, map[string]string{"metadata": metadataNoStop})
	writeRunDir(t, runRecordsDir, 2, map[string]string{"metadata": metadataNoStop})

	store := newFakeStore()
	store.runs[2] = struct{}{}

	registry, err := convert.NewRegistry(nil)
	require.NoError(t, err)

	s := New(Config{RunRecordsDir: runRecordsDir, Converters: registry}, store, nil)
	work, err := s.Discover(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, work)
}

func TestDiscoverIncrementalRespectsFloor(t *testing.T) {
	runRecordsDir := t.TempDir()
	writeRunDir(t, runRecordsDir, 1, map[string]string{"metadata": metadataNoStop})
	writeRunDir(t, runRecordsDir, 5, map[string]string{"metadata": metadataNoStop})

	store := newFakeStore()
	registry, err := convert.NewRegistry(nil)
	require.NoError(t, err)

	stateFile := filepath.Join(t.TempDir(), "state.json")
	s := New(Config{RunRecordsDir: runRecordsDir, Converters: registry, StateFilePath: stateFile}, store, nil)
	work, err := s.Discover(context.Background(), true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 5}, work)
}

func TestProcessOneInsertsConvertedFilesAndConfigName(t *testing.T) {
	runRecordsDir := t.TempDir()
	writeRunDir(t, runRecordsDir, 99, map[string]string{
		"metadata":      metadataNoStop,
		"settings":      "value: 1\n",
		"untouched.fcl": "already fhicl\n",
	})

	store := newFakeStore()
	registry, err := convert.NewRegistry([]string{"metadata", "settings"})
	require.NoError(t, err)

	s := New(Config{RunRecordsDir: runRecordsDir, Converters: registry}, store, nil)
	err = s.ProcessOne(context.Background(), 99)
	require.NoError(t, err)

	require.Len(t, store.inserts, 1)
	call := store.inserts[0]
	assert.Equal(t, 99, call.run)
	assert.Equal(t, "demo-config", call.configName)
	assert.Contains(t, call.files, "settings.fcl")
	assert.Contains(t, call.files, "metadata.fcl")
	assert.Contains(t, call.files, "untouched.fcl")
	// No stop time present, so the update phase must be skipped.
	assert.Empty(t, store.updates)
}

func TestProcessOneRunsUpdatePhaseWhenStopTimePresent(t *testing.T) {
	runRecordsDir := t.TempDir()
	writeRunDir(t, runRecordsDir, 100, map[string]string{
		"metadata": metadataWithStop,
	})

	store := newFakeStore()
	registry, err := convert.NewRegistry([]string{"metadata"})
	require.NoError(t, err)

	s := New(Config{RunRecordsDir: runRecordsDir, Converters: registry, GenerateRunHistory2: true}, store, nil)
	err = s.ProcessOne(context.Background(), 100)
	require.NoError(t, err)

	require.Len(t, store.updates, 1)
	assert.Contains(t, store.updates[0].files, "RunHistory2.fcl")
}

func TestProcessOneGeneratesRunHistoryWhenEnabled(t *testing.T) {
	runRecordsDir := t.TempDir()
	writeRunDir(t, runRecordsDir, 1, map[string]string{"metadata": metadataNoStop})

	store := newFakeStore()
	registry, err := convert.NewRegistry([]string{"metadata"})
	require.NoError(t, err)

	s := New(Config{RunRecordsDir: runRecordsDir, Converters: registry, GenerateRunHistory: true}, store, nil)
	require.NoError(t, s.ProcessOne(context.Background(), 1))

	require.Len(t, store.inserts, 1)
	assert.Contains(t, store.inserts[0].files, "RunHistory.fcl")
}

func TestProcessOneCopiesSchemaFile(t *testing.T) {
	runRecordsDir := t.TempDir()
	writeRunDir(t, runRecordsDir, 1, map[string]string{"metadata": metadataNoStop})

	schemaDir := t.TempDir()
	schemaPath := filepath.Join(schemaDir, "schema.fcl")
	require.NoError(t, os.WriteFile(schemaPath, []byte("schema content\n"), 0o644))

	store := newFakeStore()
	registry, err := convert.NewRegistry(nil)
	require.NoError(t, err)

	s := New(Config{RunRecordsDir: runRecordsDir, Converters: registry, SchemaFCLPath: schemaPath}, store, nil)
	require.NoError(t, s.ProcessOne(context.Background(), 1))

	require.Len(t, store.inserts, 1)
	assert.Equal(t, "schema content\n", store.inserts[0].files["schema.fcl"])
}

func TestProcessOneFuzzPermanentSkipPreventsInsert(t *testing.T) {
	runRecordsDir := t.TempDir()
	writeRunDir(t, runRecordsDir, 7, map[string]string{"metadata": metadataNoStop})

	store := newFakeStore()
	registry, err := convert.NewRegistry(nil)
	require.NoError(t, err)

	injector := fuzz.NewInjector(fuzz.Config{
		Enabled:           true,
		PermanentSkipRuns: map[int]bool{7: true},
	})

	s := New(Config{RunRecordsDir: runRecordsDir, Converters: registry}, store, injector)
	err = s.ProcessOne(context.Background(), 7)
	require.Error(t, err)
	assert.Empty(t, store.inserts)
}

func TestProcessOneInsertFailureSkipsUpdatePhase(t *testing.T) {
	runRecordsDir := t.TempDir()
	writeRunDir(t, runRecordsDir, 100, map[string]string{"metadata": metadataWithStop})

	store := newFakeStore()
	store.insertErr = assert.AnError
	registry, err := convert.NewRegistry([]string{"metadata"})
	require.NoError(t, err)

	s := New(Config{RunRecordsDir: runRecordsDir, Converters: registry, GenerateRunHistory2: true}, store, nil)
	err = s.ProcessOne(context.Background(), 100)
	require.Error(t, err)
	assert.Empty(t, store.updates)
}
