package migratestage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/run-record-archiver/internal/archivestore"
	"github.com/vitaliisemenov/run-record-archiver/internal/blob"
	"github.com/vitaliisemenov/run-record-archiver/internal/fuzz"
)

type fakeConfigStore struct {
	runs        map[int]struct{}
	configNames map[int]string
	files       map[int]map[string]string

	exportErr error
	resolveErr error
}

func newFakeConfigStore() *fakeConfigStore {
	return &fakeConfigStore{
		runs:        map[int]struct{}{},
		configNames: map[int]string{},
		files:       map[int]map[string]string{},
	}
}

func (f *fakeConfigStore) ListRuns(ctx context.Context) (map[int]struct{}, error) {
	return f.runs, nil
}

func (f *fakeConfigStore) ResolveConfigName(ctx context.Context, run int) (string, error) {
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	return f.configNames[run], nil
}

func (f *fakeConfigStore) Insert(ctx context.Context, run int, configName string, dir string) error {
	return nil
}

func (f *fakeConfigStore) Update(ctx context.Context, run int, configName string, dir string) error {
	return nil
}

func (f *fakeConfigStore) Export(ctx context.Context, run int, destDir string) error {
	if f.exportErr != nil {
		return f.exportErr
	}
	for name, content := range f.files[run] {
		if err := os.WriteFile(filepath.Join(destDir, name), []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeConfigStore) MaxConcurrency() int { return 0 }

type fakeArchiveStore struct {
	uploaded     map[int]string
	uploadErr    error
	downloadErr  error
	downloadSame bool
}

func newFakeArchiveStore() *fakeArchiveStore {
	return &fakeArchiveStore{uploaded: map[int]string{}, downloadSame: true}
}

func (f *fakeArchiveStore) ListRuns(ctx context.Context) (map[int]struct{}, error) {
	m := make(map[int]struct{}, len(f.uploaded))
	for run := range f.uploaded {
		m[run] = struct{}{}
	}
	return m, nil
}

func (f *fakeArchiveStore) Upload(ctx context.Context, run int, blobText string) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	if _, ok := f.uploaded[run]; ok {
		return archivestore.AlreadyPresentVersion, nil
	}
	f.uploaded[run] = blobText
	return "v1", nil
}

func (f *fakeArchiveStore) Download(ctx context.Context, run int) (string, error) {
	if f.downloadErr != nil {
		return "", f.downloadErr
	}
	if f.downloadSame {
		return f.uploaded[run], nil
	}
	return f.uploaded[run] + "\ncorrupted", nil
}

func TestDiscoverFiltersAlreadyArchived(t *testing.T) {
	cs := newFakeConfigStore()
	cs.runs = map[int]struct{}{1: {}, 2: {}, 3: {}}
	as := newFakeArchiveStore()
	as.uploaded[2] = "already archived"

	s := New(Config{}, cs, as, nil)
	work, err := s.Discover(context.Background(), false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 3}, work)
}

func TestDiscoverIncrementalRespectsFloor(t *testing.T) {
	dir := t.TempDir()
	stateFile := filepath.Join(dir, "state.json")

	cs := newFakeConfigStore()
	cs.runs = map[int]struct{}{1: {}, 2: {}, 5: {}}
	as := newFakeArchiveStore()

	s := New(Config{StateFilePath: stateFile}, cs, as, nil)
	work, err := s.Discover(context.Background(), true)
	require.NoError(t, err)
	// No state file yet means floor is 0, so nothing is excluded.
	assert.ElementsMatch(t, []int{1, 2, 5}, work)
}

func TestProcessOneExportsPacksAndUploads(t *testing.T) {
	cs := newFakeConfigStore()
	cs.configNames[42] = "42/my-config"
	cs.files[42] = map[string]string{
		"settings.fcl": "value: 1\n",
	}
	as := newFakeArchiveStore()

	s := New(Config{}, cs, as, nil)
	err := s.ProcessOne(context.Background(), 42)
	require.NoError(t, err)

	uploaded, ok := as.uploaded[42]
	require.True(t, ok)
	assert.Contains(t, uploaded, "Run Number: 42")
	assert.Contains(t, uploaded, "settings.fcl")
}

func TestProcessOneStripsRunPrefixFromConfigName(t *testing.T) {
	cs := newFakeConfigStore()
	cs.configNames[7] = "7/standard-config"
	cs.files[7] = map[string]string{"settings.fcl": "value: 1\n"}
	as := newFakeArchiveStore()

	s := New(Config{}, cs, as, nil)
	require.NoError(t, s.ProcessOne(context.Background(), 7))
	_, ok := as.uploaded[7]
	assert.True(t, ok)
}

func TestProcessOneUploadIdempotentSkipsVerification(t *testing.T) {
	cs := newFakeConfigStore()
	cs.configNames[3] = "standard-config"
	cs.files[3] = map[string]string{"settings.fcl": "value: 1\n"}
	as := newFakeArchiveStore()
	as.uploaded[3] = "pre-existing blob"

	s := New(Config{VerifyUpload: true}, cs, as, nil)
	err := s.ProcessOne(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "pre-existing blob", as.uploaded[3])
}

func TestProcessOneValidateBlobFailsOnMissingField(t *testing.T) {
	cs := newFakeConfigStore()
	cs.configNames[9] = "standard-config"
	cs.files[9] = map[string]string{"settings.fcl": "other: 1\n"}
	as := newFakeArchiveStore()

	spec := blob.FieldSpec{
		"settings.fcl": {"value": "value-label"},
	}
	s := New(Config{ValidateBlob: true, ValidatorSpec: spec}, cs, as, nil)
	err := s.ProcessOne(context.Background(), 9)
	require.Error(t, err)
	_, ok := as.uploaded[9]
	assert.False(t, ok, "upload must not happen when validation fails")
}

func TestProcessOneVerifyUploadDetectsMismatch(t *testing.T) {
	cs := newFakeConfigStore()
	cs.configNames[11] = "standard-config"
	cs.files[11] = map[string]string{"settings.fcl": "value: 1\n"}
	as := newFakeArchiveStore()
	as.downloadSame = false

	s := New(Config{VerifyUpload: true}, cs, as, nil)
	err := s.ProcessOne(context.Background(), 11)
	require.Error(t, err)
}

func TestProcessOneFuzzPermanentSkipShortCircuits(t *testing.T) {
	cs := newFakeConfigStore()
	cs.resolveErr = assert.AnError
	as := newFakeArchiveStore()

	injector := fuzz.NewInjector(fuzz.Config{
		Enabled:           true,
		PermanentSkipRuns: map[int]bool{13: true},
	})

	s := New(Config{}, cs, as, injector)
	err := s.ProcessOne(context.Background(), 13)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permanent-skip")
}
