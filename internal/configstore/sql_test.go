package configstore

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "configstore.db")
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store, err := Open(context.Background(), DialectSQLite, dbPath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func writeSourceDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestInsertThenListAndResolve(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	dir := writeSourceDir(t, map[string]string{"metadata.fcl": "Config name: standard\n"})
	require.NoError(t, store.Insert(ctx, 101, "standard", dir))

	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int]struct{}{101: {}}, runs)

	name, err := store.ResolveConfigName(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, "standard", name)
}

func TestInsertDuplicateRunFails(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	dir := writeSourceDir(t, map[string]string{"metadata.fcl": "x\n"})

	require.NoError(t, store.Insert(ctx, 1, "standard", dir))
	err := store.Insert(ctx, 1, "standard", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already-exists")
}

func TestResolveConfigNameNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.ResolveConfigName(context.Background(), 999)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-found")
}

func TestUpdateMissingRunFails(t *testing.T) {
	store := newTestStore(t)
	dir := writeSourceDir(t, map[string]string{"a.fcl": "x\n"})
	err := store.Update(context.Background(), 5, "standard", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-found")
}

func TestUpdateOverlaysExistingRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	initial := writeSourceDir(t, map[string]string{"metadata.fcl": "Config name: standard\n"})
	require.NoError(t, store.Insert(ctx, 42, "standard", initial))

	overlay := writeSourceDir(t, map[string]string{"RunHistory2.fcl": "stop_time: 11:00\n"})
	require.NoError(t, store.Update(ctx, 42, "standard", overlay))

	exportDir := t.TempDir()
	require.NoError(t, store.Export(ctx, 42, exportDir))

	metadata, err := os.ReadFile(filepath.Join(exportDir, "metadata.fcl"))
	require.NoError(t, err)
	assert.Equal(t, "Config name: standard\n", string(metadata))

	history, err := os.ReadFile(filepath.Join(exportDir, "RunHistory2.fcl"))
	require.NoError(t, err)
	assert.Equal(t, "stop_time: 11:00\n", string(history))
}

func TestExportUnknownRunFails(t *testing.T) {
	store := newTestStore(t)
	err := store.Export(context.Background(), 404, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-found")
}

func TestMaxConcurrencyClampedToOne(t *testing.T) {
	store := newTestStore(t)
	assert.Equal(t, 1, store.MaxConcurrency())
}
