package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalValidYAML = `
app:
  work_dir: /var/lib/archiver
  parallel_workers: 4
  run_process_retries: 2
  retry_delay_seconds: 1
  log:
    level: info
    format: json
    output: stdout

source_files:
  directory: /data/run_records

configuration_store:
  mode: driver
  dialect: sqlite
  uri: /var/lib/archiver/configstore.db

archive_store:
  url: https://archive.example.org

fhiclize_generate:
  converters: [metadata, settings]
`

func TestLoadMinimalValidConfig(t *testing.T) {
	path := writeTempYAML(t, minimalValidYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/archiver", cfg.App.WorkDir)
	assert.Equal(t, 4, cfg.App.ParallelWorkers)
	assert.Equal(t, ModeDriver, cfg.ConfigurationStore.Mode)
	assert.Equal(t, []string{"metadata", "settings"}, cfg.FHiclizeGenerate.Converters)
}

func TestLoadRejectsUnknownConverter(t *testing.T) {
	yaml := `
app:
  work_dir: /var/lib/archiver
  parallel_workers: 1
source_files:
  directory: /data
configuration_store:
  mode: driver
  uri: /tmp/x.db
archive_store:
  url: https://example.org
fhiclize_generate:
  converters: [not-a-real-converter]
`
	path := writeTempYAML(t, yaml)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingWorkDir(t *testing.T) {
	yaml := `
app:
  parallel_workers: 1
source_files:
  directory: /data
configuration_store:
  mode: driver
  uri: /tmp/x.db
archive_store:
  url: https://example.org
`
	path := writeTempYAML(t, yaml)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "work_dir")
}

func TestLoadRejectsUnknownTransportMode(t *testing.T) {
	yaml := `
app:
  work_dir: /tmp
  parallel_workers: 1
source_files:
  directory: /data
configuration_store:
  mode: not-a-mode
archive_store:
  url: https://example.org
`
	path := writeTempYAML(t, yaml)
	_, err := Load(path)
	require.Error(t, err)
}

func yamlWithArchiveStorePassword(passwordExpr string) string {
	return `
app:
  work_dir: /var/lib/archiver
  parallel_workers: 4
  run_process_retries: 2
  retry_delay_seconds: 1
  log:
    level: info
    format: json
    output: stdout

source_files:
  directory: /data/run_records

configuration_store:
  mode: driver
  dialect: sqlite
  uri: /var/lib/archiver/configstore.db

archive_store:
  url: https://archive.example.org
  password: "` + passwordExpr + `"

fhiclize_generate:
  converters: [metadata, settings]
`
}

func TestLoadExpandsEnvironmentVariable(t *testing.T) {
	require.NoError(t, os.Setenv("ARCHIVER_TEST_PASSWORD", "hunter2"))
	defer os.Unsetenv("ARCHIVER_TEST_PASSWORD")

	yaml := yamlWithArchiveStorePassword("${ARCHIVER_TEST_PASSWORD}")
	path := writeTempYAML(t, yaml)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.ArchiveStore.Password)
}

func TestLoadExpandsEnvironmentVariableDefault(t *testing.T) {
	os.Unsetenv("ARCHIVER_TEST_MISSING")
	yaml := yamlWithArchiveStorePassword("${ARCHIVER_TEST_MISSING:-fallback}")
	path := writeTempYAML(t, yaml)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fallback", cfg.ArchiveStore.Password)
}

func TestLoadMissingRequiredEnvVarFails(t *testing.T) {
	os.Unsetenv("ARCHIVER_TEST_MISSING_NO_DEFAULT")
	yaml := yamlWithArchiveStorePassword("${ARCHIVER_TEST_MISSING_NO_DEFAULT}")
	path := writeTempYAML(t, yaml)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadResolvesIntraDocumentReference(t *testing.T) {
	yaml := `
app:
  work_dir: /var/lib/archiver
  parallel_workers: 1
  log:
    level: info
source_files:
  directory: /data/run_records
configuration_store:
  mode: driver
  uri: /var/lib/archiver/configstore.db
archive_store:
  url: https://archive.example.org
  user: "${configuration_store.uri}-user"
`
	path := writeTempYAML(t, yaml)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/archiver/configstore.db-user", cfg.ArchiveStore.User)
}

func TestLoadDetectsCircularReference(t *testing.T) {
	yaml := `
app:
  work_dir: "${archive_store.url}"
  parallel_workers: 1
source_files:
  directory: /data
configuration_store:
  mode: driver
  uri: /tmp/x.db
archive_store:
  url: "${app.work_dir}"
`
	path := writeTempYAML(t, yaml)
	_, err := Load(path)
	require.Error(t, err)
}

func TestFuzzConfigConvertsRunKeyedMaps(t *testing.T) {
	f := FuzzConfig{
		Enabled:            true,
		PermanentSkipRuns:  []int{5},
		TransientFailRuns:  map[string]int{"7": 2},
		LatencySecondsRuns: map[string]int{"9": 3},
	}
	converted, err := f.ToFuzzConfig()
	require.NoError(t, err)
	assert.True(t, converted.PermanentSkipRuns[5])
	assert.Equal(t, 2, converted.TransientFailRuns[7])
}
