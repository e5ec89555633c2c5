package blob

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

// Scenario 5 from spec §8: packing order and envelope shape.
func TestPackScenario5(t *testing.T) {
	restore := fixNow(t, time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC))
	defer restore()

	dir := writeDir(t, map[string]string{
		"a.fcl":    "x\n",
		"boot.fcl": "y\n",
	})

	doc, err := Pack(42, dir)
	require.NoError(t, err)

	assert.True(t, len(doc) > 0)
	assert.Contains(t, doc, "Start of Record\nRun Number: 42\nPacked on Mar 07 12:00 UTC\n")
	assert.Contains(t, doc, "End of Record\nRun Number: 42\nPacked on Mar 07 12:00 UTC\n")

	aIdx := indexOf(doc, "a.fcl:")
	bootIdx := indexOf(doc, "boot.fcl:")
	require.True(t, aIdx >= 0)
	require.True(t, bootIdx >= 0)
	assert.True(t, aIdx < bootIdx, "non-tail file a.fcl must appear before tail file boot.fcl")

	files, err := Unpack(doc)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.fcl": "x\n", "boot.fcl": "y\n"}, files)
}

func TestPackUnpackRoundTrip(t *testing.T) {
	dir := writeDir(t, map[string]string{
		"metadata.fcl": "Config name: run1\n",
		"settings.fcl": "rate: 10\n",
		"custom.fcl":   "anything: goes\n",
	})

	doc, err := Pack(7, dir)
	require.NoError(t, err)

	files, err := Unpack(doc)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"metadata.fcl": "Config name: run1\n",
		"settings.fcl": "rate: 10\n",
		"custom.fcl":   "anything: goes\n",
	}, files)
}

func TestPackExactlyOneRecordPair(t *testing.T) {
	dir := writeDir(t, map[string]string{"boot.fcl": "y\n"})
	doc, err := Pack(1, dir)
	require.NoError(t, err)

	assert.Equal(t, 1, countOccurrences(doc, "Start of Record"))
	assert.Equal(t, 1, countOccurrences(doc, "End of Record"))
}

func TestFileOrderNonTailSortedTailFixed(t *testing.T) {
	names := []string{"ranks.fcl", "zzz.fcl", "boot.fcl", "aaa.fcl", "metadata.fcl"}
	got := FileOrder(names)
	assert.Equal(t, []string{"aaa.fcl", "zzz.fcl", "boot.fcl", "metadata.fcl", "ranks.fcl"}, got)
}

func TestFileOrderOmitsAbsentTailEntries(t *testing.T) {
	names := []string{"custom.fcl", "ranks.fcl"}
	got := FileOrder(names)
	assert.Equal(t, []string{"custom.fcl", "ranks.fcl"}, got)
}

func TestUnpackNoDelimitersFails(t *testing.T) {
	_, err := Unpack("just some text with no markers")
	require.Error(t, err)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func countOccurrences(s, substr string) int {
	count := 0
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			count++
			i += len(substr) - 1
		}
	}
	return count
}

// fixNow pins nowFunc for the duration of a test, restoring the real clock
// on return.
func fixNow(t *testing.T, ts time.Time) func() {
	t.Helper()
	prev := nowFunc
	nowFunc = func() time.Time { return ts }
	return func() { nowFunc = prev }
}
