package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario 4 from spec §8: known-boardreaders conversion.
func TestKnownBoardreadersScenario(t *testing.T) {
	input := "tpc01 localhost -1\ntpc02 \"myexp-tpc02\" -1\n"
	want := "tpc01: [\"localhost\", \"-1\"]\ntpc02: [\"myexp-tpc02\", \"-1\"]\n"
	assert.Equal(t, want, KnownBoardreaders(input))
}

func TestGenericKeyNormalization(t *testing.T) {
	input := "Run Dir: /a/b\nRun-Time: 5\nRate (Hz): 10.5\n"
	out := Boot(input)
	assert.Contains(t, out, `Run_Dir: "/a/b"`)
	assert.Contains(t, out, `Run_Time: 5`)
	assert.Contains(t, out, `Rate__Hz_: 10.5`)
}

func TestGenericArrayPreservedVerbatim(t *testing.T) {
	out := Settings("hosts: [\"a\", \"b\"]\n")
	assert.Equal(t, "hosts: [\"a\", \"b\"]\n", out)
}

func TestGenericCommentsStripped(t *testing.T) {
	out := Settings("# a full comment\nkey: value # trailing\n")
	assert.Equal(t, `key: "value"`+"\n", out)
}

func TestGenericNonASCIIMappedToDot(t *testing.T) {
	// A single raw high-bit byte (not valid UTF-8 on its own) must map to
	// exactly one '.'.
	out := Settings("key: caf\xe9\n")
	assert.Equal(t, `key: "caf."`+"\n", out)
}

func TestGenericTrailingNewlineOnNonEmptyOutput(t *testing.T) {
	out := Settings("key: value")
	require.NotEmpty(t, out)
	assert.Equal(t, byte('\n'), out[len(out)-1])
}

func TestGenericEmptyInputYieldsEmptyOutput(t *testing.T) {
	assert.Equal(t, "", Settings(""))
	assert.Equal(t, "", Settings("\n\n"))
}

// Converting the same bytes twice through any registered converter
// yields byte-identical output (spec §8 universal invariant).
func TestConvertersAreDeterministic(t *testing.T) {
	samples := map[string]Func{
		"boot":        Boot,
		"settings":    Settings,
		"setup":       Setup,
		"environment": Environment,
		"ranks":       Ranks,
		"boardreaders": KnownBoardreaders,
		"metadata":    Metadata,
	}
	input := "Config name: run1\nComponent #1: daq\nDAQInterface start time: 2020-01-01\nhosts: [1,2]\n"
	for name, fn := range samples {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, fn(input), fn(input))
		})
	}
}

func TestMetadataLogfileSection(t *testing.T) {
	input := "Config name: run1\nLogfile:\nline one\nline two\n\nComponent #1: daq\n"
	out := Metadata(input)
	assert.Contains(t, out, `Logfile: ["line one", "line two"]`)
	assert.Contains(t, out, `Config_name: "run1"`)
	assert.Contains(t, out, `Component_#1: "daq"`)
}

func TestExtractConfigNameDefault(t *testing.T) {
	assert.Equal(t, DefaultConfigName, ExtractConfigName("no relevant keys here\n"))
}

func TestExtractConfigNameExplicit(t *testing.T) {
	assert.Equal(t, "mytest", ExtractConfigName("Config name: mytest\n"))
}

func TestExtractComponentsOrder(t *testing.T) {
	input := "Component #1: daq0\nComponent #2: daq1\n"
	assert.Equal(t, []string{"daq0", "daq1"}, ExtractComponents(input))
}

func TestExtractTimesBothPresent(t *testing.T) {
	input := "DAQInterface start time: 10:00\nDAQInterface stop time: 11:00\n"
	start, hasStart, stop, hasStop := ExtractTimes(input)
	assert.True(t, hasStart)
	assert.True(t, hasStop)
	assert.Equal(t, "10:00", start)
	assert.Equal(t, "11:00", stop)
}

func TestExtractTimesStopAbsent(t *testing.T) {
	input := "DAQInterface start time: 10:00\n"
	_, hasStart, _, hasStop := ExtractTimes(input)
	assert.True(t, hasStart)
	assert.False(t, hasStop)
}

func TestGenerateRunHistory(t *testing.T) {
	input := "Config name: run1\nComponent #1: daq0\nDAQInterface start time: 10:00\n"
	out := GenerateRunHistory(input, 42)
	assert.Contains(t, out, "run_number: 42")
	assert.Contains(t, out, `config_name: "run1"`)
	assert.Contains(t, out, `component_0: "daq0"`)
	assert.Contains(t, out, `start_time: "10:00"`)
	assert.NotContains(t, out, "stop_time")
}

func TestNewRegistryRejectsUnknownName(t *testing.T) {
	_, err := NewRegistry([]string{"metadata", "bogus"})
	require.Error(t, err)
}

func TestNewRegistryEnablesKnownNames(t *testing.T) {
	r, err := NewRegistry([]string{"metadata", "boot"})
	require.NoError(t, err)
	_, ok := r.Get("metadata")
	assert.True(t, ok)
	_, ok = r.Get("settings")
	assert.False(t, ok)
}
