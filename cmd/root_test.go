package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cellsim/cellsim/sim"
)

// newTestFlags registers fresh experiment and extraction flags, resetting
// every bound variable to its default.
func newTestFlags(t *testing.T) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	registerExperimentFlags(fs)
	registerDQDVFlags(fs)
	require.NoError(t, fs.Set("defaults", filepath.Join("..", "defaults.yaml")))
	return fs
}

func TestResolveExperiment_NoSource_UsesFlagDefaults(t *testing.T) {
	fs := newTestFlags(t)

	spec, err := resolveExperiment(fs)

	require.NoError(t, err)
	assert.Equal(t, 2, spec.NumCycles)
	assert.Equal(t, 1.0, spec.Dt)
	assert.Equal(t, sim.NewDegradationModel(3.0, 0.1, 0.05, 0.05, 0.05, 1.0), spec.Degradation)
	assert.Equal(t, sim.NewChargeProtocol(0.5, 4.1797, 0.05), spec.Charge)
	assert.Equal(t, sim.NewDischargeProtocol(0.5, 3.0519), spec.Discharge)
}

func TestResolveExperiment_Preset_UnchangedFlagsDoNotClobber(t *testing.T) {
	// GIVEN a preset whose c-rate differs from the flag default, and one explicit flag
	fs := newTestFlags(t)
	require.NoError(t, fs.Set("preset", "fast-charge"))
	require.NoError(t, fs.Set("v-max", "4.15"))

	// WHEN resolved
	spec, err := resolveExperiment(fs)

	// THEN the preset supplies everything except the explicit override
	require.NoError(t, err)
	assert.Equal(t, "fast-charge", spec.Name)
	assert.Equal(t, 1.0, spec.Charge.CRate, "unchanged --charge-c-rate must not override the preset")
	assert.Equal(t, 4.15, spec.Charge.VMax)
	assert.Equal(t, 5, spec.NumCycles)
}

func TestResolveExperiment_ConfigFile_OverridesPreset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: from-file
degradation: {q0: 2.0, a: 0.1, b: 0.05, r0: 0.04, c: 0.05, d: 1.0}
charge: {c_rate: 0.3, v_max: 4.1797, end_current_ratio: 0.05}
discharge: {c_rate: 0.3, v_min: 3.0519}
num_cycles: 4
dt: 10
`), 0o644))

	fs := newTestFlags(t)
	require.NoError(t, fs.Set("preset", "reference"))
	require.NoError(t, fs.Set("config", path))
	require.NoError(t, fs.Set("num-cycles", "7"))

	spec, err := resolveExperiment(fs)

	require.NoError(t, err)
	assert.Equal(t, "from-file", spec.Name)
	assert.Equal(t, 2.0, spec.Degradation.Q0)
	assert.Equal(t, 7, spec.NumCycles)
}

func TestResolveExperiment_UnknownPreset_Error(t *testing.T) {
	fs := newTestFlags(t)
	require.NoError(t, fs.Set("preset", "no-such-preset"))

	_, err := resolveExperiment(fs)

	assert.ErrorContains(t, err, "no-such-preset")
}

func TestResolveExperiment_MissingConfig_Error(t *testing.T) {
	fs := newTestFlags(t)
	require.NoError(t, fs.Set("config", filepath.Join(t.TempDir(), "absent.yaml")))

	_, err := resolveExperiment(fs)

	assert.Error(t, err)
}

func TestRunExperiment_FlagDefaults_RecordsPerCycle(t *testing.T) {
	fs := newTestFlags(t)
	require.NoError(t, fs.Set("dt", "30"))
	require.NoError(t, fs.Set("num-cycles", "3"))
	spec, err := resolveExperiment(fs)
	require.NoError(t, err)

	records, err := runExperiment(spec, nil)

	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 100.0, records[0].Retention)
}

func TestRunExperiment_InvalidSpec_Error(t *testing.T) {
	fs := newTestFlags(t)
	require.NoError(t, fs.Set("v-min", "4.5"))
	spec, err := resolveExperiment(fs)
	require.NoError(t, err)

	_, err = runExperiment(spec, nil)

	assert.Error(t, err)
}

func TestRunExperiment_PartialWindow_NeedsFlag(t *testing.T) {
	// GIVEN limits inside the default OCV range
	fs := newTestFlags(t)
	require.NoError(t, fs.Set("dt", "30"))
	require.NoError(t, fs.Set("num-cycles", "1"))
	require.NoError(t, fs.Set("v-max", "3.9"))
	require.NoError(t, fs.Set("v-min", "3.6"))
	spec, err := resolveExperiment(fs)
	require.NoError(t, err)

	// THEN the run is refused
	_, err = runExperiment(spec, nil)
	assert.ErrorContains(t, err, "does not bracket")

	// WHEN the flag opts in
	require.NoError(t, fs.Set("allow-partial-window", "true"))
	spec, err = resolveExperiment(fs)
	require.NoError(t, err)

	// THEN the partial window is cycled
	records, err := runExperiment(spec, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Less(t, records[0].ChargedCapacity, records[0].Capacity)
}

func TestRunExperiment_PresetWithPartialWindowOverride_Applied(t *testing.T) {
	fs := newTestFlags(t)
	require.NoError(t, fs.Set("preset", "fast-charge"))
	require.NoError(t, fs.Set("allow-partial-window", "true"))

	spec, err := resolveExperiment(fs)

	require.NoError(t, err)
	assert.True(t, spec.AllowPartialWindow)
}

func TestRunExperiment_EOLThresholdOutOfRange_Error(t *testing.T) {
	fs := newTestFlags(t)
	require.NoError(t, fs.Set("eol-threshold", "150"))
	spec, err := resolveExperiment(fs)
	require.NoError(t, err)

	_, err = runExperiment(spec, nil)

	assert.ErrorContains(t, err, "eol_threshold")
}
