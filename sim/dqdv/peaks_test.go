package dqdv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cellsim/cellsim/sim/trace"
)

// uniformGrid returns n voltages starting at v0 spaced dv apart.
func uniformGrid(n int, v0, dv float64) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = v0 + float64(i)*dv
	}
	return v
}

type bump struct {
	center, height, sigma float64
}

func gaussians(voltage []float64, baseline float64, bumps ...bump) []float64 {
	y := make([]float64, len(voltage))
	for i, v := range voltage {
		y[i] = baseline
		for _, b := range bumps {
			d := (v - b.center) / b.sigma
			y[i] += b.height * math.Exp(-d*d/2)
		}
	}
	return y
}

func ptr[T any](v T) *T { return &v }

func TestDetectPeaks_SingleGaussian_OnePeakAtCenter(t *testing.T) {
	// GIVEN a single bump of prominence P = 2 on a flat baseline
	dv := 0.001
	v := uniformGrid(1001, 3.0, dv)
	y := gaussians(v, 0.1, bump{center: 3.6, height: 2, sigma: 0.02})

	// WHEN probed with prominence P/2
	peaks, err := DetectPeaks(v, y, PeakOptions{Prominence: 1})

	// THEN exactly one peak sits at the bump's center
	require.NoError(t, err)
	require.Len(t, peaks, 1)
	assert.InDelta(t, 3.6, peaks[0].Voltage, dv)
	assert.InDelta(t, 2.0, peaks[0].Prominence, 1e-6)
	assert.Nil(t, peaks[0].Phase)
	assert.Nil(t, peaks[0].Current)
	assert.Equal(t, y[peaks[0].Index], peaks[0].DQDV)

	// THEN the width at half prominence matches the Gaussian FWHM
	fwhm := 2 * math.Sqrt(2*math.Ln2) * 0.02
	assert.InDelta(t, fwhm, peaks[0].WidthV, 2*dv)
	assert.InDelta(t, fwhm/dv, peaks[0].Width, 2)
}

func TestDetectPeaks_TwoBumps_AscendingVoltage(t *testing.T) {
	v := uniformGrid(1001, 3.0, 0.001)
	y := gaussians(v, 0, bump{3.8, 2, 0.02}, bump{3.4, 1, 0.02})

	peaks, err := DetectPeaks(v, y, PeakOptions{Prominence: 0.5})

	require.NoError(t, err)
	require.Len(t, peaks, 2)
	assert.InDelta(t, 3.4, peaks[0].Voltage, 0.001)
	assert.InDelta(t, 3.8, peaks[1].Voltage, 0.001)
}

func TestDetectPeaks_ProminenceFilter_DropsNoise(t *testing.T) {
	// GIVEN a large bump and a small one
	v := uniformGrid(1001, 3.0, 0.001)
	y := gaussians(v, 0, bump{3.3, 0.05, 0.01}, bump{3.7, 2, 0.02})

	all, err := DetectPeaks(v, y, PeakOptions{})
	require.NoError(t, err)
	filtered, err := DetectPeaks(v, y, PeakOptions{Prominence: 0.5})
	require.NoError(t, err)

	assert.Len(t, all, 2)
	require.Len(t, filtered, 1)
	assert.InDelta(t, 3.7, filtered[0].Voltage, 0.001)
}

func TestDetectPeaks_Height_FiltersLowPeaks(t *testing.T) {
	v := uniformGrid(1001, 3.0, 0.001)
	y := gaussians(v, 0, bump{3.4, 1, 0.02}, bump{3.8, 2, 0.02})

	peaks, err := DetectPeaks(v, y, PeakOptions{Height: ptr(1.5)})

	require.NoError(t, err)
	require.Len(t, peaks, 1)
	assert.InDelta(t, 3.8, peaks[0].Voltage, 0.001)
}

func TestDetectPeaks_Width_FiltersNarrowPeaks(t *testing.T) {
	v := uniformGrid(1001, 3.0, 0.001)
	y := gaussians(v, 0, bump{3.4, 1, 0.002}, bump{3.8, 1, 0.03})

	peaks, err := DetectPeaks(v, y, PeakOptions{Width: ptr(20.0)})

	require.NoError(t, err)
	require.Len(t, peaks, 1)
	assert.InDelta(t, 3.8, peaks[0].Voltage, 0.001)
}

func TestDetectPeaks_Distance_HigherPeakWins(t *testing.T) {
	// GIVEN two bumps 10 samples apart, the right one higher
	v := uniformGrid(201, 3.0, 0.005)
	y := gaussians(v, 0, bump{v[100], 1, 0.01}, bump{v[110], 2, 0.01})

	near, err := DetectPeaks(v, y, PeakOptions{})
	require.NoError(t, err)
	far, err := DetectPeaks(v, y, PeakOptions{Distance: ptr(20)})
	require.NoError(t, err)

	// THEN both are found without a distance, only the higher one with it
	assert.Len(t, near, 2)
	require.Len(t, far, 1)
	assert.Equal(t, 110, far[0].Index)
}

func TestDetectPeaks_Window_MasksSamples(t *testing.T) {
	v := uniformGrid(1001, 3.0, 0.001)
	y := gaussians(v, 0, bump{3.4, 1, 0.02}, bump{3.8, 2, 0.02})

	peaks, err := DetectPeaks(v, y, PeakOptions{VMin: ptr(3.2), VMax: ptr(3.6)})

	require.NoError(t, err)
	require.Len(t, peaks, 1)
	assert.InDelta(t, 3.4, peaks[0].Voltage, 0.001)
	// Index refers to the unmasked input
	assert.Equal(t, v[peaks[0].Index], peaks[0].Voltage)
}

func TestDetectPeaks_WindowGapInNonMonotoneVoltage_SplitsRuns(t *testing.T) {
	// GIVEN a voltage excursion above the window between two in-window segments
	v := []float64{3.0, 3.1, 3.2, 3.3, 3.4, 4.5, 4.6, 3.5, 3.6, 3.7}
	y := []float64{0, 2, 0, 1, 5, 9, 9, 5, 1, 0}

	// WHEN the excursion is masked out
	peaks, err := DetectPeaks(v, y, PeakOptions{VMax: ptr(4.0)})

	// THEN no peak is formed across the masked gap
	require.NoError(t, err)
	require.Len(t, peaks, 1)
	assert.Equal(t, 1, peaks[0].Index)
	assert.Equal(t, 3.1, peaks[0].Voltage)
	assert.Equal(t, 2.0, peaks[0].Prominence)
}

func TestDetectPeaks_Plateau_MidpointAndWidth(t *testing.T) {
	v := uniformGrid(7, 3.0, 0.1)
	y := []float64{0, 1, 3, 3, 3, 1, 0}

	peaks, err := DetectPeaks(v, y, PeakOptions{})

	require.NoError(t, err)
	require.Len(t, peaks, 1)
	assert.Equal(t, 3, peaks[0].Index)
	assert.Equal(t, 3.0, peaks[0].Prominence)
	assert.InDelta(t, 3.5, peaks[0].Width, 1e-12)
	assert.InDelta(t, 0.35, peaks[0].WidthV, 1e-12)
}

func TestDetectPeaks_EvenPlateau_MidpointRoundsDown(t *testing.T) {
	v := uniformGrid(4, 3.0, 0.1)
	peaks, err := DetectPeaks(v, []float64{0, 3, 3, 0}, PeakOptions{})
	require.NoError(t, err)
	require.Len(t, peaks, 1)
	assert.Equal(t, 1, peaks[0].Index)
}

func TestDetectPeaks_EdgesNeverPeaks(t *testing.T) {
	v := uniformGrid(5, 3.0, 0.1)
	peaks, err := DetectPeaks(v, []float64{5, 4, 3, 4, 5}, PeakOptions{})
	require.NoError(t, err)
	assert.Empty(t, peaks)
}

func TestDetectPeaks_PhaseAware_CCBeforeCV(t *testing.T) {
	// GIVEN a curve whose low-voltage half is tagged CV and high half CC
	v := uniformGrid(1001, 3.0, 0.001)
	y := gaussians(v, 0, bump{3.3, 1, 0.02}, bump{3.8, 1, 0.02})
	phase := make([]trace.Phase, len(v))
	current := make([]float64, len(v))
	for i := range v {
		current[i] = float64(i)
		if v[i] < 3.5 {
			phase[i] = trace.PhaseCV
		}
	}

	// WHEN detected phase-aware
	peaks, err := DetectPeaks(v, y, PeakOptions{Prominence: 0.5, Phase: phase, Current: current})

	// THEN the CC peak comes first even though it is at higher voltage
	require.NoError(t, err)
	require.Len(t, peaks, 2)
	require.NotNil(t, peaks[0].Phase)
	require.NotNil(t, peaks[1].Phase)
	assert.Equal(t, trace.PhaseCC, *peaks[0].Phase)
	assert.InDelta(t, 3.8, peaks[0].Voltage, 0.001)
	assert.Equal(t, trace.PhaseCV, *peaks[1].Phase)
	assert.InDelta(t, 3.3, peaks[1].Voltage, 0.001)

	// THEN current at peak is tagged from the input
	for _, p := range peaks {
		require.NotNil(t, p.Current)
		assert.Equal(t, float64(p.Index), *p.Current)
	}
}

func TestDetectPeaks_PhaseBoundaryAtMaximum_NoPeakSpansIt(t *testing.T) {
	// GIVEN a bump whose maximum is the last CC sample
	v := uniformGrid(201, 3.0, 0.005)
	y := gaussians(v, 0, bump{v[100], 1, 0.05})
	phase := make([]trace.Phase, len(v))
	for i := 101; i < len(v); i++ {
		phase[i] = trace.PhaseCV
	}

	split, err := DetectPeaks(v, y, PeakOptions{Phase: phase})
	require.NoError(t, err)
	whole, err := DetectPeaks(v, y, PeakOptions{})
	require.NoError(t, err)

	// THEN only the phase-blind pass sees it
	assert.Empty(t, split)
	assert.Len(t, whole, 1)
}

func TestDetectPeaks_InvalidInput_Errors(t *testing.T) {
	v := uniformGrid(10, 3.0, 0.1)
	y := make([]float64, 10)

	tests := []struct {
		name string
		dqdv []float64
		opts PeakOptions
	}{
		{"length mismatch", y[:9], PeakOptions{}},
		{"negative prominence", y, PeakOptions{Prominence: -1}},
		{"phase length mismatch", y, PeakOptions{Phase: make([]trace.Phase, 3)}},
		{"current length mismatch", y, PeakOptions{Current: make([]float64, 11)}},
		{"zero distance", y, PeakOptions{Distance: ptr(0)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DetectPeaks(v, tc.dqdv, tc.opts)
			assert.Error(t, err)
		})
	}
}

func TestDetectPeaks_Empty_NoPeaks(t *testing.T) {
	peaks, err := DetectPeaks(nil, nil, PeakOptions{})
	require.NoError(t, err)
	assert.Empty(t, peaks)
}
