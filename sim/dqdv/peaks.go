package dqdv

import (
	"fmt"
	"math"
	"sort"

	"github.com/cellsim/cellsim/sim/trace"
)

// PeakOptions selects which local maxima count as peaks. Nil pointers
// disable the corresponding filter.
type PeakOptions struct {
	Prominence float64  // minimum prominence, must be ≥ 0
	Width      *float64 // minimum width at half prominence, in samples
	Height     *float64 // minimum dQ/dV value
	Distance   *int     // minimum spacing between peaks, in samples (≥ 1)
	VMin, VMax *float64 // voltage window; samples outside are ignored

	// Per-sample phase and current. When Phase is set, detection also runs
	// separately on each contiguous same-phase run.
	Current []float64
	Phase   []trace.Phase
}

// Peak is one detected maximum of a dQ/dV curve.
type Peak struct {
	Voltage    float64      `yaml:"voltage"`
	DQDV       float64      `yaml:"dqdv"`
	Prominence float64      `yaml:"prominence"`
	Width      float64      `yaml:"width"`   // samples
	WidthV     float64      `yaml:"width_v"` // volts
	Phase      *trace.Phase `yaml:"phase,omitempty"`
	Current    *float64     `yaml:"current,omitempty"`
	Index      int          `yaml:"index"` // position in the input curve
}

// DetectPeaks finds peaks of dqdv(voltage). Peaks come back in ascending
// voltage; in phase-aware mode all CC peaks precede all CV peaks.
func DetectPeaks(voltage, dqdv []float64, opts PeakOptions) ([]Peak, error) {
	if err := opts.validate(len(voltage), len(dqdv)); err != nil {
		return nil, err
	}

	// indices of samples inside the voltage window
	kept := make([]int, 0, len(voltage))
	for i, v := range voltage {
		if opts.VMin != nil && v < *opts.VMin {
			continue
		}
		if opts.VMax != nil && v > *opts.VMax {
			continue
		}
		kept = append(kept, i)
	}

	var peaks []Peak
	for _, run := range splitRuns(kept, opts.Phase) {
		x := make([]float64, len(run))
		for j, i := range run {
			x[j] = dqdv[i]
		}
		for _, c := range findPeaks(x, opts) {
			i := run[c.pos]
			p := Peak{
				Voltage:    voltage[i],
				DQDV:       dqdv[i],
				Prominence: c.prominence,
				Width:      c.width,
				WidthV:     voltageAt(voltage, run, c.rightIP) - voltageAt(voltage, run, c.leftIP),
				Index:      i,
			}
			if opts.Phase != nil {
				ph := opts.Phase[i]
				p.Phase = &ph
			}
			if opts.Current != nil {
				cur := opts.Current[i]
				p.Current = &cur
			}
			peaks = append(peaks, p)
		}
	}

	sort.SliceStable(peaks, func(a, b int) bool {
		pa, pb := peaks[a], peaks[b]
		if pa.Phase != nil && pb.Phase != nil && *pa.Phase != *pb.Phase {
			return *pa.Phase < *pb.Phase
		}
		return pa.Voltage < pb.Voltage
	})
	return peaks, nil
}

func (o *PeakOptions) validate(nv, nd int) error {
	if nv != nd {
		return fmt.Errorf("dqdv: voltage has %d samples, dqdv has %d", nv, nd)
	}
	if o.Current != nil && len(o.Current) != nv {
		return fmt.Errorf("dqdv: current has %d samples, want %d", len(o.Current), nv)
	}
	if o.Phase != nil && len(o.Phase) != nv {
		return fmt.Errorf("dqdv: phase has %d samples, want %d", len(o.Phase), nv)
	}
	if math.IsNaN(o.Prominence) || o.Prominence < 0 {
		return fmt.Errorf("dqdv: prominence must be >= 0, got %v", o.Prominence)
	}
	if o.Distance != nil && *o.Distance < 1 {
		return fmt.Errorf("dqdv: distance must be >= 1, got %d", *o.Distance)
	}
	return nil
}

// splitRuns breaks idx into maximal runs of consecutive indices sharing the
// same phase. Gaps left by the voltage window always end a run.
func splitRuns(idx []int, phase []trace.Phase) [][]int {
	if len(idx) == 0 {
		return nil
	}
	var runs [][]int
	start := 0
	for j := 1; j <= len(idx); j++ {
		if j == len(idx) || idx[j] != idx[j-1]+1 ||
			(phase != nil && phase[idx[j]] != phase[idx[start]]) {
			runs = append(runs, idx[start:j])
			start = j
		}
	}
	return runs
}

// voltageAt interpolates the voltage at a fractional position within run.
func voltageAt(voltage []float64, run []int, pos float64) float64 {
	lo := int(math.Floor(pos))
	if lo >= len(run)-1 {
		return voltage[run[len(run)-1]]
	}
	frac := pos - float64(lo)
	v0, v1 := voltage[run[lo]], voltage[run[lo+1]]
	return v0 + frac*(v1-v0)
}

// candidate is a peak within one run, positions relative to that run.
type candidate struct {
	pos        int
	prominence float64
	leftBase   int
	rightBase  int
	width      float64
	leftIP     float64
	rightIP    float64
}

// findPeaks applies, in order: local maxima, height, distance, prominence
// and width selection.
func findPeaks(x []float64, opts PeakOptions) []candidate {
	pos := localMaxima(x)
	if opts.Height != nil {
		pos = filterInts(pos, func(p int) bool { return x[p] >= *opts.Height })
	}
	if opts.Distance != nil {
		pos = selectByDistance(x, pos, *opts.Distance)
	}

	out := make([]candidate, 0, len(pos))
	for _, p := range pos {
		c := candidate{pos: p}
		c.prominence, c.leftBase, c.rightBase = prominence(x, p)
		if c.prominence < opts.Prominence {
			continue
		}
		c.width, c.leftIP, c.rightIP = halfProminenceWidth(x, c)
		if opts.Width != nil && c.width < *opts.Width {
			continue
		}
		out = append(out, c)
	}
	return out
}

// localMaxima returns samples strictly greater than their neighbours. Flat
// tops report their midpoint, rounded down. End samples are never maxima.
func localMaxima(x []float64) []int {
	var peaks []int
	i, last := 1, len(x)-1
	for i < last {
		if x[i-1] < x[i] {
			ahead := i + 1
			for ahead < last && x[ahead] == x[i] {
				ahead++
			}
			if x[ahead] < x[i] {
				peaks = append(peaks, (i+ahead-1)/2)
				i = ahead
			}
		}
		i++
	}
	return peaks
}

// selectByDistance drops peaks closer than distance samples to a higher
// peak, visiting peaks from highest to lowest.
func selectByDistance(x []float64, peaks []int, distance int) []int {
	keep := make([]bool, len(peaks))
	for i := range keep {
		keep[i] = true
	}
	order := make([]int, len(peaks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return x[peaks[order[a]]] < x[peaks[order[b]]] })

	for i := len(order) - 1; i >= 0; i-- {
		j := order[i]
		if !keep[j] {
			continue
		}
		for k := j - 1; k >= 0 && peaks[j]-peaks[k] < distance; k-- {
			keep[k] = false
		}
		for k := j + 1; k < len(peaks) && peaks[k]-peaks[j] < distance; k++ {
			keep[k] = false
		}
	}
	return filterIndexed(peaks, keep)
}

// prominence walks outwards from peak until a higher sample or the border,
// tracking the minimum on each side. The higher of the two minima is the
// reference level.
func prominence(x []float64, peak int) (prom float64, leftBase, rightBase int) {
	top := x[peak]

	leftMin := top
	leftBase = peak
	for i := peak; i >= 0 && x[i] <= top; i-- {
		if x[i] < leftMin {
			leftMin = x[i]
			leftBase = i
		}
	}

	rightMin := top
	rightBase = peak
	for i := peak; i < len(x) && x[i] <= top; i++ {
		if x[i] < rightMin {
			rightMin = x[i]
			rightBase = i
		}
	}

	return top - math.Max(leftMin, rightMin), leftBase, rightBase
}

// halfProminenceWidth measures the peak at half its prominence, bounded by
// its bases, interpolating linearly between samples.
func halfProminenceWidth(x []float64, c candidate) (width, leftIP, rightIP float64) {
	height := x[c.pos] - c.prominence/2

	i := c.pos
	for c.leftBase < i && height < x[i] {
		i--
	}
	leftIP = float64(i)
	if x[i] < height {
		leftIP += (height - x[i]) / (x[i+1] - x[i])
	}

	i = c.pos
	for i < c.rightBase && height < x[i] {
		i++
	}
	rightIP = float64(i)
	if x[i] < height {
		rightIP -= (height - x[i]) / (x[i-1] - x[i])
	}

	return rightIP - leftIP, leftIP, rightIP
}

func filterInts(in []int, keep func(int) bool) []int {
	out := in[:0:0]
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

func filterIndexed(in []int, keep []bool) []int {
	out := make([]int, 0, len(in))
	for i, v := range in {
		if keep[i] {
			out = append(out, v)
		}
	}
	return out
}
