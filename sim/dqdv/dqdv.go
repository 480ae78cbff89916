// Package dqdv extracts differential-capacity (dQ/dV) curves from cycling
// traces and locates their peaks.
//
// A curve is obtained by fitting a smoothing spline of capacity against
// voltage and differentiating it analytically on a uniform voltage grid.
// Traces with too few distinct voltages yield ErrInsufficientData, which
// callers treat as "skip this trace".
package dqdv

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/cellsim/cellsim/sim/trace"
)

// DefaultGridPoints is the resolution of the voltage grid used by CalculateDQDV.
const DefaultGridPoints = 1000

// minUniquePoints is the fewest distinct voltages a spline fit accepts.
const minUniquePoints = 4

// ErrInsufficientData reports a trace with fewer than four distinct voltages.
var ErrInsufficientData = errors.New("dqdv: insufficient data")

// Curve is a differential-capacity curve on an ascending uniform voltage grid.
type Curve struct {
	Voltage []float64 // V
	DQDV    []float64 // Ah/V
}

// CalculateDQDV fits capacity against voltage with smoothing factor s and
// returns the derivative on DefaultGridPoints points.
func CalculateDQDV(capacity, voltage []float64, smoothing float64) (*Curve, error) {
	return CalculateDQDVOnGrid(capacity, voltage, smoothing, DefaultGridPoints)
}

// CalculateDQDVOnGrid is CalculateDQDV with an explicit grid size.
func CalculateDQDVOnGrid(capacity, voltage []float64, smoothing float64, points int) (*Curve, error) {
	if len(capacity) != len(voltage) {
		return nil, fmt.Errorf("dqdv: capacity has %d samples, voltage has %d", len(capacity), len(voltage))
	}
	if math.IsNaN(smoothing) || smoothing < 0 {
		return nil, fmt.Errorf("dqdv: smoothing factor must be >= 0, got %v", smoothing)
	}
	if points < 2 {
		return nil, fmt.Errorf("dqdv: grid needs at least 2 points, got %d", points)
	}

	xs, ys := uniqueByVoltage(capacity, voltage)
	if len(xs) < minUniquePoints {
		return nil, fmt.Errorf("%w: %d unique voltages, need %d", ErrInsufficientData, len(xs), minUniquePoints)
	}

	pc, err := newSmoothingSpline(xs, ys).fit(smoothing)
	if err != nil {
		return nil, err
	}

	grid := floats.Span(make([]float64, points), xs[0], xs[len(xs)-1])
	grid[points-1] = xs[len(xs)-1] // Span can miss the upper end by an ulp
	d := make([]float64, points)
	for i, v := range grid {
		d[i] = pc.PredictDerivative(v)
	}
	return &Curve{Voltage: grid, DQDV: d}, nil
}

// uniqueByVoltage stable-sorts the samples by voltage and keeps the first
// sample of every distinct voltage.
func uniqueByVoltage(capacity, voltage []float64) (xs, ys []float64) {
	idx := make([]int, 0, len(voltage))
	for i, v := range voltage {
		if math.IsNaN(v) || math.IsNaN(capacity[i]) {
			continue
		}
		idx = append(idx, i)
	}
	sort.SliceStable(idx, func(a, b int) bool { return voltage[idx[a]] < voltage[idx[b]] })

	xs = make([]float64, 0, len(idx))
	ys = make([]float64, 0, len(idx))
	for _, i := range idx {
		if n := len(xs); n > 0 && voltage[i] == xs[n-1] {
			continue
		}
		xs = append(xs, voltage[i])
		ys = append(ys, capacity[i])
	}
	return xs, ys
}

// AnnotatePhases tags every grid voltage with the phase and current of the
// first trace sample that reaches it. Rising traces reach v at the first
// sample with voltage ≥ v, falling traces at the first with voltage ≤ v.
// Grid voltages the trace never reaches take the last sample.
func AnnotatePhases(grid []float64, samples []trace.Sample) ([]trace.Phase, []float64) {
	phases := make([]trace.Phase, len(grid))
	currents := make([]float64, len(grid))
	if len(samples) == 0 || len(grid) == 0 {
		return phases, currents
	}
	last := len(samples) - 1
	set := func(g, s int) {
		phases[g] = samples[s].Phase
		currents[g] = samples[s].Current
	}

	// The first reaching index is monotone in v, so one cursor serves the
	// whole grid when it is walked in the matching direction.
	if samples[last].Voltage >= samples[0].Voltage {
		cur := 0
		for g := 0; g < len(grid); g++ {
			for cur < last && samples[cur].Voltage < grid[g] {
				cur++
			}
			set(g, cur)
		}
		return phases, currents
	}
	cur := 0
	for g := len(grid) - 1; g >= 0; g-- {
		for cur < last && samples[cur].Voltage > grid[g] {
			cur++
		}
		set(g, cur)
	}
	return phases, currents
}
