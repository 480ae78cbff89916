package sim

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"
)

// OCVPoint is one anchor of an open-circuit-voltage table.
type OCVPoint struct {
	SOC     float64 `yaml:"soc"`
	Voltage float64 `yaml:"voltage"`
}

// OCVCurve maps state of charge to open-circuit voltage by piecewise-linear
// interpolation over a fixed anchor table. It is immutable after construction
// and safe for concurrent use by the simulators.
type OCVCurve struct {
	points []OCVPoint
	lerp   interp.PiecewiseLinear
}

// defaultOCVTable is a generic NMC/graphite curve sampled every 10% SOC.
var defaultOCVTable = []OCVPoint{
	{0.0, 3.0519},
	{0.1, 3.4414},
	{0.2, 3.5542},
	{0.3, 3.6200},
	{0.4, 3.6696},
	{0.5, 3.7090},
	{0.6, 3.7609},
	{0.7, 3.8328},
	{0.8, 3.9207},
	{0.9, 4.0351},
	{1.0, 4.1797},
}

// DefaultOCVTable returns a copy of the built-in 11-point NMC table
// spanning 3.0519 V (empty) to 4.1797 V (full).
func DefaultOCVTable() []OCVPoint {
	out := make([]OCVPoint, len(defaultOCVTable))
	copy(out, defaultOCVTable)
	return out
}

// NewOCVCurve validates the anchor table and builds the interpolant.
// SOC must be strictly increasing within [0,1] and voltage non-decreasing.
func NewOCVCurve(points []OCVPoint) (*OCVCurve, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("ocv table: need at least 2 points, got %d", len(points))
	}
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		if math.IsNaN(p.SOC) || math.IsNaN(p.Voltage) || math.IsInf(p.Voltage, 0) {
			return nil, fmt.Errorf("ocv table: point %d is not finite (soc=%v, voltage=%v)", i, p.SOC, p.Voltage)
		}
		if p.SOC < 0 || p.SOC > 1 {
			return nil, fmt.Errorf("ocv table: point %d soc %v outside [0,1]", i, p.SOC)
		}
		if i > 0 {
			if p.SOC <= points[i-1].SOC {
				return nil, fmt.Errorf("ocv table: soc must be strictly increasing (point %d: %v after %v)", i, p.SOC, points[i-1].SOC)
			}
			if p.Voltage < points[i-1].Voltage {
				return nil, fmt.Errorf("ocv table: voltage must be non-decreasing (point %d: %v after %v)", i, p.Voltage, points[i-1].Voltage)
			}
		}
		xs[i], ys[i] = p.SOC, p.Voltage
	}

	c := &OCVCurve{points: make([]OCVPoint, len(points))}
	copy(c.points, points)
	if err := c.lerp.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("ocv table: %w", err)
	}
	return c, nil
}

// MustDefaultOCVCurve builds the curve for DefaultOCVTable. The built-in table
// is valid, so failure indicates a programming error.
func MustDefaultOCVCurve() *OCVCurve {
	c, err := NewOCVCurve(defaultOCVTable)
	if err != nil {
		panic(err)
	}
	return c
}

// VoltageAt returns the open-circuit voltage at soc. Input is clamped to
// [0,1] first; SOCs between 0 and the first anchor (or the last anchor and 1)
// take the nearest anchor's voltage.
func (c *OCVCurve) VoltageAt(soc float64) float64 {
	return c.lerp.Predict(clamp01(soc))
}

// MinVoltage is the lowest achievable OCV (the SOC=0 end of the curve).
func (c *OCVCurve) MinVoltage() float64 {
	return c.VoltageAt(0)
}

// MaxVoltage is the highest achievable OCV (the SOC=1 end of the curve).
func (c *OCVCurve) MaxVoltage() float64 {
	return c.VoltageAt(1)
}

// Points returns a copy of the anchor table.
func (c *OCVCurve) Points() []OCVPoint {
	out := make([]OCVPoint, len(c.points))
	copy(out, c.points)
	return out
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
