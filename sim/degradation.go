package sim

import "math"

// CapacityAfterCycle returns the fade-adjusted capacity after n cycles:
//
//	Q(n) = q0 · (1 − a·(1 − e^(−b·n)))
//
// a is the asymptotic fractional fade and b the fade rate constant.
func CapacityAfterCycle(n int, q0, a, b float64) float64 {
	return q0 * (1 - a*(1-math.Exp(-b*float64(n))))
}

// ResistanceAfterCycle returns the internal resistance after n cycles:
//
//	R(n) = r0 · (1 + c·n^d)
func ResistanceAfterCycle(n int, r0, c, d float64) float64 {
	return r0 * (1 + c*math.Pow(float64(n), d))
}

// DegradationModel bundles the empirical fade coefficients of a cell.
type DegradationModel struct {
	Q0 float64 `yaml:"q0"` // nominal capacity (Ah)
	A  float64 `yaml:"a"`  // asymptotic capacity fade fraction
	B  float64 `yaml:"b"`  // capacity fade rate constant (1/cycle)
	R0 float64 `yaml:"r0"` // initial internal resistance (Ω)
	C  float64 `yaml:"c"`  // resistance growth coefficient
	D  float64 `yaml:"d"`  // resistance growth exponent
}

// NewDegradationModel creates a DegradationModel.
func NewDegradationModel(q0, a, b, r0, c, d float64) DegradationModel {
	return DegradationModel{Q0: q0, A: a, B: b, R0: r0, C: c, D: d}
}

// Capacity returns Q(n).
func (m DegradationModel) Capacity(n int) float64 {
	return CapacityAfterCycle(n, m.Q0, m.A, m.B)
}

// Resistance returns R(n).
func (m DegradationModel) Resistance(n int) float64 {
	return ResistanceAfterCycle(n, m.R0, m.C, m.D)
}
