package sim

import (
	"github.com/sirupsen/logrus"

	"github.com/cellsim/cellsim/sim/trace"
)

// DischargeParams configures one constant-current discharge.
type DischargeParams struct {
	CapacityAh float64 // fade-adjusted capacity
	CRate      float64 // discharge current as a multiple of capacity
	Resistance float64 // internal resistance (Ω)
	VMin       float64 // cut-off voltage (V)
	Dt         float64 // step size (s)
}

// SimulateDischarge runs a constant-current discharge from SOC 1 until the
// projected terminal voltage OCV(soc)−I·R drops to VMin or the cell is empty.
// All samples are tagged PhaseCC and carry the same current.
func SimulateDischarge(ocv *OCVCurve, p DischargeParams) trace.DischargeTrace {
	current := p.CRate * p.CapacityAh
	maxSteps := stepCap(p.CRate, p.Dt)
	dtHours := p.Dt / secondsPerHour

	tr := trace.NewDischargeTrace(sampleHint(p.CRate, p.Dt))

	soc := 1.0
	var discharged, elapsed float64
	for steps := 0; ; steps++ {
		if steps >= maxSteps {
			tr.Truncated = true
			logrus.Warnf("discharge truncated after %d steps (soc=%.4f)", steps, soc)
			break
		}
		voltage := ocv.VoltageAt(soc) - current*p.Resistance
		if voltage <= p.VMin || soc <= 0 {
			break
		}

		dq := current * dtHours
		discharged += dq
		soc = clamp01(soc - dq/p.CapacityAh)
		elapsed += p.Dt

		tr.Record(trace.Sample{
			SOC:      soc,
			Capacity: discharged,
			Voltage:  voltage,
			Current:  current,
			Time:     elapsed,
			Phase:    trace.PhaseCC,
		})
	}
	return *tr
}
