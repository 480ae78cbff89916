package sim

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/cellsim/cellsim/sim/trace"
)

const (
	secondsPerHour = 3600.0

	// stepCapMultiple scales the nominal full-charge step count into the loop bound.
	stepCapMultiple = 50
	// stepCapSlack keeps short or coarse runs from being bounded too tightly.
	stepCapSlack = 10_000
	// hardStepCap bounds memory for pathological inputs (zero current, tiny dt).
	hardStepCap = 5_000_000
	// maxSampleHint caps the up-front trace allocation.
	maxSampleHint = 1 << 16
)

// ChargeParams configures one CC→CV charge.
type ChargeParams struct {
	CapacityAh      float64 // fade-adjusted capacity
	CRate           float64 // CC current as a multiple of capacity
	Resistance      float64 // internal resistance (Ω)
	VMax            float64 // CV setpoint (V)
	EndCurrentRatio float64 // CV terminates when I ≤ ratio × CC current
	Dt              float64 // step size (s)
}

// chargerState is the CC→CV→DONE state machine position.
type chargerState int

const (
	stateCC chargerState = iota
	stateCV
	stateDone
)

// stepCap returns the maximum number of steps a single charge or discharge
// may take. The nominal step count for a full SOC sweep is 3600/(cRate·dt).
func stepCap(cRate, dt float64) int {
	nominal := secondsPerHour / (cRate * dt)
	if math.IsNaN(nominal) || math.IsInf(nominal, 0) || nominal <= 0 {
		return hardStepCap
	}
	limit := nominal*stepCapMultiple + stepCapSlack
	if limit >= hardStepCap {
		return hardStepCap
	}
	return int(limit)
}

// sampleHint sizes the trace buffer for a nominal sweep without trusting
// pathological inputs.
func sampleHint(cRate, dt float64) int {
	nominal := secondsPerHour / (cRate * dt)
	if math.IsNaN(nominal) || math.IsInf(nominal, 0) || nominal <= 0 {
		return 0
	}
	return int(math.Min(nominal+1, maxSampleHint))
}

// SimulateCharge runs a CC→CV charge from SOC 0.
//
// Under CC the current is CRate×Capacity and the reported voltage is the
// projected OCV(soc)+I·R. When that projection reaches VMax the step is not
// applied; the charger switches to CV and re-evaluates the same instant. Under
// CV the current is the one that pins the terminal voltage at VMax,
// max((VMax−OCV(soc))/R, 0), and the charge ends once it tapers to
// EndCurrentRatio of the CC current. Reaching SOC 1 ends either phase.
//
// Samples carry the state after each step. SimulateCharge never fails; if the
// step bound is hit the trace is returned with Truncated set.
func SimulateCharge(ocv *OCVCurve, p ChargeParams) trace.ChargeTrace {
	i0 := p.CRate * p.CapacityAh
	maxSteps := stepCap(p.CRate, p.Dt)
	dtHours := p.Dt / secondsPerHour

	ct := trace.NewChargeTrace(sampleHint(p.CRate, p.Dt))

	var soc, charge, elapsed float64
	state := stateCC
	steps := 0

	for state != stateDone {
		if steps >= maxSteps {
			ct.Truncated = true
			logrus.Warnf("charge truncated after %d steps (soc=%.4f, phase=%v); check resistance and voltage limits",
				steps, soc, phaseOf(state))
			break
		}

		var current, voltage float64
		switch state {
		case stateCC:
			current = i0
			voltage = ocv.VoltageAt(soc) + current*p.Resistance
			if voltage >= p.VMax {
				state = stateCV
				ct.MarkCVOnset(elapsed, charge, soc)
				continue
			}
		case stateCV:
			current = math.Max((p.VMax-ocv.VoltageAt(soc))/p.Resistance, 0)
			if current <= p.EndCurrentRatio*i0 {
				state = stateDone
				continue
			}
			voltage = p.VMax
		}

		dq := current * dtHours
		charge += dq
		soc = clamp01(soc + dq/p.CapacityAh)
		elapsed += p.Dt
		steps++

		ct.Record(trace.Sample{
			SOC:      soc,
			Capacity: charge,
			Voltage:  voltage,
			Current:  current,
			Time:     elapsed,
			Phase:    phaseOf(state),
		})

		if soc >= 1 {
			state = stateDone
		}
	}
	return *ct
}

func phaseOf(s chargerState) trace.Phase {
	if s == stateCV {
		return trace.PhaseCV
	}
	return trace.PhaseCC
}
