package trace

// ChargeTrace is the full output of one CC→CV charge simulation.
type ChargeTrace struct {
	Samples []Sample
	CVOnset CVOnset
	// Truncated is set when the step safety bound stopped the loop before
	// the charger reached DONE.
	Truncated bool
}

// NewChargeTrace creates a ChargeTrace ready for recording.
func NewChargeTrace(capacityHint int) *ChargeTrace {
	if capacityHint < 0 {
		capacityHint = 0
	}
	return &ChargeTrace{
		Samples: make([]Sample, 0, capacityHint),
	}
}

// Record appends a sample.
func (ct *ChargeTrace) Record(s Sample) {
	ct.Samples = append(ct.Samples, s)
}

// MarkCVOnset stores the CC→CV transition point.
func (ct *ChargeTrace) MarkCVOnset(time, capacity, soc float64) {
	ct.CVOnset = CVOnset{Reached: true, Time: time, Capacity: capacity, SOC: soc}
}

// ChargedCapacity returns the cumulative Ah at the end of the trace (0 if empty).
func (ct *ChargeTrace) ChargedCapacity() float64 {
	if len(ct.Samples) == 0 {
		return 0
	}
	return ct.Samples[len(ct.Samples)-1].Capacity
}

// Columns splits the trace into parallel capacity and voltage slices, the
// shape expected by the dQ/dV extractor.
func (ct *ChargeTrace) Columns() (capacity, voltage []float64) {
	return columns(ct.Samples)
}

// DischargeTrace is the full output of one constant-current discharge.
// Every sample is tagged PhaseCC.
type DischargeTrace struct {
	Samples   []Sample
	Truncated bool
}

// NewDischargeTrace creates a DischargeTrace ready for recording.
func NewDischargeTrace(capacityHint int) *DischargeTrace {
	if capacityHint < 0 {
		capacityHint = 0
	}
	return &DischargeTrace{
		Samples: make([]Sample, 0, capacityHint),
	}
}

// Record appends a sample.
func (dt *DischargeTrace) Record(s Sample) {
	dt.Samples = append(dt.Samples, s)
}

// DischargedCapacity returns the cumulative discharged Ah (0 if empty).
func (dt *DischargeTrace) DischargedCapacity() float64 {
	if len(dt.Samples) == 0 {
		return 0
	}
	return dt.Samples[len(dt.Samples)-1].Capacity
}

// Columns splits the trace into parallel capacity and voltage slices.
func (dt *DischargeTrace) Columns() (capacity, voltage []float64) {
	return columns(dt.Samples)
}

func columns(samples []Sample) (capacity, voltage []float64) {
	capacity = make([]float64, len(samples))
	voltage = make([]float64, len(samples))
	for i, s := range samples {
		capacity[i] = s.Capacity
		voltage[i] = s.Voltage
	}
	return capacity, voltage
}
