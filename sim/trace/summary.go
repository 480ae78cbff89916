package trace

// ChargeSummary aggregates statistics from a ChargeTrace.
type ChargeSummary struct {
	Steps        int
	Duration     float64 // s
	CCDuration   float64 // s
	CVDuration   float64 // s
	CCCapacity   float64 // Ah charged under CC
	CVCapacity   float64 // Ah charged under CV
	Capacity     float64 // Ah
	EnergyWh     float64
	MeanVoltage  float64 // capacity-weighted
	FinalCurrent float64
	FinalSOC     float64
}

// DischargeSummary aggregates statistics from a DischargeTrace.
type DischargeSummary struct {
	Steps       int
	Duration    float64 // s
	Capacity    float64 // Ah
	EnergyWh    float64
	MeanVoltage float64 // capacity-weighted
	EndVoltage  float64
	FinalSOC    float64
}

// SummarizeCharge computes aggregate statistics from a ChargeTrace.
// Safe for nil or empty traces (returns zero-value fields).
func SummarizeCharge(ct *ChargeTrace) *ChargeSummary {
	summary := &ChargeSummary{}
	if ct == nil || len(ct.Samples) == 0 {
		return summary
	}

	var prevTime, prevCap float64
	for _, s := range ct.Samples {
		dt := s.Time - prevTime
		dq := s.Capacity - prevCap
		switch s.Phase {
		case PhaseCC:
			summary.CCDuration += dt
			summary.CCCapacity += dq
		case PhaseCV:
			summary.CVDuration += dt
			summary.CVCapacity += dq
		}
		summary.EnergyWh += s.Voltage * dq
		prevTime, prevCap = s.Time, s.Capacity
	}

	last := ct.Samples[len(ct.Samples)-1]
	summary.Steps = len(ct.Samples)
	summary.Duration = last.Time
	summary.Capacity = last.Capacity
	summary.FinalCurrent = last.Current
	summary.FinalSOC = last.SOC
	if summary.Capacity > 0 {
		summary.MeanVoltage = summary.EnergyWh / summary.Capacity
	}
	return summary
}

// SummarizeDischarge computes aggregate statistics from a DischargeTrace.
// Safe for nil or empty traces (returns zero-value fields).
func SummarizeDischarge(dt *DischargeTrace) *DischargeSummary {
	summary := &DischargeSummary{}
	if dt == nil || len(dt.Samples) == 0 {
		return summary
	}

	var prevCap float64
	for _, s := range dt.Samples {
		summary.EnergyWh += s.Voltage * (s.Capacity - prevCap)
		prevCap = s.Capacity
	}

	last := dt.Samples[len(dt.Samples)-1]
	summary.Steps = len(dt.Samples)
	summary.Duration = last.Time
	summary.Capacity = last.Capacity
	summary.EndVoltage = last.Voltage
	summary.FinalSOC = last.SOC
	if summary.Capacity > 0 {
		summary.MeanVoltage = summary.EnergyWh / summary.Capacity
	}
	return summary
}
