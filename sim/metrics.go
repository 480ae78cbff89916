// Aggregates per-cycle records into run-level figures such as end-of-life
// cycle, mean fade rates and throughput.

package sim

import (
	"fmt"
	"io"

	"github.com/cellsim/cellsim/sim/trace"
)

// DefaultEOLThreshold is the retention (%) below which a cell is considered at end of life.
const DefaultEOLThreshold = 80.0

// Metrics aggregates statistics about a multi-cycle run
// for final reporting.
type Metrics struct {
	Cycles           int
	DegenerateCycles int

	FirstDischarge float64 // Ah, cycle 1
	LastDischarge  float64 // Ah, final cycle
	FinalRetention float64 // %

	MeanCapacityFadeRate    float64 // % per cycle, cycles 2..N
	MeanResistanceIncrease  float64 // % per cycle, cycles 2..N
	MeanCoulombicEfficiency float64 // %

	EOLThreshold float64 // % retention
	EOLCycle     int     // first cycle below EOLThreshold; 0 if never reached

	ChargeThroughputAh    float64
	DischargeThroughputAh float64
	ChargeEnergyWh        float64
	DischargeEnergyWh     float64
}

// Summarize computes run-level metrics from cycle-ordered records.
// A non-positive eolThreshold selects DefaultEOLThreshold.
// Safe for empty input (returns zero-value fields).
func Summarize(records []CycleRecord, eolThreshold float64) *Metrics {
	if eolThreshold <= 0 {
		eolThreshold = DefaultEOLThreshold
	}
	m := &Metrics{EOLThreshold: eolThreshold}
	if len(records) == 0 {
		return m
	}

	var fade, resInc, ce []float64
	for i := range records {
		rec := &records[i]
		if rec.Degenerate {
			m.DegenerateCycles++
		}
		if i > 0 {
			fade = append(fade, rec.CapacityFadeRate)
			resInc = append(resInc, rec.ResistanceIncrease)
		}
		ce = append(ce, rec.CoulombicEfficiency)
		if m.EOLCycle == 0 && rec.Retention < eolThreshold {
			m.EOLCycle = rec.Index
		}
		m.ChargeThroughputAh += rec.ChargedCapacity
		m.DischargeThroughputAh += rec.DischargedCapacity
		m.ChargeEnergyWh += trace.SummarizeCharge(&rec.Charge).EnergyWh
		m.DischargeEnergyWh += trace.SummarizeDischarge(&rec.Discharge).EnergyWh
	}

	last := &records[len(records)-1]
	m.Cycles = len(records)
	m.FirstDischarge = records[0].DischargedCapacity
	m.LastDischarge = last.DischargedCapacity
	m.FinalRetention = last.Retention
	m.MeanCapacityFadeRate = CalculateMean(fade)
	m.MeanResistanceIncrease = CalculateMean(resInc)
	m.MeanCoulombicEfficiency = CalculateMean(ce)
	return m
}

// Print displays aggregated metrics at the end of the run.
func (m *Metrics) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Cycling Metrics ===")
	fmt.Fprintf(w, "Cycles               : %d (%d degenerate)\n", m.Cycles, m.DegenerateCycles)
	if m.Cycles == 0 {
		return
	}
	fmt.Fprintf(w, "First Discharge      : %.4f Ah\n", m.FirstDischarge)
	fmt.Fprintf(w, "Last Discharge       : %.4f Ah\n", m.LastDischarge)
	fmt.Fprintf(w, "Final Retention      : %.2f %%\n", m.FinalRetention)
	fmt.Fprintf(w, "Mean Capacity Fade   : %.5f %%/cycle\n", m.MeanCapacityFadeRate)
	fmt.Fprintf(w, "Mean Resistance Rise : %.5f %%/cycle\n", m.MeanResistanceIncrease)
	fmt.Fprintf(w, "Coulombic Efficiency : %.2f %%\n", m.MeanCoulombicEfficiency)
	if m.EOLCycle > 0 {
		fmt.Fprintf(w, "End of Life (<%.0f%%)  : cycle %d\n", m.EOLThreshold, m.EOLCycle)
	} else {
		fmt.Fprintf(w, "End of Life (<%.0f%%)  : not reached\n", m.EOLThreshold)
	}
	fmt.Fprintf(w, "Throughput           : %.3f Ah in / %.3f Ah out\n", m.ChargeThroughputAh, m.DischargeThroughputAh)
	fmt.Fprintf(w, "Energy               : %.3f Wh in / %.3f Wh out\n", m.ChargeEnergyWh, m.DischargeEnergyWh)
}

// PrintCycleTable writes one line per cycle with the derived metrics.
func PrintCycleTable(w io.Writer, records []CycleRecord) {
	fmt.Fprintf(w, "%-6s %-9s %-9s %-9s %-9s %-9s %-9s %-9s %-9s %-8s\n",
		"cycle", "Q(Ah)", "R(Ω)", "chg(Ah)", "dis(Ah)", "ret%", "fade%", "resinc%", "retdrop", "cvSOC")
	for i := range records {
		rec := &records[i]
		flag := ""
		if rec.Degenerate {
			flag = " !"
		}
		fmt.Fprintf(w, "%-6d %-9.4f %-9.5f %-9.4f %-9.4f %-9.3f %-9.5f %-9.5f %-9.5f %-8.4f%s\n",
			rec.Index, rec.Capacity, rec.Resistance, rec.ChargedCapacity, rec.DischargedCapacity,
			rec.Retention, rec.CapacityFadeRate, rec.ResistanceIncrease, rec.RetentionDrop,
			rec.CVOnset().SOC, flag)
	}
}
