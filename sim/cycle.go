package sim

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cellsim/cellsim/sim/trace"
)

// CycleRecord is the outcome of one charge/discharge cycle. Records are
// created by the CycleRunner and must be treated as read-only afterwards.
type CycleRecord struct {
	Index      int     // 1-based cycle number
	Capacity   float64 // Q(n), Ah
	Resistance float64 // R(n), Ω

	Charge    trace.ChargeTrace
	Discharge trace.DischargeTrace

	ChargedCapacity    float64 // Ah delivered into the cell
	DischargedCapacity float64 // Ah drawn from the cell

	Retention           float64 // % of cycle 1's discharged capacity
	CapacityFadeRate    float64 // % capacity lost since the previous cycle
	ResistanceIncrease  float64 // % resistance gained since the previous cycle
	RetentionDrop       float64 // retention points lost since the previous cycle
	CoulombicEfficiency float64 // 100 × discharged / charged

	// Degenerate marks cycles whose charge or discharge produced no samples
	// or hit the step bound. They are kept so cycle indices stay contiguous.
	Degenerate bool
}

// CVOnset returns the CC→CV transition markers of the charge.
func (r *CycleRecord) CVOnset() trace.CVOnset {
	return r.Charge.CVOnset
}

// CycleObserver receives each record once its derived metrics are final.
// Calls arrive sequentially in cycle order.
type CycleObserver interface {
	ObserveCycle(rec *CycleRecord)
}

// CycleRunner orchestrates a multi-cycle run.
type CycleRunner struct {
	cfg      CycleConfig
	Observer CycleObserver // optional
}

// NewCycleRunner validates cfg and returns a runner.
func NewCycleRunner(cfg CycleConfig) (*CycleRunner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &CycleRunner{cfg: cfg}, nil
}

// RunAllCycles validates cfg and simulates every cycle.
func RunAllCycles(cfg CycleConfig) ([]CycleRecord, error) {
	r, err := NewCycleRunner(cfg)
	if err != nil {
		return nil, err
	}
	return r.Run(), nil
}

// Run simulates cycles 1..NumCycles and returns them in cycle order.
//
// Cycles are independent once Q(n) and R(n) are known, so the simulations
// run in parallel, each writing only its own slot. Derived rates read cycle
// n−1 and are filled in afterwards in a single sequential pass.
func (r *CycleRunner) Run() []CycleRecord {
	cfg := r.cfg
	logrus.Infof("Starting %d cycles: q0=%.4gAh r0=%.4gΩ charge=%.3gC→%.4gV discharge=%.3gC→%.4gV dt=%gs workers=%d",
		cfg.NumCycles, cfg.Degradation.Q0, cfg.Degradation.R0, cfg.Charge.CRate, cfg.Charge.VMax,
		cfg.Discharge.CRate, cfg.Discharge.VMin, cfg.Dt, cfg.workers())
	if cfg.partialWindow() {
		logrus.Warnf("voltage window [%v, %v] is inside the OCV range [%v, %v]; cycling a partial window",
			cfg.Discharge.VMin, cfg.Charge.VMax, cfg.OCV.MinVoltage(), cfg.OCV.MaxVoltage())
	}

	records := make([]CycleRecord, cfg.NumCycles)

	var g errgroup.Group
	g.SetLimit(cfg.workers())
	for i := range records {
		g.Go(func() error {
			records[i] = simulateCycle(&cfg, i+1)
			return nil
		})
	}
	_ = g.Wait() // simulateCycle cannot fail

	deriveRates(records)

	for i := range records {
		rec := &records[i]
		if rec.Degenerate {
			logrus.Warnf("cycle %d degenerate: charge=%d samples (truncated=%v), discharge=%d samples (truncated=%v)",
				rec.Index, len(rec.Charge.Samples), rec.Charge.Truncated,
				len(rec.Discharge.Samples), rec.Discharge.Truncated)
		}
		logrus.Debugf("cycle %d: Q=%.4fAh R=%.4fΩ discharged=%.4fAh retention=%.2f%%",
			rec.Index, rec.Capacity, rec.Resistance, rec.DischargedCapacity, rec.Retention)
		if r.Observer != nil {
			r.Observer.ObserveCycle(rec)
		}
	}
	return records
}

// simulateCycle runs the charge and discharge for cycle n. It touches no
// shared mutable state.
func simulateCycle(cfg *CycleConfig, n int) CycleRecord {
	q := cfg.Degradation.Capacity(n)
	res := cfg.Degradation.Resistance(n)

	charge := SimulateCharge(cfg.OCV, ChargeParams{
		CapacityAh:      q,
		CRate:           cfg.Charge.CRate,
		Resistance:      res,
		VMax:            cfg.Charge.VMax,
		EndCurrentRatio: cfg.Charge.EndCurrentRatio,
		Dt:              cfg.Dt,
	})
	discharge := SimulateDischarge(cfg.OCV, DischargeParams{
		CapacityAh: q,
		CRate:      cfg.Discharge.CRate,
		Resistance: res,
		VMin:       cfg.Discharge.VMin,
		Dt:         cfg.Dt,
	})

	rec := CycleRecord{
		Index:              n,
		Capacity:           q,
		Resistance:         res,
		Charge:             charge,
		Discharge:          discharge,
		ChargedCapacity:    charge.ChargedCapacity(),
		DischargedCapacity: discharge.DischargedCapacity(),
	}
	rec.Degenerate = len(charge.Samples) == 0 || len(discharge.Samples) == 0 ||
		charge.Truncated || discharge.Truncated
	rec.CoulombicEfficiency = percentOf(rec.DischargedCapacity, rec.ChargedCapacity)
	return rec
}

// deriveRates fills retention and per-cycle deltas. records must be in cycle
// order starting at cycle 1.
func deriveRates(records []CycleRecord) {
	if len(records) == 0 {
		return
	}
	first := &records[0]
	first.Retention = 100.0
	first.CapacityFadeRate = 0.0
	first.ResistanceIncrease = 0.0
	first.RetentionDrop = 0.0

	base := first.DischargedCapacity
	for i := 1; i < len(records); i++ {
		prev, cur := &records[i-1], &records[i]
		cur.Retention = percentOf(cur.DischargedCapacity, base)
		if prev.Capacity != 0 {
			cur.CapacityFadeRate = (prev.Capacity - cur.Capacity) / prev.Capacity * 100
		}
		if prev.Resistance != 0 {
			cur.ResistanceIncrease = (cur.Resistance - prev.Resistance) / prev.Resistance * 100
		}
		cur.RetentionDrop = prev.Retention - cur.Retention
	}
}

// percentOf returns 100·num/den, or 0 when den is 0.
func percentOf(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return 100 * num / den
}
