package sim

import (
	"fmt"
	"math"
	"runtime"
)

// ChargeProtocol groups CC→CV charge settings shared by every cycle.
type ChargeProtocol struct {
	CRate           float64 `yaml:"c_rate"`            // CC current as a multiple of capacity (must be > 0)
	VMax            float64 `yaml:"v_max"`             // CV setpoint in V
	EndCurrentRatio float64 `yaml:"end_current_ratio"` // CV cut-off as a fraction of CC current, in [0,1)
}

// DischargeProtocol groups constant-current discharge settings.
type DischargeProtocol struct {
	CRate float64 `yaml:"c_rate"` // discharge current as a multiple of capacity (must be > 0)
	VMin  float64 `yaml:"v_min"`  // cut-off voltage in V
}

// CycleConfig is everything the orchestrator needs for a run.
type CycleConfig struct {
	OCV         *OCVCurve
	Degradation DegradationModel
	Charge      ChargeProtocol
	Discharge   DischargeProtocol
	NumCycles   int     // cycles to simulate (must be ≥ 1)
	Dt          float64 // simulator step in seconds (must be > 0)
	Workers     int     // parallel compute goroutines; 0 = GOMAXPROCS

	// AllowPartialWindow accepts voltage limits inside the OCV range, so
	// that charge or discharge stops short of a full swing.
	AllowPartialWindow bool
}

// NewChargeProtocol creates a ChargeProtocol.
func NewChargeProtocol(cRate, vMax, endCurrentRatio float64) ChargeProtocol {
	return ChargeProtocol{CRate: cRate, VMax: vMax, EndCurrentRatio: endCurrentRatio}
}

// NewDischargeProtocol creates a DischargeProtocol.
func NewDischargeProtocol(cRate, vMin float64) DischargeProtocol {
	return DischargeProtocol{CRate: cRate, VMin: vMin}
}

// NewCycleConfig creates a CycleConfig. Zero-value arguments are kept as-is;
// Validate decides whether they are usable.
func NewCycleConfig(ocv *OCVCurve, deg DegradationModel, charge ChargeProtocol, discharge DischargeProtocol, numCycles int, dt float64) CycleConfig {
	return CycleConfig{
		OCV:         ocv,
		Degradation: deg,
		Charge:      charge,
		Discharge:   discharge,
		NumCycles:   numCycles,
		Dt:          dt,
	}
}

// workers resolves the parallelism for the compute phase.
func (c *CycleConfig) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Validate checks the configuration before any simulation runs.
// v_min and v_max must bracket the OCV range unless AllowPartialWindow is set;
// limits that cannot produce a charge or discharge at all are always rejected.
func (c *CycleConfig) Validate() error {
	if c.OCV == nil {
		return fmt.Errorf("cycle config: ocv curve is required")
	}
	if c.NumCycles < 1 {
		return fmt.Errorf("cycle config: num_cycles must be >= 1, got %d", c.NumCycles)
	}
	if err := validatePositive("dt", c.Dt); err != nil {
		return err
	}
	if err := validatePositive("charge.c_rate", c.Charge.CRate); err != nil {
		return err
	}
	if err := validatePositive("discharge.c_rate", c.Discharge.CRate); err != nil {
		return err
	}
	if c.Workers < 0 {
		return fmt.Errorf("cycle config: workers must be >= 0, got %d", c.Workers)
	}
	if err := c.Degradation.Validate(); err != nil {
		return err
	}
	ratio := c.Charge.EndCurrentRatio
	if math.IsNaN(ratio) || ratio < 0 || ratio >= 1 {
		return fmt.Errorf("cycle config: charge.end_current_ratio must be in [0,1), got %v", ratio)
	}

	vMin, vMax := c.Discharge.VMin, c.Charge.VMax
	if math.IsNaN(vMin) || math.IsNaN(vMax) || vMin >= vMax {
		return fmt.Errorf("cycle config: v_min (%v) must be below v_max (%v)", vMin, vMax)
	}
	ocvLo, ocvHi := c.OCV.MinVoltage(), c.OCV.MaxVoltage()
	if vMax <= ocvLo {
		return fmt.Errorf("cycle config: v_max %v is at or below the empty-cell OCV %v; no charge is possible", vMax, ocvLo)
	}
	if vMin >= ocvHi {
		return fmt.Errorf("cycle config: v_min %v is at or above the full-cell OCV %v; no discharge is possible", vMin, ocvHi)
	}
	if c.partialWindow() && !c.AllowPartialWindow {
		return fmt.Errorf("cycle config: voltage window [%v, %v] does not bracket the OCV range [%v, %v]; set allow_partial_window to cycle a partial window",
			vMin, vMax, ocvLo, ocvHi)
	}
	return nil
}

// partialWindow reports whether the voltage limits fall inside the OCV range,
// so that charge or discharge stops short of a full swing.
func (c *CycleConfig) partialWindow() bool {
	return c.Discharge.VMin > c.OCV.MinVoltage() || c.Charge.VMax < c.OCV.MaxVoltage()
}

// Validate checks the fade coefficients.
func (m DegradationModel) Validate() error {
	if err := validatePositive("degradation.q0", m.Q0); err != nil {
		return err
	}
	if err := validatePositive("degradation.r0", m.R0); err != nil {
		return err
	}
	if math.IsNaN(m.A) || m.A < 0 || m.A >= 1 {
		return fmt.Errorf("cycle config: degradation.a must be in [0,1), got %v", m.A)
	}
	for _, f := range []struct {
		name string
		v    float64
	}{{"degradation.b", m.B}, {"degradation.c", m.C}, {"degradation.d", m.D}} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v < 0 {
			return fmt.Errorf("cycle config: %s must be finite and >= 0, got %v", f.name, f.v)
		}
	}
	return nil
}

func validatePositive(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return fmt.Errorf("cycle config: %s must be finite and > 0, got %v", name, v)
	}
	return nil
}
