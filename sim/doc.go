// Package sim provides the core lithium-ion cycling simulator.
//
// # Reading Guide
//
// Start with these files to understand the simulation kernel:
//   - ocv.go: open-circuit voltage as a function of state of charge
//   - charge.go: the CC→CV charger state machine
//   - discharge.go: constant-current discharge to a cut-off voltage
//   - cycle.go: the multi-cycle orchestrator and derived per-cycle metrics
//
// # Architecture
//
// Each cycle n derives capacity Q(n) and resistance R(n) from the
// DegradationModel, charges from empty to the CV cut-off, then discharges
// from full to v_min. Cycles are independent given Q(n) and R(n), so the
// CycleRunner simulates them in parallel and fills in the cross-cycle
// rates in one sequential pass. Sub-packages:
//   - sim/trace/: per-sample charge/discharge records and their summaries
//   - sim/dqdv/: smoothed incremental-capacity curves and peak detection
//   - sim/telemetry/: Prometheus collectors fed through CycleObserver
//
// # Configuration
//
// CycleConfig groups the protocol settings (ChargeProtocol,
// DischargeProtocol) with the fade model and step size. ExperimentSpec is
// its YAML form; NewCycleConfig is the programmatic constructor.
package sim
