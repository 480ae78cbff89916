// Package trace provides the per-step sample records produced by the charge and
// discharge simulators. This package has no dependencies on sim/; it stores
// pure data types so analytics (sim/dqdv) can consume traces without importing
// the simulator.
package trace

import "fmt"

// Phase tags a sample with the charging regime that produced it.
// It is a closed enumeration: only PhaseCC and PhaseCV are valid.
type Phase uint8

const (
	// PhaseCC is constant-current operation (current fixed, voltage rising or falling).
	PhaseCC Phase = iota
	// PhaseCV is constant-voltage operation (voltage pinned, current tapering).
	PhaseCV
)

// String returns "CC" or "CV".
func (p Phase) String() string {
	switch p {
	case PhaseCC:
		return "CC"
	case PhaseCV:
		return "CV"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// MarshalText renders the phase as its short name so YAML/JSON reports stay readable.
func (p Phase) MarshalText() ([]byte, error) {
	if p != PhaseCC && p != PhaseCV {
		return nil, fmt.Errorf("unknown phase %d", uint8(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText parses "CC" or "CV".
func (p *Phase) UnmarshalText(text []byte) error {
	switch string(text) {
	case "CC", "cc":
		*p = PhaseCC
	case "CV", "cv":
		*p = PhaseCV
	default:
		return fmt.Errorf("unknown phase %q; valid: CC, CV", string(text))
	}
	return nil
}

// Sample captures the cell state after one simulation step.
type Sample struct {
	SOC      float64 // state of charge after the step, clamped to [0,1]
	Capacity float64 // cumulative charge (or discharge) in Ah since the trace started
	Voltage  float64 // terminal voltage in V
	Current  float64 // magnitude of the applied current in A
	Time     float64 // elapsed seconds since the trace started
	Phase    Phase
}

// CVOnset marks the instant the charger switched from CC to CV.
// Reached is false when the charge finished (SOC=1) without ever entering CV.
type CVOnset struct {
	Reached  bool
	Time     float64 // s
	Capacity float64 // Ah
	SOC      float64
}
