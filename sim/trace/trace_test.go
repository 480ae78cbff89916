package trace

import (
	"testing"
)

func TestChargeTrace_Record_AppendsInOrder(t *testing.T) {
	// GIVEN an empty charge trace
	ct := NewChargeTrace(4)

	// WHEN samples are recorded
	ct.Record(Sample{SOC: 0.1, Capacity: 0.3, Voltage: 3.6, Current: 1.5, Time: 720, Phase: PhaseCC})
	ct.Record(Sample{SOC: 0.2, Capacity: 0.6, Voltage: 3.7, Current: 1.5, Time: 1440, Phase: PhaseCC})

	// THEN both samples are present in insertion order
	if len(ct.Samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(ct.Samples))
	}
	if ct.Samples[0].Time != 720 || ct.Samples[1].Time != 1440 {
		t.Errorf("unexpected sample order: %+v", ct.Samples)
	}
	if ct.ChargedCapacity() != 0.6 {
		t.Errorf("expected charged capacity 0.6, got %v", ct.ChargedCapacity())
	}
}

func TestChargeTrace_MarkCVOnset_SetsReached(t *testing.T) {
	// GIVEN a charge trace that never entered CV
	ct := NewChargeTrace(0)
	if ct.CVOnset.Reached {
		t.Fatal("fresh trace must not report CV onset")
	}

	// WHEN the onset is marked
	ct.MarkCVOnset(3600, 1.5, 0.5)

	// THEN the onset carries the marked values
	want := CVOnset{Reached: true, Time: 3600, Capacity: 1.5, SOC: 0.5}
	if ct.CVOnset != want {
		t.Errorf("expected %+v, got %+v", want, ct.CVOnset)
	}
}

func TestDischargeTrace_EmptyTrace_ZeroCapacity(t *testing.T) {
	dt := NewDischargeTrace(-1)
	if dt.DischargedCapacity() != 0 {
		t.Errorf("expected 0, got %v", dt.DischargedCapacity())
	}
	capacity, voltage := dt.Columns()
	if len(capacity) != 0 || len(voltage) != 0 {
		t.Error("expected empty columns")
	}
}

func TestColumns_SplitsCapacityAndVoltage(t *testing.T) {
	// GIVEN a discharge trace with three samples
	dt := NewDischargeTrace(3)
	dt.Record(Sample{Capacity: 0.1, Voltage: 4.0})
	dt.Record(Sample{Capacity: 0.2, Voltage: 3.9})
	dt.Record(Sample{Capacity: 0.3, Voltage: 3.8})

	// WHEN split into columns
	capacity, voltage := dt.Columns()

	// THEN columns line up with the samples
	for i := range dt.Samples {
		if capacity[i] != dt.Samples[i].Capacity || voltage[i] != dt.Samples[i].Voltage {
			t.Errorf("column mismatch at %d", i)
		}
	}
}

func TestPhase_TextRoundTrip(t *testing.T) {
	for _, p := range []Phase{PhaseCC, PhaseCV} {
		text, err := p.MarshalText()
		if err != nil {
			t.Fatalf("marshal %v: %v", p, err)
		}
		var got Phase
		if err := got.UnmarshalText(text); err != nil {
			t.Fatalf("unmarshal %q: %v", text, err)
		}
		if got != p {
			t.Errorf("round trip: got %v, want %v", got, p)
		}
	}
}

func TestPhase_UnknownValue_Rejected(t *testing.T) {
	var p Phase
	if err := p.UnmarshalText([]byte("trickle")); err == nil {
		t.Error("expected error for unknown phase name")
	}
	if _, err := Phase(7).MarshalText(); err == nil {
		t.Error("expected error for out-of-range phase")
	}
	if Phase(7).String() != "Phase(7)" {
		t.Errorf("unexpected String(): %s", Phase(7).String())
	}
}
