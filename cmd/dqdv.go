package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/cellsim/cellsim/sim"
	"github.com/cellsim/cellsim/sim/dqdv"
	"github.com/cellsim/cellsim/sim/telemetry"
	"github.com/cellsim/cellsim/sim/trace"
)

const (
	traceCharge    = "charge"
	traceDischarge = "discharge"
)

var (
	// CLI flags for dQ/dV extraction
	dqdvCycles     []int   // Cycles to analyse (empty = all)
	dqdvTrace      string  // "charge" or "discharge"
	smoothing      float64 // Smoothing factor s (0 interpolates)
	gridPoints     int     // Voltage grid resolution
	prominence     float64 // Minimum peak prominence
	peakWidth      float64 // Minimum peak width (samples)
	peakHeight     float64 // Minimum peak dQ/dV
	peakDistance   int     // Minimum peak spacing (samples)
	windowMin      float64 // Lower voltage window bound
	windowMax      float64 // Upper voltage window bound
	phaseAware     bool    // Split detection by CC/CV phase
	dqdvMetricsOut string  // Prometheus textfile output
)

// DQDVReport is the YAML document written by `cellsim dqdv`.
type DQDVReport struct {
	Experiment string        `yaml:"experiment,omitempty"`
	Trace      string        `yaml:"trace"`
	Smoothing  float64       `yaml:"smoothing"`
	Curves     []CurveReport `yaml:"curves"`
}

// CurveReport holds the peaks of one cycle's curve.
type CurveReport struct {
	Cycle      int         `yaml:"cycle"`
	Retention  float64     `yaml:"retention"`
	CVOnsetSOC *float64    `yaml:"cv_onset_soc,omitempty"` // charge traces that reached CV
	Skipped    string      `yaml:"skipped,omitempty"`
	Peaks      []dqdv.Peak `yaml:"peaks"`
}

// dqdvOptions gathers everything buildDQDVReport needs besides the records.
type dqdvOptions struct {
	cycles     []int
	trace      string
	smoothing  float64
	gridPoints int
	phaseAware bool
	peaks      dqdv.PeakOptions
}

// dqdvCmd runs the cycles and reports the dQ/dV peaks of the selected ones
var dqdvCmd = &cobra.Command{
	Use:   "dqdv",
	Short: "Extract dQ/dV curves and peaks from simulated cycles",
	Run: func(cmd *cobra.Command, args []string) {
		spec, err := resolveExperiment(cmd.Flags())
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		opts, err := dqdvOptionsFromFlags(cmd.Flags())
		if err != nil {
			logrus.Fatalf("%v", err)
		}

		var recorder *telemetry.Recorder
		if dqdvMetricsOut != "" {
			recorder = telemetry.NewRecorder()
		}
		records, err := runExperiment(spec, recorder)
		if err != nil {
			logrus.Fatalf("%v", err)
		}

		report, err := buildDQDVReport(records, opts, recorder)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		report.Experiment = spec.Name
		if err := writeReport(os.Stdout, report); err != nil {
			logrus.Fatalf("%v", err)
		}

		if recorder != nil {
			if err := recorder.WriteTextfile(dqdvMetricsOut); err != nil {
				logrus.Fatalf("%v", err)
			}
		}
	},
}

// dqdvOptionsFromFlags converts the flag values. Optional peak filters are
// only set when the flag was given.
func dqdvOptionsFromFlags(flags *pflag.FlagSet) (dqdvOptions, error) {
	if dqdvTrace != traceCharge && dqdvTrace != traceDischarge {
		return dqdvOptions{}, fmt.Errorf("--trace must be %q or %q, got %q", traceCharge, traceDischarge, dqdvTrace)
	}
	opts := dqdvOptions{
		cycles:     dqdvCycles,
		trace:      dqdvTrace,
		smoothing:  smoothing,
		gridPoints: gridPoints,
		phaseAware: phaseAware,
		peaks:      dqdv.PeakOptions{Prominence: prominence},
	}
	if flags.Changed("width") {
		opts.peaks.Width = &peakWidth
	}
	if flags.Changed("height") {
		opts.peaks.Height = &peakHeight
	}
	if flags.Changed("distance") {
		opts.peaks.Distance = &peakDistance
	}
	if flags.Changed("window-min") {
		opts.peaks.VMin = &windowMin
	}
	if flags.Changed("window-max") {
		opts.peaks.VMax = &windowMax
	}
	return opts, nil
}

// buildDQDVReport extracts a curve per selected cycle and detects its peaks.
// Traces with too few distinct voltages are reported as skipped.
func buildDQDVReport(records []sim.CycleRecord, opts dqdvOptions, recorder *telemetry.Recorder) (*DQDVReport, error) {
	selected, err := selectCycles(records, opts.cycles)
	if err != nil {
		return nil, err
	}

	report := &DQDVReport{Trace: opts.trace, Smoothing: opts.smoothing, Curves: make([]CurveReport, 0, len(selected))}
	for _, rec := range selected {
		cr := CurveReport{Cycle: rec.Index, Retention: rec.Retention, Peaks: []dqdv.Peak{}}
		if onset := rec.CVOnset(); opts.trace == traceCharge && onset.Reached {
			cr.CVOnsetSOC = &onset.SOC
		}

		var capacity, voltage []float64
		var samples []trace.Sample
		if opts.trace == traceCharge {
			capacity, voltage = rec.Charge.Columns()
			samples = rec.Charge.Samples
		} else {
			capacity, voltage = rec.Discharge.Columns()
			samples = rec.Discharge.Samples
		}

		curve, err := dqdv.CalculateDQDVOnGrid(capacity, voltage, opts.smoothing, opts.gridPoints)
		if errors.Is(err, dqdv.ErrInsufficientData) {
			logrus.Warnf("cycle %d: skipping %s trace: %v", rec.Index, opts.trace, err)
			cr.Skipped = err.Error()
			if recorder != nil {
				recorder.ObserveSkip()
			}
			report.Curves = append(report.Curves, cr)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("cycle %d: %w", rec.Index, err)
		}
		if opts.trace == traceDischarge {
			// discharged capacity falls as voltage rises; flip so peaks are maxima
			for i := range curve.DQDV {
				curve.DQDV[i] = -curve.DQDV[i]
			}
		}

		peakOpts := opts.peaks
		if opts.phaseAware {
			peakOpts.Phase, peakOpts.Current = dqdv.AnnotatePhases(curve.Voltage, samples)
		}
		peaks, err := dqdv.DetectPeaks(curve.Voltage, curve.DQDV, peakOpts)
		if err != nil {
			return nil, fmt.Errorf("cycle %d: %w", rec.Index, err)
		}
		logrus.Debugf("cycle %d: %d peaks", rec.Index, len(peaks))
		if recorder != nil {
			recorder.ObservePeaks(peaks)
		}
		cr.Peaks = append(cr.Peaks, peaks...)
		report.Curves = append(report.Curves, cr)
	}
	return report, nil
}

// selectCycles returns the records for the 1-based cycle numbers, or all
// records when none are given.
func selectCycles(records []sim.CycleRecord, cycles []int) ([]*sim.CycleRecord, error) {
	if len(cycles) == 0 {
		out := make([]*sim.CycleRecord, len(records))
		for i := range records {
			out[i] = &records[i]
		}
		return out, nil
	}
	out := make([]*sim.CycleRecord, 0, len(cycles))
	for _, c := range cycles {
		if c < 1 || c > len(records) {
			return nil, fmt.Errorf("cycle %d out of range [1, %d]", c, len(records))
		}
		out = append(out, &records[c-1])
	}
	return out, nil
}

func writeReport(w io.Writer, report *DQDVReport) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encoding dqdv report: %w", err)
	}
	return enc.Close()
}

// registerDQDVFlags binds the extraction flags to fs, resetting them to
// their defaults.
func registerDQDVFlags(fs *pflag.FlagSet) {
	fs.IntSliceVar(&dqdvCycles, "cycles", nil, "Comma-separated cycle numbers to analyse (default all)")
	fs.StringVar(&dqdvTrace, "trace", traceCharge, "Trace to differentiate: charge or discharge")
	fs.Float64Var(&smoothing, "smoothing", 0, "Spline smoothing factor (0 interpolates)")
	fs.IntVar(&gridPoints, "grid-points", dqdv.DefaultGridPoints, "Voltage grid resolution")
	fs.Float64Var(&prominence, "prominence", 0.1, "Minimum peak prominence (Ah/V)")
	fs.Float64Var(&peakWidth, "width", 0, "Minimum peak width at half prominence (grid samples)")
	fs.Float64Var(&peakHeight, "height", 0, "Minimum peak dQ/dV (Ah/V)")
	fs.IntVar(&peakDistance, "distance", 1, "Minimum spacing between peaks (grid samples)")
	fs.Float64Var(&windowMin, "window-min", 0, "Ignore voltages below this bound")
	fs.Float64Var(&windowMax, "window-max", 0, "Ignore voltages above this bound")
	fs.BoolVar(&phaseAware, "phase-aware", false, "Detect peaks separately in CC and CV segments")
	fs.StringVar(&dqdvMetricsOut, "metrics-file", "", "Write Prometheus text-format metrics to this file")
}

func init() {
	registerDQDVFlags(dqdvCmd.Flags())
}
