package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cellsim/cellsim/sim"
	"github.com/cellsim/cellsim/sim/telemetry"
)

var (
	// CLI flags shared by every command that runs cycles
	logLevel         string  // Log verbosity level
	configPath       string  // YAML experiment file
	presetName       string  // Named preset from defaults.yaml
	defaultsFilePath string  // Path to the preset catalogue
	numCycles        int     // Number of charge/discharge cycles
	dt               float64 // Simulator step in seconds
	workers          int     // Parallel cycle goroutines (0 = GOMAXPROCS)
	eolThreshold     float64 // Retention (%) marking end of life

	// Degradation model
	q0, fadeA, fadeB float64 // Q(n) = q0·(1 − a·(1 − e^(−b·n)))
	r0, resC, resD   float64 // R(n) = r0·(1 + c·n^d)

	// Protocol
	chargeCRate     float64 // CC current as a multiple of capacity
	vMax            float64 // CV setpoint
	endCurrentRatio float64 // CV cut-off relative to CC current
	dischargeCRate  float64 // Discharge current as a multiple of capacity
	vMin            float64 // Discharge cut-off

	allowPartialWindow bool // Accept limits inside the OCV range

	metricsFile string // Prometheus textfile output
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "cellsim",
	Short: "Lithium-ion cell cycling simulator with dQ/dV analysis",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
	},
}

// runCmd simulates the configured cycles and prints the per-cycle table and run summary
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the cycling simulation",
	Run: func(cmd *cobra.Command, args []string) {
		spec, err := resolveExperiment(cmd.Flags())
		if err != nil {
			logrus.Fatalf("%v", err)
		}

		var recorder *telemetry.Recorder
		if metricsFile != "" {
			recorder = telemetry.NewRecorder()
		}

		startTime := time.Now()
		records, err := runExperiment(spec, recorder)
		if err != nil {
			logrus.Fatalf("%v", err)
		}

		sim.PrintCycleTable(os.Stdout, records)
		fmt.Println()
		sim.Summarize(records, spec.EOLThreshold).Print(os.Stdout)

		if recorder != nil {
			if err := recorder.WriteTextfile(metricsFile); err != nil {
				logrus.Fatalf("%v", err)
			}
		}
		logrus.Infof("Simulation complete in %v.", time.Since(startTime))
	},
}

// runExperiment validates the experiment and runs every cycle, feeding
// recorder if set.
func runExperiment(spec *sim.ExperimentSpec, recorder *telemetry.Recorder) ([]sim.CycleRecord, error) {
	cfg, err := spec.CycleConfig()
	if err != nil {
		return nil, err
	}
	cfg.Workers = workers

	runner, err := sim.NewCycleRunner(cfg)
	if err != nil {
		return nil, err
	}
	if recorder != nil {
		runner.Observer = recorder
	}
	return runner.Run(), nil
}

// resolveExperiment builds the experiment from, in increasing precedence:
// flag defaults, --preset, --config, then flags the user set explicitly.
func resolveExperiment(flags *pflag.FlagSet) (*sim.ExperimentSpec, error) {
	spec := flagExperiment()

	if presetName != "" {
		presets, err := loadPresets(defaultsFilePath)
		if err != nil {
			return nil, err
		}
		preset, ok := presets.Presets[presetName]
		if !ok {
			return nil, fmt.Errorf("unknown preset %q (see `cellsim presets`)", presetName)
		}
		preset.Name = presetName
		spec = &preset
	}

	if configPath != "" {
		loaded, err := sim.LoadExperimentSpec(configPath)
		if err != nil {
			return nil, err
		}
		spec = loaded
	}

	if presetName != "" || configPath != "" {
		applyFlagOverrides(flags, spec)
	}
	return spec, nil
}

// flagExperiment returns the experiment described by the current flag values.
func flagExperiment() *sim.ExperimentSpec {
	return &sim.ExperimentSpec{
		Degradation:  sim.NewDegradationModel(q0, fadeA, fadeB, r0, resC, resD),
		Charge:       sim.NewChargeProtocol(chargeCRate, vMax, endCurrentRatio),
		Discharge:    sim.NewDischargeProtocol(dischargeCRate, vMin),
		NumCycles:    numCycles,
		Dt:           dt,
		EOLThreshold: eolThreshold,

		AllowPartialWindow: allowPartialWindow,
	}
}

// experimentOverrides maps each experiment flag to the field it sets.
var experimentOverrides = []struct {
	flag  string
	apply func(s *sim.ExperimentSpec)
}{
	{"num-cycles", func(s *sim.ExperimentSpec) { s.NumCycles = numCycles }},
	{"dt", func(s *sim.ExperimentSpec) { s.Dt = dt }},
	{"eol-threshold", func(s *sim.ExperimentSpec) { s.EOLThreshold = eolThreshold }},
	{"q0", func(s *sim.ExperimentSpec) { s.Degradation.Q0 = q0 }},
	{"fade-a", func(s *sim.ExperimentSpec) { s.Degradation.A = fadeA }},
	{"fade-b", func(s *sim.ExperimentSpec) { s.Degradation.B = fadeB }},
	{"r0", func(s *sim.ExperimentSpec) { s.Degradation.R0 = r0 }},
	{"resistance-c", func(s *sim.ExperimentSpec) { s.Degradation.C = resC }},
	{"resistance-d", func(s *sim.ExperimentSpec) { s.Degradation.D = resD }},
	{"charge-c-rate", func(s *sim.ExperimentSpec) { s.Charge.CRate = chargeCRate }},
	{"v-max", func(s *sim.ExperimentSpec) { s.Charge.VMax = vMax }},
	{"end-current-ratio", func(s *sim.ExperimentSpec) { s.Charge.EndCurrentRatio = endCurrentRatio }},
	{"discharge-c-rate", func(s *sim.ExperimentSpec) { s.Discharge.CRate = dischargeCRate }},
	{"v-min", func(s *sim.ExperimentSpec) { s.Discharge.VMin = vMin }},
	{"allow-partial-window", func(s *sim.ExperimentSpec) { s.AllowPartialWindow = allowPartialWindow }},
}

// applyFlagOverrides copies explicitly set flags onto spec. Unchanged flags
// must not clobber preset or file values.
func applyFlagOverrides(flags *pflag.FlagSet, spec *sim.ExperimentSpec) {
	for _, o := range experimentOverrides {
		if flags.Changed(o.flag) {
			logrus.Debugf("--%s overrides the loaded experiment", o.flag)
			o.apply(spec)
		}
	}
}

// registerExperimentFlags binds the experiment flags to fs. Registration
// resets the bound variables to their defaults.
func registerExperimentFlags(fs *pflag.FlagSet) {
	fs.StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	fs.StringVar(&configPath, "config", "", "YAML experiment file")
	fs.StringVar(&presetName, "preset", "", "Preset name from the defaults file")
	fs.StringVar(&defaultsFilePath, "defaults", "defaults.yaml", "Path to the preset catalogue")
	fs.IntVar(&numCycles, "num-cycles", 2, "Number of charge/discharge cycles")
	fs.Float64Var(&dt, "dt", 1.0, "Simulator time step in seconds")
	fs.IntVar(&workers, "workers", 0, "Parallel cycle workers (0 = GOMAXPROCS)")
	fs.Float64Var(&eolThreshold, "eol-threshold", sim.DefaultEOLThreshold, "Retention (%) below which the cell is at end of life")

	// Degradation model
	fs.Float64Var(&q0, "q0", 3.0, "Initial capacity (Ah)")
	fs.Float64Var(&fadeA, "fade-a", 0.1, "Asymptotic capacity fade fraction")
	fs.Float64Var(&fadeB, "fade-b", 0.05, "Capacity fade rate constant")
	fs.Float64Var(&r0, "r0", 0.05, "Initial internal resistance (Ω)")
	fs.Float64Var(&resC, "resistance-c", 0.05, "Resistance growth coefficient")
	fs.Float64Var(&resD, "resistance-d", 1.0, "Resistance growth exponent")

	// Protocol
	fs.Float64Var(&chargeCRate, "charge-c-rate", 0.5, "CC charge current as a multiple of capacity")
	fs.Float64Var(&vMax, "v-max", 4.1797, "CV setpoint (V)")
	fs.Float64Var(&endCurrentRatio, "end-current-ratio", 0.05, "CV cut-off as a fraction of the CC current")
	fs.Float64Var(&dischargeCRate, "discharge-c-rate", 0.5, "Discharge current as a multiple of capacity")
	fs.Float64Var(&vMin, "v-min", 3.0519, "Discharge cut-off voltage (V)")
	fs.BoolVar(&allowPartialWindow, "allow-partial-window", false, "Accept voltage limits inside the OCV range")
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	registerExperimentFlags(rootCmd.PersistentFlags())

	runCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus text-format metrics to this file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(dqdvCmd)
	rootCmd.AddCommand(presetsCmd)
}
