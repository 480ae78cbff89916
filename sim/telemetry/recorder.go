// Package telemetry exports run progress as Prometheus metrics. A Recorder
// is attached to a sim.CycleRunner as its observer and can dump its
// registry in text exposition format for a node-exporter textfile collector.
package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/cellsim/cellsim/sim"
	"github.com/cellsim/cellsim/sim/dqdv"
	"github.com/cellsim/cellsim/sim/trace"
)

const namespace = "cellsim"

// Recorder collects per-cycle and per-curve metrics into its own registry.
// It is not safe for concurrent use; the runner calls it sequentially.
type Recorder struct {
	reg *prometheus.Registry

	cycles         prometheus.Counter
	degenerate     prometheus.Counter
	steps          *prometheus.CounterVec
	chargeDuration prometheus.Histogram
	retention      prometheus.Gauge
	discharged     prometheus.Gauge
	resistance     prometheus.Gauge
	lastCycle      prometheus.Gauge
	peaks          *prometheus.CounterVec
	skipped        prometheus.Counter
}

var _ sim.CycleObserver = (*Recorder)(nil)

// NewRecorder creates a Recorder with a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Total number of simulated charge/discharge cycles",
		}),
		degenerate: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degenerate_cycles_total",
			Help:      "Cycles with an empty or truncated charge or discharge trace",
		}),
		steps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "simulation_steps_total",
			Help:      "Simulator time steps recorded, by stage and phase",
		}, []string{"stage", "phase"}),
		chargeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "charge_duration_seconds",
			Help:      "Simulated time to complete a CC-CV charge",
			Buckets:   prometheus.ExponentialBuckets(600, 2, 8),
		}),
		retention: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capacity_retention_percent",
			Help:      "Discharged capacity of the latest cycle relative to cycle 1",
		}),
		discharged: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "discharged_capacity_ah",
			Help:      "Discharged capacity of the latest cycle",
		}),
		resistance: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cell_resistance_ohms",
			Help:      "Internal resistance of the latest cycle",
		}),
		lastCycle: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle",
			Help:      "Index of the latest observed cycle",
		}),
		peaks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dqdv_peaks_total",
			Help:      "dQ/dV peaks detected, by phase",
		}, []string{"phase"}),
		skipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dqdv_skipped_total",
			Help:      "Traces skipped for having too few distinct voltages",
		}),
	}
}

// ObserveCycle implements sim.CycleObserver.
func (r *Recorder) ObserveCycle(rec *sim.CycleRecord) {
	r.cycles.Inc()
	if rec.Degenerate {
		r.degenerate.Inc()
	}

	var cc, cv int
	for i := range rec.Charge.Samples {
		if rec.Charge.Samples[i].Phase == trace.PhaseCV {
			cv++
		} else {
			cc++
		}
	}
	r.steps.WithLabelValues("charge", trace.PhaseCC.String()).Add(float64(cc))
	r.steps.WithLabelValues("charge", trace.PhaseCV.String()).Add(float64(cv))
	r.steps.WithLabelValues("discharge", trace.PhaseCC.String()).Add(float64(len(rec.Discharge.Samples)))

	if n := len(rec.Charge.Samples); n > 0 {
		r.chargeDuration.Observe(rec.Charge.Samples[n-1].Time)
	}
	r.retention.Set(rec.Retention)
	r.discharged.Set(rec.DischargedCapacity)
	r.resistance.Set(rec.Resistance)
	r.lastCycle.Set(float64(rec.Index))
}

// ObservePeaks counts the peaks found on one curve.
func (r *Recorder) ObservePeaks(peaks []dqdv.Peak) {
	for _, p := range peaks {
		label := "none"
		if p.Phase != nil {
			label = p.Phase.String()
		}
		r.peaks.WithLabelValues(label).Inc()
	}
}

// ObserveSkip counts a trace that could not be turned into a curve.
func (r *Recorder) ObserveSkip() {
	r.skipped.Inc()
}

// Registry exposes the underlying registry, e.g. for an HTTP handler.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

// WriteTextfile writes all metrics to path in text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	logrus.Debugf("wrote metrics to %s", path)
	return nil
}
