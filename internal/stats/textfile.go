package stats

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cadence"

// Registry returns a registry holding s as Prometheus gauges.
func Registry(s Summary) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()

	commits := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "commits",
		Help:      "Commits recorded in the event log by branch and phase.",
	}, []string{"branch", "phase"})

	cycles := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cycles_completed",
		Help:      "Completed RED to GREEN cycles by branch.",
	}, []string{"branch"})

	cycleSeconds := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Cycle duration statistics across all branches.",
	}, []string{"stat"})

	anomalies := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cycle_anomalies",
		Help:      "Cycle sequence anomalies by kind.",
	}, []string{"kind"})

	duplicates := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "duplicate_records",
		Help:      "Records written for an already observed commit.",
	})

	for _, c := range []prometheus.Collector{commits, cycles, cycleSeconds, anomalies, duplicates} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}

	for _, b := range s.Branches {
		for p, n := range b.Phases {
			commits.WithLabelValues(b.Branch, p.String()).Set(float64(n))
		}
		cycles.WithLabelValues(b.Branch).Set(float64(b.Cycles.Completed))
	}

	cycleSeconds.WithLabelValues("mean").Set(s.Cycles.Mean.Seconds())
	cycleSeconds.WithLabelValues("median").Set(s.Cycles.Median.Seconds())
	cycleSeconds.WithLabelValues("p90").Set(s.Cycles.P90.Seconds())
	cycleSeconds.WithLabelValues("max").Set(s.Cycles.Max.Seconds())

	anomalies.WithLabelValues("orphan_green").Set(float64(s.Orphans))
	anomalies.WithLabelValues("red_overwritten").Set(float64(s.Abandoned))
	anomalies.WithLabelValues("negative_cycle").Set(float64(s.Negative))
	duplicates.Set(float64(s.Duplicates))

	return reg, nil
}

// WriteTextfile writes s for the node exporter textfile collector.
func WriteTextfile(path string, s Summary) error {
	reg, err := Registry(s)
	if err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("writing textfile %s: %w", path, err)
	}
	return nil
}
