// Package observe exposes kernel-level Prometheus metrics and OpenTelemetry
// tracing setup. Nothing here touches the object graph; the orchestrator reports
// through the sim.Observer interface.
package observe

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the kernel's Prometheus metrics. It implements sim.Observer.
type Collector struct {
	gatherer prometheus.Gatherer

	TicksTotal       prometheus.Counter
	TickDuration     prometheus.Histogram
	Objects          *prometheus.GaugeVec
	CommandsTotal    *prometheus.CounterVec
	SnapshotDuration prometheus.Histogram
}

// NewCollector registers kernel metrics against reg, defaulting to the global
// Prometheus registry when nil. Registering twice against the same registry
// returns the existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simkernel_ticks_total",
		Help: "Number of ticks that advanced the simulated clock.",
	}), "simkernel_ticks_total")
	if err != nil {
		return nil, err
	}

	tickDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "simkernel_tick_duration_seconds",
		Help:    "Wall-clock time spent ticking every object once.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}), "simkernel_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	objects, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "simkernel_objects",
		Help: "Registered objects, labeled by role.",
	}, []string{"role"}), "simkernel_objects")
	if err != nil {
		return nil, err
	}

	commands, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simkernel_commands_total",
		Help: "Executed scheduled commands, labeled by name and outcome.",
	}, []string{"command", "outcome"}), "simkernel_commands_total")
	if err != nil {
		return nil, err
	}

	snapshots, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "simkernel_snapshot_duration_seconds",
		Help:    "Wall-clock time spent writing a snapshot.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}), "simkernel_snapshot_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:         gatherer,
		TicksTotal:       ticks,
		TickDuration:     tickDuration,
		Objects:          objects,
		CommandsTotal:    commands,
		SnapshotDuration: snapshots,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *Collector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) TickCompleted(elapsed time.Duration) {
	if c == nil {
		return
	}
	c.TicksTotal.Inc()
	c.TickDuration.Observe(elapsed.Seconds())
}

func (c *Collector) ObjectCount(role string, n int) {
	if c == nil {
		return
	}
	c.Objects.WithLabelValues(role).Set(float64(n))
}

func (c *Collector) CommandExecuted(name string, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.CommandsTotal.WithLabelValues(name, outcome).Inc()
}

func (c *Collector) SnapshotSaved(elapsed time.Duration) {
	if c == nil {
		return
	}
	c.SnapshotDuration.Observe(elapsed.Seconds())
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}
