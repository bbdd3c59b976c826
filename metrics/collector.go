// Package metrics exports the supervisor lifecycle as prometheus metrics.
package metrics

import (
	"github.com/lancer-kit/keeper"
	"github.com/lancer-kit/keeper/sm"
	"github.com/prometheus/client_golang/prometheus"
)

var states = []sm.State{
	keeper.StateStopped,
	keeper.StateStarting,
	keeper.StateRunning,
	keeper.StateStopping,
	keeper.StateCrashed,
	keeper.StateRestarting,
	keeper.StateFailed,
}

// Collector turns the supervisor events into metrics.
// Its `Handle` method is a `keeper.EventHandler`.
type Collector struct {
	state    *prometheus.GaugeVec
	restarts prometheus.Counter
	crashes  *prometheus.CounterVec
	failures prometheus.Counter
}

// NewCollector creates the metrics under the `namespace`.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current lifecycle state of the supervisor, 1 for the active state.",
		}, []string{"state"}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_restarts_total",
			Help:      "Number of automatic worker restarts.",
		}),
		crashes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_crashes_total",
			Help:      "Number of unexpected worker exits by reason.",
		}, []string{"reason"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "supervisor_failures_total",
			Help:      "Number of times the supervisor entered the Failed state.",
		}),
	}
	c.setState(keeper.StateStopped)
	return c
}

// Register adds the metrics to the `reg`.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.state, c.restarts, c.crashes, c.failures} {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// Handle updates the metrics from the event.
func (c *Collector) Handle(event keeper.Event) {
	switch event.Kind {
	case keeper.KindTransition:
		c.setState(event.State)
	case keeper.KindRestarted:
		c.restarts.Inc()
	case keeper.KindCrashed:
		reason, _ := event.Fields["reason"].(string)
		c.crashes.WithLabelValues(reason).Inc()
	case keeper.KindFailed:
		c.failures.Inc()
	}
}

func (c *Collector) setState(current sm.State) {
	for _, state := range states {
		value := 0.0
		if state == current {
			value = 1
		}
		c.state.WithLabelValues(string(state)).Set(value)
	}
}
