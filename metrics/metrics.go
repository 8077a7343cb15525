// Package metrics exposes Prometheus collectors for launcher lifecycles
// and remote console sessions. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "enginetest"

// Metrics holds the collectors registered with one registry.
type Metrics struct {
	// Launcher lifecycle
	transitions *prometheus.CounterVec
	operations  *prometheus.HistogramVec
	running     *prometheus.GaugeVec

	// Remote console
	connects      *prometheus.CounterVec
	linesReceived prometheus.Counter
	commandsSent  prometheus.Counter
	waits         *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. Passing a
// fresh registry per instance avoids duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "launcher",
				Name:      "transitions_total",
				Help:      "Launcher state transitions by launcher and target state",
			},
			[]string{"launcher", "from", "to"},
		),
		operations: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "launcher",
				Name:      "operation_duration_seconds",
				Help:      "Launcher operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"launcher", "operation", "status"},
		),
		running: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "launcher",
				Name:      "running",
				Help:      "1 while the launcher's target is running",
			},
			[]string{"launcher"},
		),
		connects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "console",
				Name:      "connects_total",
				Help:      "Remote console connection attempts by status",
			},
			[]string{"status"},
		),
		linesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "console",
			Name:      "lines_received_total",
			Help:      "Log lines received from remote consoles",
		}),
		commandsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "console",
			Name:      "commands_sent_total",
			Help:      "Commands written to remote consoles",
		}),
		waits: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "console",
				Name:      "expect_duration_seconds",
				Help:      "Time spent waiting for expected log lines",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
	}
}

// Transition records a launcher state change.
func (m *Metrics) Transition(launcher, from, to string) {
	if m == nil {
		return
	}

	m.transitions.WithLabelValues(launcher, from, to).Inc()

	switch to {
	case "Running":
		m.running.WithLabelValues(launcher).Set(1)
	default:
		m.running.WithLabelValues(launcher).Set(0)
	}
}

// Operation records how long a launcher operation took.
func (m *Metrics) Operation(launcher, op string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(launcher, op, status(err)).Observe(time.Since(started).Seconds())
}

// Connect records a console connection attempt.
func (m *Metrics) Connect(err error) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues(status(err)).Inc()
}

// LineReceived counts one console line.
func (m *Metrics) LineReceived() {
	if m == nil {
		return
	}
	m.linesReceived.Inc()
}

// CommandSent counts one console command.
func (m *Metrics) CommandSent() {
	if m == nil {
		return
	}
	m.commandsSent.Inc()
}

// Expect records a log wait.
func (m *Metrics) Expect(started time.Time, err error) {
	if m == nil {
		return
	}
	m.waits.WithLabelValues(status(err)).Observe(time.Since(started).Seconds())
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
