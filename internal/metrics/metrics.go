// Package metrics provides Prometheus instrumentation for PilotFS.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pilotfs"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	DiagnosticSteps    *prometheus.CounterVec
	DiagnosticDuration *prometheus.HistogramVec
	Reconnects         *prometheus.CounterVec
	MountAttempts      *prometheus.CounterVec
	Unmounts           *prometheus.CounterVec
	StaleMountsCleaned prometheus.Counter
	DiscoveredHosts    prometheus.Gauge
	DiscoveryDuration  prometheus.Histogram
	Connections        *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		DiagnosticSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostic_steps_total",
			Help:      "Diagnostic pipeline steps by step name and result.",
		}, []string{"step", "result"}),
		DiagnosticDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "diagnostic_duration_seconds",
			Help:      "Duration of full diagnostic runs by connection type.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"type"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Reconnect runs by result.",
		}, []string{"result"}),
		MountAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mount_attempts_total",
			Help:      "CIFS mount attempts by protocol version and result.",
		}, []string{"version", "result"}),
		Unmounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unmounts_total",
			Help:      "Unmount operations by result.",
		}, []string{"result"}),
		StaleMountsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_mounts_cleaned_total",
			Help:      "Stale network mounts removed by cleanup.",
		}),
		DiscoveredHosts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "discovered_hosts",
			Help:      "Hosts found reachable by the last discovery sweep.",
		}),
		DiscoveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "discovery_duration_seconds",
			Help:      "Duration of subnet discovery sweeps.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Saved connections by status.",
		}, []string{"status"}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.DiagnosticSteps, m.DiagnosticDuration, m.Reconnects, m.MountAttempts,
		m.Unmounts, m.StaleMountsCleaned, m.DiscoveredHosts, m.DiscoveryDuration, m.Connections,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// RecordStep counts one diagnostic step.
func (m *Metrics) RecordStep(step string, ok bool) {
	if m == nil {
		return
	}
	m.DiagnosticSteps.WithLabelValues(step, result(ok)).Inc()
}

// RecordDiagnosis observes the duration of a full diagnostic run.
func (m *Metrics) RecordDiagnosis(connType string, seconds float64) {
	if m == nil {
		return
	}
	m.DiagnosticDuration.WithLabelValues(connType).Observe(seconds)
}

// RecordReconnect counts a reconnect run.
func (m *Metrics) RecordReconnect(ok bool) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(result(ok)).Inc()
}

// RecordMountAttempt counts one mount attempt with a given protocol version.
func (m *Metrics) RecordMountAttempt(version string, ok bool) {
	if m == nil {
		return
	}
	m.MountAttempts.WithLabelValues(version, result(ok)).Inc()
}

// RecordUnmount counts an unmount.
func (m *Metrics) RecordUnmount(ok bool) {
	if m == nil {
		return
	}
	m.Unmounts.WithLabelValues(result(ok)).Inc()
}

// RecordCleanup adds n cleaned stale mounts.
func (m *Metrics) RecordCleanup(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.StaleMountsCleaned.Add(float64(n))
}

// RecordDiscovery records the outcome of a discovery sweep.
func (m *Metrics) RecordDiscovery(hosts int, seconds float64) {
	if m == nil {
		return
	}
	m.DiscoveredHosts.Set(float64(hosts))
	m.DiscoveryDuration.Observe(seconds)
}

// SetConnections replaces the per-status connection counts.
func (m *Metrics) SetConnections(byStatus map[string]int) {
	if m == nil {
		return
	}
	m.Connections.Reset()
	for status, n := range byStatus {
		m.Connections.WithLabelValues(status).Set(float64(n))
	}
}
