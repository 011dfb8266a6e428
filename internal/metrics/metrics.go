// Package metrics exposes Prometheus instrumentation for command execution
// and manager state transitions, served on its own registry/listener so a
// terminalmgr-embedding process can mount it next to its own metrics.
package metrics

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const defaultAddr = "127.0.0.1:9144"

// Metrics holds every Prometheus instrument terminalmgr records to.
type Metrics struct {
	commandExecutions  *prometheus.CounterVec
	commandLatency     *prometheus.HistogramVec
	sensorPolls        *prometheus.CounterVec
	stateTransitions   *prometheus.CounterVec
	connectAttempts    *prometheus.CounterVec
	managersOnline     prometheus.Gauge
	dynamicSensorCount prometheus.Gauge
	buildInfo          *prometheus.GaugeVec

	registry *prometheus.Registry
	server   *http.Server
}

// New creates and registers every instrument.
func New(version string) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		commandExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terminalmgr_command_executions_total",
				Help: "Command executions by host and result.",
			},
			[]string{"host", "result"},
		),
		commandLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "terminalmgr_command_latency_seconds",
				Help:    "Command execution latency by host.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"host"},
		),
		sensorPolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terminalmgr_sensor_polls_total",
				Help: "Sensor polls by host and result.",
			},
			[]string{"host", "result"},
		),
		stateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terminalmgr_state_transitions_total",
				Help: "Manager state field transitions by host and field.",
			},
			[]string{"host", "field"},
		),
		connectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terminalmgr_connect_attempts_total",
				Help: "Connection attempts by host and result.",
			},
			[]string{"host", "result"},
		),
		managersOnline: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "terminalmgr_managers_online",
				Help: "Number of managers currently reporting online.",
			},
		),
		dynamicSensorCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "terminalmgr_dynamic_sensors",
				Help: "Total number of dynamic child sensors across all managers.",
			},
		),
		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "terminalmgr_build_info",
				Help: "Build metadata.",
			},
			[]string{"version"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.commandExecutions,
		m.commandLatency,
		m.sensorPolls,
		m.stateTransitions,
		m.connectAttempts,
		m.managersOnline,
		m.dynamicSensorCount,
		m.buildInfo,
	)

	m.buildInfo.WithLabelValues(version).Set(1)

	return m
}

// RecordCommand records a command execution's outcome and latency.
func (m *Metrics) RecordCommand(host, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.commandExecutions.WithLabelValues(host, result).Inc()
	m.commandLatency.WithLabelValues(host).Observe(d.Seconds())
}

// RecordSensorPoll records a sensor poll's outcome.
func (m *Metrics) RecordSensorPoll(host, result string) {
	if m == nil {
		return
	}
	m.sensorPolls.WithLabelValues(host, result).Inc()
}

// RecordStateTransition records that a State field changed value.
func (m *Metrics) RecordStateTransition(host, field string) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(host, field).Inc()
}

// RecordConnectAttempt records a connect attempt's outcome.
func (m *Metrics) RecordConnectAttempt(host, result string) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(host, result).Inc()
}

// SetManagersOnline sets the current count of online managers.
func (m *Metrics) SetManagersOnline(n int) {
	if m == nil {
		return
	}
	m.managersOnline.Set(float64(n))
}

// SetDynamicSensorCount sets the current count of dynamic child sensors.
func (m *Metrics) SetDynamicSensorCount(n int) {
	if m == nil {
		return
	}
	m.dynamicSensorCount.Set(float64(n))
}

// Start serves /metrics on addr. An empty addr or "disabled" is a no-op;
// "default" uses defaultAddr.
func (m *Metrics) Start(addr string) error {
	if addr == "" || strings.EqualFold(addr, "disabled") {
		log.Info().Msg("metrics server disabled")
		return nil
	}
	if addr == "default" {
		addr = defaultAddr
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	m.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped unexpectedly")
		}
	}()

	log.Info().Str("addr", addr).Msg("metrics server started")
	return nil
}

// Shutdown gracefully stops the metrics server, if running.
func (m *Metrics) Shutdown(ctx context.Context) {
	if m == nil || m.server == nil {
		return
	}
	_ = m.server.Shutdown(ctx)
}

// Registry exposes the underlying registry for callers embedding
// terminalmgr's metrics into a larger registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
