// Package metrics exposes Prometheus instrumentation for the DFU and modem
// FSMs (SPEC_FULL.md §3.1), grounded on dittofs's per-adapter Metrics structs
// (internal/adapter/nsm/metrics.go): a plain struct of collectors, nil-receiver
// methods so a disabled collector costs nothing on the hot frame-processing
// path.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the otaumcu-prefixed collectors. All metrics use the
// otaumcu_ prefix to distinguish them if this process also exports
// dependencies' own metrics.
type Metrics struct {
	PagesStored       *prometheus.CounterVec
	FaultsInjected    *prometheus.CounterVec
	UpdatesCompleted  prometheus.Counter
	UpdatesFailed     prometheus.Counter
	FirmwareOffset    prometheus.Gauge
	ModemStateChanges *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors. Pass nil to build an
// unregistered set (tests); all methods are safe on a nil *Metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PagesStored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otaumcu_pages_stored_total",
				Help: "Total DFU pages committed to firmware storage.",
			},
			[]string{"result"},
		),
		FaultsInjected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otaumcu_faults_injected_total",
				Help: "Total injected faults that fired, by injection point.",
			},
			[]string{"point"},
		),
		UpdatesCompleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "otaumcu_updates_completed_total",
				Help: "Total firmware transfers that reached firmware_successfully_update.",
			},
		),
		UpdatesFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "otaumcu_updates_failed_total",
				Help: "Total firmware transfers that ended in dfu_failed.",
			},
		),
		FirmwareOffset: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "otaumcu_firmware_offset_bytes",
				Help: "Last known firmware write offset.",
			},
		),
		ModemStateChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otaumcu_modem_state_changes_total",
				Help: "Total modem FSM state transitions, by destination state.",
			},
			[]string{"state"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.PagesStored,
			m.FaultsInjected,
			m.UpdatesCompleted,
			m.UpdatesFailed,
			m.FirmwareOffset,
			m.ModemStateChanges,
		)
	}

	return m
}

func (m *Metrics) RecordPageStored(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	m.PagesStored.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordFaultInjected(point string) {
	if m == nil {
		return
	}
	m.FaultsInjected.WithLabelValues(point).Inc()
}

func (m *Metrics) RecordUpdateCompleted() {
	if m == nil {
		return
	}
	m.UpdatesCompleted.Inc()
}

func (m *Metrics) RecordUpdateFailed() {
	if m == nil {
		return
	}
	m.UpdatesFailed.Inc()
}

func (m *Metrics) SetFirmwareOffset(offset int) {
	if m == nil {
		return
	}
	m.FirmwareOffset.Set(float64(offset))
}

func (m *Metrics) RecordModemStateChange(state string) {
	if m == nil {
		return
	}
	m.ModemStateChanges.WithLabelValues(state).Inc()
}

// NullMetrics returns nil, which every method above treats as a no-op sink.
func NullMetrics() *Metrics {
	return nil
}
