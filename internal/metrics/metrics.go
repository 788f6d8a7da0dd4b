// Package metrics exposes streaming and persistence counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics uses the voxel_ prefix. A nil *Metrics is valid and records nothing.
type Metrics struct {
	TickDuration prometheus.Histogram
	TicksTotal   prometheus.Counter

	ChunkTransitions *prometheus.CounterVec
	ChunksByState    *prometheus.GaugeVec
	ChunkFailures    *prometheus.CounterVec
	DeferredWork     *prometheus.GaugeVec
	ScansTotal       prometheus.Counter

	SavesTotal    *prometheus.CounterVec
	SaveDuration  prometheus.Histogram
	SavesPending  prometheus.Gauge
	SavesInFlight prometheus.Gauge

	EditsTotal *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxel_tick_duration_seconds",
			Help:    "Wall time spent in one simulation tick",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxel_ticks_total",
			Help: "Simulation ticks run",
		}),
		ChunkTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxel_chunk_transitions_total",
			Help: "Chunk state transitions by target state",
		}, []string{"to"}),
		ChunksByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voxel_chunks",
			Help: "Chunk records by lifecycle state",
		}, []string{"state"}),
		ChunkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxel_chunk_failures_total",
			Help: "Failed chunk loads and unloads",
		}, []string{"op"}),
		DeferredWork: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voxel_chunk_deferred",
			Help: "Candidates deferred to later ticks by the per-tick budget",
		}, []string{"op"}),
		ScansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxel_chunk_scans_total",
			Help: "Candidate scans run by the stream manager",
		}),
		SavesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxel_saves_total",
			Help: "Finished save jobs by result kind",
		}, []string{"result"}),
		SaveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxel_save_duration_seconds",
			Help:    "Time from save dispatch to result",
			Buckets: prometheus.DefBuckets,
		}),
		SavesPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voxel_saves_pending",
			Help: "Worlds with a queued save",
		}),
		SavesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voxel_saves_in_flight",
			Help: "Save jobs running",
		}),
		EditsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxel_edits_total",
			Help: "Block edits by kind and outcome",
		}, []string{"kind", "outcome"}),
	}
	reg.MustRegister(
		m.TickDuration,
		m.TicksTotal,
		m.ChunkTransitions,
		m.ChunksByState,
		m.ChunkFailures,
		m.DeferredWork,
		m.ScansTotal,
		m.SavesTotal,
		m.SaveDuration,
		m.SavesPending,
		m.SavesInFlight,
		m.EditsTotal,
	)
	return m
}

func (m *Metrics) ObserveTick(seconds float64) {
	if m == nil {
		return
	}
	m.TicksTotal.Inc()
	m.TickDuration.Observe(seconds)
}

func (m *Metrics) RecordScan() {
	if m == nil {
		return
	}
	m.ScansTotal.Inc()
}

func (m *Metrics) RecordTransition(to string, failed bool, op string) {
	if m == nil {
		return
	}
	m.ChunkTransitions.WithLabelValues(to).Inc()
	if failed {
		m.ChunkFailures.WithLabelValues(op).Inc()
	}
}

// SetChunkStates sets the per-state gauges and the deferred work gauges.
func (m *Metrics) SetChunkStates(states map[string]int, deferredLoads, deferredUnloads int) {
	if m == nil {
		return
	}
	for state, n := range states {
		m.ChunksByState.WithLabelValues(state).Set(float64(n))
	}
	m.DeferredWork.WithLabelValues("load").Set(float64(deferredLoads))
	m.DeferredWork.WithLabelValues("unload").Set(float64(deferredUnloads))
}

// RecordSave counts one save result. result is "ok" or an error kind.
func (m *Metrics) RecordSave(result string, seconds float64) {
	if m == nil {
		return
	}
	m.SavesTotal.WithLabelValues(result).Inc()
	m.SaveDuration.Observe(seconds)
}

func (m *Metrics) SetSaveQueue(pending, inFlight int) {
	if m == nil {
		return
	}
	m.SavesPending.Set(float64(pending))
	m.SavesInFlight.Set(float64(inFlight))
}

func (m *Metrics) RecordEdit(kind, outcome string) {
	if m == nil {
		return
	}
	m.EditsTotal.WithLabelValues(kind, outcome).Inc()
}
