package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus collectors for a contamination host.
// All Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	ops         *prometheus.CounterVec
	opDuration  *prometheus.HistogramVec
	clamps      prometheus.Counter
	snapshots   *prometheus.CounterVec
	reloads     *prometheus.CounterVec
	uploads     *prometheus.CounterVec
	connections prometheus.Gauge

	ledgerEntries prometheus.Gauge
	ledgerTotal   prometheus.Gauge
	gridTotal     prometheus.Gauge
	regions       prometheus.Gauge
	tick          prometheus.Gauge
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer to
// expose them on the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ops: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taintgrid_ops_total",
				Help: "Total number of contamination operations handled",
			},
			[]string{"op", "result"},
		),
		opDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taintgrid_op_duration_seconds",
				Help:    "Duration of contamination operations in seconds",
				Buckets: prometheus.ExponentialBuckets(0.000001, 2, 15),
			},
			[]string{"op"},
		),
		clamps: f.NewCounter(prometheus.CounterOpts{
			Name: "taintgrid_clamps_total",
			Help: "Debits that would have driven a level below zero",
		}),
		snapshots: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taintgrid_snapshots_total",
				Help: "Snapshots written",
			},
			[]string{"result"},
		),
		reloads: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taintgrid_tuning_reloads_total",
				Help: "Tuning hot reloads",
			},
			[]string{"result"},
		),
		uploads: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taintgrid_mirror_uploads_total",
				Help: "Session artifacts mirrored to object storage",
			},
			[]string{"kind", "result"},
		),
		connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "taintgrid_ws_connections",
			Help: "Open websocket connections",
		}),
		ledgerEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "taintgrid_ledger_entries",
			Help: "Objects with a non-zero contamination level",
		}),
		ledgerTotal: f.NewGauge(prometheus.GaugeOpts{
			Name: "taintgrid_ledger_total",
			Help: "Sum of all object contamination levels",
		}),
		gridTotal: f.NewGauge(prometheus.GaugeOpts{
			Name: "taintgrid_grid_total",
			Help: "Sum of all cell contamination levels",
		}),
		regions: f.NewGauge(prometheus.GaugeOpts{
			Name: "taintgrid_regions",
			Help: "Regions with an allocated grid",
		}),
		tick: f.NewGauge(prometheus.GaugeOpts{
			Name: "taintgrid_tick",
			Help: "Current host tick",
		}),
	}
}

func (m *Metrics) RecordOp(op string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.ops.WithLabelValues(op, result).Inc()
	m.opDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) AddClamps(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.clamps.Add(float64(n))
}

func (m *Metrics) RecordSnapshot(err error) {
	if m == nil {
		return
	}
	m.snapshots.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) RecordReload(err error) {
	if m == nil {
		return
	}
	m.reloads.WithLabelValues(resultLabel(err)).Inc()
}

// RecordUpload counts one finished mirror upload of the given artifact kind.
func (m *Metrics) RecordUpload(kind string, err error) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(kind, resultLabel(err)).Inc()
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

// SetState publishes the session gauges.
func (m *Metrics) SetState(tick uint64, ledgerEntries int, ledgerTotal float64, regions int, gridTotal float64) {
	if m == nil {
		return
	}
	m.tick.Set(float64(tick))
	m.ledgerEntries.Set(float64(ledgerEntries))
	m.ledgerTotal.Set(ledgerTotal)
	m.regions.Set(float64(regions))
	m.gridTotal.Set(gridTotal)
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
