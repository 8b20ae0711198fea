package stream

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MaxConnectorLabels caps the distinct connector label values. Connectors
// seen after the cap are counted under OtherConnectorLabel.
const MaxConnectorLabels = 64

// OtherConnectorLabel is the connector label once the cap is reached.
const OtherConnectorLabel = "other"

// Metrics holds the sink's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	appended   *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	invalid    prometheus.Counter
	sinkErrors prometheus.Counter
	published  *prometheus.CounterVec
	duration   prometheus.Histogram

	mu         sync.Mutex
	connectors map[string]struct{}
}

// NewMetrics registers the sink collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connectors: make(map[string]struct{}),
		appended: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "activitylog",
				Name:      "records_appended_total",
				Help:      "Records written to the activity log, by connector.",
			},
			[]string{"connector"},
		),
		rejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "activitylog",
				Name:      "records_rejected_total",
				Help:      "Records vetoed by an override, by connector and override.",
			},
			[]string{"connector", "override"},
		),
		invalid: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "activitylog",
				Name:      "records_invalid_total",
				Help:      "Records that failed validation.",
			},
		),
		sinkErrors: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "activitylog",
				Name:      "sink_errors_total",
				Help:      "Appends that failed because the store was unavailable.",
			},
		),
		published: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "activitylog",
				Name:      "records_published_total",
				Help:      "Publish attempts for stored records, by result.",
			},
			[]string{"result"},
		),
		duration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "activitylog",
				Name:      "append_duration_seconds",
				Help:      "Time spent in Append, overrides and store write included.",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}

func (m *Metrics) incAppended(connector string) {
	if m == nil {
		return
	}
	m.appended.WithLabelValues(m.connectorLabel(connector)).Inc()
}

func (m *Metrics) incRejected(connector, override string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(m.connectorLabel(connector), override).Inc()
}

// incInvalid is unlabeled: an invalid record's connector is whatever the
// client sent.
func (m *Metrics) incInvalid() {
	if m == nil {
		return
	}
	m.invalid.Inc()
}

// connectorLabel returns connector while fewer than MaxConnectorLabels
// distinct values have been seen, then OtherConnectorLabel for new ones.
func (m *Metrics) connectorLabel(connector string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.connectors[connector]; ok {
		return connector
	}
	if len(m.connectors) >= MaxConnectorLabels {
		return OtherConnectorLabel
	}
	m.connectors[connector] = struct{}{}
	return connector
}

func (m *Metrics) incSinkError() {
	if m == nil {
		return
	}
	m.sinkErrors.Inc()
}

func (m *Metrics) incPublished(result string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(result).Inc()
}

func (m *Metrics) observeAppend(start time.Time) {
	if m == nil {
		return
	}
	m.duration.Observe(time.Since(start).Seconds())
}
