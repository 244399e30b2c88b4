package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "kem"

// Metrics tracks emission and dispatch statistics.
type Metrics struct {
	mu sync.RWMutex

	// Per-operation counts
	operations map[string]*OperationStats

	emissionsTotal   *prometheus.CounterVec
	emissionDuration *prometheus.HistogramVec
	dispatchesTotal  *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

// OperationStats holds the counters kept for one producer operation.
type OperationStats struct {
	Emitted      uint64    `json:"emitted"`
	Failed       uint64    `json:"failed"`
	Triggered    uint64    `json:"triggered"`
	LastEmitAt   time.Time `json:"last_emit_at,omitempty"`
	LastFailedAt time.Time `json:"last_failed_at,omitempty"`
}

// NewMetrics creates the collectors. A nil registerer uses the Prometheus
// default registry.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		operations: make(map[string]*OperationStats),
		registerer: registerer,
		emissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "producer",
			Name:      "emissions_total",
			Help:      "Total number of producer emissions by outcome",
		}, []string{"operation_id", "topic", "trigger", "status"}),
		emissionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "producer",
			Name:      "emission_duration_seconds",
			Help:      "Time spent materializing, encoding and publishing one emission",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation_id", "topic"}),
		dispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "consumer",
			Name:      "dispatches_total",
			Help:      "Total number of producers launched by consumed messages",
		}, []string{"consumer_id", "topic", "operation_id"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	for _, c := range []prometheus.Collector{m.emissionsTotal, m.emissionDuration, m.dispatchesTotal} {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

func (m *Metrics) observeEmission(ctx EmissionContext, status string) {
	m.emissionsTotal.WithLabelValues(ctx.OperationID, ctx.Topic, ctx.Trigger.String(), status).Inc()
	m.emissionDuration.WithLabelValues(ctx.OperationID, ctx.Topic).Observe(ctx.Duration.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.statsLocked(ctx.OperationID)
	now := time.Now()
	if status == "ok" {
		stats.Emitted++
		stats.LastEmitAt = now
	} else {
		stats.Failed++
		stats.LastFailedAt = now
	}
}

func (m *Metrics) observeDispatch(consumerID, topic, operationID string) {
	m.dispatchesTotal.WithLabelValues(consumerID, topic, operationID).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.statsLocked(operationID).Triggered++
}

func (m *Metrics) statsLocked(operationID string) *OperationStats {
	if stats, ok := m.operations[operationID]; ok {
		return stats
	}
	stats := &OperationStats{}
	m.operations[operationID] = stats
	return stats
}

// Operation returns a copy of the counters for one operation, or nil.
func (m *Metrics) Operation(operationID string) *OperationStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats, ok := m.operations[operationID]
	if !ok {
		return nil
	}
	cp := *stats
	return &cp
}

// Snapshot returns a copy of every operation's counters.
func (m *Metrics) Snapshot() map[string]OperationStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]OperationStats, len(m.operations))
	for id, stats := range m.operations {
		out[id] = *stats
	}
	return out
}
