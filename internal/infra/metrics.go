package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	ticksProcessed  atomic.Uint64
	ordersFilled    atomic.Uint64
	ordersExpired   atomic.Uint64
	ordersCancelled atomic.Uint64
	ordersRejected  atomic.Uint64
	resamples       atomic.Uint64 // defensive re-draws of degenerate normals
	regimeChanges   atomic.Uint64

	// Tick latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordTick records one completed engine tick with its latency.
func (m *Metrics) RecordTick(latencyNs int64) {
	m.ticksProcessed.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordOrderFilled records a filled order.
func (m *Metrics) RecordOrderFilled() {
	m.ordersFilled.Add(1)
}

// RecordOrderExpired records an expired order.
func (m *Metrics) RecordOrderExpired() {
	m.ordersExpired.Add(1)
}

// RecordOrderCancelled records a cancelled order.
func (m *Metrics) RecordOrderCancelled() {
	m.ordersCancelled.Add(1)
}

// RecordOrderRejected records a placement rejection.
func (m *Metrics) RecordOrderRejected() {
	m.ordersRejected.Add(1)
}

// RecordResample records one defensive re-draw in the price process.
func (m *Metrics) RecordResample() {
	m.resamples.Add(1)
}

// RecordRegimeChange records a condition transition.
func (m *Metrics) RecordRegimeChange() {
	m.regimeChanges.Add(1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	TicksProcessed  uint64
	OrdersFilled    uint64
	OrdersExpired   uint64
	OrdersCancelled uint64
	OrdersRejected  uint64
	Resamples       uint64
	RegimeChanges   uint64
	AvgTickNs       int64
	Timestamp       time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avg int64
	if count := m.latencyCount.Load(); count > 0 {
		avg = m.latencySumNs.Load() / int64(count)
	}
	return MetricsSnapshot{
		TicksProcessed:  m.ticksProcessed.Load(),
		OrdersFilled:    m.ordersFilled.Load(),
		OrdersExpired:   m.ordersExpired.Load(),
		OrdersCancelled: m.ordersCancelled.Load(),
		OrdersRejected:  m.ordersRejected.Load(),
		Resamples:       m.resamples.Load(),
		RegimeChanges:   m.regimeChanges.Load(),
		AvgTickNs:       avg,
		Timestamp:       time.Now(),
	}
}
