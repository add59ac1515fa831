package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight relay counters.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	notificationsReceived  atomic.Uint64
	notificationsQualified atomic.Uint64
	transfersRelayed       atomic.Uint64
	deliveriesFailed       atomic.Uint64
	noSession              atomic.Uint64
	rateFailures           atomic.Uint64
	balanceFailures        atomic.Uint64

	// Latency tracking (notification -> delivery attempt)
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeSessions atomic.Int32
	activeWatches  atomic.Int32
}

// NewMetrics returns a zeroed metrics set.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordNotification counts a raw feed notification and whether it qualified.
func (m *Metrics) RecordNotification(qualified bool) {
	m.notificationsReceived.Add(1)
	if qualified {
		m.notificationsQualified.Add(1)
	}
}

// RecordRelayed records a delivered transfer with its pipeline latency.
func (m *Metrics) RecordRelayed(latency time.Duration) {
	m.transfersRelayed.Add(1)
	m.latencySumNs.Add(int64(latency))
	m.latencyCount.Add(1)
}

func (m *Metrics) RecordDeliveryFailed() { m.deliveriesFailed.Add(1) }
func (m *Metrics) RecordNoSession()      { m.noSession.Add(1) }
func (m *Metrics) RecordRateFailure()    { m.rateFailures.Add(1) }
func (m *Metrics) RecordBalanceFailure() { m.balanceFailures.Add(1) }

// IncrementSessions increments active sessions by 1.
func (m *Metrics) IncrementSessions() { m.activeSessions.Add(1) }

// DecrementSessions decrements active sessions by 1.
func (m *Metrics) DecrementSessions() { m.activeSessions.Add(-1) }

func (m *Metrics) IncrementWatches() { m.activeWatches.Add(1) }
func (m *Metrics) DecrementWatches() { m.activeWatches.Add(-1) }

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	NotificationsReceived  uint64    `json:"notificationsReceived"`
	NotificationsQualified uint64    `json:"notificationsQualified"`
	TransfersRelayed       uint64    `json:"transfersRelayed"`
	DeliveriesFailed       uint64    `json:"deliveriesFailed"`
	NoSession              uint64    `json:"noSession"`
	RateFailures           uint64    `json:"rateFailures"`
	BalanceFailures        uint64    `json:"balanceFailures"`
	AvgLatencyNs           int64     `json:"avgLatencyNs"`
	ActiveSessions         int32     `json:"activeSessions"`
	ActiveWatches          int32     `json:"activeWatches"`
	Timestamp              time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		NotificationsReceived:  m.notificationsReceived.Load(),
		NotificationsQualified: m.notificationsQualified.Load(),
		TransfersRelayed:       m.transfersRelayed.Load(),
		DeliveriesFailed:       m.deliveriesFailed.Load(),
		NoSession:              m.noSession.Load(),
		RateFailures:           m.rateFailures.Load(),
		BalanceFailures:        m.balanceFailures.Load(),
		AvgLatencyNs:           avgLatency,
		ActiveSessions:         m.activeSessions.Load(),
		ActiveWatches:          m.activeWatches.Load(),
		Timestamp:              time.Now(),
	}
}
