// Package metrics tracks operational statistics for the ferdis server:
// frames decoded, commands dispatched by verb, bytes moved, connection
// lifecycle, and a latency histogram for command dispatch.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the dispatch-latency histogram buckets in
// nanoseconds, log-spaced from 1us to 10s.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// verbCounter tracks successes and failures for one command verb.
type verbCounter struct {
	ok  atomic.Uint64
	err atomic.Uint64
}

// Metrics tracks performance and operational statistics for one server
// instance. The zero value is not usable; construct with NewMetrics.
type Metrics struct {
	FramesDecoded     atomic.Uint64
	BytesRead         atomic.Uint64
	BytesWritten      atomic.Uint64
	ConnectionsOpened atomic.Uint64
	ConnectionsClosed atomic.Uint64

	DispatchLatencyNs atomic.Uint64
	DispatchOpCount   atomic.Uint64
	LatencyHistogram  [numLatencyBuckets]atomic.Uint64

	verbsMu sync.Mutex
	verbs   map[string]*verbCounter

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a metrics instance with its clock started.
func NewMetrics() *Metrics {
	m := &Metrics{verbs: make(map[string]*verbCounter)}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// ObserveFrame records that one request frame was decoded off the wire.
func (m *Metrics) ObserveFrame() {
	m.FramesDecoded.Add(1)
}

// ObserveBytesRead records n bytes read from a connection's socket.
func (m *Metrics) ObserveBytesRead(n uint64) {
	m.BytesRead.Add(n)
}

// ObserveBytesWritten records n bytes written to a connection's socket.
func (m *Metrics) ObserveBytesWritten(n uint64) {
	m.BytesWritten.Add(n)
}

// ObserveConnectionOpened records a new accepted connection.
func (m *Metrics) ObserveConnectionOpened() {
	m.ConnectionsOpened.Add(1)
}

// ObserveConnectionClosed records a connection reaching the closed state.
func (m *Metrics) ObserveConnectionClosed() {
	m.ConnectionsClosed.Add(1)
}

// ObserveCommand records the outcome of dispatching one command by verb.
// verb is "unknown" for an unrecognized command.
func (m *Metrics) ObserveCommand(verb string, ok bool) {
	m.verbsMu.Lock()
	c, found := m.verbs[verb]
	if !found {
		c = &verbCounter{}
		m.verbs[verb] = c
	}
	m.verbsMu.Unlock()

	if ok {
		c.ok.Add(1)
	} else {
		c.err.Add(1)
	}
}

// ObserveDispatchLatency records how long one Dispatch call took and
// updates the latency histogram.
func (m *Metrics) ObserveDispatchLatency(latencyNs uint64) {
	m.DispatchLatencyNs.Add(latencyNs)
	m.DispatchOpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyHistogram[i].Add(1)
		}
	}
}

// Stop marks the server as stopped, fixing the uptime reported by later
// snapshots.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// VerbSnapshot is a point-in-time count of one command verb's outcomes.
type VerbSnapshot struct {
	Verb    string
	OK      uint64
	Errored uint64
}

// MetricsSnapshot is a point-in-time snapshot of all tracked metrics.
type MetricsSnapshot struct {
	FramesDecoded     uint64
	BytesRead         uint64
	BytesWritten      uint64
	ConnectionsOpened uint64
	ConnectionsClosed uint64
	ActiveConnections uint64

	Verbs []VerbSnapshot

	AvgDispatchLatencyNs uint64
	DispatchP50Ns        uint64
	DispatchP99Ns        uint64
	DispatchP999Ns       uint64
	LatencyHistogram     [numLatencyBuckets]uint64

	UptimeNs       uint64
	CommandsPerSec float64
	ErrorRate      float64
}

// Snapshot creates a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		FramesDecoded:     m.FramesDecoded.Load(),
		BytesRead:         m.BytesRead.Load(),
		BytesWritten:      m.BytesWritten.Load(),
		ConnectionsOpened: m.ConnectionsOpened.Load(),
		ConnectionsClosed: m.ConnectionsClosed.Load(),
	}
	if snap.ConnectionsOpened > snap.ConnectionsClosed {
		snap.ActiveConnections = snap.ConnectionsOpened - snap.ConnectionsClosed
	}

	m.verbsMu.Lock()
	var totalOK, totalErr uint64
	for verb, c := range m.verbs {
		ok := c.ok.Load()
		errd := c.err.Load()
		snap.Verbs = append(snap.Verbs, VerbSnapshot{Verb: verb, OK: ok, Errored: errd})
		totalOK += ok
		totalErr += errd
	}
	m.verbsMu.Unlock()

	opCount := m.DispatchOpCount.Load()
	if opCount > 0 {
		snap.AvgDispatchLatencyNs = m.DispatchLatencyNs.Load() / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.CommandsPerSec = float64(totalOK+totalErr) / uptimeSeconds
	}

	if total := totalOK + totalErr; total > 0 {
		snap.ErrorRate = float64(totalErr) / float64(total) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyHistogram[i].Load()
	}

	if opCount > 0 {
		snap.DispatchP50Ns = m.calculatePercentile(0.50)
		snap.DispatchP99Ns = m.calculatePercentile(0.99)
		snap.DispatchP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the dispatch latency at the given
// percentile (0.0-1.0) by linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.DispatchOpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyHistogram[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyHistogram[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Observer allows pluggable metrics collection, so conn and server code
// can depend on an interface instead of the concrete Metrics type.
type Observer interface {
	ObserveFrame()
	ObserveBytesRead(n uint64)
	ObserveBytesWritten(n uint64)
	ObserveConnectionOpened()
	ObserveConnectionClosed()
	ObserveCommand(verb string, ok bool)
	ObserveDispatchLatency(latencyNs uint64)
}

// NoOpObserver is a no-op implementation of Observer, used when a server
// is run without metrics collection.
type NoOpObserver struct{}

func (NoOpObserver) ObserveFrame()                         {}
func (NoOpObserver) ObserveBytesRead(uint64)                {}
func (NoOpObserver) ObserveBytesWritten(uint64)             {}
func (NoOpObserver) ObserveConnectionOpened()               {}
func (NoOpObserver) ObserveConnectionClosed()               {}
func (NoOpObserver) ObserveCommand(string, bool)            {}
func (NoOpObserver) ObserveDispatchLatency(uint64)          {}

var _ Observer = (*Metrics)(nil)
var _ Observer = NoOpObserver{}
