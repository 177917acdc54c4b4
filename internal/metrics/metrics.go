// Package metrics collects and exposes fabrickv runtime observability data.
//
// # Design rationale
//
// Two metric stores coexist:
//
//  1. The in-process Metrics struct (global + per-op counters and a
//     minute-bucketed time series) for a lightweight JSON endpoint (served
//     by cmd/fabricd at /stats; /metrics is the Prometheus handler).
//  2. A Prometheus registry (prometheus.go) for scraping by external
//     monitoring systems.
//
// # Concurrency — hot path
//
// RecordIO is the per-IO-operation entry point and must stay allocation-light.
// It uses atomic increments for global counters and enqueues a lightweight
// event onto a buffered channel (tsChan) for the time-series worker to apply
// asynchronously, so the hot path never blocks on the time-series lock.
//
// # Invariants
//
//   - TotalOps == SuccessOps + FailedOps (maintained by RecordIO).
//   - The time-series ring buffer holds at most timeSeriesBucketCount buckets
//     (24 * 60 = 1440 for the last 24 hours at 1-minute granularity).
//   - tsChan capacity is 8192 events; events dropped when full are counted
//     in tsDroppedEvents for observability.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	timeSeriesBucketDuration = time.Minute
	timeSeriesBucketCount    = 24 * 60
)

// TimeSeriesBucket stores metrics for a single time bucket.
type TimeSeriesBucket struct {
	Timestamp    time.Time
	Ops          int64
	Errors       int64
	TotalLatency int64
	Count        int64 // for calculating avg
}

// Metrics collects and exposes fabrickv runtime metrics.
type Metrics struct {
	// IO op metrics
	TotalOps   atomic.Int64
	SuccessOps atomic.Int64
	FailedOps  atomic.Int64
	DirectOps  atomic.Int64 // two-stage Put/GetDirect transfers

	// Latency metrics (in microseconds)
	TotalLatencyUs atomic.Int64
	MinLatencyUs   atomic.Int64
	MaxLatencyUs   atomic.Int64

	// Fabric transport metrics
	BytesSent        atomic.Int64
	BytesReceived    atomic.Int64
	ConnectionsOpen  atomic.Int64
	ConnectionsTotal atomic.Int64

	// Allocator metrics
	RegionsAllocated atomic.Int64
	SlotsInUse       atomic.Int64
	AllocFailures    atomic.Int64

	// Per-op metrics
	opMetrics sync.Map // op name -> *OpMetrics

	// Time-series data (minute buckets for last 24 hours)
	timeSeriesMu    sync.RWMutex
	timeSeries      []*TimeSeriesBucket
	tsChan          chan timeSeriesEvent
	tsDroppedEvents atomic.Int64

	startTime time.Time
}

// timeSeriesEvent is sent over a channel to avoid write-lock contention on the hot path.
type timeSeriesEvent struct {
	latencyUs int64
	isError   bool
}

// OpMetrics tracks metrics for a single wire operation (put, get, erase, ...).
type OpMetrics struct {
	Count    atomic.Int64
	Errors   atomic.Int64
	TotalUs  atomic.Int64
	MinUs    atomic.Int64
	MaxUs    atomic.Int64
}

// Global metrics instance.
var global = &Metrics{startTime: time.Now()}

func init() {
	global.MinLatencyUs.Store(int64(^uint64(0) >> 1)) // Max int64
	global.tsChan = make(chan timeSeriesEvent, 8192)
	global.initTimeSeries()
	go global.processTimeSeriesLoop()
}

// initTimeSeries initializes minute-level buckets for the last 24 hours.
func (m *Metrics) initTimeSeries() {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)
	m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
	for i := 0; i < timeSeriesBucketCount; i++ {
		m.timeSeries[i] = &TimeSeriesBucket{
			Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
		}
	}
}

// Global returns the global metrics instance.
func Global() *Metrics {
	return global
}

// StartTime returns the time when the metrics system was initialized.
func StartTime() time.Time {
	return global.startTime
}

// RecordIO records one IO op's outcome and latency.
func (m *Metrics) RecordIO(op string, latencyUs int64, direct bool, success bool) {
	m.TotalOps.Add(1)
	if success {
		m.SuccessOps.Add(1)
	} else {
		m.FailedOps.Add(1)
	}
	if direct {
		m.DirectOps.Add(1)
	}

	m.TotalLatencyUs.Add(latencyUs)
	updateMin(&m.MinLatencyUs, latencyUs)
	updateMax(&m.MaxLatencyUs, latencyUs)

	om := m.getOpMetrics(op)
	om.Count.Add(1)
	if !success {
		om.Errors.Add(1)
	}
	om.TotalUs.Add(latencyUs)
	updateMin(&om.MinUs, latencyUs)
	updateMax(&om.MaxUs, latencyUs)

	m.recordTimeSeries(latencyUs, !success)
	RecordPrometheusIO(op, latencyUs, direct, success)
}

// recordTimeSeries enqueues a time-series event for async processing,
// avoiding a write-lock on the hot IO path.
func (m *Metrics) recordTimeSeries(latencyUs int64, isError bool) {
	select {
	case m.tsChan <- timeSeriesEvent{latencyUs: latencyUs, isError: isError}:
	default:
		m.tsDroppedEvents.Add(1)
	}
}

// processTimeSeriesLoop drains tsChan and applies events under a write lock.
func (m *Metrics) processTimeSeriesLoop() {
	for evt := range m.tsChan {
		m.applyTimeSeriesEvent(evt.latencyUs, evt.isError)
	}
}

// applyTimeSeriesEvent updates the time-series buckets (must be called from a single goroutine).
func (m *Metrics) applyTimeSeriesEvent(latencyUs int64, isError bool) {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)

	if len(m.timeSeries) > 0 {
		lastBucket := m.timeSeries[len(m.timeSeries)-1]
		bucketsDiff := int(now.Sub(lastBucket.Timestamp) / timeSeriesBucketDuration)

		if bucketsDiff > 0 {
			if bucketsDiff >= timeSeriesBucketCount {
				m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
				for i := 0; i < timeSeriesBucketCount; i++ {
					m.timeSeries[i] = &TimeSeriesBucket{
						Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
					}
				}
			} else {
				m.timeSeries = m.timeSeries[bucketsDiff:]
				for i := 0; i < bucketsDiff; i++ {
					m.timeSeries = append(m.timeSeries, &TimeSeriesBucket{
						Timestamp: lastBucket.Timestamp.Add(time.Duration(i+1) * timeSeriesBucketDuration),
					})
				}
			}
		}
	}

	if len(m.timeSeries) > 0 {
		bucket := m.timeSeries[len(m.timeSeries)-1]
		bucket.Ops++
		bucket.TotalLatency += latencyUs
		bucket.Count++
		if isError {
			bucket.Errors++
		}
	}
}

// RecordConnectionOpened records a newly accepted fabric connection.
func (m *Metrics) RecordConnectionOpened() {
	m.ConnectionsOpen.Add(1)
	m.ConnectionsTotal.Add(1)
	RecordPrometheusConnectionOpened()
}

// RecordConnectionClosed records an accepted fabric connection closing.
func (m *Metrics) RecordConnectionClosed() {
	m.ConnectionsOpen.Add(-1)
	RecordPrometheusConnectionClosed()
}

// RecordBytes records bytes moved over the fabric transport in one direction.
func (m *Metrics) RecordBytes(sent, received int64) {
	m.BytesSent.Add(sent)
	m.BytesReceived.Add(received)
	RecordPrometheusBytes(sent, received)
}

// RecordAllocation records a region-map allocation outcome.
func (m *Metrics) RecordAllocation(ok bool) {
	if ok {
		m.SlotsInUse.Add(1)
	} else {
		m.AllocFailures.Add(1)
	}
	RecordPrometheusAllocation(ok)
}

// RecordFree records a region-map slot being released.
func (m *Metrics) RecordFree() {
	m.SlotsInUse.Add(-1)
	RecordPrometheusFree()
}

// RecordRegionAdded records a new region being registered with the allocator.
func (m *Metrics) RecordRegionAdded() {
	m.RegionsAllocated.Add(1)
	RecordPrometheusRegionAdded()
}

func (m *Metrics) getOpMetrics(op string) *OpMetrics {
	if v, ok := m.opMetrics.Load(op); ok {
		return v.(*OpMetrics)
	}
	om := &OpMetrics{}
	om.MinUs.Store(int64(^uint64(0) >> 1))
	actual, _ := m.opMetrics.LoadOrStore(op, om)
	return actual.(*OpMetrics)
}

// GetOpMetrics returns the metrics for a specific op (or nil if none recorded yet).
func (m *Metrics) GetOpMetrics(op string) *OpMetrics {
	if v, ok := m.opMetrics.Load(op); ok {
		return v.(*OpMetrics)
	}
	return nil
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() map[string]interface{} {
	total := m.TotalOps.Load()
	avgLatency := float64(0)
	if total > 0 {
		avgLatency = float64(m.TotalLatencyUs.Load()) / float64(total)
	}

	minLatency := m.MinLatencyUs.Load()
	if minLatency == int64(^uint64(0)>>1) {
		minLatency = 0
	}

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"ops": map[string]interface{}{
			"total":   total,
			"success": m.SuccessOps.Load(),
			"failed":  m.FailedOps.Load(),
			"direct":  m.DirectOps.Load(),
		},
		"latency_us": map[string]interface{}{
			"avg": avgLatency,
			"min": minLatency,
			"max": m.MaxLatencyUs.Load(),
		},
		"fabric": map[string]interface{}{
			"bytes_sent":        m.BytesSent.Load(),
			"bytes_received":    m.BytesReceived.Load(),
			"connections_open":  m.ConnectionsOpen.Load(),
			"connections_total": m.ConnectionsTotal.Load(),
		},
		"allocator": map[string]interface{}{
			"regions":        m.RegionsAllocated.Load(),
			"slots_in_use":   m.SlotsInUse.Load(),
			"alloc_failures": m.AllocFailures.Load(),
		},
		"ts_dropped_events": m.tsDroppedEvents.Load(),
	}
}

// OpStats returns per-op metrics.
func (m *Metrics) OpStats() map[string]interface{} {
	result := make(map[string]interface{})

	m.opMetrics.Range(func(key, value interface{}) bool {
		op := key.(string)
		om := value.(*OpMetrics)

		total := om.Count.Load()
		avgUs := float64(0)
		if total > 0 {
			avgUs = float64(om.TotalUs.Load()) / float64(total)
		}
		minUs := om.MinUs.Load()
		if minUs == int64(^uint64(0)>>1) {
			minUs = 0
		}

		result[op] = map[string]interface{}{
			"count":  total,
			"errors": om.Errors.Load(),
			"avg_us": avgUs,
			"min_us": minUs,
			"max_us": om.MaxUs.Load(),
		}
		return true
	})

	return result
}

// JSONHandler returns an HTTP handler that exposes metrics in JSON format.
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		result := m.Snapshot()
		result["ops"].(map[string]interface{})["by_op"] = m.OpStats()
		json.NewEncoder(w).Encode(result)
	})
}

// TimeSeries returns minute-level time-series data for the last 24 hours.
func (m *Metrics) TimeSeries() []map[string]interface{} {
	m.timeSeriesMu.RLock()
	defer m.timeSeriesMu.RUnlock()

	result := make([]map[string]interface{}, len(m.timeSeries))
	for i, bucket := range m.timeSeries {
		avgLatency := float64(0)
		if bucket.Count > 0 {
			avgLatency = float64(bucket.TotalLatency) / float64(bucket.Count)
		}
		result[i] = map[string]interface{}{
			"timestamp":   bucket.Timestamp.Format(time.RFC3339),
			"ops":         bucket.Ops,
			"errors":      bucket.Errors,
			"avg_latency": avgLatency,
		}
	}
	return result
}

// TimeSeriesHandler returns an HTTP handler for time-series metrics.
func (m *Metrics) TimeSeriesHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.TimeSeries())
	})
}

// Helper functions

func updateMin(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value >= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value <= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}
