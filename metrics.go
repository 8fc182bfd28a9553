package sqpoll

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the batch latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks what a scenario run did to its rings
type Metrics struct {
	// Read counters
	ReadOps        atomic.Uint64 // Completions reaped
	ReadBytes      atomic.Uint64 // Bytes read by successful completions
	ReadErrors     atomic.Uint64 // Completions with a result other than the block size
	DataMismatches atomic.Uint64 // Full reads whose data did not match the pattern

	// Submission counters
	SubmitCalls   atomic.Uint64 // Submit invocations
	Submitted     atomic.Uint64 // Entries handed to the kernel
	SubmitRetries atomic.Uint64 // Submits retried after EAGAIN/EBUSY/EINTR
	SubmitErrors  atomic.Uint64 // Submits that failed for good

	// Ring lifecycle
	RingsCreated atomic.Uint64 // Rings set up
	RingsClosed  atomic.Uint64 // Rings torn down
	FdSwaps      atomic.Uint64 // Descriptors replaced by their duplicate

	// Batch statistics
	Batches        atomic.Uint64 // Submit-and-reap rounds, per ring
	Passes         atomic.Uint64 // do_io passes
	MaxBatchSize   atomic.Uint32 // Largest batch submitted to one ring
	TotalLatencyNs atomic.Uint64 // Cumulative batch latency in nanoseconds
	OpCount        atomic.Uint64 // Batches with a recorded latency

	// Latency histogram buckets (cumulative counts)
	// Each bucket[i] contains the count of batches with latency <= LatencyBuckets[i]
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Run lifecycle
	StartTime atomic.Int64 // Run start timestamp (UnixNano)
	StopTime  atomic.Int64 // Run stop timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordRead records one reaped read completion
func (m *Metrics) RecordRead(bytes uint64, success bool) {
	m.ReadOps.Add(1)
	if success {
		m.ReadBytes.Add(bytes)
	} else {
		m.ReadErrors.Add(1)
	}
}

// RecordMismatch records a read whose data did not match the fill pattern
func (m *Metrics) RecordMismatch() {
	m.DataMismatches.Add(1)
}

// RecordSubmit records a Submit call
func (m *Metrics) RecordSubmit(submitted int, retries int, success bool) {
	m.SubmitCalls.Add(1)
	m.SubmitRetries.Add(uint64(retries))
	if submitted > 0 {
		m.Submitted.Add(uint64(submitted))
	}
	if !success {
		m.SubmitErrors.Add(1)
	}
}

// RecordBatch records one submit-and-reap round on a ring
func (m *Metrics) RecordBatch(size uint32, latencyNs uint64) {
	m.Batches.Add(1)

	for {
		current := m.MaxBatchSize.Load()
		if size <= current {
			break
		}
		if m.MaxBatchSize.CompareAndSwap(current, size) {
			break
		}
	}
	m.recordLatency(latencyNs)
}

// RecordPass records a completed do_io pass
func (m *Metrics) RecordPass() {
	m.Passes.Add(1)
}

// RecordRing records a ring being created or closed
func (m *Metrics) RecordRing(created bool) {
	if created {
		m.RingsCreated.Add(1)
	} else {
		m.RingsClosed.Add(1)
	}
}

// RecordFdSwap records a ring switching to a duplicated descriptor
func (m *Metrics) RecordFdSwap() {
	m.FdSwaps.Add(1)
}

// recordLatency records batch latency and updates histogram
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the run as finished
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics
type MetricsSnapshot struct {
	ReadOps        uint64 `json:"read_ops"`
	ReadBytes      uint64 `json:"read_bytes"`
	ReadErrors     uint64 `json:"read_errors"`
	DataMismatches uint64 `json:"data_mismatches"`

	SubmitCalls   uint64 `json:"submit_calls"`
	Submitted     uint64 `json:"submitted"`
	SubmitRetries uint64 `json:"submit_retries"`
	SubmitErrors  uint64 `json:"submit_errors"`

	RingsCreated uint64 `json:"rings_created"`
	RingsClosed  uint64 `json:"rings_closed"`
	FdSwaps      uint64 `json:"fd_swaps"`

	Batches      uint64 `json:"batches"`
	Passes       uint64 `json:"passes"`
	MaxBatchSize uint32 `json:"max_batch_size"`

	// Batch latency (in nanoseconds)
	AvgBatchLatencyNs uint64 `json:"avg_batch_latency_ns"`
	LatencyP50Ns      uint64 `json:"latency_p50_ns"`  // 50th percentile (median)
	LatencyP99Ns      uint64 `json:"latency_p99_ns"`  // 99th percentile
	LatencyP999Ns     uint64 `json:"latency_p999_ns"` // 99.9th percentile

	// Histogram bucket counts (cumulative)
	LatencyHistogram [numLatencyBuckets]uint64 `json:"latency_histogram"`

	// Computed statistics
	UptimeNs      uint64  `json:"uptime_ns"`
	ReadIOPS      float64 `json:"read_iops"`      // Completions per second
	ReadBandwidth float64 `json:"read_bandwidth"` // Bytes per second
	ErrorRate     float64 `json:"error_rate"`     // Percentage of failed reads
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ReadOps:        m.ReadOps.Load(),
		ReadBytes:      m.ReadBytes.Load(),
		ReadErrors:     m.ReadErrors.Load(),
		DataMismatches: m.DataMismatches.Load(),
		SubmitCalls:    m.SubmitCalls.Load(),
		Submitted:      m.Submitted.Load(),
		SubmitRetries:  m.SubmitRetries.Load(),
		SubmitErrors:   m.SubmitErrors.Load(),
		RingsCreated:   m.RingsCreated.Load(),
		RingsClosed:    m.RingsClosed.Load(),
		FdSwaps:        m.FdSwaps.Load(),
		Batches:        m.Batches.Load(),
		Passes:         m.Passes.Load(),
		MaxBatchSize:   m.MaxBatchSize.Load(),
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgBatchLatencyNs = totalLatencyNs / opCount
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
		snap.ReadIOPS = float64(snap.ReadOps) / uptimeSeconds
		snap.ReadBandwidth = float64(snap.ReadBytes) / uptimeSeconds
	}

	if snap.ReadOps > 0 {
		snap.ErrorRate = float64(snap.ReadErrors) / float64(snap.ReadOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	// Latency exceeds all buckets
	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing)
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Uint64{
		&m.ReadOps, &m.ReadBytes, &m.ReadErrors, &m.DataMismatches,
		&m.SubmitCalls, &m.Submitted, &m.SubmitRetries, &m.SubmitErrors,
		&m.RingsCreated, &m.RingsClosed, &m.FdSwaps,
		&m.Batches, &m.Passes, &m.TotalLatencyNs, &m.OpCount,
	} {
		c.Store(0)
	}
	m.MaxBatchSize.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer interface allows pluggable metrics collection
type Observer interface {
	// ObserveRead is called for each reaped completion
	ObserveRead(bytes uint64, success bool)

	// ObserveMismatch is called when a full read returned the wrong data
	ObserveMismatch()

	// ObserveSubmit is called after each Submit, retries included
	ObserveSubmit(submitted int, retries int, success bool)

	// ObserveBatch is called after a ring's batch has been fully reaped
	ObserveBatch(size uint32, latencyNs uint64)

	// ObservePass is called after each do_io pass
	ObservePass()

	// ObserveRing is called when a ring is created or closed
	ObserveRing(created bool)

	// ObserveFdSwap is called when a ring switches to a duplicated descriptor
	ObserveFdSwap()
}

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObserveRead(uint64, bool) {}
func (NoOpObserver) ObserveMismatch() {}
func (NoOpObserver) ObserveSubmit(int, int, bool) {}
func (NoOpObserver) ObserveBatch(uint32, uint64) {}
func (NoOpObserver) ObservePass() {}
func (NoOpObserver) ObserveRing(bool) {}
func (NoOpObserver) ObserveFdSwap() {}

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveRead(bytes uint64, success bool) {
	o.metrics.RecordRead(bytes, success)
}

func (o *MetricsObserver) ObserveMismatch() {
	o.metrics.RecordMismatch()
}

func (o *MetricsObserver) ObserveSubmit(submitted int, retries int, success bool) {
	o.metrics.RecordSubmit(submitted, retries, success)
}

func (o *MetricsObserver) ObserveBatch(size uint32, latencyNs uint64) {
	o.metrics.RecordBatch(size, latencyNs)
}

func (o *MetricsObserver) ObservePass() {
	o.metrics.RecordPass()
}

func (o *MetricsObserver) ObserveRing(created bool) {
	o.metrics.RecordRing(created)
}

func (o *MetricsObserver) ObserveFdSwap() {
	o.metrics.RecordFdSwap()
}

// Compile-time interface check
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)

// MultiObserver forwards every event to each of its observers in order.
// With WaitParallelism above 1 events arrive concurrently, so every observer
// must be safe for concurrent use.
type MultiObserver []Observer

func (m MultiObserver) ObserveRead(bytes uint64, success bool) {
	for _, o := range m {
		o.ObserveRead(bytes, success)
	}
}

func (m MultiObserver) ObserveMismatch() {
	for _, o := range m {
		o.ObserveMismatch()
	}
}

func (m MultiObserver) ObserveSubmit(submitted int, retries int, success bool) {
	for _, o := range m {
		o.ObserveSubmit(submitted, retries, success)
	}
}

func (m MultiObserver) ObserveBatch(size uint32, latencyNs uint64) {
	for _, o := range m {
		o.ObserveBatch(size, latencyNs)
	}
}

func (m MultiObserver) ObservePass() {
	for _, o := range m {
		o.ObservePass()
	}
}

func (m MultiObserver) ObserveRing(created bool) {
	for _, o := range m {
		o.ObserveRing(created)
	}
}

func (m MultiObserver) ObserveFdSwap() {
	for _, o := range m {
		o.ObserveFdSwap()
	}
}

var _ Observer = MultiObserver(nil)
