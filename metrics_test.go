package sqpoll

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	assert.Zero(t, snap.ReadOps)

	m.RecordRead(4096, true)
	m.RecordRead(4096, true)
	m.RecordRead(512, false)

	snap = m.Snapshot()
	assert.Equal(t, uint64(3), snap.ReadOps)
	assert.Equal(t, uint64(8192), snap.ReadBytes, "only successful reads count bytes")
	assert.Equal(t, uint64(1), snap.ReadErrors)
	assert.InDelta(t, 100.0/3.0, snap.ErrorRate, 0.1)
}

func TestMetricsSubmit(t *testing.T) {
	m := NewMetrics()

	m.RecordSubmit(64, 0, true)
	m.RecordSubmit(32, 2, true)
	m.RecordSubmit(0, 8, false)

	snap := m.Snapshot()
	assert.Equal(t, uint64(3), snap.SubmitCalls)
	assert.Equal(t, uint64(96), snap.Submitted)
	assert.Equal(t, uint64(10), snap.SubmitRetries)
	assert.Equal(t, uint64(1), snap.SubmitErrors)
}

func TestMetricsBatchSize(t *testing.T) {
	m := NewMetrics()

	m.RecordBatch(10, 1_000_000)
	m.RecordBatch(64, 2_000_000)
	m.RecordBatch(15, 3_000_000)

	snap := m.Snapshot()
	assert.Equal(t, uint64(3), snap.Batches)
	assert.Equal(t, uint32(64), snap.MaxBatchSize)
	assert.Equal(t, uint64(2_000_000), snap.AvgBatchLatencyNs)
}

func TestMetricsLifecycle(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 4; i++ {
		m.RecordRing(true)
	}
	m.RecordFdSwap()
	m.RecordPass()
	m.RecordPass()
	for i := 0; i < 4; i++ {
		m.RecordRing(false)
	}
	m.RecordMismatch()

	snap := m.Snapshot()
	assert.Equal(t, uint64(4), snap.RingsCreated)
	assert.Equal(t, uint64(4), snap.RingsClosed)
	assert.Equal(t, uint64(1), snap.FdSwaps)
	assert.Equal(t, uint64(2), snap.Passes)
	assert.Equal(t, uint64(1), snap.DataMismatches)
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()
	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	assert.GreaterOrEqual(t, snap.UptimeNs, uint64(10*time.Millisecond))

	m.Stop()
	time.Sleep(5 * time.Millisecond)
	snap2 := m.Snapshot()
	assert.LessOrEqual(t, snap2.UptimeNs, snap.UptimeNs+uint64(2*time.Millisecond))
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordRead(4096, true)
	m.RecordSubmit(1, 1, true)
	m.RecordBatch(1, 1000)
	m.RecordFdSwap()

	require.NotZero(t, m.Snapshot().ReadOps)

	m.Reset()
	snap := m.Snapshot()
	assert.Zero(t, snap.ReadOps)
	assert.Zero(t, snap.ReadBytes)
	assert.Zero(t, snap.SubmitCalls)
	assert.Zero(t, snap.SubmitRetries)
	assert.Zero(t, snap.MaxBatchSize)
	assert.Zero(t, snap.FdSwaps)
	assert.Zero(t, snap.LatencyHistogram[len(snap.LatencyHistogram)-1])
}

func TestObserver(t *testing.T) {
	var noop Observer = NoOpObserver{}
	noop.ObserveRead(4096, true)
	noop.ObserveMismatch()
	noop.ObserveSubmit(1, 0, true)
	noop.ObserveBatch(1, 1000)
	noop.ObservePass()
	noop.ObserveRing(true)
	noop.ObserveFdSwap()

	m := NewMetrics()
	o := NewMetricsObserver(m)
	o.ObserveRead(4096, true)
	o.ObserveSubmit(64, 1, true)
	o.ObserveBatch(64, 1_000_000)
	o.ObservePass()
	o.ObserveRing(true)
	o.ObserveFdSwap()
	o.ObserveMismatch()

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.ReadOps)
	assert.Equal(t, uint64(4096), snap.ReadBytes)
	assert.Equal(t, uint64(64), snap.Submitted)
	assert.Equal(t, uint64(1), snap.SubmitRetries)
	assert.Equal(t, uint64(1), snap.Batches)
	assert.Equal(t, uint64(1), snap.Passes)
	assert.Equal(t, uint64(1), snap.RingsCreated)
	assert.Equal(t, uint64(1), snap.FdSwaps)
	assert.Equal(t, uint64(1), snap.DataMismatches)
}

func TestMetricsRates(t *testing.T) {
	m := NewMetrics()
	start := time.Now()
	m.StartTime.Store(start.UnixNano())

	m.RecordRead(1024, true)
	m.RecordRead(1024, true)

	m.StopTime.Store(start.Add(time.Second).UnixNano())

	snap := m.Snapshot()
	assert.InDelta(t, 2.0, snap.ReadIOPS, 0.1)
	assert.InDelta(t, 2048.0, snap.ReadBandwidth, 50)
}

func TestMetricsHistogram(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordBatch(64, 500_000) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordBatch(64, 5_000_000) // 5ms
	}
	m.RecordBatch(64, 50_000_000) // 50ms

	snap := m.Snapshot()
	assert.Equal(t, uint64(100), snap.Batches)
	assert.GreaterOrEqual(t, snap.LatencyP50Ns, uint64(100_000))
	assert.LessOrEqual(t, snap.LatencyP50Ns, uint64(1_000_000))
	assert.GreaterOrEqual(t, snap.LatencyP99Ns, uint64(5_000_000))
	assert.LessOrEqual(t, snap.LatencyP99Ns, uint64(100_000_000))
	assert.Equal(t, uint64(100), snap.LatencyHistogram[len(snap.LatencyHistogram)-1])
}
