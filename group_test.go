package sqpoll

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-sqpoll/internal/buffers"
	"github.com/ehrlich-b/go-sqpoll/internal/logging"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Buffers = 8
	cfg.Entries = 8
	cfg.MinIOs = 16
	cfg.FileSize = Size(64 << 10)
	cfg.Dir = t.TempDir()
	cfg.WaitTimeout = Duration(time.Millisecond)
	cfg.Preflight = false
	return cfg
}

func testBuffers(t *testing.T, cfg Config) *buffers.Set {
	t.Helper()
	bufs, err := buffers.Alloc(cfg.Buffers, cfg.BlockSize)
	require.NoError(t, err)
	t.Cleanup(func() { bufs.Free() })
	return bufs
}

func openTestGroup(t *testing.T, cfg Config, f *MockRingFactory, m *Metrics) *RingGroup {
	t.Helper()
	g, err := OpenGroup(context.Background(), cfg, f.New, testBuffers(t, cfg), NewMetricsObserver(m), WithVerify(true))
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestOpenGroupAttachesToRingZero(t *testing.T) {
	cfg := testConfig(t)
	f := NewMockRingFactory()
	g := openTestGroup(t, cfg, f, NewMetrics())

	require.Equal(t, 4, g.Len())
	rings := f.Rings()
	require.Len(t, rings, 4)

	rc0 := rings[0].Config()
	assert.True(t, rc0.SQPoll)
	assert.False(t, rc0.Attach)
	assert.Equal(t, uint32(1000), rc0.SQThreadIdle)

	for i, r := range rings[1:] {
		rc := r.Config()
		assert.Equal(t, i+1, rc.Index)
		assert.True(t, rc.SQPoll)
		assert.True(t, rc.Attach)
		assert.Equal(t, rings[0].Fd(), rc.AttachFd)
		assert.Equal(t, cfg.Entries, rc.Entries)
	}
}

func TestOpenGroupSharingUnsupported(t *testing.T) {
	cfg := testConfig(t)
	f := NewMockRingFactory()
	f.Features = 0

	_, err := OpenGroup(context.Background(), cfg, f.New, testBuffers(t, cfg), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSharingUnsupported)
	assert.Contains(t, err.Error(), "No SQPOLL sharing, skipping")

	rings := f.Rings()
	require.Len(t, rings, 1, "the check runs right after each ring is created")
	assert.True(t, rings[0].IsClosed())
}

func TestOpenGroupSetupFailure(t *testing.T) {
	cfg := testConfig(t)
	f := NewMockRingFactory()
	f.FailAt = 2

	_, err := OpenGroup(context.Background(), cfg, f.New, testBuffers(t, cfg), nil)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeInsufficientMemory))
	assert.True(t, IsErrno(err, unix.ENOMEM))
	assert.Contains(t, err.Error(), "ring=2")

	for _, r := range f.Rings() {
		assert.True(t, r.IsClosed())
	}
}

func TestOpenGroupBuffersTooSmall(t *testing.T) {
	cfg := testConfig(t)
	bufs, err := buffers.Alloc(4, cfg.BlockSize)
	require.NoError(t, err)
	defer bufs.Free()

	_, err = OpenGroup(context.Background(), cfg, NewMockRingFactory().New, bufs, nil)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestDoIO(t *testing.T) {
	cfg := testConfig(t)
	f := NewMockRingFactory()
	m := NewMetrics()
	g := openTestGroup(t, cfg, f, m)

	require.NoError(t, g.DoIO(context.Background(), 0, 0, g.Len()))

	// 16 ios per ring in batches of 8
	for i, r := range f.Rings() {
		counts := r.CallCounts()
		assert.Equal(t, 2, counts["submit"], "ring %d", i)
		assert.Equal(t, 16, counts["read"], "ring %d", i)
	}

	snap := m.Snapshot()
	assert.Equal(t, uint64(64), snap.ReadOps)
	assert.Equal(t, uint64(64*4096), snap.ReadBytes)
	assert.Equal(t, uint64(1), snap.Passes)
	assert.Equal(t, uint64(8), snap.Batches)
	assert.Equal(t, uint32(8), snap.MaxBatchSize)
	assert.Zero(t, snap.ReadErrors)
}

func TestDoIOSubRange(t *testing.T) {
	cfg := testConfig(t)
	f := NewMockRingFactory()
	g := openTestGroup(t, cfg, f, NewMetrics())

	require.NoError(t, g.DoIO(context.Background(), 0, 1, g.Len()))

	rings := f.Rings()
	assert.Zero(t, rings[0].CallCounts()["submit"])
	for _, r := range rings[1:] {
		assert.Equal(t, 16, r.CallCounts()["read"])
	}
}

func TestDoIOMinIOsRoundsUp(t *testing.T) {
	cfg := testConfig(t)
	cfg.MinIOs = 9
	f := NewMockRingFactory()
	g := openTestGroup(t, cfg, f, NewMetrics())

	require.NoError(t, g.DoIO(context.Background(), 0, 0, 1))
	assert.Equal(t, 16, f.Rings()[0].CallCounts()["read"])
}

func TestDoIOSQFull(t *testing.T) {
	cfg := testConfig(t)
	cfg.Entries = 4
	f := NewMockRingFactory()
	m := NewMetrics()
	g := openTestGroup(t, cfg, f, m)

	require.NoError(t, g.DoIO(context.Background(), 0, 0, 1))

	// Reads stop at the SQ size, the pass still counts a full batch
	assert.Equal(t, 8, f.Rings()[0].CallCounts()["read"])
	assert.Equal(t, uint32(4), m.Snapshot().MaxBatchSize)
}

func TestDoIOInvalidRange(t *testing.T) {
	cfg := testConfig(t)
	g := openTestGroup(t, cfg, NewMockRingFactory(), NewMetrics())

	for _, r := range [][2]int{{-1, 2}, {0, 5}, {2, 2}, {3, 1}} {
		err := g.DoIO(context.Background(), 0, r[0], r[1])
		assert.ErrorIs(t, err, ErrInvalidParameters, "range %v", r)
	}
}

func TestDoIOShortRead(t *testing.T) {
	cfg := testConfig(t)
	f := NewMockRingFactory()
	f.Configure = func(r *MockRing) { r.ShortReadAfter = 3 }
	m := NewMetrics()
	g := openTestGroup(t, cfg, f, m)

	err := g.DoIO(context.Background(), 0, 0, g.Len())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpectedResult)
	assert.Contains(t, err.Error(), "Unexpected ret 2048")

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, int32(2048), se.Res)
	assert.Equal(t, "WAIT_CQE", se.Op)
	assert.Equal(t, 0, se.Ring)
	assert.Equal(t, uint64(1), m.Snapshot().ReadErrors)
}

func TestDoIOSubmitRetry(t *testing.T) {
	cfg := testConfig(t)
	f := NewMockRingFactory()
	f.Configure = func(r *MockRing) { r.SubmitErrs = []error{unix.EAGAIN, unix.EINTR} }
	m := NewMetrics()
	g := openTestGroup(t, cfg, f, m)

	require.NoError(t, g.DoIO(context.Background(), 0, 0, 1))

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.SubmitRetries)
	assert.Zero(t, snap.SubmitErrors)
	assert.Equal(t, uint64(16), snap.ReadOps)
}

func TestDoIOSubmitRetriesExhausted(t *testing.T) {
	cfg := testConfig(t)
	cfg.SubmitRetries = 1
	f := NewMockRingFactory()
	f.Configure = func(r *MockRing) { r.SubmitErrs = []error{unix.EBUSY, unix.EBUSY, unix.EBUSY} }
	m := NewMetrics()
	g := openTestGroup(t, cfg, f, m)

	err := g.DoIO(context.Background(), 0, 0, 1)
	require.Error(t, err)
	assert.True(t, IsErrno(err, unix.EBUSY))
	assert.True(t, IsCode(err, ErrCodeRingBusy))
	assert.Equal(t, 2, f.Rings()[0].CallCounts()["submit"])
	assert.Equal(t, uint64(1), m.Snapshot().SubmitErrors)
}

func TestDoIOSubmitFatal(t *testing.T) {
	cfg := testConfig(t)
	f := NewMockRingFactory()
	f.Configure = func(r *MockRing) { r.SubmitErrs = []error{unix.EFAULT} }
	g := openTestGroup(t, cfg, f, NewMetrics())

	err := g.DoIO(context.Background(), 0, 0, 1)
	require.Error(t, err)
	assert.True(t, IsErrno(err, unix.EFAULT))
	assert.Equal(t, 1, f.Rings()[0].CallCounts()["submit"], "non-transient errors are not retried")

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "SUBMIT", se.Op)
}

func TestDoIODataMismatch(t *testing.T) {
	cfg := testConfig(t)
	f := NewMockRingFactory()
	f.Configure = func(r *MockRing) { r.Corrupt = true }
	m := NewMetrics()
	g := openTestGroup(t, cfg, f, m)

	err := g.DoIO(context.Background(), 0, 0, 1)
	assert.ErrorIs(t, err, ErrDataMismatch)
	assert.Equal(t, uint64(1), m.Snapshot().DataMismatches)
}

func TestDoIOWithoutVerify(t *testing.T) {
	cfg := testConfig(t)
	f := NewMockRingFactory()
	f.Configure = func(r *MockRing) { r.Corrupt = true }
	g, err := OpenGroup(context.Background(), cfg, f.New, testBuffers(t, cfg), nil)
	require.NoError(t, err)
	defer g.Close()

	assert.NoError(t, g.DoIO(context.Background(), 0, 0, g.Len()))
}

func TestDoIOCanceledWhileWaiting(t *testing.T) {
	cfg := testConfig(t)
	f := NewMockRingFactory()
	f.Configure = func(r *MockRing) { r.Hang = true }
	g := openTestGroup(t, cfg, f, NewMetrics())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := g.DoIO(ctx, 0, 0, g.Len())
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeCanceled))
}

func TestDoIOParallelWaits(t *testing.T) {
	cfg := testConfig(t)
	cfg.WaitParallelism = 4
	f := NewMockRingFactory()
	m := NewMetrics()
	g := openTestGroup(t, cfg, f, m)

	require.NoError(t, g.DoIO(context.Background(), 0, 0, g.Len()))
	assert.Equal(t, uint64(64), m.Snapshot().ReadOps)
}

func TestDupAndCloseOrigin(t *testing.T) {
	cfg := testConfig(t)
	f := NewMockRingFactory()
	m := NewMetrics()
	g := openTestGroup(t, cfg, f, m)

	ring0 := f.Rings()[0]
	oldFd := ring0.Fd()
	require.NoError(t, g.DupAndCloseOrigin())

	newFd := ring0.Fd()
	assert.NotEqual(t, oldFd, newFd)
	assert.Equal(t, []int{oldFd, newFd}, ring0.FdHistory())
	assert.Equal(t, uint64(1), m.Snapshot().FdSwaps)

	// The ring keeps working through the duplicate
	require.NoError(t, g.DoIO(context.Background(), 0, 1, g.Len()))
	require.NoError(t, g.DoIO(context.Background(), 0, 0, 1))
}

func TestSubmitFailsOnClosedDescriptor(t *testing.T) {
	cfg := testConfig(t)
	f := NewMockRingFactory()
	g := openTestGroup(t, cfg, f, NewMetrics())

	// Closing without switching to a duplicate leaves ring 0 unusable
	ring0 := f.Rings()[0]
	require.NoError(t, unix.Close(ring0.Fd()))

	err := g.DoIO(context.Background(), 0, 0, 1)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeBadDescriptor))
}

func TestGroupClose(t *testing.T) {
	cfg := testConfig(t)
	f := NewMockRingFactory()
	m := NewMetrics()
	g, err := OpenGroup(context.Background(), cfg, f.New, testBuffers(t, cfg), NewMetricsObserver(m))
	require.NoError(t, err)

	require.NoError(t, g.Close())
	for _, r := range f.Rings() {
		assert.True(t, r.IsClosed())
	}
	snap := m.Snapshot()
	assert.Equal(t, uint64(4), snap.RingsCreated)
	assert.Equal(t, uint64(4), snap.RingsClosed)

	// Idempotent
	assert.NoError(t, g.Close())
}

func TestWaitLogsFailedRequest(t *testing.T) {
	cfg := testConfig(t)
	f := NewMockRingFactory()
	f.Configure = func(r *MockRing) { r.ShortReadAfter = 2 }

	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.Config{
		Level:   logging.LevelWarn,
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	})
	g, err := OpenGroup(context.Background(), cfg, f.New, testBuffers(t, cfg), nil, WithGroupLogger(logger))
	require.NoError(t, err)
	defer g.Close()

	require.Error(t, g.DoIO(context.Background(), 0, 0, 1))
	output := buf.String()
	assert.Contains(t, output, "unexpected read result")
	assert.Contains(t, output, "ring=0")
	assert.Contains(t, output, "buf=2")
	assert.Contains(t, output, "offset=8192")
	assert.Contains(t, output, "res=2048")
}
