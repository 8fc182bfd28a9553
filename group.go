package sqpoll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-sqpoll/internal/buffers"
	"github.com/ehrlich-b/go-sqpoll/internal/constants"
	"github.com/ehrlich-b/go-sqpoll/internal/logging"
	"github.com/ehrlich-b/go-sqpoll/internal/uring"
)

// RingGroup is a set of SQPOLL rings sharing ring 0's poller thread. Rings
// 1..N-1 are attached to ring 0's work queue at creation time.
//
// All rings read into the same buffer set, so at most one pass may be in
// flight at a time. A RingGroup is not safe for concurrent use.
type RingGroup struct {
	cfg      Config
	rings    []Ring
	bufs     *buffers.Set
	observer Observer
	logger   *logging.Logger

	// verify is set when the file's fill pattern is known.
	verify bool
}

// GroupOption configures a RingGroup
type GroupOption func(*RingGroup)

// WithVerify checks the data of every completed read.
func WithVerify(verify bool) GroupOption {
	return func(g *RingGroup) { g.verify = verify }
}

// WithGroupLogger sets the logger used for ring lifecycle events.
func WithGroupLogger(l *logging.Logger) GroupOption {
	return func(g *RingGroup) { g.logger = l }
}

// OpenGroup creates cfg.Rings rings through factory. Ring 0 gets its own
// SQPOLL thread; every other ring attaches to ring 0's descriptor.
//
// If a ring does not report IORING_FEAT_SQPOLL_NONFIXED the rings created so
// far are closed and the returned error matches ErrSharingUnsupported.
func OpenGroup(ctx context.Context, cfg Config, factory RingFactory, bufs *buffers.Set, observer Observer, opts ...GroupOption) (*RingGroup, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if bufs.Len() < cfg.Buffers || bufs.Size() < cfg.BlockSize {
		return nil, NewError("OPEN_GROUP", ErrCodeInvalidParameters,
			fmt.Sprintf("buffer set %dx%d too small for %dx%d reads",
				bufs.Len(), bufs.Size(), cfg.Buffers, cfg.BlockSize))
	}
	if observer == nil {
		observer = NoOpObserver{}
	}

	g := &RingGroup{
		cfg:      cfg,
		rings:    make([]Ring, 0, cfg.Rings),
		bufs:     bufs,
		observer: observer,
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}

	for i := 0; i < cfg.Rings; i++ {
		if err := ctx.Err(); err != nil {
			g.Close()
			return nil, WrapError("SETUP_RING", err)
		}

		rc := RingConfig{
			Index:        i,
			Entries:      cfg.Entries,
			SQPoll:       true,
			SQThreadIdle: cfg.sqThreadIdleMs(),
		}
		if i > 0 {
			rc.Attach = true
			rc.AttachFd = g.rings[0].Fd()
		}

		ring, err := factory(rc)
		if err != nil {
			g.Close()
			return nil, WrapRingError("SETUP_RING", i, err)
		}
		g.rings = append(g.rings, ring)
		g.observer.ObserveRing(true)
		g.logger.RingCreated(i, ring.Fd(), rc.SQPoll, rc.Attach)

		if ring.Features()&uring.FeatSQPollNonfixed == 0 {
			g.Close()
			return nil, NewRingError("SETUP_RING", i, ErrCodeSharingUnsupported,
				"No SQPOLL sharing, skipping")
		}
	}
	return g, nil
}

// Len returns the number of rings in the group
func (g *RingGroup) Len() int {
	return len(g.rings)
}

// Ring returns ring i
func (g *RingGroup) Ring(i int) Ring {
	return g.rings[i]
}

// DoIO runs one pass over rings [start, end): in batches, queue up to
// cfg.Buffers reads per ring (buffer i at offset i*BlockSize, fewer if the
// SQ fills up) and submit them, then reap as many completions per ring as
// were submitted. Every completion must have read exactly BlockSize bytes.
// Batches repeat until cfg.MinIOs reads per ring have been issued.
func (g *RingGroup) DoIO(ctx context.Context, fd int, start, end int) error {
	if start < 0 || end > len(g.rings) || start >= end {
		return NewError("DO_IO", ErrCodeInvalidParameters,
			fmt.Sprintf("ring range [%d, %d) outside group of %d", start, end, len(g.rings)))
	}

	submitted := make([]int, end-start)
	started := make([]time.Time, end-start)
	for ios := 0; ios < g.cfg.MinIOs; ios += g.cfg.Buffers {
		if g.verify {
			g.bufs.Reset()
		}

		for i := start; i < end; i++ {
			queued := g.queue(i, fd)
			started[i-start] = time.Now()
			n, err := g.submit(ctx, i)
			if err != nil {
				return err
			}
			if n != queued {
				g.logger.WithRing(i).Debug("submitted fewer reads than queued", "queued", queued, "submitted", n)
			}
			submitted[i-start] = n
		}

		if err := g.reap(ctx, start, end, submitted, started); err != nil {
			return err
		}
	}

	g.observer.ObservePass()
	return nil
}

// queue prepares up to cfg.Buffers reads on ring i.
func (g *RingGroup) queue(i, fd int) int {
	ring := g.rings[i]
	bs := uint64(g.cfg.BlockSize)
	n := 0
	for ; n < g.cfg.Buffers; n++ {
		buf := g.bufs.Buf(n)[:g.cfg.BlockSize]
		if !ring.PrepareRead(fd, buf, uint64(n)*bs, uint64(n)) {
			break
		}
	}
	return n
}

// submit hands ring i's queued reads to the kernel, retrying transient
// failures.
func (g *RingGroup) submit(ctx context.Context, i int) (int, error) {
	ring := g.rings[i]

	var total, attempts int
	var fatal error
	op := func() error {
		attempts++
		n, err := ring.Submit()
		total += n
		if err == nil {
			return nil
		}
		if isTransient(err) {
			return err
		}
		fatal = err
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(constants.SubmitRetryInterval), uint64(g.cfg.SubmitRetries)),
		ctx)
	err := backoff.Retry(op, policy)
	if fatal != nil {
		err = fatal
	}
	g.observer.ObserveSubmit(total, attempts-1, err == nil)

	if err != nil {
		e := WrapRingError("SUBMIT", i, err)
		if e.Code == ErrCodeIOError {
			e.Code = ErrCodeSubmitFailed
		}
		return total, e
	}
	return total, nil
}

func isTransient(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EBUSY) || errors.Is(err, unix.EINTR)
}

// reap waits for submitted[i-start] completions on every ring of the range.
// With WaitParallelism 1 rings are drained in order.
func (g *RingGroup) reap(ctx context.Context, start, end int, submitted []int, started []time.Time) error {
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.WaitParallelism)
	for i := start; i < end; i++ {
		eg.Go(func() error {
			if err := g.wait(ectx, i, submitted[i-start]); err != nil {
				return err
			}
			latency := time.Since(started[i-start])
			g.observer.ObserveBatch(uint32(submitted[i-start]), uint64(latency.Nanoseconds()))
			g.logger.BatchComplete(i, submitted[i-start], submitted[i-start], latency.Microseconds())
			return nil
		})
	}
	return eg.Wait()
}

// wait consumes n completions from ring i.
func (g *RingGroup) wait(ctx context.Context, i, n int) error {
	ring := g.rings[i]
	timeout := g.cfg.WaitTimeout.Std()
	for n > 0 {
		if err := ctx.Err(); err != nil {
			return WrapRingError("WAIT_CQE", i, err)
		}

		c, err := ring.WaitCompletion(timeout)
		if errors.Is(err, unix.ETIME) {
			continue
		}
		if err != nil {
			return WrapRingError("WAIT_CQE", i, err)
		}

		if int(c.Res) != g.cfg.BlockSize {
			g.observer.ObserveRead(0, false)
			g.requestLogger(i, c.UserData).Warn("unexpected read result", "res", c.Res)
			return NewResultError(i, c.Res, g.cfg.BlockSize)
		}
		g.observer.ObserveRead(uint64(c.Res), true)

		if g.verify {
			idx := int(c.UserData)
			if idx >= g.bufs.Len() || !g.bufs.Verify(idx, g.cfg.BlockSize, g.cfg.Fill) {
				g.observer.ObserveMismatch()
				g.requestLogger(i, c.UserData).Warn("read data does not match pattern", "fill", g.cfg.Fill)
				return NewRingError("WAIT_CQE", i, ErrCodeDataMismatch,
					fmt.Sprintf("buffer %d does not hold pattern 0x%02x", idx, g.cfg.Fill))
			}
		}
		n--
	}
	return nil
}

// requestLogger describes the read queued from buffer idx on ring i.
func (g *RingGroup) requestLogger(i int, idx uint64) *logging.Logger {
	return g.logger.WithRing(i).WithRequest(idx, idx*uint64(g.cfg.BlockSize))
}

// DupAndCloseOrigin duplicates ring 0's descriptor, closes the original and
// makes ring 0 use the duplicate. The attached rings still reference the
// shared poller through their own setup.
func (g *RingGroup) DupAndCloseOrigin() error {
	if len(g.rings) == 0 {
		return NewError("DUP", ErrCodeInvalidParameters, "empty ring group")
	}
	ring := g.rings[0]
	oldFd := ring.Fd()

	newFd, err := unix.Dup(oldFd)
	if err != nil {
		return WrapRingError("DUP", 0, err)
	}
	if err := unix.Close(oldFd); err != nil {
		unix.Close(newFd)
		return WrapRingError("CLOSE", 0, err)
	}
	ring.SetFd(newFd)

	g.observer.ObserveFdSwap()
	g.logger.FdSwapped(0, oldFd, newFd)
	return nil
}

// Close tears down every ring, last created first so attached rings go
// before the ring they are attached to. It returns the first error.
func (g *RingGroup) Close() error {
	var first error
	for i := len(g.rings) - 1; i >= 0; i-- {
		if err := g.rings[i].Close(); err != nil {
			g.logger.WithRing(i).WithError(err).Warn("ring close failed")
			if first == nil {
				first = WrapRingError("CLOSE_RING", i, err)
			}
		}
		g.observer.ObserveRing(false)
	}
	g.rings = nil
	return first
}
