//go:build linux

// Package preflight checks that plain io_uring reads of the backing file
// work before any shared-poller ring is set up. A failure here points at
// the environment (no io_uring, unreadable file) rather than at SQPOLL
// sharing.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"
	"unsafe"

	"github.com/pawelgaczynski/giouring"

	"github.com/ehrlich-b/go-sqpoll/internal/buffers"
	"github.com/ehrlich-b/go-sqpoll/internal/logging"
)

// ErrUnavailable is returned when the kernel refuses to create a ring.
var ErrUnavailable = errors.New("io_uring unavailable")

// Options describes the baseline read.
type Options struct {
	BlockSize int
	Fill      byte
	Verify    bool          // check every byte against Fill
	Timeout   time.Duration // per-wait bound, 0 means DefaultWaitTimeout
}

// DefaultWaitTimeout bounds a single completion wait when Options.Timeout is
// unset, so that cancellation of the context is noticed.
const DefaultWaitTimeout = 100 * time.Millisecond

// Result is the outcome of a successful baseline read.
type Result struct {
	Res     int32
	Latency time.Duration
}

// Read reads the first block of fd through a plain, non-SQPOLL ring. Waits
// that time out are retried until ctx is done.
func Read(ctx context.Context, fd int, opts Options) (Result, error) {
	bufs, err := buffers.Alloc(1, opts.BlockSize)
	if err != nil {
		return Result{}, err
	}
	defer bufs.Free()
	buf := bufs.Buf(0)

	ring, err := giouring.CreateRing(4)
	if err != nil {
		if errors.Is(err, syscall.ENOSYS) || errors.Is(err, syscall.EPERM) {
			return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return Result{}, fmt.Errorf("create baseline ring: %w", err)
	}
	defer ring.QueueExit()

	sqe := ring.GetSQE()
	if sqe == nil {
		return Result{}, errors.New("baseline ring has no free SQE")
	}
	sqe.PrepareRead(fd, uintptr(unsafe.Pointer(&buf[0])), uint32(len(buf)), 0)

	start := time.Now()
	if _, err := ring.Submit(); err != nil {
		return Result{}, fmt.Errorf("submit baseline read: %w", err)
	}

	wait := opts.Timeout
	if wait <= 0 {
		wait = DefaultWaitTimeout
	}
	cq := make([]*giouring.CompletionQueueEvent, 1)
	for ring.PeekBatchCQE(cq) == 0 {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("wait baseline read: %w", err)
		}
		ts := syscall.NsecToTimespec(wait.Nanoseconds())
		_, err := ring.WaitCQEs(1, &ts, nil)
		switch {
		case err == nil, errors.Is(err, syscall.ETIME), errors.Is(err, syscall.EINTR):
		default:
			return Result{}, fmt.Errorf("wait baseline read: %w", err)
		}
	}
	res := cq[0].Res
	ring.CQAdvance(1)
	latency := time.Since(start)

	if res < 0 {
		return Result{Res: res}, fmt.Errorf("baseline read: %w", syscall.Errno(-res))
	}
	if int(res) != opts.BlockSize {
		return Result{Res: res}, fmt.Errorf("baseline read returned %d, want %d", res, opts.BlockSize)
	}
	if opts.Verify && !bufs.Verify(0, int(res), opts.Fill) {
		return Result{Res: res}, fmt.Errorf("baseline read: data does not match pattern 0x%02x", opts.Fill)
	}

	logging.Default().Debug("baseline read ok", "res", res, "latency", latency)
	return Result{Res: res, Latency: latency}, nil
}
