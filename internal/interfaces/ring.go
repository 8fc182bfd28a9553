package interfaces

import "time"

// Ring is the part of an io_uring instance the shared-poller scenario drives.
// The kernel-backed implementation lives in internal/uring; tests use an
// in-process mock.
type Ring interface {
	// Fd returns the descriptor currently used to talk to the ring.
	Fd() int

	// SetFd makes the ring use fd from now on. The caller owns closing the
	// previous descriptor.
	SetFd(fd int)

	// Features returns the IORING_FEAT_* bits the kernel reported at setup.
	Features() uint32

	// PrepareRead queues a read of len(buf) bytes at offset. It returns
	// false when the submission queue is full.
	//
	// buf must stay valid until the matching completion has been reaped.
	PrepareRead(fd int, buf []byte, offset uint64, userData uint64) bool

	// Submit hands every prepared entry to the kernel and returns how many
	// entries were submitted.
	Submit() (int, error)

	// WaitCompletion blocks until one completion is available, consumes it
	// and returns it. A positive timeout bounds the wait; on expiry the
	// error satisfies errors.Is(err, unix.ETIME).
	WaitCompletion(timeout time.Duration) (Completion, error)

	// Close tears the ring down and closes its descriptor.
	Close() error
}

// Completion is a consumed completion queue entry.
type Completion struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

// RingConfig describes one ring of a shared-poller group.
type RingConfig struct {
	// Index is the ring's position in the group.
	Index int

	// Entries is the submission queue size.
	Entries uint32

	// SQPoll requests a kernel submission polling thread.
	SQPoll bool

	// Attach shares the work queue (and poller) of the ring at AttachFd.
	Attach   bool
	AttachFd int

	// SQThreadIdle is the poller idle time in milliseconds (0 = kernel default).
	SQThreadIdle uint32
}

// RingFactory creates rings for a group.
type RingFactory func(cfg RingConfig) (Ring, error)
