//go:build linux

package uring

import (
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var opRead = kernelReadOpcode()

type submissionQueue struct {
	head    *uint32
	tail    *uint32
	mask    *uint32
	entries *uint32
	flags   *uint32
	dropped *uint32
	array   unsafe.Pointer
	sqes    unsafe.Pointer

	// sqeHead..sqeTail are entries handed out by GetSQE but not yet
	// published to the kernel.
	sqeHead uint32
	sqeTail uint32
}

type completionQueue struct {
	head     *uint32
	tail     *uint32
	mask     *uint32
	entries  *uint32
	overflow *uint32
	cqes     unsafe.Pointer
}

// Ring is an io_uring instance with its SQ and CQ rings mapped.
//
// A Ring is not safe for concurrent use: one goroutine prepares and submits,
// and the same or one other goroutine reaps completions.
type Ring struct {
	fd       int
	flags    uint32
	features uint32

	sq submissionQueue
	cq completionQueue

	sqRing []byte
	cqRing []byte // nil with FeatSingleMmap
	sqes   []byte

	// Heap-resident so the kernel can read them during io_uring_enter.
	waitTS  unix.Timespec
	waitArg getEventsArg

	// Read buffers stay pinned until every entry handed out by GetSQE has
	// been reaped.
	pinner   runtime.Pinner
	inflight uint32

	submitted atomic.Uint64
	wakeups   atomic.Uint64
	enters    atomic.Uint64
}

// Stats counts the kernel interactions of a ring.
type Stats struct {
	Submitted uint64 // SQEs published
	Wakeups   uint64 // SQPOLL wakeups requested
	Enters    uint64 // io_uring_enter calls
}

// New sets up a ring with the given number of SQ entries. p may be nil;
// when given, the kernel's view of the ring (sizes, features, offsets) is
// written back into it.
func New(entries uint32, p *Params) (*Ring, error) {
	if p == nil {
		p = &Params{}
	}
	fd, err := setup(entries, p)
	if err != nil {
		return nil, errors.Wrapf(err, "io_uring_setup(entries=%d, flags=0x%x)", entries, p.Flags)
	}

	r := &Ring{
		fd:       fd,
		flags:    p.Flags,
		features: p.Features,
	}
	if err := r.mapRings(p); err != nil {
		unix.Close(fd)
		return nil, err
	}

	// The SQ index array is an identity map: slot i always names SQE i.
	for i := uint32(0); i < *r.sq.entries; i++ {
		*(*uint32)(unsafe.Add(r.sq.array, uintptr(i)*4)) = i
	}
	return r, nil
}

func (r *Ring) mapRings(p *Params) error {
	sqSize := int(p.SQOff.Array) + int(p.SQEntries)*4
	cqSize := int(p.CQOff.CQEs) + int(p.CQEntries)*int(cqeSize)
	single := p.Features&FeatSingleMmap != 0
	if single {
		if cqSize > sqSize {
			sqSize = cqSize
		}
		cqSize = sqSize
	}

	prot := unix.PROT_READ | unix.PROT_WRITE
	flags := unix.MAP_SHARED | unix.MAP_POPULATE

	sqRing, err := unix.Mmap(r.fd, offSQRing, sqSize, prot, flags)
	if err != nil {
		return errors.Wrap(err, "failed to mmap sq ring")
	}
	r.sqRing = sqRing

	cqRing := sqRing
	if !single {
		cqRing, err = unix.Mmap(r.fd, offCQRing, cqSize, prot, flags)
		if err != nil {
			r.unmap()
			return errors.Wrap(err, "failed to mmap cq ring")
		}
		r.cqRing = cqRing
	}

	sqes, err := unix.Mmap(r.fd, offSQEs, int(p.SQEntries)*int(sqeSize), prot, flags)
	if err != nil {
		r.unmap()
		return errors.Wrap(err, "failed to mmap sqes")
	}
	r.sqes = sqes

	sqBase := unsafe.Pointer(&sqRing[0])
	r.sq.head = (*uint32)(unsafe.Add(sqBase, p.SQOff.Head))
	r.sq.tail = (*uint32)(unsafe.Add(sqBase, p.SQOff.Tail))
	r.sq.mask = (*uint32)(unsafe.Add(sqBase, p.SQOff.RingMask))
	r.sq.entries = (*uint32)(unsafe.Add(sqBase, p.SQOff.RingEntries))
	r.sq.flags = (*uint32)(unsafe.Add(sqBase, p.SQOff.Flags))
	r.sq.dropped = (*uint32)(unsafe.Add(sqBase, p.SQOff.Dropped))
	r.sq.array = unsafe.Add(sqBase, p.SQOff.Array)
	r.sq.sqes = unsafe.Pointer(&sqes[0])

	cqBase := unsafe.Pointer(&cqRing[0])
	r.cq.head = (*uint32)(unsafe.Add(cqBase, p.CQOff.Head))
	r.cq.tail = (*uint32)(unsafe.Add(cqBase, p.CQOff.Tail))
	r.cq.mask = (*uint32)(unsafe.Add(cqBase, p.CQOff.RingMask))
	r.cq.entries = (*uint32)(unsafe.Add(cqBase, p.CQOff.RingEntries))
	r.cq.overflow = (*uint32)(unsafe.Add(cqBase, p.CQOff.Overflow))
	r.cq.cqes = unsafe.Add(cqBase, p.CQOff.CQEs)
	return nil
}

func (r *Ring) unmap() {
	if r.sqes != nil {
		unix.Munmap(r.sqes)
		r.sqes = nil
	}
	if r.cqRing != nil {
		unix.Munmap(r.cqRing)
		r.cqRing = nil
	}
	if r.sqRing != nil {
		unix.Munmap(r.sqRing)
		r.sqRing = nil
	}
}

// Close unmaps the rings and closes the ring descriptor. The mappings hold
// their own reference on the ring, so the order does not matter to the kernel.
func (r *Ring) Close() error {
	r.unmap()
	if r.fd < 0 {
		return nil
	}
	fd := r.fd
	r.fd = -1
	err := unix.Close(fd)
	r.pinner.Unpin()
	r.inflight = 0
	if err != nil {
		return errors.Wrapf(err, "close ring fd %d", fd)
	}
	return nil
}

// Fd returns the descriptor used for io_uring_enter.
func (r *Ring) Fd() int {
	return r.fd
}

// SetFd switches the ring to another descriptor referring to the same
// io_uring instance, typically one obtained with dup(2).
func (r *Ring) SetFd(fd int) {
	r.fd = fd
}

// Flags returns the setup flags the ring was created with.
func (r *Ring) Flags() uint32 {
	return r.flags
}

// Features returns the IORING_FEAT_* bits reported by the kernel.
func (r *Ring) Features() uint32 {
	return r.features
}

// SQEntries returns the submission queue size.
func (r *Ring) SQEntries() uint32 {
	return *r.sq.entries
}

// CQEntries returns the completion queue size.
func (r *Ring) CQEntries() uint32 {
	return *r.cq.entries
}

// Dropped returns the number of SQEs the kernel rejected as invalid.
func (r *Ring) Dropped() uint32 {
	return atomic.LoadUint32(r.sq.dropped)
}

// Overflow returns the number of completions lost to a full CQ.
func (r *Ring) Overflow() uint32 {
	return atomic.LoadUint32(r.cq.overflow)
}

// Stats returns a snapshot of the ring's counters.
func (r *Ring) Stats() Stats {
	return Stats{
		Submitted: r.submitted.Load(),
		Wakeups:   r.wakeups.Load(),
		Enters:    r.enters.Load(),
	}
}

func (r *Ring) enter(toSubmit, minComplete, flags uint32, arg unsafe.Pointer, argSz uintptr) (int, error) {
	r.enters.Add(1)
	return enter(r.fd, toSubmit, minComplete, flags, arg, argSz)
}
