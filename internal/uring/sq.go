//go:build linux

package uring

import (
	"sync/atomic"
	"unsafe"
)

// GetSQE returns the next free submission entry, zeroed, or nil when the
// submission queue is full. The entry is not visible to the kernel until
// Submit.
func (r *Ring) GetSQE() *SubmissionQueueEntry {
	sq := &r.sq
	head := atomic.LoadUint32(sq.head)
	next := sq.sqeTail + 1
	if next-head > *sq.entries {
		return nil
	}
	sqe := (*SubmissionQueueEntry)(unsafe.Add(sq.sqes, uintptr(sq.sqeTail&*sq.mask)*sqeSize))
	*sqe = SubmissionQueueEntry{}
	sq.sqeTail = next
	r.inflight++
	return sqe
}

// PrepareRead queues a read of len(buf) bytes from fd at offset. It returns
// false when the submission queue is full.
//
// The kernel fills buf after PrepareRead returns. A Go-allocated buf is
// pinned until all entries handed out so far have been reaped; buffers from
// a mapping such as buffers.Set need no pinning and are preferred.
func (r *Ring) PrepareRead(fd int, buf []byte, offset uint64, userData uint64) bool {
	sqe := r.GetSQE()
	if sqe == nil {
		return false
	}
	if len(buf) > 0 {
		r.pinner.Pin(&buf[0])
	}
	sqe.OpCode = opRead
	sqe.Fd = int32(fd)
	sqe.Off = offset
	if len(buf) > 0 {
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
	}
	sqe.Len = uint32(len(buf))
	sqe.UserData = userData
	return true
}

// flushSQ publishes the prepared entries by advancing the kernel tail. It
// returns the number of entries made visible by this call and the number the
// kernel has not consumed yet.
func (r *Ring) flushSQ() (published, pending uint32) {
	sq := &r.sq
	published = sq.sqeTail - sq.sqeHead
	if published > 0 {
		sq.sqeHead = sq.sqeTail
		// Entry contents must be visible before the new tail.
		Sfence()
		atomic.StoreUint32(sq.tail, sq.sqeTail)
	}
	pending = sq.sqeTail - atomic.LoadUint32(sq.head)
	return published, pending
}

// SQReady returns the number of published entries the kernel has not
// consumed yet.
func (r *Ring) SQReady() uint32 {
	return atomic.LoadUint32(r.sq.tail) - atomic.LoadUint32(r.sq.head)
}

// NeedsWakeup reports whether an SQPOLL poller has gone idle.
func (r *Ring) NeedsWakeup() bool {
	return atomic.LoadUint32(r.sq.flags)&SQNeedWakeup != 0
}

// Submit hands the prepared entries to the kernel.
//
// Without SQPOLL this calls io_uring_enter and returns the number of entries
// the kernel consumed. With SQPOLL the poller consumes the ring on its own;
// Submit only wakes it when it has gone idle and returns the number of
// entries published by this call. The count is valid even when err is set.
func (r *Ring) Submit() (int, error) {
	published, pending := r.flushSQ()
	r.submitted.Add(uint64(published))

	if r.flags&SetupSQPoll != 0 {
		// The tail store must be ordered before the flags load, or a poller
		// going to sleep right now is missed.
		Mfence()
		if r.NeedsWakeup() {
			r.wakeups.Add(1)
			if _, err := r.enter(pending, 0, EnterSQWakeup, nil, 0); err != nil {
				return int(published), err
			}
		}
		return int(published), nil
	}

	if pending == 0 {
		return 0, nil
	}
	return r.enter(pending, 0, 0, nil, 0)
}
