//go:build linux

package uring

import (
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-sqpoll/internal/interfaces"
)

// PeekCQE returns the next completion without consuming it, or nil when the
// completion queue is empty.
func (r *Ring) PeekCQE() *CompletionQueueEvent {
	cq := &r.cq
	head := atomic.LoadUint32(cq.head)
	tail := atomic.LoadUint32(cq.tail)
	if head == tail {
		return nil
	}
	return (*CompletionQueueEvent)(unsafe.Add(cq.cqes, uintptr(head&*cq.mask)*cqeSize))
}

// CQReady returns the number of completions waiting to be consumed.
func (r *Ring) CQReady() uint32 {
	return atomic.LoadUint32(r.cq.tail) - atomic.LoadUint32(r.cq.head)
}

// CQESeen marks the completion returned by PeekCQE or WaitCQE as consumed.
func (r *Ring) CQESeen() {
	atomic.AddUint32(r.cq.head, 1)
	if r.inflight > 0 {
		r.inflight--
		if r.inflight == 0 {
			r.pinner.Unpin()
		}
	}
}

// WaitCQE blocks until a completion is available and returns it without
// consuming it. A positive timeout bounds the wait when the kernel supports
// extended enter arguments; on expiry the error is unix.ETIME.
func (r *Ring) WaitCQE(timeout time.Duration) (*CompletionQueueEvent, error) {
	for {
		if cqe := r.PeekCQE(); cqe != nil {
			return cqe, nil
		}

		var err error
		if timeout > 0 && r.features&FeatExtArg != 0 {
			r.waitTS = unix.NsecToTimespec(timeout.Nanoseconds())
			r.waitArg = getEventsArg{
				sigmaskSz: sigsetSize,
				ts:        uint64(uintptr(unsafe.Pointer(&r.waitTS))),
			}
			_, err = r.enter(0, 1, EnterGetEvents|EnterExtArg,
				unsafe.Pointer(&r.waitArg), unsafe.Sizeof(r.waitArg))
			if err == unix.ETIME {
				if cqe := r.PeekCQE(); cqe != nil {
					return cqe, nil
				}
				return nil, unix.ETIME
			}
		} else {
			_, err = r.enter(0, 1, EnterGetEvents, nil, sigsetSize)
		}

		switch err {
		case nil, unix.EINTR:
		default:
			return nil, err
		}
	}
}

// WaitCompletion waits for one completion, consumes it and returns a copy.
func (r *Ring) WaitCompletion(timeout time.Duration) (interfaces.Completion, error) {
	cqe, err := r.WaitCQE(timeout)
	if err != nil {
		return interfaces.Completion{}, err
	}
	c := interfaces.Completion{
		UserData: cqe.UserData,
		Res:      cqe.Res,
		Flags:    cqe.Flags,
	}
	r.CQESeen()
	return c, nil
}
