package uring

import "sync/atomic"

// barrierDummy backs the fence helpers below.
var barrierDummy int64

// Sfence issues a store fence equivalent.
// atomic.AddInt64 compiles to LOCK XADD on x86-64, which orders all prior
// stores before any later memory access.
func Sfence() {
	atomic.AddInt64(&barrierDummy, 0)
}

// Mfence issues a full memory fence equivalent.
// The SQPOLL wakeup check needs it between publishing the SQ tail and
// reading the SQ flags, otherwise a poller going to sleep can be missed.
func Mfence() {
	atomic.AddInt64(&barrierDummy, 0)
}
