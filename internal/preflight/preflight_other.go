//go:build !linux

package preflight

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the kernel refuses to create a ring.
var ErrUnavailable = errors.New("io_uring unavailable")

// Options describes the baseline read.
type Options struct {
	BlockSize int
	Fill      byte
	Verify    bool
	Timeout   time.Duration
}

// DefaultWaitTimeout bounds a single completion wait when Options.Timeout is
// unset.
const DefaultWaitTimeout = 100 * time.Millisecond

// Result is the outcome of a successful baseline read.
type Result struct {
	Res     int32
	Latency time.Duration
}

// Read always reports io_uring as unavailable.
func Read(ctx context.Context, fd int, opts Options) (Result, error) {
	return Result{}, ErrUnavailable
}
