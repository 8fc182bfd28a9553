package uring

import "errors"

// ErrNotSupported is returned on platforms without io_uring.
var ErrNotSupported = errors.New("io_uring is not supported on this platform")

// Config contains configuration for creating a ring
type Config struct {
	Entries uint32 // Number of SQ entries
	SQPoll  bool   // Use a kernel submission polling thread

	// Attach shares the work queue and SQPOLL thread of the ring at AttachFd.
	Attach   bool
	AttachFd int

	SQThreadIdle uint32 // Poller idle time in milliseconds (0 = kernel default)
}

// params translates c into setup parameters.
func (c Config) params() *Params {
	p := &Params{SQThreadIdle: c.SQThreadIdle}
	if c.SQPoll {
		p.Flags |= SetupSQPoll
	}
	if c.Attach {
		p.Flags |= SetupAttachWQ
		p.WQFd = uint32(c.AttachFd)
	}
	return p
}

// Features describes what the running kernel's io_uring supports
type Features struct {
	Raw            uint32 // IORING_FEAT_* bits
	SQPoll         bool   // SQPOLL ring setup succeeded for this process
	SQPollNonfixed bool   // SQPOLL works without registered files
	SingleMmap     bool   // SQ and CQ rings share one mapping
	ExtArg         bool   // io_uring_enter accepts a timeout argument
	NativeWorkers  bool   // io-wq workers are native threads of the task
}

// FeaturesFrom decodes raw IORING_FEAT_* bits.
func FeaturesFrom(raw uint32) Features {
	return Features{
		Raw:            raw,
		SQPollNonfixed: raw&FeatSQPollNonfixed != 0,
		SingleMmap:     raw&FeatSingleMmap != 0,
		ExtArg:         raw&FeatExtArg != 0,
		NativeWorkers:  raw&FeatNativeWorkers != 0,
	}
}
