package constants

import "time"

// Scenario shape
const (
	// DefaultRings is the number of rings sharing one SQPOLL thread
	DefaultRings = 4

	// DefaultBuffers is the number of read buffers, and the reads queued
	// per ring per batch
	DefaultBuffers = 64

	// DefaultEntries is the SQ size requested for every ring
	DefaultEntries = DefaultBuffers

	// DefaultBlockSize is the size of every read in bytes
	DefaultBlockSize = 4096

	// DefaultMinIOs is the per-pass I/O floor; batches are issued until
	// at least this many reads went through each ring
	DefaultMinIOs = 32

	// DefaultFileSize is the size of the generated backing file (128MB)
	DefaultFileSize = 128 << 20

	// DefaultFileName is created in the working directory when no file is given
	DefaultFileName = ".basic-rw"

	// DefaultFill is the byte pattern written to the generated file
	DefaultFill = 0xaa
)

// Kernel-facing tunables
const (
	// DefaultSQThreadIdle is the SQPOLL idle time before the poller sleeps
	DefaultSQThreadIdle = 1 * time.Second

	// DefaultWaitTimeout bounds a single completion wait so cancellation is noticed
	DefaultWaitTimeout = 100 * time.Millisecond

	// DefaultSubmitRetries is how often a busy submission is retried
	DefaultSubmitRetries = 8

	// SubmitRetryInterval is the pause between submission retries
	SubmitRetryInterval = 1 * time.Millisecond
)

// Memory allocation constants
const (
	// CreateChunkSize is the write size used when generating the backing file
	CreateChunkSize = 1 << 20
)
