//go:build linux

// Package uring implements the io_uring rings used by the shared-poller
// scenario: setup with SQPOLL and ATTACH_WQ, reads, submission with the
// SQPOLL wakeup protocol, and completion waits.
package uring

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-sqpoll/internal/interfaces"
	"github.com/ehrlich-b/go-sqpoll/internal/logging"
)

// NewRing creates a ring from config
func NewRing(config Config) (*Ring, error) {
	logger := logging.Default()
	logger.Debug("creating io_uring",
		"entries", config.Entries,
		"sqpoll", config.SQPoll,
		"attach", config.Attach,
		"wq_fd", config.AttachFd)

	p := config.params()
	ring, err := New(config.Entries, p)
	if err != nil {
		logger.Error("failed to create io_uring", "error", err)
		return nil, err
	}

	logger.Debug("created io_uring",
		"fd", ring.Fd(),
		"sq_entries", p.SQEntries,
		"cq_entries", p.CQEntries,
		"features", p.Features)
	return ring, nil
}

// Factory builds kernel rings for a ring group.
func Factory(cfg interfaces.RingConfig) (interfaces.Ring, error) {
	ring, err := NewRing(Config{
		Entries:      cfg.Entries,
		SQPoll:       cfg.SQPoll,
		Attach:       cfg.Attach,
		AttachFd:     cfg.AttachFd,
		SQThreadIdle: cfg.SQThreadIdle,
	})
	if err != nil {
		return nil, err
	}
	return ring, nil
}

// Probe reports the kernel's io_uring features. It first tries a throwaway
// SQPOLL ring; kernels that refuse SQPOLL to unprivileged users (EPERM) are
// probed with a plain ring instead.
func Probe() (Features, error) {
	ring, err := New(2, &Params{Flags: SetupSQPoll})
	sqpoll := err == nil
	if errors.Is(err, unix.EPERM) {
		ring, err = New(2, nil)
	}
	if err != nil {
		return Features{}, errors.Wrap(err, "probe io_uring")
	}
	defer ring.Close()

	f := FeaturesFrom(ring.Features())
	f.SQPoll = sqpoll
	return f, nil
}
