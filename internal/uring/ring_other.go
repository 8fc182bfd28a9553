//go:build !linux

package uring

import "github.com/ehrlich-b/go-sqpoll/internal/interfaces"

// Ring is unavailable off Linux.
type Ring struct{}

// Close is a no-op.
func (r *Ring) Close() error { return nil }

// New returns ErrNotSupported.
func New(entries uint32, p *Params) (*Ring, error) {
	return nil, ErrNotSupported
}

// NewRing returns ErrNotSupported.
func NewRing(config Config) (*Ring, error) {
	return nil, ErrNotSupported
}

// Factory returns ErrNotSupported.
func Factory(cfg interfaces.RingConfig) (interfaces.Ring, error) {
	return nil, ErrNotSupported
}

// Probe returns ErrNotSupported.
func Probe() (Features, error) {
	return Features{}, ErrNotSupported
}
