//go:build !cgo || !linux

package uring

// kernelReadOpcode returns IORING_OP_READ as defined since Linux 5.6.
// Build with cgo on the target to read it from the installed kernel headers.
func kernelReadOpcode() uint8 { return 22 }
