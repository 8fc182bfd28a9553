//go:build linux

package uring

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func setup(entries uint32, p *Params) (int, error) {
	fd, _, errno := unix.Syscall(
		unix.SYS_IO_URING_SETUP,
		uintptr(entries),
		uintptr(unsafe.Pointer(p)),
		0,
	)
	if errno != 0 {
		return -1, errno
	}
	return int(fd), nil
}

func enter(fd int, toSubmit, minComplete, flags uint32, arg unsafe.Pointer, argSz uintptr) (int, error) {
	n, _, errno := unix.Syscall6(
		unix.SYS_IO_URING_ENTER,
		uintptr(fd),
		uintptr(toSubmit),
		uintptr(minComplete),
		uintptr(flags),
		uintptr(arg),
		argSz,
	)
	if errno != 0 {
		return 0, errno
	}
	return int(n), nil
}
