//go:build linux && cgo

package uring

/*
#include <linux/io_uring.h>
static unsigned char get_read_opcode() {
    return (unsigned char)IORING_OP_READ;
}
*/
import "C"

// kernelReadOpcode returns the kernel's IORING_OP_READ opcode value.
func kernelReadOpcode() uint8 {
	return uint8(C.get_read_opcode())
}
