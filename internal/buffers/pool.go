// Package buffers provides the block-aligned read buffers shared by every
// ring of a group.
package buffers

import (
	"bytes"
	"fmt"

	"golang.org/x/sys/unix"
)

// Set is a fixed number of equally sized buffers carved out of one
// anonymous mapping. Each buffer starts on a page boundary when size is a
// multiple of the page size, which satisfies O_DIRECT alignment.
//
// A Set must outlive every read that targets it: the kernel writes into the
// buffers asynchronously.
type Set struct {
	region []byte
	size   int
	count  int
}

// Alloc maps count buffers of size bytes each.
func Alloc(count, size int) (*Set, error) {
	if count <= 0 || size <= 0 {
		return nil, fmt.Errorf("invalid buffer set %dx%d", count, size)
	}
	region, err := unix.Mmap(-1, 0, count*size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap %d buffers of %d bytes: %w", count, size, err)
	}
	return &Set{region: region, size: size, count: count}, nil
}

// Buf returns buffer i, capped so appends cannot spill into buffer i+1.
func (s *Set) Buf(i int) []byte {
	off := i * s.size
	return s.region[off : off+s.size : off+s.size]
}

// Len returns the number of buffers.
func (s *Set) Len() int {
	return s.count
}

// Size returns the size of one buffer.
func (s *Set) Size() int {
	return s.size
}

// Reset zeroes every buffer so a later Verify cannot pass on stale data.
func (s *Set) Reset() {
	clear(s.region)
}

// Verify reports whether the first n bytes of buffer i all equal fill.
func (s *Set) Verify(i, n int, fill byte) bool {
	if n > s.size {
		return false
	}
	b := s.Buf(i)[:n]
	if n == 0 {
		return true
	}
	return b[0] == fill && bytes.Equal(b[1:], b[:n-1])
}

// Free unmaps the buffers. The Set must not be used afterwards.
func (s *Set) Free() error {
	if s.region == nil {
		return nil
	}
	err := unix.Munmap(s.region)
	s.region = nil
	return err
}
