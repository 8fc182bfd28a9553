package buffers

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestAlloc(t *testing.T) {
	tests := []struct {
		name  string
		count int
		size  int
	}{
		{"default geometry", 64, 4096},
		{"single buffer", 1, 4096},
		{"large blocks", 4, 64 * 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Alloc(tt.count, tt.size)
			require.NoError(t, err)
			defer s.Free()

			assert.Equal(t, tt.count, s.Len())
			assert.Equal(t, tt.size, s.Size())
			for i := 0; i < s.Len(); i++ {
				b := s.Buf(i)
				assert.Len(t, b, tt.size)
				assert.Equal(t, tt.size, cap(b))
				addr := uintptr(unsafe.Pointer(&b[0]))
				assert.Zero(t, addr%uintptr(unix.Getpagesize()), "buffer %d not page aligned", i)
			}
		})
	}
}

func TestAllocInvalid(t *testing.T) {
	_, err := Alloc(0, 4096)
	assert.Error(t, err)
	_, err = Alloc(4, 0)
	assert.Error(t, err)
}

func TestBuffersDoNotOverlap(t *testing.T) {
	s, err := Alloc(3, 4096)
	require.NoError(t, err)
	defer s.Free()

	b := s.Buf(1)
	for i := range b {
		b[i] = 0xaa
	}
	assert.True(t, s.Verify(1, 4096, 0xaa))
	assert.True(t, s.Verify(0, 4096, 0x00))
	assert.True(t, s.Verify(2, 4096, 0x00))
}

func TestVerify(t *testing.T) {
	s, err := Alloc(1, 4096)
	require.NoError(t, err)
	defer s.Free()

	b := s.Buf(0)
	for i := range b {
		b[i] = 0xaa
	}
	assert.True(t, s.Verify(0, 4096, 0xaa))
	assert.True(t, s.Verify(0, 0, 0xaa))
	assert.False(t, s.Verify(0, 4096, 0xbb))
	assert.False(t, s.Verify(0, 8192, 0xaa))

	b[4095] = 0
	assert.False(t, s.Verify(0, 4096, 0xaa))
	assert.True(t, s.Verify(0, 4095, 0xaa))
}

func TestReset(t *testing.T) {
	s, err := Alloc(2, 4096)
	require.NoError(t, err)
	defer s.Free()

	s.Buf(0)[10] = 1
	s.Buf(1)[4095] = 1
	s.Reset()
	assert.True(t, s.Verify(0, 4096, 0))
	assert.True(t, s.Verify(1, 4096, 0))
}

func TestFreeTwice(t *testing.T) {
	s, err := Alloc(1, 4096)
	require.NoError(t, err)
	require.NoError(t, s.Free())
	assert.NoError(t, s.Free())
}
