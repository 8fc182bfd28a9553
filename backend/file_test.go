package backend

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate(t *testing.T) {
	tests := []struct {
		name string
		size int64
		fill byte
	}{
		{"smaller than a chunk", 8192, 0xaa},
		{"exact chunk", 1 << 20, 0x55},
		{"chunk plus tail", 1<<20 + 4096, 0xaa},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "data")
			f, err := Create(path, tt.size, tt.fill)
			require.NoError(t, err)

			assert.True(t, f.Created())
			assert.Equal(t, tt.size, f.Size())
			assert.Equal(t, tt.fill, f.Fill())
			assert.Equal(t, -1, f.Fd())

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Len(t, data, int(tt.size))
			assert.True(t, bytes.Equal(bytes.Repeat([]byte{tt.fill}, int(tt.size)), data))
		})
	}
}

func TestCreateInvalidSize(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "data"), 0, 0xaa)
	assert.Error(t, err)
}

func TestCreateBadDir(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "missing", "data"), 4096, 0xaa)
	assert.Error(t, err)
}

func TestCreatedFileRemovedOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	f, err := Create(path, 4096, 0xaa)
	require.NoError(t, err)
	require.NoError(t, f.OpenDirect(false))
	assert.GreaterOrEqual(t, f.Fd(), 0)

	require.NoError(t, f.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, -1, f.Fd())
	assert.NoError(t, f.Close())
}

func TestExistingFileKept(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0o644))

	f, err := Existing(path)
	require.NoError(t, err)
	assert.False(t, f.Created())
	assert.Equal(t, int64(4096), f.Size())

	require.NoError(t, f.OpenDirect(false))
	require.NoError(t, f.Close())
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestExistingRejectsDirectory(t *testing.T) {
	_, err := Existing(t.TempDir())
	assert.Error(t, err)
}

func TestExistingMissing(t *testing.T) {
	_, err := Existing(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestOpenDirectIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	f, err := Create(path, 4096, 0xaa)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.OpenDirect(false))
	fd := f.Fd()
	require.NoError(t, f.OpenDirect(false))
	assert.Equal(t, fd, f.Fd())
}
