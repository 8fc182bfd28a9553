// Package backend manages the file the scenario reads from
package backend

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-sqpoll/internal/constants"
	"github.com/ehrlich-b/go-sqpoll/internal/logging"
)

// File is the read target of a scenario. A File produced by Create is
// owned by the scenario and removed by Close; a File produced by Existing
// belongs to the caller and is never removed.
type File struct {
	path    string
	size    int64
	fill    byte
	created bool

	f      *os.File
	direct bool
}

// Create writes a file of size bytes, every byte equal to fill, replacing
// any existing file at path.
func Create(path string, size int64, fill byte) (*File, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid file size %d", size)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	chunk := bytes.Repeat([]byte{fill}, int(min(size, constants.CreateChunkSize)))
	remaining := size
	for remaining > 0 {
		n := min(remaining, int64(len(chunk)))
		if _, err := f.Write(chunk[:n]); err != nil {
			f.Close()
			os.Remove(path)
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
		remaining -= n
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("close %s: %w", path, err)
	}

	logging.Default().Debug("created backing file", "path", path, "size", size, "fill", fill)
	return &File{path: path, size: size, fill: fill, created: true}, nil
}

// Existing wraps a caller-supplied file. Its content is unknown, so fill is
// meaningless for it.
func Existing(path string) (*File, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !st.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	return &File{path: path, size: st.Size()}, nil
}

// OpenDirect opens the file read-only with O_DIRECT. Filesystems without
// direct I/O support (tmpfs) reject it with EINVAL; unless requireDirect is
// set the file is then opened for buffered reads instead.
func (f *File) OpenDirect(requireDirect bool) error {
	if f.f != nil {
		return nil
	}

	fh, err := os.OpenFile(f.path, os.O_RDONLY|unix.O_DIRECT, 0)
	if err == nil {
		f.f = fh
		f.direct = true
		return nil
	}
	if !errors.Is(err, unix.EINVAL) || requireDirect {
		return fmt.Errorf("open %s O_DIRECT: %w", f.path, err)
	}

	logging.Default().Warn("O_DIRECT not supported, using buffered reads", "path", f.path)
	fh, err = os.Open(f.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.path, err)
	}
	f.f = fh
	return nil
}

// Fd returns the open descriptor, or -1 before OpenDirect.
func (f *File) Fd() int {
	if f.f == nil {
		return -1
	}
	return int(f.f.Fd())
}

// Path returns the file's path.
func (f *File) Path() string {
	return f.path
}

// Size returns the file size in bytes.
func (f *File) Size() int64 {
	return f.size
}

// Fill returns the byte pattern of a created file.
func (f *File) Fill() byte {
	return f.fill
}

// Created reports whether the file was created here and will be removed.
func (f *File) Created() bool {
	return f.created
}

// Direct reports whether the open descriptor bypasses the page cache.
func (f *File) Direct() bool {
	return f.direct
}

// Close closes the descriptor and removes the file if it was created.
func (f *File) Close() error {
	var err error
	if f.f != nil {
		err = f.f.Close()
		f.f = nil
	}
	if rerr := f.Remove(); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// Remove unlinks a created file. Supplied files are left alone.
func (f *File) Remove() error {
	if !f.created {
		return nil
	}
	f.created = false
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", f.path, err)
	}
	return nil
}
