package sqpoll

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-sqpoll/internal/uring"
)

// MockRing is an in-process Ring for testing code that drives ring groups.
// Reads complete synchronously on Submit by filling the target buffer with
// the factory's pattern. The ring holds a real descriptor (opened on
// /dev/null) so that dup/close sequences behave as they do for kernel rings,
// and Submit fails with EBADF once that descriptor has been closed.
type MockRing struct {
	mu sync.Mutex

	cfg      RingConfig
	fd       int
	features uint32
	fill     byte

	pending []mockRead
	done    []Completion
	closed  bool

	// ShortReadAfter makes every read after the first ShortReadAfter
	// successful ones complete with half the requested length. Negative
	// disables it.
	ShortReadAfter int

	// SubmitErrs are returned, in order, by the next Submit calls.
	SubmitErrs []error

	// Corrupt writes the wrong pattern into every buffer.
	Corrupt bool

	// Hang keeps completions from being delivered; waits time out.
	Hang bool

	submits   int
	reads     int
	fdHistory []int
}

type mockRead struct {
	buf      []byte
	offset   uint64
	userData uint64
}

func newMockRing(cfg RingConfig, features uint32, fill byte) (*MockRing, error) {
	fd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	return &MockRing{
		cfg:            cfg,
		fd:             fd,
		features:       features,
		fill:           fill,
		ShortReadAfter: -1,
		fdHistory:      []int{fd},
	}, nil
}

// Fd implements Ring
func (m *MockRing) Fd() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fd
}

// SetFd implements Ring
func (m *MockRing) SetFd(fd int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fd = fd
	m.fdHistory = append(m.fdHistory, fd)
}

// Features implements Ring
func (m *MockRing) Features() uint32 {
	return m.features
}

// PrepareRead implements Ring
func (m *MockRing) PrepareRead(fd int, buf []byte, offset uint64, userData uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) >= int(m.cfg.Entries) {
		return false
	}
	m.pending = append(m.pending, mockRead{buf: buf, offset: offset, userData: userData})
	return true
}

// Submit implements Ring
func (m *MockRing) Submit() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.submits++
	if m.closed {
		return 0, unix.EBADF
	}
	if len(m.SubmitErrs) > 0 {
		err := m.SubmitErrs[0]
		m.SubmitErrs = m.SubmitErrs[1:]
		return 0, err
	}
	if _, err := unix.FcntlInt(uintptr(m.fd), unix.F_GETFD, 0); err != nil {
		return 0, err
	}

	n := len(m.pending)
	for _, r := range m.pending {
		res := int32(len(r.buf))
		if m.ShortReadAfter >= 0 && m.reads >= m.ShortReadAfter {
			res /= 2
		}
		fill := m.fill
		if m.Corrupt {
			fill = ^fill
		}
		for i := range r.buf[:res] {
			r.buf[i] = fill
		}
		m.reads++
		m.done = append(m.done, Completion{UserData: r.userData, Res: res})
	}
	m.pending = m.pending[:0]
	return n, nil
}

// WaitCompletion implements Ring
func (m *MockRing) WaitCompletion(timeout time.Duration) (Completion, error) {
	m.mu.Lock()
	if len(m.done) == 0 || m.Hang {
		m.mu.Unlock()
		if timeout > 0 {
			time.Sleep(min(timeout, time.Millisecond))
		}
		return Completion{}, unix.ETIME
	}
	c := m.done[0]
	m.done = m.done[1:]
	m.mu.Unlock()
	return c, nil
}

// Close implements Ring
func (m *MockRing) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return unix.Close(m.fd)
}

// Testing utility methods

// Config returns the configuration the ring was created with
func (m *MockRing) Config() RingConfig {
	return m.cfg
}

// IsClosed returns true if the ring has been closed
func (m *MockRing) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// FdHistory returns every descriptor the ring has used, oldest first
func (m *MockRing) FdHistory() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.fdHistory...)
}

// CallCounts returns the number of Submit calls and completed reads
func (m *MockRing) CallCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]int{
		"submit": m.submits,
		"read":   m.reads,
	}
}

// MockRingFactory creates MockRings and remembers them
type MockRingFactory struct {
	mu    sync.Mutex
	rings []*MockRing

	// Features is reported by every created ring.
	Features uint32

	// Fill is the pattern reads deliver.
	Fill byte

	// FailAt makes creation of the ring with that index fail with FailErr.
	// Negative disables it.
	FailAt  int
	FailErr error

	// Configure is called on every new ring before it is returned.
	Configure func(*MockRing)
}

// NewMockRingFactory returns a factory whose rings support SQPOLL sharing
func NewMockRingFactory() *MockRingFactory {
	return &MockRingFactory{
		Features: uring.FeatSQPollNonfixed | uring.FeatSingleMmap,
		Fill:     DefaultFill,
		FailAt:   -1,
		FailErr:  unix.ENOMEM,
	}
}

// New implements RingFactory
func (f *MockRingFactory) New(cfg RingConfig) (Ring, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cfg.Index == f.FailAt {
		return nil, f.FailErr
	}
	r, err := newMockRing(cfg, f.Features, f.Fill)
	if err != nil {
		return nil, err
	}
	if f.Configure != nil {
		f.Configure(r)
	}
	f.rings = append(f.rings, r)
	return r, nil
}

// Rings returns every ring created so far, in creation order
func (f *MockRingFactory) Rings() []*MockRing {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*MockRing(nil), f.rings...)
}

// Compile-time interface checks
var (
	_ Ring        = (*MockRing)(nil)
	_ RingFactory = (*MockRingFactory)(nil).New
)
