package sqpoll

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/ehrlich-b/go-sqpoll/backend"
	"github.com/ehrlich-b/go-sqpoll/internal/buffers"
	"github.com/ehrlich-b/go-sqpoll/internal/constants"
	"github.com/ehrlich-b/go-sqpoll/internal/logging"
	"github.com/ehrlich-b/go-sqpoll/internal/preflight"
	"github.com/ehrlich-b/go-sqpoll/internal/uring"
)

// Variant names
const (
	VariantKeepOpen    = "keep-open"
	VariantDupAndClose = "dup-and-close"
)

// Report is the outcome of a scenario run
type Report struct {
	File    string `json:"file"`
	Created bool   `json:"created"`
	Direct  bool   `json:"direct"`

	// Skipped is set when io_uring itself is unavailable.
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`

	Preflight *PreflightResult `json:"preflight,omitempty"`
	Variants  []VariantResult  `json:"variants"`
	Metrics   MetricsSnapshot  `json:"metrics"`
	Duration  time.Duration    `json:"duration_ns"`
}

// PreflightResult is the baseline read done before the variants
type PreflightResult struct {
	Res       int32 `json:"res"`
	LatencyNs int64 `json:"latency_ns"`
}

// VariantResult is the outcome of one ring-group lifecycle
type VariantResult struct {
	Name        string        `json:"name"`
	DupAndClose bool          `json:"dup_and_close"`
	Skipped     bool          `json:"skipped"`
	Reason      string        `json:"reason,omitempty"`
	Passes      int           `json:"passes"`
	Reads       uint64        `json:"reads"`
	Bytes       uint64        `json:"bytes"`
	Duration    time.Duration `json:"duration_ns"`
}

// AllSkipped reports whether nothing was exercised
func (r *Report) AllSkipped() bool {
	if r.Skipped {
		return true
	}
	for _, v := range r.Variants {
		if !v.Skipped {
			return false
		}
	}
	return len(r.Variants) > 0
}

// Scenario runs the shared-poller descriptor test: both variants against one
// backing file.
type Scenario struct {
	cfg       Config
	factory   RingFactory
	metrics   *Metrics
	observer  Observer
	extra     []Observer
	logger    *logging.Logger
	preflight func(ctx context.Context, fd int, opts preflight.Options) (preflight.Result, error)
}

// Option configures a Scenario
type Option func(*Scenario)

// WithRingFactory replaces the kernel ring factory, typically with a
// MockRingFactory.
func WithRingFactory(f RingFactory) Option {
	return func(s *Scenario) { s.factory = f }
}

// WithMetrics records into m instead of a private Metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Scenario) { s.metrics = m }
}

// WithObserver adds an observer that sees every event next to the
// scenario's metrics.
func WithObserver(o Observer) Option {
	return func(s *Scenario) { s.extra = append(s.extra, o) }
}

// WithLogger sets the scenario logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scenario) { s.logger = l }
}

// WithPreflight replaces the baseline read.
func WithPreflight(fn func(ctx context.Context, fd int, opts preflight.Options) (preflight.Result, error)) Option {
	return func(s *Scenario) { s.preflight = fn }
}

// NewScenario validates cfg and builds a scenario
func NewScenario(cfg Config, opts ...Option) (*Scenario, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scenario{
		cfg:       cfg,
		factory:   uring.Factory,
		logger:    logging.Default(),
		preflight: preflight.Read,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	s.observer = NewMetricsObserver(s.metrics)
	if len(s.extra) > 0 {
		s.observer = append(MultiObserver{s.observer}, s.extra...)
	}
	return s, nil
}

// Metrics returns the scenario's metrics
func (s *Scenario) Metrics() *Metrics {
	return s.metrics
}

// Run prepares the buffers and the backing file, then runs the keep-open
// variant followed by the dup-and-close variant. A created file is removed
// whatever the outcome. The report is returned even on failure.
func (s *Scenario) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{}
	defer func() {
		s.metrics.Stop()
		report.Metrics = s.metrics.Snapshot()
		report.Duration = time.Since(start)
	}()

	bufs, err := buffers.Alloc(s.cfg.Buffers, s.cfg.BlockSize)
	if err != nil {
		return report, WrapError("ALLOC_BUFFERS", err)
	}
	defer bufs.Free()

	file, err := s.openFile()
	if err != nil {
		return report, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			s.logger.WithError(err).Warn("failed to clean up backing file", "path", file.Path())
		}
	}()
	report.File = file.Path()
	report.Created = file.Created()
	report.Direct = file.Direct()

	verify := s.cfg.Verify && file.Created()

	if s.cfg.Preflight {
		res, err := s.preflight(ctx, file.Fd(), preflight.Options{
			BlockSize: s.cfg.BlockSize,
			Fill:      s.cfg.Fill,
			Verify:    verify,
			Timeout:   s.cfg.WaitTimeout.Std(),
		})
		if errors.Is(err, preflight.ErrUnavailable) {
			s.logger.WithError(err).Info("io_uring not available, skipping")
			report.Skipped = true
			report.Reason = err.Error()
			return report, nil
		}
		if err != nil {
			return report, WrapError("PREFLIGHT", err)
		}
		report.Preflight = &PreflightResult{Res: res.Res, LatencyNs: res.Latency.Nanoseconds()}
	}

	for _, dupAndClose := range []bool{false, true} {
		vr, err := s.runVariant(ctx, file.Fd(), bufs, verify, dupAndClose)
		report.Variants = append(report.Variants, vr)
		if err != nil {
			s.logger.WithVariant(vr.Name).WithError(err).Error("variant failed")
			return report, err
		}
	}
	return report, nil
}

func (s *Scenario) openFile() (*backend.File, error) {
	var (
		file *backend.File
		err  error
	)
	if s.cfg.File != "" {
		file, err = backend.Existing(s.cfg.File)
	} else {
		path := filepath.Join(s.cfg.Dir, constants.DefaultFileName)
		file, err = backend.Create(path, int64(s.cfg.FileSize), s.cfg.Fill)
	}
	if err != nil {
		return nil, WrapError("CREATE_FILE", err)
	}
	if err := file.OpenDirect(s.cfg.RequireDirect); err != nil {
		file.Close()
		return nil, WrapError("OPEN_FILE", err)
	}
	if need := int64(s.cfg.Buffers) * int64(s.cfg.BlockSize); file.Size() < need {
		s.logger.Warn("file shorter than one batch, reads will come back short",
			"path", file.Path(), "size", file.Size(), "need", need)
	}
	return file, nil
}

// runVariant runs one ring-group lifecycle:
//
//	create rings, pass over all rings, dup+close ring 0's descriptor,
//	then (unless dupAndClose) pass over rings 1..N-1 and over ring 0.
func (s *Scenario) runVariant(ctx context.Context, fd int, bufs *buffers.Set, verify, dupAndClose bool) (vr VariantResult, err error) {
	vr = VariantResult{Name: VariantKeepOpen, DupAndClose: dupAndClose}
	if dupAndClose {
		vr.Name = VariantDupAndClose
	}
	logger := s.logger.WithVariant(vr.Name)

	start := time.Now()
	before := s.metrics.Snapshot()
	defer func() {
		after := s.metrics.Snapshot()
		vr.Reads = after.ReadOps - before.ReadOps
		vr.Bytes = after.ReadBytes - before.ReadBytes
		vr.Passes = int(after.Passes - before.Passes)
		vr.Duration = time.Since(start)
	}()

	group, err := OpenGroup(ctx, s.cfg, s.factory, bufs, s.observer,
		WithVerify(verify), WithGroupLogger(logger))
	if errors.Is(err, ErrSharingUnsupported) {
		logger.Info("No SQPOLL sharing, skipping")
		vr.Skipped = true
		vr.Reason = string(ErrCodeSharingUnsupported)
		return vr, nil
	}
	if err != nil {
		return vr, err
	}

	err = s.exercise(ctx, group, fd, dupAndClose)
	if cerr := group.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		logger.Info("variant passed")
	}
	return vr, err
}

func (s *Scenario) exercise(ctx context.Context, group *RingGroup, fd int, dupAndClose bool) error {
	n := group.Len()
	if err := group.DoIO(ctx, fd, 0, n); err != nil {
		return err
	}
	if err := group.DupAndCloseOrigin(); err != nil {
		return err
	}
	if dupAndClose {
		return nil
	}
	if n > 1 {
		if err := group.DoIO(ctx, fd, 1, n); err != nil {
			return err
		}
	}
	return group.DoIO(ctx, fd, 0, 1)
}
