package sqpoll

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ehrlich-b/go-sqpoll/internal/constants"
)

// Config describes one scenario run. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	// Rings is the number of rings sharing ring 0's SQPOLL thread.
	Rings int `toml:"rings"`

	// Entries is the SQ size of every ring.
	Entries uint32 `toml:"entries"`

	// Buffers is the number of shared read buffers and the number of reads
	// queued per ring per batch.
	Buffers int `toml:"buffers"`

	// BlockSize is the size of every read.
	BlockSize int `toml:"block_size"`

	// MinIOs is the per-pass floor: batches repeat until at least this many
	// reads have been issued per ring.
	MinIOs int `toml:"min_ios"`

	// File is an existing file to read. When empty a file of FileSize bytes
	// filled with Fill is created in Dir and removed afterwards.
	File     string `toml:"file"`
	Dir      string `toml:"dir"`
	FileSize Size   `toml:"file_size"`
	Fill     uint8  `toml:"fill"`

	// Verify checks the data of every completed read against Fill. Only
	// created files have a known pattern, so it is ignored for File.
	Verify bool `toml:"verify"`

	// RequireDirect fails the run instead of falling back to buffered reads
	// when the filesystem rejects O_DIRECT.
	RequireDirect bool `toml:"require_direct"`

	// SQThreadIdle is how long the poller spins before it sleeps.
	SQThreadIdle Duration `toml:"sq_thread_idle"`

	// WaitTimeout bounds a single completion wait so cancellation is noticed.
	WaitTimeout Duration `toml:"wait_timeout"`

	// WaitParallelism is how many rings are reaped concurrently; 1 reaps
	// them in ring order.
	WaitParallelism int `toml:"wait_parallelism"`

	// SubmitRetries is how often a submit failing with EAGAIN, EBUSY or
	// EINTR is retried.
	SubmitRetries int `toml:"submit_retries"`

	// Preflight reads the first block through a plain ring before the
	// shared-poller variants run.
	Preflight bool `toml:"preflight"`
}

// DefaultConfig returns the configuration of the stock scenario
func DefaultConfig() Config {
	return Config{
		Rings:           constants.DefaultRings,
		Entries:         constants.DefaultEntries,
		Buffers:         constants.DefaultBuffers,
		BlockSize:       constants.DefaultBlockSize,
		MinIOs:          constants.DefaultMinIOs,
		FileSize:        constants.DefaultFileSize,
		Fill:            constants.DefaultFill,
		Verify:          true,
		SQThreadIdle:    Duration(constants.DefaultSQThreadIdle),
		WaitTimeout:     Duration(constants.DefaultWaitTimeout),
		WaitParallelism: 1,
		SubmitRetries:   constants.DefaultSubmitRetries,
		Preflight:       true,
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig. Unknown keys are
// rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, WrapError("LOAD_CONFIG", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return cfg, NewError("LOAD_CONFIG", ErrCodeInvalidParameters,
			fmt.Sprintf("unknown keys in %s: %s", path, strings.Join(keys, ", ")))
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration for values the scenario cannot run with
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return NewError("VALIDATE", ErrCodeInvalidParameters, fmt.Sprintf(format, args...))
	}

	switch {
	case c.Rings < 1:
		return invalid("rings must be at least 1, got %d", c.Rings)
	case c.Entries < 1:
		return invalid("entries must be at least 1, got %d", c.Entries)
	case c.Buffers < 1:
		return invalid("buffers must be at least 1, got %d", c.Buffers)
	case c.BlockSize < 512 || c.BlockSize%512 != 0:
		return invalid("block size must be a positive multiple of 512, got %d", c.BlockSize)
	case c.MinIOs < 1:
		return invalid("min ios must be at least 1, got %d", c.MinIOs)
	case c.WaitParallelism < 1:
		return invalid("wait parallelism must be at least 1, got %d", c.WaitParallelism)
	case c.SubmitRetries < 0:
		return invalid("submit retries must not be negative, got %d", c.SubmitRetries)
	case c.SQThreadIdle < 0 || c.WaitTimeout < 0:
		return invalid("durations must not be negative")
	case c.File == "" && int64(c.FileSize) < int64(c.Buffers)*int64(c.BlockSize):
		return invalid("file size %d is smaller than %d buffers of %d bytes",
			c.FileSize, c.Buffers, c.BlockSize)
	}
	return nil
}

// sqThreadIdleMs converts the poller idle time to the kernel's unit.
func (c Config) sqThreadIdleMs() uint32 {
	return uint32(c.SQThreadIdle.Std() / time.Millisecond)
}

// Size is a byte count that decodes from "128M"-style strings or integers
type Size int64

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Size) UnmarshalText(text []byte) error {
	n, err := ParseSize(string(text))
	if err != nil {
		return err
	}
	*s = Size(n)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (s Size) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(s), 10)), nil
}

// Duration is a time.Duration that decodes from "100ms"-style strings
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ParseSize parses a size string like "64M", "1G", "512K"
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))

	var multiplier int64 = 1
	numStr := s
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if num < 0 {
		return 0, fmt.Errorf("invalid size %q: negative", s)
	}
	return num * multiplier, nil
}

// FormatSize formats a byte count as a human-readable string
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
}
