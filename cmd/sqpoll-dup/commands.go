package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	sqpoll "github.com/ehrlich-b/go-sqpoll"
	"github.com/ehrlich-b/go-sqpoll/backend"
	"github.com/ehrlich-b/go-sqpoll/internal/logging"
	"github.com/ehrlich-b/go-sqpoll/internal/uring"
)

// loadConfig returns the file configuration, or the defaults without one.
func loadConfig() (sqpoll.Config, error) {
	if *configPath == "" {
		return sqpoll.DefaultConfig(), nil
	}
	return sqpoll.LoadConfig(*configPath)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type runCmd struct {
	rings  int
	size   string
	dir    string
	direct bool
}

func (*runCmd) Name() string { return "run" }
func (*runCmd) Synopsis() string { return "run both dup/close variants" }
func (*runCmd) Usage() string {
	return `run [flags] [file]:
  Create rings sharing one SQPOLL thread, read through them, duplicate and
  close ring 0's descriptor, and read again. Without file a temporary file
  is created and removed afterwards.
`
}

func (c *runCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.rings, "rings", 0, "Number of rings (default from config)")
	f.StringVar(&c.size, "size", "", "Size of the created file (e.g., 1M, 128M)")
	f.StringVar(&c.dir, "dir", "", "Directory for the created file")
	f.BoolVar(&c.direct, "require-direct", false, "Fail instead of falling back to buffered reads")
}

func (c *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	logger := logging.Default()
	if f.NArg() > 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	cfg, err := loadConfig()
	if err != nil {
		logger.WithError(err).Error("failed to load config")
		return subcommands.ExitFailure
	}
	if f.NArg() == 1 {
		cfg.File = f.Arg(0)
	}
	if c.rings > 0 {
		cfg.Rings = c.rings
	}
	if c.size != "" {
		size, err := sqpoll.ParseSize(c.size)
		if err != nil {
			logger.WithError(err).Error("invalid size", "size", c.size)
			return subcommands.ExitUsageError
		}
		cfg.FileSize = sqpoll.Size(size)
	}
	if c.dir != "" {
		cfg.Dir = c.dir
	}
	if c.direct {
		cfg.RequireDirect = true
	}

	scenario, err := sqpoll.NewScenario(cfg, sqpoll.WithLogger(logger))
	if err != nil {
		logger.WithError(err).Error("invalid configuration")
		return subcommands.ExitFailure
	}

	logger.Info("running scenario",
		"rings", cfg.Rings,
		"buffers", cfg.Buffers,
		"block_size", cfg.BlockSize,
		"file_size", sqpoll.FormatSize(int64(cfg.FileSize)))

	report, runErr := scenario.Run(ctx)
	if *jsonOut {
		if err := printJSON(report); err != nil {
			logger.WithError(err).Error("failed to write report")
		}
	} else {
		printReport(report)
	}

	if runErr != nil {
		logger.WithError(runErr).Error("scenario failed")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func printReport(r *sqpoll.Report) {
	if r.Skipped {
		fmt.Printf("Skipped: %s\n", r.Reason)
		return
	}
	mode := "buffered"
	if r.Direct {
		mode = "O_DIRECT"
	}
	fmt.Printf("File: %s (%s)\n", r.File, mode)
	if r.Preflight != nil {
		fmt.Printf("Preflight: res=%d latency=%dus\n", r.Preflight.Res, r.Preflight.LatencyNs/1000)
	}
	for _, v := range r.Variants {
		if v.Skipped {
			fmt.Println("No SQPOLL sharing, skipping")
			continue
		}
		fmt.Printf("%-14s passes=%d reads=%d bytes=%s time=%s\n",
			v.Name, v.Passes, v.Reads, sqpoll.FormatSize(int64(v.Bytes)), v.Duration)
	}
	m := r.Metrics
	fmt.Printf("Batches: %d  p50=%dus p99=%dus  submit retries=%d\n",
		m.Batches, m.LatencyP50Ns/1000, m.LatencyP99Ns/1000, m.SubmitRetries)
}

type mkfileCmd struct {
	size string
	fill uint
}

func (*mkfileCmd) Name() string { return "mkfile" }
func (*mkfileCmd) Synopsis() string { return "create a pattern-filled file to run against" }
func (*mkfileCmd) Usage() string {
	return `mkfile [flags] <path>:
  Create a file filled with one byte value. The file is kept.
`
}

func (c *mkfileCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.size, "size", "128M", "File size (e.g., 1M, 128M)")
	f.UintVar(&c.fill, "fill", sqpoll.DefaultFill, "Fill byte")
}

func (c *mkfileCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	logger := logging.Default()
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	size, err := sqpoll.ParseSize(c.size)
	if err != nil || c.fill > 0xff {
		logger.Error("invalid arguments", "size", c.size, "fill", c.fill, "error", err)
		return subcommands.ExitUsageError
	}

	file, err := backend.Create(f.Arg(0), size, byte(c.fill))
	if err != nil {
		logger.WithError(err).Error("failed to create file", "path", f.Arg(0))
		return subcommands.ExitFailure
	}
	fmt.Printf("Created %s (%s, fill 0x%02x)\n", file.Path(), sqpoll.FormatSize(file.Size()), file.Fill())
	return subcommands.ExitSuccess
}

type featuresCmd struct{}

func (*featuresCmd) Name() string { return "features" }
func (*featuresCmd) Synopsis() string { return "report the kernel's io_uring features" }
func (*featuresCmd) Usage() string { return "features:\n  Probe io_uring and print its feature bits.\n" }
func (*featuresCmd) SetFlags(*flag.FlagSet) {}

func (*featuresCmd) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	feat, err := uring.Probe()
	if err != nil {
		logging.Default().WithError(err).Error("io_uring unavailable")
		return subcommands.ExitFailure
	}
	if *jsonOut {
		if err := printJSON(feat); err != nil {
			return subcommands.ExitFailure
		}
		return subcommands.ExitSuccess
	}
	fmt.Printf("Features:        0x%08x\n", feat.Raw)
	fmt.Printf("SQPOLL:          %v\n", feat.SQPoll)
	fmt.Printf("SQPOLL sharing:  %v\n", feat.SQPollNonfixed)
	fmt.Printf("Single mmap:     %v\n", feat.SingleMmap)
	fmt.Printf("Timed waits:     %v\n", feat.ExtArg)
	fmt.Printf("Native workers:  %v\n", feat.NativeWorkers)
	return subcommands.ExitSuccess
}
