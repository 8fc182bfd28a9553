// Command sqpoll-dup exercises io_uring rings sharing one SQPOLL thread
// while the descriptor of the ring that owns the thread is duplicated and
// closed.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"

	"github.com/ehrlich-b/go-sqpoll/internal/logging"
)

var (
	configPath = flag.String("config", "", "TOML configuration file")
	verbose    = flag.Bool("v", false, "Verbose output")
	jsonOut    = flag.Bool("json", false, "Print reports as JSON")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&runCmd{}, "")
	subcommands.Register(&mkfileCmd{}, "")
	subcommands.Register(&featuresCmd{}, "")

	subcommands.ImportantFlag("config")
	subcommands.ImportantFlag("v")
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	status := subcommands.Execute(ctx)
	stop()

	logger.Flush()
	os.Exit(int(status))
}
