// Command spanfs mounts a federation of leaf filesystems at a mountpoint,
// presenting their combined capacity as one flat namespace.
//
// Usage:
//
//	spanfs [options] <mountpoint>
//
//	--fss=/data/a:/data/b     colon-separated leaf roots (repeatable; lists concatenate)
//	--log=/tmp/spanfs.log     record every filesystem call to this file
//	--config=spanfs.yaml      full configuration file (leaf types beyond reflectors)
//	--log-level=INFO          diagnostic verbosity
//
// Exit status is 0 on clean shutdown and EINVAL (22) on argument errors or
// missing leaves.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/marmos91/spanfs/internal/logger"
	"github.com/marmos91/spanfs/pkg/config"
	"github.com/marmos91/spanfs/pkg/server"
)

// exitUsage is the exit code for argument errors, matching EINVAL.
const exitUsage = int(syscall.EINVAL)

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
	usage := func() {
		fmt.Fprintf(os.Stderr, "usage: %s [options] <mountpoint>\n\noptions:\n", os.Args[0])
		flags.PrintDefaults()
	}
	flags.Usage = usage

	fss := flags.StringArray("fss", nil,
		"colon-separated list of absolute leaf root paths (repeatable)")
	callLog := flags.String("log", "",
		"record every filesystem call to this file")
	configPath := flags.String("config", "",
		"configuration file (YAML or TOML)")
	logLevel := flags.String("log-level", "",
		"diagnostic log level: DEBUG, INFO, WARN, ERROR")
	metricsListen := flags.String("metrics", "",
		"expose Prometheus metrics on this address")
	help := flags.BoolP("help", "h", false, "print usage and exit")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return exitUsage
	}
	if *help {
		usage()
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	// CLI flags take precedence over file and environment.
	if flags.NArg() > 0 {
		cfg.Mount.Mountpoint = flags.Arg(0)
	}
	if flags.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "too many positional arguments")
		usage()
		return exitUsage
	}
	for _, list := range *fss {
		for _, root := range strings.Split(list, ":") {
			if root == "" {
				continue
			}
			cfg.Leaves = append(cfg.Leaves, config.Reflectors([]string{root})...)
		}
	}
	if *callLog != "" {
		cfg.Logging.CallLog = *callLog
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *metricsListen != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = *metricsListen
	}

	if err := config.Finalize(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		usage()
		return exitUsage
	}

	logger.SetLevel(cfg.Logging.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	logger.Info("starting %s", srv)
	if err := srv.Serve(ctx); err != nil {
		logger.Error("serve failed: %v", err)
		return 1
	}
	return 0
}
