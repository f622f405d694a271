package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hashmap-kz/xstore/config"
	"github.com/hashmap-kz/xstore/pkg/boot"
	"github.com/hashmap-kz/xstore/pkg/loggr"
	"github.com/hashmap-kz/xstore/pkg/storage"
)

type rootOpts struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOpts{}
	root := &cobra.Command{
		Use:           "xstore",
		Short:         "Store and purge path-addressed blobs on local, SFTP, S3, GCS, Azure or Google Drive storage",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a JSON or YAML config file (default: local storage under ./media)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Overrides LOG_LEVEL: trace, debug, info, warn, error")

	root.AddCommand(
		newPutCmd(opts),
		newGetCmd(opts),
		newDeletePrefixCmd(opts),
	)
	return root
}

// openBackend loads the config, installs the logger and builds the selected backend.
// The returned func releases the backend connection.
func openBackend(ctx context.Context, cmd *cobra.Command, opts *rootOpts) (storage.Backend, func(), error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		cfg, err = config.Load(opts.configPath)
		if err != nil {
			return nil, nil, err
		}
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	level, err := loggr.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(loggr.NewHandler(cmd.ErrOrStderr(), "xstore", level))
	slog.SetDefault(logger)

	backend, err := boot.DecideBackend(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if c, ok := backend.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logger.Warn("close backend", slog.Any("err", err))
			}
		}
	}
	return backend, release, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "xstore:", err)
		stop()
		os.Exit(1)
	}
}
