// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hrissan/cellhttp"
	"github.com/hrissan/cellhttp/cellstats"
	"github.com/hrissan/cellhttp/celltcp"
	"github.com/hrissan/cellhttp/config"
	"github.com/hrissan/cellhttp/netattach"
	"github.com/hrissan/cellhttp/observability"
)

func main() {
	os.Exit(submain())
}

func submain() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

// app is built once per invocation by the root command
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	metrics   *observability.Metrics
	transport *celltcp.Transport
	session   *cellhttp.Session
}

func humanizeBytes(n int64) string {
	return strings.ReplaceAll(humanize.Bytes(uint64(n)), " ", "")
}

func newRootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "cellhttp",
		Short:         "Blocking protocol clients over an event driven connection layer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown(cmd.Context())
		},
	}
	flags := cmd.PersistentFlags()
	flags.String("config", "", "path to YAML config (default: search cellhttp.yaml)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "console", "log format: console or json")
	flags.String("tx-buffer", "1KiB", "per client transmit buffer size")
	flags.String("rx-buffer", "1460B", "per client receive chunk size")
	flags.Int("receive-queue-len", 8, "receive queue capacity in buffers")
	flags.Duration("receive-timeout", 0, "default receive timeout, 0 waits forever")
	flags.Duration("request-timeout", 30*time.Second, "request inactivity timeout")
	flags.Duration("dial-timeout", 30*time.Second, "transport dial timeout")
	flags.Int("max-connections", 6, "maximum simultaneous connections")
	flags.Bool("insecure", false, "skip TLS certificate verification")
	flags.String("metrics-listen", "", "serve prometheus metrics on this address")

	cmd.AddCommand(newGetCommand(a))
	return cmd
}

func (a *app) setup(cmd *cobra.Command) error {
	flags := cmd.Root().PersistentFlags()
	path, err := flags.GetString("config")
	if err != nil {
		return err
	}
	if a.cfg, err = config.Load(path, flags); err != nil {
		return err
	}
	if a.log, err = observability.SetupLogger(a.cfg.Log); err != nil {
		return err
	}
	stats := cellstats.Stats(cellstats.NewStatsLog(a.log))
	if a.cfg.Metrics.Listen != "" {
		if a.metrics, err = observability.StartMetrics(a.cfg.Metrics.Listen, a.log); err != nil {
			return err
		}
		stats = cellstats.Tee(stats, a.metrics.Stats)
	}
	topts, err := a.cfg.TransportOptions(stats, a.log)
	if err != nil {
		return err
	}
	if a.transport, err = celltcp.New(topts); err != nil {
		return err
	}
	copts, err := a.cfg.ClientOptions(a.transport, stats, a.log)
	if err != nil {
		return err
	}
	a.session, err = cellhttp.NewSession(netattach.HostNetwork(), copts,
		a.cfg.Client.TxBufferBytes, a.cfg.Client.RxBufferBytes)
	return err
}

func (a *app) teardown(ctx context.Context) error {
	if a.transport != nil {
		a.transport.Shutdown()
	}
	var err error
	if a.metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		err = a.metrics.Shutdown(shutdownCtx)
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
	return err
}
