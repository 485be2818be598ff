// Command rusty-comms drives IPC microbenchmarks across Unix domain
// sockets, TCP loopback, POSIX message queues, and a custom shared-memory
// ring, measuring one-way and round-trip latency/throughput under a single
// flag surface shared by every mechanism.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/redhat-performance/rusty-comms/internal/coordinator"
	"github.com/redhat-performance/rusty-comms/internal/logging"
	"github.com/redhat-performance/rusty-comms/internal/result"
	"github.com/redhat-performance/rusty-comms/internal/transport"
)

func makeRootCommand() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:           "rusty-comms",
		Short:         "Benchmark one-way and round-trip IPC latency/throughput across uds, tcp, shm, and pmq",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMain(cmd.Context(), f)
		},
	}
	f.register(cmd)
	return cmd
}

func runMain(ctx context.Context, f *flags) error {
	if _, err := logging.Configure(logging.Options{Verbosity: f.verbosity, LogFile: f.logFile}); err != nil {
		return fmt.Errorf("rusty-comms: configure logging: %w", err)
	}

	switch f.mode {
	case "in-process", "host", "client":
	default:
		return fmt.Errorf("rusty-comms: --mode must be in-process, host, or client, got %q", f.mode)
	}

	if f.mode == "client" {
		return runClientMode(ctx, f)
	}
	return runDrivingMode(ctx, f)
}

// runClientMode handles the spawned passive counterpart of a --mode=host
// run: exactly one mechanism's flags arrive on argv (ChildArgs), matching
// what coordinator.Spawn invoked this same binary with.
func runClientMode(ctx context.Context, f *flags) error {
	mechs, err := f.resolvedMechanisms()
	if err != nil {
		return err
	}
	if len(mechs) != 1 {
		return fmt.Errorf("rusty-comms: --mode client expects exactly one --mechanism, got %d", len(mechs))
	}
	cfg, err := f.buildTestConfig(mechs[0])
	if err != nil {
		return err
	}
	maybePinAffinity(cfg, coordinator.RoleClient)
	return runClient(ctx, cfg, os.Stdout)
}

// runDrivingMode handles --mode=in-process and --mode=host: it resolves
// every requested mechanism in order, runs each to completion, and writes
// the aggregated final document once all of them (or the first failure,
// absent --continue-on-error) have finished.
func runDrivingMode(ctx context.Context, f *flags) error {
	mechs, err := f.resolvedMechanisms()
	if err != nil {
		return err
	}

	agg := result.NewAggregator()
	runID := agg.RunID().String()

	for _, mech := range mechs {
		cfg, err := f.buildTestConfig(mech)
		if err != nil {
			return err
		}
		cfg.RunID = agg.RunID()

		role := coordinator.RoleInProcess
		if f.mode == "host" {
			role = coordinator.RoleHost
		}
		maybePinAffinity(cfg, role)

		attemptStart := time.Now()
		res, err := runInProcessOrHost(ctx, f, cfg, runID)
		if err != nil {
			if !f.continueOnError {
				return err
			}
			res = result.Failed(cfg, err, string(transport.KindOf(err)), attemptStart)
		}
		agg.Add(res)

		if res.Status == result.StatusFailed && !f.continueOnError {
			break
		}
	}

	doc := agg.Build(collectSystemInfo(ctx))
	if err := writeFinalDocument(f, doc); err != nil {
		return err
	}

	if agg.AnyFailed() && !f.continueOnError {
		return fmt.Errorf("rusty-comms: one or more mechanisms failed")
	}
	return nil
}

func main() {
	// A missing .env is the normal case outside local development; only a
	// malformed one is worth surfacing, and even then as a warning, since
	// RUSTY_COMMS_BINARY and friends all have working defaults.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "rusty-comms: .env:", err)
	}

	cmd := makeRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rusty-comms:", err)
		os.Exit(1)
	}
}
