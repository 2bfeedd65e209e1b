// Brokkolid watches folders of plant-camera images, measures the share
// of green pixels in each new frame, and publishes the results to Home
// Assistant as MQTT discovery sensors.
//
// Usage:
//
//	brokkolid [-config path]   Run the daemon
//	brokkolid version          Print version and build information
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]). A .env file in the
// working directory is loaded first so broker credentials can be
// referenced from the config via ${VAR} expansion.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/verdantlab/brokkoli/internal/buildinfo"
	"github.com/verdantlab/brokkoli/internal/config"
	"github.com/verdantlab/brokkoli/internal/coordinator"
	"github.com/verdantlab/brokkoli/internal/mqtt"
)

// shutdownGrace bounds how long Stop may take to drain the loop and
// disconnect cleanly once a signal arrives.
const shutdownGrace = 10 * time.Second

// main is intentionally minimal. It constructs the OS-level
// environment (context, stdio, argv) and delegates immediately to
// [run] so the full startup-to-shutdown lifecycle can be driven from
// tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. ctx controls the process lifetime,
// stdout receives logs, and args is os.Args[1:]. It returns nil on
// clean shutdown.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var command string

	// Parse arguments by hand; the surface is two flags and one
	// subcommand, not worth a CLI framework or flag's global state.
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			printUsage(stdout)
			return nil
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			printUsage(stderr)
			return fmt.Errorf("unknown argument %q", args[i])
		}
	}

	if command == "version" {
		for k, v := range buildinfo.Info() {
			fmt.Fprintf(stdout, "%s: %s\n", k, v)
		}
		return nil
	}
	if command != "" {
		printUsage(stderr)
		return fmt.Errorf("unknown command %q", command)
	}

	// Optional .env for broker credentials; absence is fine.
	_ = godotenv.Load()

	path, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration %s: %w", path, err)
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("starting brokkolid",
		"version", buildinfo.Version,
		"config", path,
		"broker", cfg.MQTT.BrokerURL(),
	)

	instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("instance ID: %w", err)
	}

	client := mqtt.New(cfg.MQTT, instanceID, logger)
	coord, err := coordinator.New(cfg, client, logger)
	if err != nil {
		return err
	}

	// SIGINT/SIGTERM cancel the context; the core only ever sees the
	// cooperative stop.
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := coord.Start(runCtx); err != nil {
		return err
	}

	<-runCtx.Done()
	logger.Info("shutdown requested")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	coord.Stop(stopCtx)

	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `brokkolid — green pixel analysis for Home Assistant

usage:
  brokkolid [-config path]   run the daemon
  brokkolid version          print version and build information
`)
}
