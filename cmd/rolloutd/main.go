// Rolloutd is the risk-gated proposal and canary rollout controller.
//
// This binary loads configuration, wires the risk classifier, guard,
// proposal lifecycle and canary orchestrator, and serves the HTTP API.
// NATS publishing and Temporal verification are optional.
//
// Configuration is read from ~/.config/rolloutd/config.yaml and
// ROLLOUTD_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Start server with defaults
//	rolloutd
//
//	# Use an explicit config file and override the port
//	ROLLOUTD_SERVER_PORT=9090 rolloutd -config /etc/rolloutd/config.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fyrsmithlabs/rolloutd/internal/config"
	httpserver "github.com/fyrsmithlabs/rolloutd/internal/http"
	"go.uber.org/zap"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/rolloutd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  rolloutd [-config path]   Start the rollout controller\n")
			fmt.Fprintf(os.Stderr, "  rolloutd version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("rolloutd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the controller and blocks until ctx is cancelled.
//
// Startup order:
//  1. Load and validate configuration
//  2. Initialize telemetry and logger
//  3. Open the audit log and optional NATS publisher
//  4. Build guard, risk, feedback, lifecycle and canary components
//  5. Connect Temporal and start its worker (if enabled)
//  6. Start the TTL sweep and the HTTP server
//  7. Shut everything down in reverse on cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	srv, err := httpserver.NewServer(httpserver.Deps{
		Lifecycle: app.lifecycle,
		Canary:    app.canary,
		Guard:     app.guard,
		Audit:     app.audit,
		History:   app.history,
		Logger:    app.logger,
	}, &httpserver.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		SubmitRate:   cfg.Server.SubmitRate,
		SubmitBurst:  cfg.Server.SubmitBurst,
		SSEHeartbeat: cfg.Server.SSEHeartbeat,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	if err := app.canary.Start(ctx); err != nil {
		return fmt.Errorf("failed to start canary sweep: %w", err)
	}

	app.logger.Info(ctx, "starting rolloutd",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr()),
		zap.String("event_store", cfg.Events.Store),
		zap.Bool("nats", app.nats != nil),
		zap.Bool("temporal", app.temporal != nil),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.logger.Warn(shutdownCtx, "http shutdown failed", zap.Error(err))
	}
	return nil
}
