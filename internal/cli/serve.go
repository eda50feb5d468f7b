package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/engine"
	"github.com/ppiankov/trustgate/internal/logging"
	"github.com/ppiankov/trustgate/internal/observability"
	"github.com/ppiankov/trustgate/internal/server"
)

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (default from config, 127.0.0.1:9464)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP governance server",
	Long: "Runs trustgate as a long-lived HTTP server. Agents and orchestrators call\n" +
		"/v1 endpoints for permission checks, trigger routing, package approval and\n" +
		"sandboxed execution. Prometheus metrics are served on /metrics.\n" +
		"Policy and denylist files are hot-reloaded on change.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Admin.Addr = serveAddr
	}
	log := logging.New(os.Stderr, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.Tracing.ServiceName, version, cfg.Tracing.Endpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracer(sctx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	eng, err := engine.New(ctx, cfg, engine.WithLogger(log))
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer eng.Close()

	reloader, err := server.NewReloader(eng, []string{cfg.PolicyPath, cfg.DenylistPath}, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: hot-reload disabled: %v\n", err)
	} else {
		go reloader.Run(ctx)
	}

	fmt.Fprintf(os.Stderr, "trustgate listening on %s\n", cfg.Admin.Addr)
	fmt.Fprintf(os.Stderr, "Database: %s\n", cfg.DBPath)
	fmt.Fprintf(os.Stderr, "Policy: %s (hot-reload enabled)\n", cfg.PolicyPath)
	if cfg.Tracing.Endpoint != "" {
		fmt.Fprintf(os.Stderr, "Tracing: %s\n", cfg.Tracing.Endpoint)
	}
	fmt.Fprintln(os.Stderr)

	return server.New(eng).ListenAndServe(ctx, cfg.Admin.Addr)
}
