// Command breakdebugd runs the breakpoint coordinator daemon: it
// connects the reliable request substrate to NATS, serves the HTTP
// control API and Prometheus metrics, and installs any breakpoints
// declared in the config file (re-installing on config changes).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/GoCodeAlone/dataflow/api"
	"github.com/GoCodeAlone/dataflow/breakpoint"
	"github.com/GoCodeAlone/dataflow/config"
	"github.com/GoCodeAlone/dataflow/transport"
)

var (
	configFile = flag.String("config", "", "Path to engine configuration YAML file")
	addr       = flag.String("addr", "", "HTTP listen address (overrides config)")
	natsURL    = flag.String("nats", "", "NATS server URL (overrides config)")
)

func main() {
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg := config.Default()
	if *configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(*configFile)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	} else {
		logger.Info("No config file specified, using defaults")
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *natsURL != "" {
		cfg.NATS.URL = *natsURL
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := transport.NewNATSTransport(cfg.NATS.URL, logger)
	if err := tr.Start(ctx); err != nil {
		log.Fatalf("Failed to start transport: %v", err)
	}

	coordinator := breakpoint.NewCoordinator(tr, logger)
	coordinator.SetRetryPolicy(transport.RetryPolicy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		AttemptTimeout: cfg.Retry.AttemptTimeout,
	})
	metrics := breakpoint.NewMetrics()
	coordinator.SetMetrics(metrics)

	if err := coordinator.RegisterNoticeEndpoint(tr); err != nil {
		log.Fatalf("Failed to register notice endpoint: %v", err)
	}
	logger.Info("Coordinator ready", "notice_endpoint", coordinator.Endpoint())

	installDeclared(ctx, coordinator, cfg.Breakpoints, logger)

	// Re-install declared breakpoints when the config file changes.
	var watcher *config.Watcher
	if *configFile != "" {
		watcher = config.NewWatcher(*configFile, func(ev config.ChangeEvent) {
			installDeclared(ctx, coordinator, ev.Config.Breakpoints, logger)
		}, logger)
		if err := watcher.Start(); err != nil {
			log.Fatalf("Failed to start config watcher: %v", err)
		}
	}

	mux := http.NewServeMux()
	api.NewHandler(coordinator, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", metrics.Handler())

	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: mux,
	}

	go func() {
		logger.Info("Starting control API", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	fmt.Printf("Breakpoint coordinator started on %s\n", cfg.HTTP.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	cancel()

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			log.Printf("Config watcher shutdown error: %v", err)
		}
	}
	if err := server.Shutdown(context.Background()); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := tr.Stop(context.Background()); err != nil {
		log.Printf("Transport shutdown error: %v", err)
	}

	fmt.Println("Shutdown complete")
}

// installDeclared creates and assigns breakpoints declared in the
// config. Already-created ids are skipped: declared breakpoints are
// managed by id, and changing one requires a new id (or removal via
// the API first).
func installDeclared(ctx context.Context, coordinator *breakpoint.Coordinator, specs []config.BreakpointSpec, logger *slog.Logger) {
	for _, spec := range specs {
		_, err := coordinator.CreateBreakpoint(spec.ID, breakpoint.Kind(spec.Kind), breakpoint.Config{
			Expression: spec.Expression,
			Count:      spec.Count,
		})
		if err != nil {
			if !isDuplicate(err) {
				logger.Error("Failed to create declared breakpoint", "breakpoint", spec.ID, "error", err)
			}
			continue
		}

		layer := make([]breakpoint.WorkerID, len(spec.Layer))
		for i, name := range spec.Layer {
			layer[i] = breakpoint.WorkerID(name)
		}
		if _, err := coordinator.Assign(ctx, spec.ID, layer); err != nil {
			logger.Error("Failed to assign declared breakpoint", "breakpoint", spec.ID, "error", err)
			continue
		}
		logger.Info("Declared breakpoint installed", "breakpoint", spec.ID, "workers", len(layer))
	}
}

func isDuplicate(err error) bool {
	return errors.Is(err, breakpoint.ErrDuplicateBreakpoint)
}
