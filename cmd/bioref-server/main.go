package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/systemshift/bioref/internal/config"
	"github.com/systemshift/bioref/internal/logger"
	"github.com/systemshift/bioref/internal/metrics"
	"github.com/systemshift/bioref/internal/pipeline"
	"github.com/systemshift/bioref/internal/server/api"
	"github.com/systemshift/bioref/internal/server/subscriptions"
)

func main() {
	configPath := flag.String("config", "", "Config file path (YAML, default $BIOREF_CONFIG)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "bioref-server: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// run serves the operations API until ctx is cancelled or the listener fails.
// Every resource it opens is released before it returns.
func run(ctx context.Context, configPath string) error {
	// Load configuration from file and environment
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogMode, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Sync()

	m := metrics.New("bioref")

	runner, closeStore, err := pipeline.Open(ctx, cfg, m, log)
	if err != nil {
		log.Error("failed to open graph store", "error", err)
		return err
	}
	defer func() {
		if err := closeStore(context.Background()); err != nil {
			log.Warn("closing graph store", "error", err)
		}
	}()

	subs := subscriptions.NewManager(cfg.Webhooks, nil, log)
	subs.Start()
	defer subs.Stop(10 * time.Second)
	runner.WithEvents(subs)

	apiServer := api.New(runner, log)

	// HTTP server
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     apiServer.Router(m.Handler()),
		ReadTimeout: 15 * time.Second,
		// fetch and load requests run to completion inside the handler
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting bioref server", "addr", "http://localhost:"+cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Graceful shutdown
	select {
	case err, ok := <-serveErr:
		if ok {
			log.Error("server failed", "error", err)
			return fmt.Errorf("serving: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		return fmt.Errorf("shutting down: %w", err)
	}

	log.Info("server exited")
	return nil
}
