package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedgist/internal/config"
	"feedgist/internal/dispatcher"
	"feedgist/internal/scheduler"
	"feedgist/internal/server"
	"feedgist/internal/store"
	"feedgist/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.ErrorContext(ctx, "Failed to load config",
			"error", err)

		return
	}

	backends, err := cfg.ParseBackends()
	if err != nil {
		log.ErrorContext(ctx, "Failed to parse backends",
			"error", err,
			"BACKENDS", cfg.Backends)

		return
	}
	log.InfoContext(ctx, "Backends are configured",
		"backendCount", len(backends))

	st, err := store.New(ctx, cfg.DBPath, cfg.SummaryTTL, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize summary store",
			"error", err,
			"dbPath", cfg.DBPath)

		return
	}
	defer func() {
		if err = st.Close(); err != nil {
			log.ErrorContext(ctx, "Failed to close summary store",
				"error", err,
				"dbPath", cfg.DBPath)
		}
	}()
	log.InfoContext(ctx, "Summary store is initialized",
		"dbPath", cfg.DBPath)

	disp, err := dispatcher.New(dispatcher.Config{
		Backends:         toDispatcherBackends(backends),
		CallTimeout:      cfg.CallTimeout,
		FailureThreshold: cfg.FailureThreshold,
	}, dispatcher.NewOpenAIFactory(cfg.BackendAPIKey), log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize dispatcher",
			"error", err,
			"backendCount", len(backends))

		return
	}
	log.InfoContext(ctx, "Dispatcher is initialized",
		"backendCount", len(backends),
		"callTimeout", cfg.CallTimeout.String(),
		"failureThreshold", cfg.FailureThreshold)

	w := worker.New(disp, st, cfg.QueueSize, log)
	client := worker.NewClient(w, log)

	if err = client.WaitReady(ctx); err != nil {
		log.ErrorContext(ctx, "Worker never became ready",
			"error", err)

		return
	}
	log.InfoContext(ctx, "Worker is ready",
		"workerID", client.WorkerID(),
		"queueSize", cfg.QueueSize)

	sched := scheduler.New(ctx, client, st, cfg.ProbeSpec, log)
	if err = sched.Start(); err != nil {
		log.ErrorContext(ctx, "Failed to start scheduler",
			"error", err,
			"spec", cfg.ProbeSpec)

		return
	}
	defer sched.Stop()
	log.InfoContext(ctx, "Scheduler is started",
		"spec", cfg.ProbeSpec)

	srv := server.New(client, cfg.RequestTimeout, log)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if serveErr := httpServer.ListenAndServe(); serveErr != nil &&
			!errors.Is(serveErr, http.ErrServerClosed) {
			log.ErrorContext(ctx, "HTTP server stopped",
				"error", serveErr,
				"listenAddr", cfg.ListenAddr)
			cancel()
		}
	}()
	log.InfoContext(ctx, "HTTP server is started",
		"listenAddr", cfg.ListenAddr)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-c:
		log.InfoContext(ctx, "Shutdown signal is received",
			"signal", sig.String())
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err = httpServer.Shutdown(shutdownCtx); err != nil {
		log.ErrorContext(shutdownCtx, "Failed to shut down HTTP server",
			"error", err)
	}

	w.Stop()
	log.InfoContext(shutdownCtx, "Worker is stopped",
		"uptimeSeconds", time.Since(start).Seconds())
}

func toDispatcherBackends(backends []config.Backend) []dispatcher.BackendConfig {
	out := make([]dispatcher.BackendConfig, 0, len(backends))

	for _, b := range backends {
		out = append(out, dispatcher.BackendConfig{
			Endpoint: b.Endpoint,
			Model:    b.Model,
			Weight:   b.Weight,
		})
	}

	return out
}
