// Package main provides the Echoes server: the REST API and the ingestion worker.
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

	"github.com/raphaelgruber/echoes/internal/app"
	"github.com/raphaelgruber/echoes/internal/config"
	"github.com/raphaelgruber/echoes/internal/server"
)

const version = "0.1.0"

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all data from the store on startup (testing only)")
	flag.Parse()

	cfg := config.Load()

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = cleanup() }()

	logger.Info("echoes-server starting",
		"version", version,
		"port", cfg.ServerPort,
		"store", cfg.Store,
		"embed_provider", cfg.EmbedProvider,
		"blob", cfg.Blob,
		"queue", cfg.Queue,
	)

	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.New(initCtx, cfg)
	cancel()
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(ctx); err != nil {
			logger.Error("failed to close resources", "error", err)
		}
	}()

	if *wipeDB || os.Getenv("ECHOES_WIPE_DB") == "true" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := a.WipeData(ctx)
		cancel()
		if err != nil {
			logger.Error("failed to wipe store", "error", err)
			return
		}
		logger.Warn("store wiped")
	}

	// Cancelling the worker context puts an interrupted run back to pending.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	a.StartWorker(workerCtx)

	srv := server.New(server.Services{
		Texts:         a.Texts,
		Jobs:          a.Jobs,
		Ingest:        a.Ingest,
		Conversations: a.Conversations,
		Metrics:       a.Metrics,
	}, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       2 * time.Minute, // uploads
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("API available", "url", fmt.Sprintf("http://localhost:%s/api", cfg.ServerPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serveErr:
		logger.Error("server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	stopWorker()
	if err := srv.Wait(ctx); err != nil {
		logger.Warn("ingestion runs still active at shutdown", "error", err)
	}

	logger.Info("server stopped")
}
