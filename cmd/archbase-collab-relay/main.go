// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

// archbase-collab-relay runs the coordinating server for collaboration
// sessions: the relay hub for hub-and-spoke rooms and the signaling
// channel for mesh rooms.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/edsonmartins/archbase-collab/hub"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.String("config", "", "path to a YAML config file")
	listenAddr := pflag.String("listen", "", "listen address (overrides config)")
	logLevel := pflag.String("log-level", "info", "log level: debug, info, warn, error")
	pflag.Parse()

	cfg := hub.DefaultConfig()
	if *configPath != "" {
		loaded, err := hub.LoadConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("parsing --log-level: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, hub.New(cfg, logger))

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	errs := make(chan error, 1)
	go func() {
		logger.Info("relay listening", "addr", cfg.ListenAddr, "path", cfg.Path)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
