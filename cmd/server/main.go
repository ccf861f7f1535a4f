package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chadiek/interview-agent/internal/app"
	"github.com/chadiek/interview-agent/internal/config"
	"github.com/chadiek/interview-agent/internal/httpserver"
	"github.com/chadiek/interview-agent/internal/interview"
	"github.com/chadiek/interview-agent/internal/logging"
	"github.com/chadiek/interview-agent/internal/relay"
)

func main() {
	cfg := config.Load()

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	for _, w := range cfg.Warnings {
		log.Warn(w)
	}

	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatalw("wire interview", "error", err)
	}
	defer a.Close()

	sessions := relay.NewHandler(func(s relay.Session) *interview.Orchestrator {
		return a.RemoteSession(s.Device, s.Player, s.Sink)
	}, cfg.RelayPassword, log.Named("relay"))

	srv := httpserver.New(httpserver.Options{
		Relay:    sessions,
		Journal:  a.Journal(),
		ClipDir:  a.ClipDir(),
		Password: cfg.RelayPassword,
		Log:      log.Named("http"),
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Infow("server listening", "address", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("server error", "error", err)
			return
		}
	case sig := <-sigChan:
		log.Infow("shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warnw("graceful shutdown failed", "error", err)
		_ = server.Close()
	}
}
