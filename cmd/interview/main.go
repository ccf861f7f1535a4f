package main

import (
	"fmt"
	"os"

	"github.com/chadiek/interview-agent/internal/app"
	"github.com/chadiek/interview-agent/internal/cli"
	"github.com/chadiek/interview-agent/internal/config"
	"github.com/chadiek/interview-agent/internal/logging"
	"github.com/chadiek/interview-agent/internal/output"
)

func main() {
	if err := run(); err != nil {
		formatter := output.NewFormatter(os.Stderr)
		formatter.Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	// The terminal belongs to the interview; only warnings and worse are logged.
	level := cfg.LogLevel
	if level == "info" {
		level = "warn"
	}
	log, err := logging.New(level)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	application, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("initializing app: %w", err)
	}
	defer application.Close()

	deps := &cli.Dependencies{
		App:    application,
		Config: cfg,
		Log:    log,
	}

	return cli.NewRootCmd(deps).Execute()
}
