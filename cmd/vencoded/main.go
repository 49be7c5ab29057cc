// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManuGH/vencode/internal/config"
	"github.com/ManuGH/vencode/internal/daemon"
	"github.com/ManuGH/vencode/internal/log"
	"github.com/ManuGH/vencode/internal/version"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(runHealthcheckCLI(os.Args[2:]))
	}
	os.Exit(run())
}

func run() int {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the environment is read")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return 0
	}

	// Safe defaults until the config is loaded.
	log.Configure(log.Config{Level: "info", Service: "vencoded", Version: version.Version})
	logger := log.WithComponent("main")

	if err := config.LoadDotEnv(*envFile); err != nil {
		logger.Error().Err(err).Str(log.FieldPath, *envFile).Msg("failed to load env file")
		return 1
	}
	cfg, err := config.Load(strings.TrimSpace(*configPath))
	if err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return 1
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: cfg.LogService, Version: version.Version})
	logger = log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := daemon.New(ctx, cfg, version.Version)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize daemon")
		return 1
	}
	defer func() {
		if err := app.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Msg("shutdown incomplete")
		}
	}()

	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("daemon exited with error")
		return 1
	}
	logger.Info().Str(log.FieldEvent, "daemon.stopped").Msg("bye")
	return 0
}
