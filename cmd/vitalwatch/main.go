package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"vitalwatch/internal/config"
	"vitalwatch/internal/logger"
	"vitalwatch/internal/processor"
)

func main() {
	configPath := flag.String("config", os.Getenv("VITALWATCH_CONFIG"), "path to YAML config file")
	dataDir := flag.String("data", "", "directory of reading files to preload")
	watch := flag.Bool("watch", true, "reload the policy when the config file changes")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Init("info")
		logger.Logger.Fatal().Err(err).Msg("failed to load config")
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}

	logger.Init(cfg.Log.Level)
	log := logger.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts []processor.Option
	if *watch && *configPath != "" {
		opts = append(opts, processor.WithConfigPath(*configPath))
	}

	log.Info().
		Str("config", *configPath).
		Str("policy", cfg.Monitor.Policy).
		Msg("vitalwatch starting")

	if err := processor.New(cfg, opts...).Run(ctx); err != nil {
		log.Error().Err(err).Msg("processor exited")
		stop()
		os.Exit(1)
	}
	log.Info().Msg("exited")
}
