package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"bourse/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional; BOURSE_* env vars and defaults otherwise)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("server: load config")
	}

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("server: exited with error")
	}
}
