package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joshuajeschek/dandelion/internal/config"
	"github.com/joshuajeschek/dandelion/internal/handlers"
	"github.com/joshuajeschek/dandelion/internal/logger"
	"github.com/joshuajeschek/dandelion/internal/repository"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration")
	}
	if err := logger.Init(cfg.LogOutput, cfg.LogLevel); err != nil {
		log.Fatal().Err(err).Msg("logger")
	}

	db, err := repository.OpenDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("database")
	}
	defer db.Close()

	bot := handlers.NewBot(cfg, repository.NewRepo(db))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := bot.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("bot stopped")
	}
	log.Info().Msg("shutdown complete")
}
