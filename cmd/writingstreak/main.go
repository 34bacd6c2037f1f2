// Package main Writing Streak API
//
// @title           Writing Streak API
// @version         1.0
// @description     API учётных записей и премиум-подписки Writing Streak
//
// @contact.name   Writing Streak
// @contact.email  contact@writingstreak.io
//
// @host      localhost:8080
// @BasePath  /api/v1
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/magabrotheeeer/writingstreak/docs"
	"github.com/magabrotheeeer/writingstreak/internal/app/api"
	"github.com/magabrotheeeer/writingstreak/internal/config"
	"github.com/magabrotheeeer/writingstreak/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level(cfg.Env)}))

	logger.Info("starting writingstreak", slog.String("env", cfg.Env))
	logger.Debug("debug messages are enabled")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := api.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize app", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("app stopped with error", sl.Err(err))
		os.Exit(1)
	}

	logger.Info("writingstreak stopped gracefully")
}

func level(env string) slog.Level {
	if env == "prod" {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}
