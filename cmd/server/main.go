// Package main is the entry point for the marketplace API. It initializes
// configuration, PostgreSQL and Redis, wires the escrow and trust services,
// starts the expiry sweeper and serves HTTP until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"couponbay/internal/config"
	"couponbay/internal/repositories"
	"couponbay/internal/routes"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	config.LoadEnv()
	initLogger()

	if err := repositories.InitDB(); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}

	sqlDB, err := repositories.DB.DB()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to get database instance")
	}
	if err := sqlDB.Ping(); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	log.Info().Msg("connected to database")

	// Clear the cache on startup so stale entries never survive a deploy.
	if repositories.CacheService != nil {
		if err := repositories.CacheService.FlushAll(context.Background()); err != nil {
			log.Warn().Err(err).Msg("failed to flush redis cache")
		}
	}

	defer func() {
		if err := sqlDB.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close database connection")
		}
		if repositories.CacheService != nil {
			if err := repositories.CacheService.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close redis connection")
			}
		}
	}()

	app := fiber.New(fiber.Config{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     config.GetEnv("CORS_ORIGIN", "http://localhost:5173"),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Stripe-Signature",
		AllowMethods:     "GET,POST,HEAD,PUT,DELETE,PATCH",
		AllowCredentials: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${locals:requestid} ${status} - ${latency} ${method} ${path}\n",
	}))

	sweeper := routes.SetupRoutes(app, repositories.DB)

	// The sweeper re-derives every pending deadline from storage, so
	// holding windows that expired while the process was down are handled
	// on the first pass.
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go sweeper.Run(sweepCtx)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		log.Info().Msg("shutting down")
		stopSweeper()
		if err := app.Shutdown(); err != nil {
			log.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	if err := app.Listen(":" + config.GetEnv("PORT", "3000")); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func initLogger() {
	level, err := zerolog.ParseLevel(config.GetEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if !config.IsProduction() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
		return
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}
