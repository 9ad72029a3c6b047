// Package main is the entry point for the Cloud SQL Connection service.
// It wires configuration, the Secret Manager resolver, the connection pool
// initializer, and the HTTP routes, then serves the pet listing endpoint.
package main

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/AlvarDev/Cloud-SQL-Connection/internal/config"
	"github.com/AlvarDev/Cloud-SQL-Connection/internal/database"
	"github.com/AlvarDev/Cloud-SQL-Connection/internal/handlers"
	"github.com/AlvarDev/Cloud-SQL-Connection/internal/logging"
	"github.com/AlvarDev/Cloud-SQL-Connection/internal/middleware"
	"github.com/AlvarDev/Cloud-SQL-Connection/internal/secrets"
)

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	resolver, cleanup, err := secrets.NewManagerResolver(ctx)
	if err != nil {
		log.Fatalf("Failed to create secret resolver: %v", err)
	}
	defer cleanup()

	// The initializer owns the singleton pool and is handed to the
	// handlers; there is no package-level database state.
	initializer := database.NewInitializer(cfg, resolver, logger)
	defer initializer.Close()

	// Warm the pool at startup. A failure here is not fatal: the first
	// request that finds no cached pool retries initialization.
	if _, err := initializer.Ensure(ctx); err != nil {
		logger.Warn("startup pool initialization failed, will retry on first request")
		logger.Error("pool initialization", err)
	} else if cfg.RunMigrations {
		if err := initializer.Migrate(ctx); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	app := fiber.New()

	// Panic recovery first, then request logging.
	app.Use(recover.New())
	app.Use(middleware.RequestLogger(logger))

	petsHandler := handlers.NewPetsHandler(initializer, logger)

	app.Get("/", petsHandler.ListPets)
	app.Get("/pets", petsHandler.ListPets)
	app.Get("/healthz", petsHandler.Health)

	logger.Infow("server starting", map[string]interface{}{"port": cfg.Port})
	if err := app.Listen(":" + cfg.Port); err != nil {
		logger.Critical("server stopped", err)
		log.Fatalf("Failed to start server: %v", err)
	}
}
