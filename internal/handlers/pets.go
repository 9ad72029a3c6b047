// Package handlers implements the HTTP request handlers for the Cloud SQL
// Connection service.
package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/AlvarDev/Cloud-SQL-Connection/internal/database"
	"github.com/AlvarDev/Cloud-SQL-Connection/internal/logging"
	"github.com/AlvarDev/Cloud-SQL-Connection/internal/repository"
	"github.com/AlvarDev/Cloud-SQL-Connection/internal/secrets"
)

// PoolProvider hands out the initialized connection pool, building it on
// first use. Satisfied by *database.Initializer.
type PoolProvider interface {
	Ensure(ctx context.Context) (database.DBInterface, error)
}

// PetsHandler serves the pet listing endpoint.
type PetsHandler struct {
	pool   PoolProvider
	logger *logging.Logger
}

// NewPetsHandler creates a handler over the pool provider.
func NewPetsHandler(pool PoolProvider, logger *logging.Logger) *PetsHandler {
	return &PetsHandler{pool: pool, logger: logger}
}

// ListPets handles GET / and GET /pets. Returns a JSON array of
// {id, name} objects with status 200; an empty table yields [].
//
// Initialization and capacity failures map to 503 (the condition is
// recoverable and the next request retries); query failures map to 500.
// Error bodies are generic and never include secret values or connection
// details.
func (h *PetsHandler) ListPets(c *fiber.Ctx) error {
	db, err := h.pool.Ensure(c.Context())
	if err != nil {
		h.logger.Error("database initialization failed", err)
		switch {
		case errors.Is(err, secrets.ErrSecretUnavailable):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "database credentials unavailable",
			})
		default:
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "database unavailable",
			})
		}
	}

	pets, err := repository.NewPetRepository(db).List(c.Context())
	if err != nil {
		if errors.Is(err, database.ErrPoolExhausted) {
			h.logger.Warn("connection pool exhausted")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "server busy, retry later",
			})
		}
		h.logger.Error("listing pets failed", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "could not list pets",
		})
	}

	return c.JSON(pets)
}

// Health handles GET /healthz. It reports process liveness only and does
// not touch the database, so a cold pool never fails the probe.
func (h *PetsHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}
