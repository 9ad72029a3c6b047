// Package middleware provides HTTP middleware for the Cloud SQL Connection
// service.
package middleware

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/AlvarDev/Cloud-SQL-Connection/internal/logging"
)

// RequestLogger logs one structured entry per handled request: method,
// path, status, duration, and client IP.
func RequestLogger(logger *logging.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := c.Response().StatusCode()
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			status = fiberErr.Code
		}

		logger.Request(c.Method(), c.Path(), status, time.Since(start), c.IP())
		return err
	}
}
