package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck reports a dependency's health; nil means ok.
type HealthCheck func(ctx context.Context) error

// Check is a named HealthCheck.
type Check struct {
	Name string
	Fn   HealthCheck
}

// RegisterRoutes registers the operational HTTP routes on the Fiber app.
// A Check with a nil Fn is reported as disabled and does not degrade status.
func RegisterRoutes(app *fiber.App, checks ...Check) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/health", func(c *fiber.Ctx) error {
		result := make(map[string]string, len(checks))
		status := "ok"
		code := fiber.StatusOK

		healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		for _, chk := range checks {
			if chk.Fn == nil {
				result[chk.Name] = "disabled"
				continue
			}
			if err := chk.Fn(healthCtx); err != nil {
				result[chk.Name] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
				continue
			}
			result[chk.Name] = "ok"
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": result,
		})
	})
}
