package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// BrokerHealth reports whether the broker connection is usable.
type BrokerHealth interface {
	Healthy() bool
}

// HealthDeps lists what readiness checks. Redis and Broker are optional and reported as
// "disabled" when nil.
type HealthDeps struct {
	DB     *sql.DB
	Redis  *redis.Client
	Broker BrokerHealth
}

func RegisterHealthRoutes(app fiber.Router, deps HealthDeps) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(deps))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(deps HealthDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
		defer cancel()

		checks := fiber.Map{}
		ready := true

		record := func(name string, ok bool) {
			if ok {
				checks[name] = "ok"
				return
			}
			checks[name] = "down"
			ready = false
		}

		record("postgres", deps.DB != nil && deps.DB.PingContext(ctx) == nil)

		if deps.Redis == nil {
			checks["redis"] = "disabled"
		} else {
			record("redis", deps.Redis.Ping(ctx).Err() == nil)
		}

		if deps.Broker == nil {
			checks["rabbitmq"] = "disabled"
		} else {
			record("rabbitmq", deps.Broker.Healthy())
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if !ready {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	}
}
