package transport

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/notification-dispatcher/internal/observability"
	"go.uber.org/zap"
)

const (
	readTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
)

// NewApp builds the operational HTTP app: panic recovery, request ids carried into the user
// context, request metrics, and the Prometheus scrape endpoint at /metrics.
func NewApp(logger *zap.Logger, metrics *observability.Metrics) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "notification-dispatcher",
		DisableStartupMessage: true,
		ReadTimeout:           readTimeout,
		WriteTimeout:          writeTimeout,
		ErrorHandler:          ErrorHandler(logger),
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(requestContext)
	if metrics != nil {
		app.Use(metrics.HTTPMiddleware())
	}
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	return app
}

func requestContext(c *fiber.Ctx) error {
	if id, ok := c.Locals("requestid").(string); ok && id != "" {
		c.SetUserContext(observability.WithRequestID(c.UserContext(), id))
	}
	return c.Next()
}
