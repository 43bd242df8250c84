package httpapi

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/i474232898/weatherstation/internal/scheduler"
	"github.com/i474232898/weatherstation/internal/weather"
)

var validate = validator.New()

// MeasureSource is the read side of the local store.
type MeasureSource interface {
	QueryMeasuresSince(ctx context.Context, sensorName string, since time.Time) ([]weather.Measure, error)
}

// RunLister reports the latest scheduled runs.
type RunLister interface {
	LastRuns() []scheduler.Run
}

// NewApp returns the Fiber app serving the status API of program. One access
// line per request is written to accessLog.
func NewApp(program string, accessLog io.Writer) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               program,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})
	app.Use(logger.New(logger.Config{
		Format:        "${status} ${method} ${path} ${latency}\n",
		Output:        accessLog,
		DisableColors: true,
	}))
	app.Use(recover.New())
	return app
}

// RegisterRoutes wires the HTTP handlers into the Fiber app. The measures
// endpoint is only registered when measures is not nil.
func RegisterRoutes(app *fiber.App, program string, runs RunLister, measures MeasureSource) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": program,
		})
	})

	v1 := app.Group("/api/v1")

	v1.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"program": program,
			"runs":    runs.LastRuns(),
		})
	})

	if measures == nil {
		return
	}

	v1.Get("/measures", func(c *fiber.Ctx) error {
		var q measuresQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		list, err := measures.QueryMeasuresSince(c.UserContext(), q.Sensor, q.Since)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read measures")
		}

		return c.JSON(fiber.Map{
			"sensor":   q.Sensor,
			"since":    weather.FormatTimestamp(q.Since),
			"measures": list,
		})
	})
}

// measuresQuery holds query parameters for the measures endpoint.
type measuresQuery struct {
	Sensor string    `validate:"required"`
	Since  time.Time `validate:"required"`
}

func (q *measuresQuery) bind(c *fiber.Ctx) error {
	q.Sensor = strings.TrimSpace(c.Query("sensor"))
	q.Since = weather.Epoch

	if s := c.Query("since"); s != "" {
		since, err := weather.ParseTimestamp(s)
		if err != nil {
			return err
		}
		q.Since = since
	}

	return validate.Struct(q)
}
