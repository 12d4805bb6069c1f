package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-autograder-api/internal/config"
	"github.com/noah-isme/gema-autograder-api/internal/handler"
	"github.com/noah-isme/gema-autograder-api/internal/middleware"
	"github.com/noah-isme/gema-autograder-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	FeedbackHandler   *handler.FeedbackHandler
	SubmissionHandler *handler.SubmissionHandler
	GroupHandler      *handler.GroupHandler
	JWTMiddleware     fiber.Handler
	HealthProbes      []handler.HealthProbe
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes...))
	api.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	// Grader callbacks come first: system tokens carry no user and must not
	// reach the user guard below.
	if deps.SubmissionHandler != nil {
		internal := api.Group("/internal", jwtMiddleware, middleware.RequireRole(middleware.TokenRoleSystem))
		deps.SubmissionHandler.RegisterInternal(internal)
	}

	secured := api.Group("", jwtMiddleware, middleware.RequireUser())

	if deps.FeedbackHandler != nil {
		deps.FeedbackHandler.Register(secured)
	}
	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.Register(secured)
	}
	if deps.GroupHandler != nil {
		deps.GroupHandler.Register(secured)
	}
}
