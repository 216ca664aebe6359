package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/campus-delivery/internal/api/http/handlers"
	"github.com/spec-kit/campus-delivery/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health  *handlers.HealthHandler
	Events  *handlers.EventsHandler
	Admin   *handlers.AdminHandler
	Tokens  *auth.TokenManager
	IsAdmin func(int64) bool
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	app.Post("/v1/events", cfg.Events.Handle)

	app.Post("/auth/admin/login", cfg.Admin.Login)

	adminGroup := app.Group("/admin", auth.RequireAdmin(cfg.Tokens, cfg.IsAdmin))
	adminGroup.Get("/leaderboard", cfg.Admin.Leaderboard)
	adminGroup.Get("/metrics", cfg.Admin.Metrics)
	adminGroup.Get("/digest", cfg.Admin.Digest)
	adminGroup.Post("/jobs/:name/run", cfg.Admin.RunJob)
}
