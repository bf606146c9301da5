package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/gatekeeper/internal/api/http/handlers"
	"github.com/spec-kit/gatekeeper/internal/auth"
	"github.com/spec-kit/gatekeeper/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health     *handlers.HealthHandler
	Auth       *handlers.AuthHandler
	Users      *handlers.UsersHandler
	Admission  *handlers.AdmissionHandler
	Gatekeeper *auth.Gatekeeper
	Guard      auth.Guard
	Metrics    *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	api := app.Group("/api")

	authGroup := api.Group("/auth", cfg.Gatekeeper.Admit())
	authGroup.Post("/sign-up", cfg.Auth.SignUp)
	authGroup.Post("/sign-in", cfg.Auth.SignIn)
	authGroup.Post("/sign-out", cfg.Auth.SignOut)

	users := api.Group("/users", cfg.Gatekeeper.Protect())
	users.Get("/", cfg.Users.List)
	users.Get("/me", cfg.Users.Me)
	users.Get("/:id", cfg.Users.Get)
	users.Put("/:id", cfg.Users.Update)
	users.Delete("/:id", cfg.Users.Delete)

	admin := api.Group("/admin", cfg.Gatekeeper.Protect(), auth.RequireAdmin(cfg.Guard))
	admin.Get("/admission", cfg.Admission.Status)
}
