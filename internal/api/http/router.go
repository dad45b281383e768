package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/verification-gate/internal/api/http/handlers"
	"github.com/spec-kit/verification-gate/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Admin          *handlers.AdminHandler
	Events         *handlers.EventsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	app.Post("/auth/login", cfg.Auth.Login)

	events := app.Group("/platform/events", cfg.Events.Authorize)
	events.Post("/member-join", cfg.Events.MemberJoin)
	events.Post("/role-change", cfg.Events.RoleChange)
	events.Post("/member-leave", cfg.Events.MemberLeave)
	events.Post("/ticket-action", cfg.Events.TicketAction)

	admin := app.Group("/admin", cfg.AuthMiddleware.Handle, auth.RequireAdmin())
	admin.Get("/pending", cfg.Admin.ListPending)
	admin.Get("/stats", cfg.Admin.Stats)
	admin.Get("/members/:memberID/roles", cfg.Admin.DebugRoles)
	admin.Get("/members/:memberID/audit", cfg.Admin.MemberAudit)
	admin.Post("/members/:memberID/force-verify", cfg.Admin.ForceVerify)
	admin.Post("/mass-verify", cfg.Admin.MassVerify)
	admin.Post("/orphans/cleanup", cfg.Admin.CleanupOrphans)
}
