// Package router mounts the handlers and their middleware on Echo.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/hotel-reservations/internal/handler"
	"github.com/iliyamo/hotel-reservations/internal/middleware"
	"github.com/iliyamo/hotel-reservations/internal/model"
)

// RegisterRoutes registers the routes that need no authentication.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health(db))
}

// RegisterReservations mounts the reservation API under /v1/reservations.
// limiter may be nil.
func RegisterReservations(e *echo.Echo, h *handler.ReservationHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1/reservations", middleware.JWTAuth(jwtSecret))
	if limiter != nil {
		g.Use(limiter)
	}
	staff := middleware.RequireRole(model.RoleStaff, model.RoleAdmin)

	g.POST("/quote", h.Quote)
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/code/:code", h.GetByCode)
	g.GET("/:id", h.Get)
	g.PATCH("/:id", h.Patch)
	g.POST("/:id/cancel", h.Cancel)
	g.POST("/:id/confirm", h.Confirm(), staff)
	g.POST("/:id/check-in", h.CheckIn(), staff)
	g.POST("/:id/check-out", h.CheckOut(), staff)
	g.POST("/:id/no-show", h.NoShow(), staff)
}

// RegisterBilling mounts the ledger API under /v1/billing for STAFF and
// ADMIN callers.
func RegisterBilling(e *echo.Echo, h *handler.BillingHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1/billing",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleStaff, model.RoleAdmin))
	if limiter != nil {
		g.Use(limiter)
	}

	g.GET("", h.List)
	g.GET("/:ref", h.Get)
	g.POST("/:ref/charges", h.Ledger(model.EntryCharge))
	g.POST("/:ref/credits", h.Ledger(model.EntryCredit))
	g.POST("/:ref/refunds", h.Ledger(model.EntryRefund))
	g.POST("/:ref/adjustments", h.Ledger(model.EntryAdjustment))
	g.POST("/:ref/status", h.ChangeStatus)
	g.POST("/:ref/rebuild", h.Rebuild)
}
