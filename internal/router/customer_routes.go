package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-lock/internal/handler"
	"github.com/iliyamo/cinema-seat-lock/internal/middleware"
	"github.com/iliyamo/cinema-seat-lock/internal/model"
)

// RegisterCustomer registers the seat hold and payment flow under /v1.
// All routes require a valid JWT and the CUSTOMER role; locking and paying
// are rate limited.
func RegisterCustomer(e *echo.Echo, h *handler.HoldHandler, p *handler.PaymentHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleCustomer),
	)
	g.POST("/holds", h.Lock, limit)
	g.POST("/holds/release", h.Release)
	g.GET("/holds/:ref", h.Get)
	g.POST("/holds/:ref/abandon", h.Abandon)

	g.POST("/payments", p.Pay, limit)
	g.GET("/bookings/:id", p.GetBooking)
}
