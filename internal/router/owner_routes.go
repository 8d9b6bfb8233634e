package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-lock/internal/handler"
	"github.com/iliyamo/cinema-seat-lock/internal/middleware"
	"github.com/iliyamo/cinema-seat-lock/internal/model"
)

// RegisterOwner registers OWNER-scoped endpoints under /v1/owner.
func RegisterOwner(e *echo.Echo, o *handler.OwnerHandler, jwtSecret string) {
	g := e.Group(
		"/v1/owner",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleOwner),
	)
	g.PUT("/shows/:id/inventory", o.PutInventory)
	g.GET("/shows/:id/bookings", o.ListBookings)
}
