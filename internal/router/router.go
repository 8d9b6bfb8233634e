// Package router registers HTTP routes and their middleware.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-lock/internal/handler"
	"github.com/iliyamo/cinema-seat-lock/internal/middleware"
	"github.com/iliyamo/cinema-seat-lock/internal/model"
)

// Handlers groups everything the routes dispatch to.
type Handlers struct {
	Auth     *handler.AuthHandler
	Seats    *handler.SeatHandler
	Holds    *handler.HoldHandler
	Payments *handler.PaymentHandler
	Owner    *handler.OwnerHandler
}

// Options carries route middleware built by the composition root.
type Options struct {
	JWTSecret string
	RateLimit echo.MiddlewareFunc // lock and payment routes
	Cache     echo.MiddlewareFunc // seat layout route
	MockPSP   bool                // mount /mock-psp; only with the mock gateway
}

// Register mounts every route on e.
func Register(e *echo.Echo, h Handlers, opt Options) {
	if opt.RateLimit == nil {
		opt.RateLimit = passthrough
	}
	if opt.Cache == nil {
		opt.Cache = passthrough
	}
	RegisterRoutes(e)
	RegisterAuth(e, h.Auth, opt.JWTSecret)
	RegisterPublic(e, h.Seats, h.Payments, opt.Cache, opt.MockPSP)
	RegisterCustomer(e, h.Holds, h.Payments, opt.JWTSecret, opt.RateLimit)
	RegisterOwner(e, h.Owner, opt.JWTSecret)
}

func passthrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

// RegisterRoutes registers the health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers /v1/auth and the protected /v1/me.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)

	e.GET("/v1/me", a.Me,
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleOwner, model.RoleCustomer))
}

// RegisterPublic registers unauthenticated endpoints: seat availability,
// the cached seat layout and the PSP callbacks.  The mock PSP is mounted
// only when mockPSP is set.
func RegisterPublic(e *echo.Echo, s *handler.SeatHandler, p *handler.PaymentHandler, cache echo.MiddlewareFunc, mockPSP bool) {
	e.GET("/v1/shows/:id/seats", s.GetSeats)
	e.GET("/v1/shows/:id/layout", s.GetLayout, cache)

	if mockPSP {
		e.GET("/mock-psp", p.MockPSPPage)
		e.POST("/mock-psp", p.MockPSP)
	}
	e.POST("/v1/webhooks/stripe", p.StripeWebhook)
}
