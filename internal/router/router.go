// Package router maps the HTTP API onto its handlers and middleware.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-reservation/internal/handler"
)

// Handlers groups the endpoint implementations. IoT may be nil, which
// leaves the gate routes unregistered.
type Handlers struct {
	Auth         *handler.AuthHandler
	Lots         *handler.LotHandler
	Reservations *handler.ReservationHandler
	Sessions     *handler.SessionHandler
	Vehicles     *handler.VehicleHandler
	Staff        *handler.StaffHandler
	IoT          *handler.IoTHandler
	Stream       *handler.StreamHandler
}

// Middleware is the request pipeline shared by the route groups.
type Middleware struct {
	JWT       echo.MiddlewareFunc // middleware.JWTAuth
	RateLimit echo.MiddlewareFunc
	Cache     echo.MiddlewareFunc // applied to the public lot listing only
	Device    echo.MiddlewareFunc // middleware.DeviceKey
}

// RegisterRoutes registers the health check and every /v1 route.
func RegisterRoutes(e *echo.Echo, h Handlers, m Middleware) {
	e.GET("/healthz", handler.Health)

	v1 := e.Group("/v1", m.RateLimit)
	registerPublic(v1, h, m)
	registerAuth(v1, h, m)
	registerDriver(v1, h, m)
	registerStaff(v1, h, m)
	if h.IoT != nil {
		registerIoT(v1, h, m)
	}
}

// registerPublic exposes the browse endpoints to guests.
func registerPublic(v1 *echo.Group, h Handlers, m Middleware) {
	v1.GET("/lots", h.Lots.List, m.Cache)
	v1.GET("/lots/:id", h.Lots.Get)
	v1.GET("/lots/:id/spots", h.Lots.Spots)
	v1.GET("/spots/:id", h.Lots.Spot)
}

// registerAuth: register, login and refresh need no token; logout and the
// profile act on the caller's session.
func registerAuth(v1 *echo.Group, h Handlers, m Middleware) {
	g := v1.Group("/auth")
	g.POST("/register", h.Auth.Register)
	g.POST("/login", h.Auth.Login)
	g.POST("/refresh", h.Auth.Refresh)
	g.POST("/logout", h.Auth.Logout, m.JWT)

	v1.GET("/me", h.Auth.Me, m.JWT)
	v1.PATCH("/me", h.Auth.UpdateMe, m.JWT)
}
