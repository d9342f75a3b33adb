package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-reservation/internal/middleware"
	"github.com/iliyamo/parking-reservation/internal/model"
)

// registerDriver adds the routes a signed-in driver uses. Staff accounts
// may call them too; ownership is checked by the service.
func registerDriver(v1 *echo.Group, h Handlers, m Middleware) {
	g := v1.Group("", m.JWT, middleware.RequireRole(model.RoleDriver, model.RoleStaff))

	g.POST("/reservations", h.Reservations.Create)
	g.GET("/reservations", h.Reservations.List)
	g.GET("/reservations/:id", h.Reservations.Get)
	g.DELETE("/reservations/:id", h.Reservations.Cancel)
	g.GET("/reservations/:id/qr", h.Reservations.QR)
	g.POST("/reservations/:id/check-in", h.Reservations.CheckIn)

	g.GET("/sessions/active", h.Sessions.Active)
	g.GET("/sessions/history", h.Sessions.History)
	g.GET("/sessions/:id", h.Sessions.Get)
	g.POST("/sessions/:id/checkout", h.Sessions.Checkout)
	g.GET("/sessions/:id/receipt", h.Sessions.Receipt)

	g.GET("/vehicles", h.Vehicles.List)
	g.POST("/vehicles", h.Vehicles.Add)
	g.PUT("/vehicles/:id", h.Vehicles.Update)
	g.DELETE("/vehicles/:id", h.Vehicles.Delete)
	g.POST("/vehicles/:id/primary", h.Vehicles.SetPrimary)

	g.GET("/ws/lots/:id/spots", h.Stream.Spots)
	g.GET("/ws/reservations", h.Stream.Reservations)
	g.GET("/ws/sessions", h.Stream.Sessions)
}

// registerStaff adds the lot administration routes.
func registerStaff(v1 *echo.Group, h Handlers, m Middleware) {
	g := v1.Group("/staff", m.JWT, middleware.RequireRole(model.RoleStaff))

	g.POST("/lots", h.Staff.CreateLot)
	g.POST("/lots/:id/spots", h.Staff.CreateSpot)
	g.POST("/lots/:id/spots/reset", h.Staff.ResetSpots)
	g.PUT("/spots/:id", h.Staff.UpdateSpot)
	g.DELETE("/spots/:id", h.Staff.DeleteSpot)
	g.PATCH("/spots/:id/status", h.Staff.SetSpotStatus)

	g.POST("/sessions", h.Staff.StartSession)
	g.GET("/sessions/pending-exits", h.Staff.PendingExits)
	g.POST("/sessions/:id/confirm-payment", h.Staff.ConfirmPayment)
	g.POST("/sessions/:id/override-fee", h.Staff.OverrideFee)
	g.POST("/sessions/:id/cancel", h.Staff.CancelSession)

	g.POST("/reservations/:id/cancel", h.Reservations.Cancel)

	g.GET("/dashboard", h.Staff.Dashboard)
	g.GET("/activity", h.Staff.Activity)
}

// registerIoT adds the camera gate routes behind the shared device key.
func registerIoT(v1 *echo.Group, h Handlers, m Middleware) {
	g := v1.Group("/iot", m.Device)
	g.POST("/entry", h.IoT.Entry)
	g.POST("/exit", h.IoT.Exit)
	g.GET("/commands/:device_id", h.IoT.NextCommand)
}

