package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-reservation/internal/service"
)

// VehicleHandler serves the caller's vehicles.
type VehicleHandler struct {
	Svc *service.Service
}

func NewVehicleHandler(svc *service.Service) *VehicleHandler { return &VehicleHandler{Svc: svc} }

// List returns the primary vehicle first.
func (h *VehicleHandler) List(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	out, err := h.Svc.ListVehicles(ctx, who)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *VehicleHandler) Add(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	var req service.VehicleInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	v, err := h.Svc.AddVehicle(ctx, who, req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *VehicleHandler) Update(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	var req service.VehicleInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	v, err := h.Svc.UpdateVehicle(ctx, who, c.Param("id"), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *VehicleHandler) Delete(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Svc.DeleteVehicle(ctx, who, c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SetPrimary handles POST /v1/vehicles/:id/primary.
func (h *VehicleHandler) SetPrimary(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Svc.SetPrimaryVehicle(ctx, who, c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
