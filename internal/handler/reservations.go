package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-reservation/internal/render"
	"github.com/iliyamo/parking-reservation/internal/service"
)

// ReservationHandler serves the driver's reservations.
type ReservationHandler struct {
	Svc *service.Service
}

func NewReservationHandler(svc *service.Service) *ReservationHandler {
	return &ReservationHandler{Svc: svc}
}

// Create handles POST /v1/reservations. The spot is given by spot_id or
// by spot_code within lot_id.
func (h *ReservationHandler) Create(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	var req service.ReserveInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	r, err := h.Svc.Reserve(ctx, who, req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, r)
}

// List handles GET /v1/reservations: ACTIVE and COMPLETED, newest first.
func (h *ReservationHandler) List(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	out, err := h.Svc.ListReservations(ctx, who)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ReservationHandler) Get(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	r, err := h.Svc.GetReservation(ctx, who, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// Cancel handles DELETE /v1/reservations/:id and the staff cancel route.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	r, err := h.Svc.CancelReservation(ctx, who, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// QR handles GET /v1/reservations/:id/qr and returns the check-in code as
// a PNG.
func (h *ReservationHandler) QR(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	payload, err := h.Svc.CheckInCode(ctx, who, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	png, err := render.QR(payload)
	if err != nil {
		return fail(c, err)
	}
	return c.Blob(http.StatusOK, "image/png", png)
}

// CheckIn handles POST /v1/reservations/:id/check-in.
func (h *ReservationHandler) CheckIn(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	sess, err := h.Svc.CheckIn(ctx, who, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, sess)
}
