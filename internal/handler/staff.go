package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/service"
)

// StaffHandler serves lot administration, walk-ins, payments and the
// dashboard. Routes are guarded by RequireRole(STAFF) and the service
// checks the role again.
type StaffHandler struct {
	Svc *service.Service
}

func NewStaffHandler(svc *service.Service) *StaffHandler { return &StaffHandler{Svc: svc} }

type spotStatusReq struct {
	Status string `json:"status"`
}

// CreateLot handles POST /v1/staff/lots.
func (h *StaffHandler) CreateLot(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	var req service.LotInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	lot, err := h.Svc.CreateLot(ctx, who, req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, lot)
}

// CreateSpot handles POST /v1/staff/lots/:id/spots.
func (h *StaffHandler) CreateSpot(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	var req service.SpotInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	spot, err := h.Svc.CreateSpot(ctx, who, c.Param("id"), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, spot)
}

// ResetSpots handles POST /v1/staff/lots/:id/spots/reset. Spots held by an
// active reservation or session are left alone.
func (h *StaffHandler) ResetSpots(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	n, err := h.Svc.ResetSpots(ctx, who, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"reset": n})
}

func (h *StaffHandler) UpdateSpot(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	var req service.SpotInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	spot, err := h.Svc.UpdateSpot(ctx, who, c.Param("id"), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, spot)
}

func (h *StaffHandler) DeleteSpot(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Svc.DeleteSpot(ctx, who, c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SetSpotStatus handles PATCH /v1/staff/spots/:id/status with
// {"status": "AVAILABLE" | "OUT_OF_SERVICE"}.
func (h *StaffHandler) SetSpotStatus(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	var req spotStatusReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	status := model.SpotStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	spot, err := h.Svc.SetSpotState(ctx, who, c.Param("id"), status)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, spot)
}

// StartSession handles POST /v1/staff/sessions (walk-in). Without spot_id
// the first available spot of the lot is taken.
func (h *StaffHandler) StartSession(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	var req service.StartSessionInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	sess, err := h.Svc.StartSession(ctx, who, req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, sess)
}

// PendingExits handles GET /v1/staff/sessions/pending-exits?lot_id=.
func (h *StaffHandler) PendingExits(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	out, err := h.Svc.PendingExits(ctx, who, c.QueryParam("lot_id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// ConfirmPayment handles POST /v1/staff/sessions/:id/confirm-payment. An
// amount of 0 settles the outstanding balance.
func (h *StaffHandler) ConfirmPayment(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	var req service.ConfirmPaymentInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	sess, err := h.Svc.ConfirmPayment(ctx, who, c.Param("id"), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

// OverrideFee handles POST /v1/staff/sessions/:id/override-fee.
func (h *StaffHandler) OverrideFee(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	var req service.OverrideFeeInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	sess, err := h.Svc.OverrideFee(ctx, who, c.Param("id"), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *StaffHandler) CancelSession(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	sess, err := h.Svc.CancelSession(ctx, who, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

// Dashboard handles GET /v1/staff/dashboard?lot_id=. An empty lot_id
// aggregates every lot.
func (h *StaffHandler) Dashboard(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	d, err := h.Svc.Dashboard(ctx, who, c.QueryParam("lot_id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

// Activity handles GET /v1/staff/activity?type=ENTRY|EXIT|ALL&limit=&q=.
// With q the log is searched by spot code or plate instead.
func (h *StaffHandler) Activity(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	var logs []model.ActivityLog
	switch q, typ := c.QueryParam("q"), c.QueryParam("type"); {
	case q != "":
		logs, err = h.Svc.SearchLogs(ctx, who, q)
	case typ != "":
		logs, err = h.Svc.ActivityLogs(ctx, who, limit, model.ActivityType(strings.ToUpper(typ)))
	default:
		logs, err = h.Svc.RecentActivity(ctx, who, limit)
	}
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, logs)
}
