package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-reservation/internal/render"
	"github.com/iliyamo/parking-reservation/internal/repository"
	"github.com/iliyamo/parking-reservation/internal/service"
)

// SessionHandler serves the driver's parking sessions.
type SessionHandler struct {
	Svc *service.Service
}

func NewSessionHandler(svc *service.Service) *SessionHandler { return &SessionHandler{Svc: svc} }

type checkoutReq struct {
	ExitMethod string `json:"exit_method"`
}

// Active handles GET /v1/sessions/active.
func (h *SessionHandler) Active(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	out, err := h.Svc.ListActiveSessions(ctx, who)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// History handles GET /v1/sessions/history?status=&from=&to=&limit=.
// from and to accept RFC 3339 or a date (YYYY-MM-DD) in the business
// timezone.
func (h *SessionHandler) History(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	f := service.HistoryFilter{Status: c.QueryParam("status")}
	if f.Limit, err = queryInt(c, "limit"); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if f.From, err = h.parseTime(c.QueryParam("from")); err != nil {
		return fail(c, err)
	}
	if f.To, err = h.parseTime(c.QueryParam("to")); err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	out, err := h.Svc.ListHistory(ctx, who, f)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *SessionHandler) parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, h.Svc.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad time %q", repository.ErrValidation, s)
	}
	return t, nil
}

func (h *SessionHandler) Get(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	sess, err := h.Svc.GetSession(ctx, who, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

// Checkout handles POST /v1/sessions/:id/checkout. The session stays
// ACTIVE until staff confirm the payment.
func (h *SessionHandler) Checkout(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	var req checkoutReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	sess, err := h.Svc.Checkout(ctx, who, c.Param("id"), req.ExitMethod)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

// Receipt handles GET /v1/sessions/:id/receipt and returns a PDF.
func (h *SessionHandler) Receipt(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	sess, lot, err := h.Svc.Receipt(ctx, who, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	pdf, err := render.Receipt(sess, lot, h.Svc.Location())
	if err != nil {
		return fail(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename=receipt-"+sess.ID+".pdf")
	return c.Blob(http.StatusOK, "application/pdf", pdf)
}
