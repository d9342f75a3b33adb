package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-reservation/internal/service"
)

// LotHandler serves the public browse endpoints. No authentication is
// required so that guests can look for a spot before signing up.
type LotHandler struct {
	Svc *service.Service
}

func NewLotHandler(svc *service.Service) *LotHandler { return &LotHandler{Svc: svc} }

// List handles GET /v1/lots?q=. It returns active lots matching q.
func (h *LotHandler) List(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	lots, err := h.Svc.SearchLots(ctx, c.QueryParam("q"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, lots)
}

// Get handles GET /v1/lots/:id.
func (h *LotHandler) Get(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	lot, err := h.Svc.GetLot(ctx, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, lot)
}

// Spots handles GET /v1/lots/:id/spots?filter=ALL|AVAILABLE|OCCUPIED|RESERVED.
func (h *LotHandler) Spots(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	spots, err := h.Svc.ListSpots(ctx, c.Param("id"), c.QueryParam("filter"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, spots)
}

// Spot handles GET /v1/spots/:id.
func (h *LotHandler) Spot(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	spot, err := h.Svc.GetSpot(ctx, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, spot)
}
