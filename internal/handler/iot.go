package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-reservation/internal/iot"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

// IoTHandler receives plate readings from camera gates and hands out
// barrier commands. Routes are guarded by middleware.DeviceKey.
type IoTHandler struct {
	Proc *iot.Processor
}

func NewIoTHandler(p *iot.Processor) *IoTHandler { return &IoTHandler{Proc: p} }

// Entry handles POST /v1/iot/entry and answers with the command issued for
// the reading (OPEN_BARRIER or DENY_ENTRY).
func (h *IoTHandler) Entry(c echo.Context) error {
	var req iot.Reading
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	cmd, err := h.Proc.Entry(ctx, req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusAccepted, cmd)
}

// Exit handles POST /v1/iot/exit (OPEN_BARRIER, WAIT_PAYMENT or DENY_EXIT).
func (h *IoTHandler) Exit(c echo.Context) error {
	var req iot.Reading
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	cmd, err := h.Proc.Exit(ctx, req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusAccepted, cmd)
}

// NextCommand handles GET /v1/iot/commands/:device_id. The oldest pending
// command is returned and marked executed; 204 means nothing is pending.
func (h *IoTHandler) NextCommand(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	cmd, err := h.Proc.NextCommand(ctx, c.Param("device_id"))
	if errors.Is(err, repository.ErrNotFound) {
		return c.NoContent(http.StatusNoContent)
	}
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, cmd)
}
