package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-reservation/internal/identity"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/realtime"
	"github.com/iliyamo/parking-reservation/internal/service"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// StreamHandler pushes realtime change events over websockets. Every
// message is one realtime.Event: the changes and the full snapshot after
// them. The socket is closed when the feed ends, which happens on logout,
// on a slow reader, or when the client goes away.
type StreamHandler struct {
	Svc      *service.Service
	Upgrader websocket.Upgrader
}

// NewStreamHandler accepts upgrades from the given origins; "*" or an
// empty list accepts any origin.
func NewStreamHandler(svc *service.Service, origins []string) *StreamHandler {
	allowed := map[string]bool{}
	for _, o := range origins {
		allowed[o] = true
	}
	return &StreamHandler{
		Svc: svc,
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				o := r.Header.Get("Origin")
				return len(allowed) == 0 || allowed["*"] || o == "" || allowed[o]
			},
		},
	}
}

// Spots handles GET /v1/ws/lots/:id/spots.
func (h *StreamHandler) Spots(c echo.Context) error {
	lotID := c.Param("id")
	return stream(c, &h.Upgrader, func(ctx context.Context, who identity.Session) (<-chan realtime.Event[model.ParkingSpot], error) {
		if ids := h.Svc.Identity(); ids != nil {
			var cancel context.CancelFunc
			ctx, cancel = ids.Bind(ctx, who.ID)
			// the feed closes when ctx ends; cancel is released with it
			go func() { <-ctx.Done(); cancel() }()
		}
		return h.Svc.ObserveSpots(ctx, lotID)
	})
}

// Reservations handles GET /v1/ws/reservations.
func (h *StreamHandler) Reservations(c echo.Context) error {
	return stream(c, &h.Upgrader, h.Svc.ObserveUserReservations)
}

// Sessions handles GET /v1/ws/sessions.
func (h *StreamHandler) Sessions(c echo.Context) error {
	return stream(c, &h.Upgrader, h.Svc.ObserveUserActiveSessions)
}

// stream opens the feed before upgrading so that errors are still plain
// HTTP responses, then copies events to the socket until either side ends.
func stream[T any](c echo.Context, up *websocket.Upgrader,
	open func(context.Context, identity.Session) (<-chan realtime.Event[T], error)) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	feed, err := open(ctx, who)
	if err != nil {
		return fail(c, err)
	}
	conn, err := up.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the error response.
		return nil
	}
	defer conn.Close()

	// The client never sends data; reading only notices close frames and
	// dead connections.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-feed:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return nil
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}
