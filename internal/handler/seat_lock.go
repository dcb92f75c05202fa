package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/seat-settlement/internal/middleware"
	"github.com/iliyamo/seat-settlement/internal/service"
)

// maxBeaconBody caps the body read by the unload beacon.
const maxBeaconBody = 64 << 10

// SeatLockHandler serves the anonymous shopper lock API.
type SeatLockHandler struct {
	Locks *service.LockManager
}

func NewSeatLockHandler(locks *service.LockManager) *SeatLockHandler {
	if locks == nil {
		panic("nil lock manager passed to NewSeatLockHandler")
	}
	return &SeatLockHandler{Locks: locks}
}

type lockReq struct {
	EventID   string   `json:"eventId" validate:"required"`
	SeatIDs   []string `json:"seatIds" validate:"required,min=1,dive,required"`
	SessionID string   `json:"sessionId" validate:"required"`
}

// NewSession mints an anonymous shopper session id.
func (h *SeatLockHandler) NewSession(c echo.Context) error {
	return c.JSON(http.StatusCreated, echo.Map{"sessionId": uuid.NewString()})
}

// Lock acquires every requested seat or none of them.
func (h *SeatLockHandler) Lock(c echo.Context) error {
	var req lockReq
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	grant, err := h.Locks.Acquire(c.Request().Context(), req.EventID, req.SeatIDs, req.SessionID, 0)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, grant)
}

// Unlock releases seats the session holds.
func (h *SeatLockHandler) Unlock(c echo.Context) error {
	var req lockReq
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	n, err := h.Locks.Release(c.Request().Context(), req.EventID, req.SeatIDs, req.SessionID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"released": n})
}

// Beacon is the page-unload release.  Browsers send it as text/plain, so
// the body is decoded by hand.  It always answers 204.
func (h *SeatLockHandler) Beacon(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBeaconBody))
	if err != nil {
		return c.NoContent(http.StatusNoContent)
	}
	var req lockReq
	if err := json.Unmarshal(body, &req); err != nil || req.EventID == "" || req.SessionID == "" || len(req.SeatIDs) == 0 {
		log.Debug().Err(err).Msg("beacon: ignoring malformed body")
		return c.NoContent(http.StatusNoContent)
	}
	if _, err := h.Locks.Release(c.Request().Context(), req.EventID, req.SeatIDs, req.SessionID); err != nil {
		log.Warn().Err(err).Str("event_id", req.EventID).Str("session_id", req.SessionID).Msg("beacon release failed")
	}
	return c.NoContent(http.StatusNoContent)
}

// List returns the session's locks, optionally narrowed to one event.
func (h *SeatLockHandler) List(c echo.Context) error {
	eventID := strings.TrimSpace(c.QueryParam("eventId"))
	locks, err := h.Locks.ListForSession(c.Request().Context(), eventID, middleware.SessionID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, locks)
}

type extendReq struct {
	lockReq
	TTLSeconds int `json:"ttlSeconds" validate:"omitempty,min=1,max=3600"`
}

// Extend pushes the expiry of held seats forward.
func (h *SeatLockHandler) Extend(c echo.Context) error {
	var req extendReq
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	ok, exp, err := h.Locks.Extend(c.Request().Context(), req.EventID, req.SeatIDs, req.SessionID,
		time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		return respondError(c, err)
	}
	resp := echo.Map{"extended": ok}
	if ok {
		resp["expiresAt"] = exp
	}
	return c.JSON(http.StatusOK, resp)
}

// SeatMap returns every seat of an event with the lock projection for the
// asking session.
func (h *SeatLockHandler) SeatMap(c echo.Context) error {
	seats, err := h.Locks.SeatMap(c.Request().Context(), c.Param("id"), middleware.SessionID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"eventId": c.Param("id"), "seats": seats})
}
