package handler

import (
    "errors"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/seat-settlement/internal/repository"
    "github.com/iliyamo/seat-settlement/internal/service"
)

// AdminHandler serves staff settlement and lock administration.
type AdminHandler struct {
    Orders    *service.OrderService
    Locks     *service.LockManager
    EmailLogs *repository.EmailLogRepo
}

// NewAdminHandler panics if any dependency is nil.
func NewAdminHandler(orders *service.OrderService, locks *service.LockManager, emailLogs *repository.EmailLogRepo) *AdminHandler {
    if orders == nil || locks == nil || emailLogs == nil {
        panic("nil dependency passed to NewAdminHandler")
    }
    return &AdminHandler{Orders: orders, Locks: locks, EmailLogs: emailLogs}
}

type confirmReq struct {
    TransactionID string `json:"transactionId" validate:"omitempty,max=100"`
    Notes         string `json:"notes" validate:"omitempty,max=1000"`
    TemplateID    string `json:"templateId"`
}

type rejectReq struct {
    Reason string `json:"reason" validate:"required,max=500"`
}

type forceReleaseReq struct {
    EventID string   `json:"eventId" validate:"required"`
    SeatIDs []string `json:"seatIds" validate:"required,min=1,dive,required"`
}

// Confirm settles an order.  A repeat confirmation answers 409
// ALREADY_PAID together with the settled order so the caller can treat it
// as success.
func (h *AdminHandler) Confirm(c echo.Context) error {
    var req confirmReq
    if c.Request().ContentLength != 0 {
        if err := bind(c, &req); err != nil {
            return respondError(c, err)
        }
    }
    res, err := h.Orders.Confirm(c.Request().Context(), service.ConfirmInput{
        OrderID:       c.Param("id"),
        TransactionID: req.TransactionID,
        Notes:         strings.TrimSpace(req.Notes),
        TemplateID:    strings.TrimSpace(req.TemplateID),
        Actor:         actor(c),
        Request:       requestInfo(c),
    })
    if err != nil {
        if errors.Is(err, service.ErrAlreadyPaid) && res != nil {
            return c.JSON(http.StatusConflict, echo.Map{"error": "order is already paid", "code": service.CodeAlreadyPaid, "order": res})
        }
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, res)
}

// Reject cancels an unpaid order with a reason.
func (h *AdminHandler) Reject(c echo.Context) error {
    var req rejectReq
    if err := bind(c, &req); err != nil {
        return respondError(c, err)
    }
    order, err := h.Orders.Reject(c.Request().Context(), service.RejectInput{
        OrderID: c.Param("id"),
        Reason:  req.Reason,
        Actor:   actor(c),
        Request: requestInfo(c),
    })
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, order)
}

// ResendTicket mails a fresh ticket link for a paid order.
func (h *AdminHandler) ResendTicket(c echo.Context) error {
    if err := h.Orders.ResendTicket(c.Request().Context(), c.Param("id"), actor(c), requestInfo(c)); err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"status": "queued"})
}

// SendReminder mails the payment instructions of a pending order again.
// Only one reminder per order is sent; a repeat answers 409 ALREADY_SENT.
func (h *AdminHandler) SendReminder(c echo.Context) error {
    res, err := h.Orders.SendReminder(c.Request().Context(), c.Param("id"), actor(c), requestInfo(c))
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, res)
}

type sendEmailReq struct {
    TemplateID string `json:"templateId" validate:"required"`
}

// SendEmail mails an order using a template picked by staff.
func (h *AdminHandler) SendEmail(c echo.Context) error {
    var req sendEmailReq
    if err := bind(c, &req); err != nil {
        return respondError(c, err)
    }
    res, err := h.Orders.SendTemplateEmail(c.Request().Context(), c.Param("id"), req.TemplateID, actor(c), requestInfo(c))
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, res)
}

// Audit lists the audit trail of an order, oldest first.
func (h *AdminHandler) Audit(c echo.Context) error {
    entries, err := h.Orders.AuditTrail(c.Request().Context(), c.Param("id"))
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"entries": entries})
}

// Emails lists every mail attempt for an order, newest first.
func (h *AdminHandler) Emails(c echo.Context) error {
    ctx := c.Request().Context()
    if _, err := h.Orders.GetOrder(ctx, c.Param("id")); err != nil {
        return respondError(c, err)
    }
    logs, err := h.EmailLogs.ListByOrder(ctx, c.Param("id"))
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"emails": logs})
}

// ListLocks returns every live lock of an event.
func (h *AdminHandler) ListLocks(c echo.Context) error {
    eventID := strings.TrimSpace(c.QueryParam("eventId"))
    if eventID == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "eventId is required", "code": "VALIDATION_ERROR"})
    }
    locks, err := h.Locks.ListForEvent(c.Request().Context(), eventID)
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"locks": locks})
}

// ForceRelease drops locks regardless of holder.
func (h *AdminHandler) ForceRelease(c echo.Context) error {
    var req forceReleaseReq
    if err := bind(c, &req); err != nil {
        return respondError(c, err)
    }
    n, err := h.Locks.ForceRelease(c.Request().Context(), req.EventID, req.SeatIDs)
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"released": n})
}
