package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-settlement/internal/service"
)

// OrderHandler serves the shopper side of the order lifecycle.
type OrderHandler struct {
	Orders *service.OrderService
}

func NewOrderHandler(orders *service.OrderService) *OrderHandler {
	if orders == nil {
		panic("nil order service passed to NewOrderHandler")
	}
	return &OrderHandler{Orders: orders}
}

type submitPaymentReq struct {
	SessionID     string `json:"sessionId" validate:"required"`
	CustomerName  string `json:"customerName" validate:"required,max=255"`
	CustomerEmail string `json:"customerEmail" validate:"required,email"`
	CustomerPhone string `json:"customerPhone" validate:"omitempty,max=32"`
}

// Create turns the session's locked seats into a PENDING order.
func (h *OrderHandler) Create(c echo.Context) error {
	var req lockReq
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	order, items, err := h.Orders.CreatePending(c.Request().Context(), service.CreateOrderInput{
		EventID:   req.EventID,
		SeatIDs:   req.SeatIDs,
		SessionID: req.SessionID,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"expiresAt":   order.ExpiresAt,
		"totalAmount": order.TotalAmount,
		"items":       items,
	})
}

// SubmitPayment records the shopper's transfer and contact details.
func (h *OrderHandler) SubmitPayment(c echo.Context) error {
	var req submitPaymentReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body", "code": "VALIDATION_ERROR"})
	}
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerEmail = strings.ToLower(strings.TrimSpace(req.CustomerEmail))
	req.CustomerPhone = strings.TrimSpace(req.CustomerPhone)
	if err := c.Validate(&req); err != nil {
		return respondError(c, err)
	}
	order, err := h.Orders.SubmitPayment(c.Request().Context(), service.SubmitPaymentInput{
		OrderID:       c.Param("id"),
		SessionID:     req.SessionID,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, order)
}

// Ticket shows a paid order to the holder of its access token.
func (h *OrderHandler) Ticket(c echo.Context) error {
	token := strings.TrimSpace(c.QueryParam("token"))
	if token == "" {
		return respondError(c, service.ErrNotFound)
	}
	view, err := h.Orders.Ticket(c.Request().Context(), c.Param("orderNumber"), token)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}
