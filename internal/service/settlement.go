package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/seat-settlement/internal/model"
	"github.com/iliyamo/seat-settlement/internal/repository"
)

// ConfirmInput is a staff member's confirmation that a transfer arrived.
type ConfirmInput struct {
	OrderID       string
	TransactionID string
	Notes         string
	TemplateID    string
	Actor         Actor
	Request       RequestInfo
}

// ConfirmResult describes the settled order.  It is also returned with an
// ALREADY_PAID conflict so callers can treat a repeat as success.
type ConfirmResult struct {
	OrderID     string     `json:"orderId"`
	OrderNumber string     `json:"orderNumber"`
	Status      string     `json:"status"`
	PaidAt      *time.Time `json:"paidAt"`
}

// Confirm settles an order: it marks the order PAID, completes the
// payment, sells the seats, decrements event capacity and records an
// audit entry, all in one transaction.  The order row lock serialises
// concurrent confirmations so exactly one commits; the others observe PAID
// and get ALREADY_PAID together with the settled order.
//
// Ticket issuance, lock cleanup and the customer mail run after commit and
// never undo the sale.
func (s *OrderService) Confirm(ctx context.Context, in ConfirmInput) (*ConfirmResult, error) {
	tx, txCtx, cancel, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	order, err := s.orders.GetForUpdateTx(txCtx, tx, in.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFound("order not found")
		}
		return nil, fmt.Errorf("load order: %w", err)
	}
	now := s.now()
	if order.Status == model.OrderPaid {
		return resultOf(order), conflict(CodeAlreadyPaid, "order is already paid")
	}
	if err := settleableStatus(order); err != nil {
		return nil, err
	}
	if order.Status == model.OrderPending && order.PaymentWindowPassed(now) {
		return nil, conflict(CodeOrderExpired, "payment window has passed")
	}

	items, err := s.orders.ItemsTx(txCtx, tx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	if len(items) == 0 {
		return nil, conflict(CodeInvalidStatus, "order has no seats")
	}
	seatIDs := itemSeatIDs(items)
	seats, err := s.seats.LockByIDsTx(txCtx, tx, seatIDs)
	if err != nil {
		return nil, fmt.Errorf("lock seats: %w", err)
	}
	if len(seats) != len(seatIDs) {
		return nil, fmt.Errorf("order %s references %d seats, found %d", order.ID, len(seatIDs), len(seats))
	}
	var sold []string
	for _, seat := range seats {
		if seat.Status == model.SeatSold {
			sold = append(sold, seat.ID)
		}
	}
	if len(sold) > 0 {
		return nil, conflict(CodeSeatSold, "seats were already sold", sold...)
	}
	existing, err := s.payments.GetByOrderTx(txCtx, tx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("load payment: %w", err)
	}

	txnID := strings.TrimSpace(in.TransactionID)
	if txnID == "" {
		txnID = "MANUAL-" + strconv.FormatInt(now.UnixMilli(), 10)
	}
	meta := model.PaymentMetadata{ConfirmedAt: now.Format(time.RFC3339), Notes: in.Notes}
	if !in.Actor.IsSystem() {
		uid := in.Actor.UserID
		meta.ConfirmedBy = &uid
	}
	payment := &model.Payment{
		ID:            uuid.NewString(),
		OrderID:       order.ID,
		Amount:        order.TotalAmount,
		PaymentMethod: model.PaymentMethodBankTransfer,
		Status:        model.PaymentCompleted,
		TransactionID: &txnID,
		Metadata:      jsonString(meta),
		PaidAt:        &now,
	}
	oldPayment := model.PaymentPending
	if existing != nil {
		payment.ID = existing.ID
		payment.PaymentMethod = existing.PaymentMethod
		oldPayment = existing.Status
	}

	if err := s.orders.MarkPaidTx(txCtx, tx, order.ID, now); err != nil {
		return nil, fmt.Errorf("mark paid: %w", err)
	}
	if err := s.payments.UpsertTx(txCtx, tx, payment); err != nil {
		return nil, fmt.Errorf("upsert payment: %w", err)
	}
	if _, err := s.seats.UpdateStatusTx(txCtx, tx, seatIDs, model.SeatSold); err != nil {
		return nil, fmt.Errorf("sell seats: %w", err)
	}
	if err := s.events.DecrementAvailableTx(txCtx, tx, order.EventID, len(seatIDs)); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, conflict(CodeCapacity, "event has no remaining capacity")
		}
		return nil, fmt.Errorf("decrement capacity: %w", err)
	}
	entry := newAuditEntry(in.Actor, in.Request, model.AuditConfirm, model.AuditEntityPayment, order.ID,
		map[string]any{"orderStatus": order.Status, "paymentStatus": oldPayment, "seatStatus": seatStatusSummary(seats)},
		map[string]any{"orderStatus": model.OrderPaid, "paymentStatus": model.PaymentCompleted, "seatStatus": model.SeatSold, "transactionId": txnID},
		map[string]any{"orderNumber": order.OrderNumber, "notes": in.Notes})
	if err := s.audit.InsertTx(txCtx, tx, entry); err != nil {
		return nil, fmt.Errorf("write audit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	committed = true

	order.Status = model.OrderPaid
	order.PaidAt = &now
	order.ExpiresAt = nil
	log.Info().Str("order_id", order.ID).Str("event_id", order.EventID).Uint64("user_id", in.Actor.UserID).
		Int("seats", len(seatIDs)).Msg("payment confirmed")

	s.afterConfirm(context.WithoutCancel(ctx), order, seatIDs, in)
	return resultOf(order), nil
}

func (s *OrderService) afterConfirm(ctx context.Context, order model.Order, seatIDs []string, in ConfirmInput) {
	s.releaseLocks(ctx, order.EventID, seatIDs)

	vars, err := s.issueTicket(ctx, order)
	if err != nil {
		// The sale stands; staff can resend the ticket later.
		log.Error().Err(err).Str("order_id", order.ID).Msg("ticket issuance failed")
		return
	}
	job := NotificationJob{
		Purpose:     model.PurposeTicketConfirmed,
		TemplateID:  in.TemplateID,
		OrderID:     order.ID,
		TriggeredBy: in.Actor.triggeredBy(),
		Vars:        vars,
	}
	s.enqueue(ctx, job)
}

func resultOf(o model.Order) *ConfirmResult {
	return &ConfirmResult{OrderID: o.ID, OrderNumber: o.OrderNumber, Status: o.Status, PaidAt: o.PaidAt}
}

// seatStatusSummary is the common status of seats, or MIXED.
func seatStatusSummary(seats []model.Seat) string {
	if len(seats) == 0 {
		return ""
	}
	st := seats[0].Status
	for _, seat := range seats[1:] {
		if seat.Status != st {
			return "MIXED"
		}
	}
	return st
}
