package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/seat-settlement/internal/model"
	"github.com/iliyamo/seat-settlement/internal/repository"
	"github.com/iliyamo/seat-settlement/internal/utils"
)

// Defaults for OrderOptions.
const (
	DefaultOrderExpiry = 15 * time.Minute
	DefaultTxTimeout   = 30 * time.Second
)

// Actor identifies who triggered a state change.  The zero Actor is the
// system.
type Actor struct {
	UserID uint64
	Role   string
}

// IsSystem reports whether no staff member is attached.
func (a Actor) IsSystem() bool { return a.UserID == 0 }

func (a Actor) triggeredBy() string {
	if a.IsSystem() {
		return TriggeredBySystem
	}
	return fmt.Sprintf("USER:%d", a.UserID)
}

// RequestInfo is the client metadata copied into audit entries.
type RequestInfo struct {
	IP        string
	UserAgent string
}

// OrderOptions tunes an OrderService.
type OrderOptions struct {
	OrderExpiry time.Duration
	TxTimeout   time.Duration
	ClientURL   string
	// Sender delivers the mails staff wait on, such as payment reminders.
	// Without one those calls fail.
	Sender NotificationSender
}

// NotificationSender delivers a job synchronously.  *Dispatcher
// satisfies it.
type NotificationSender interface {
	Process(ctx context.Context, job NotificationJob) (SendResult, error)
}

// OrderRepos groups the repositories the order lifecycle writes to.
type OrderRepos struct {
	Orders   *repository.OrderRepo
	Seats    *repository.SeatRepo
	Payments *repository.PaymentRepo
	Events   *repository.EventRepo
	Audit    *repository.AuditRepo
}

// OrderService owns every order state transition: creation from locked
// seats, payment submission, staff confirmation and rejection, expiry and
// ticket access.
type OrderService struct {
	db       *sqlx.DB
	orders   *repository.OrderRepo
	seats    *repository.SeatRepo
	payments *repository.PaymentRepo
	events   *repository.EventRepo
	audit    *repository.AuditRepo
	locks    *LockManager
	queue    NotificationQueue
	opts     OrderOptions
	now      func() time.Time
}

// NewOrderService wires an OrderService.  All repositories and the lock
// manager must be non-nil; queue may be nil, in which case notifications
// are dropped with a warning.
func NewOrderService(db *sqlx.DB, repos OrderRepos, locks *LockManager, queue NotificationQueue, opts OrderOptions) *OrderService {
	if db == nil || repos.Orders == nil || repos.Seats == nil || repos.Payments == nil ||
		repos.Events == nil || repos.Audit == nil || locks == nil {
		panic("nil dependency passed to NewOrderService")
	}
	if opts.OrderExpiry <= 0 {
		opts.OrderExpiry = DefaultOrderExpiry
	}
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = DefaultTxTimeout
	}
	opts.ClientURL = strings.TrimRight(opts.ClientURL, "/")
	return &OrderService{
		db:       db,
		orders:   repos.Orders,
		seats:    repos.Seats,
		payments: repos.Payments,
		events:   repos.Events,
		audit:    repos.Audit,
		locks:    locks,
		queue:    queue,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// beginTx opens a transaction bounded by the settlement timeout.  The
// returned cancel must be called once the transaction is finished.
func (s *OrderService) beginTx(ctx context.Context) (*sqlx.Tx, context.Context, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.TxTimeout)
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	return tx, ctx, cancel, nil
}

// CreateOrderInput is a request to turn locked seats into an order.
type CreateOrderInput struct {
	EventID   string
	SeatIDs   []string
	SessionID string
}

const orderNumberAttempts = 3

// CreatePending creates a PENDING order for seats the session holds.  The
// order captures seat prices at this moment and the seat locks are
// extended to the order's payment window.
func (s *OrderService) CreatePending(ctx context.Context, in CreateOrderInput) (*model.Order, []model.OrderItem, error) {
	ids, err := validateLockArgs(in.EventID, in.SessionID, in.SeatIDs)
	if err != nil {
		return nil, nil, err
	}
	if err := s.locks.VerifyHeld(ctx, in.EventID, ids, in.SessionID); err != nil {
		return nil, nil, err
	}
	if _, err := s.events.GetByID(ctx, in.EventID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, notFound("event not found")
		}
		return nil, nil, fmt.Errorf("load event: %w", err)
	}

	tx, ctx, cancel, err := s.beginTx(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer cancel()
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	seats, err := s.seats.LockByIDsTx(ctx, tx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("lock seats: %w", err)
	}
	if err := sellableForEvent(seats, in.EventID, ids); err != nil {
		return nil, nil, err
	}
	taken, err := s.orders.OpenSeatIDsTx(ctx, tx, in.EventID, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("check open orders: %w", err)
	}
	if len(taken) > 0 {
		return nil, nil, conflict(CodeSeatUnavailable, "seats already belong to an open order", taken...)
	}

	now := s.now()
	expires := now.Add(s.opts.OrderExpiry)
	order := &model.Order{
		ID:        uuid.NewString(),
		EventID:   in.EventID,
		SessionID: in.SessionID,
		Status:    model.OrderPending,
		ExpiresAt: &expires,
		CreatedAt: now,
		UpdatedAt: now,
	}
	items := make([]model.OrderItem, 0, len(seats))
	for _, seat := range seats {
		order.TotalAmount += seat.Price
		items = append(items, model.OrderItem{
			ID:         uuid.NewString(),
			OrderID:    order.ID,
			SeatID:     seat.ID,
			SeatNumber: seat.SeatNumber,
			SeatType:   seat.SeatType,
			Price:      seat.Price,
			CreatedAt:  now,
		})
	}

	for attempt := 1; ; attempt++ {
		if order.OrderNumber, err = utils.NewOrderNumber(now); err != nil {
			return nil, nil, fmt.Errorf("order number: %w", err)
		}
		err = s.orders.CreateTx(ctx, tx, order)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrConflict) || attempt == orderNumberAttempts {
			return nil, nil, fmt.Errorf("insert order: %w", err)
		}
	}
	if err := s.orders.CreateItemsTx(ctx, tx, items); err != nil {
		return nil, nil, fmt.Errorf("insert order items: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	committed = true

	if ok, _, err := s.locks.Extend(ctx, in.EventID, ids, in.SessionID, s.opts.OrderExpiry); err != nil || !ok {
		log.Warn().Err(err).Str("order_id", order.ID).Msg("extend seat locks to order window failed")
	}
	log.Info().Str("order_id", order.ID).Str("event_id", in.EventID).Str("session_id", in.SessionID).
		Int("seats", len(items)).Msg("order created")
	return order, items, nil
}

// sellableForEvent checks that every id resolved to a seat of eventID
// that is neither reserved nor sold.
func sellableForEvent(seats []model.Seat, eventID string, ids []string) error {
	found := make(map[string]model.Seat, len(seats))
	for _, s := range seats {
		found[s.ID] = s
	}
	var unavailable []string
	for _, id := range ids {
		s, ok := found[id]
		if !ok || s.EventID != eventID {
			e := notFound("seat not found: " + id)
			e.SeatIDs = []string{id}
			return e
		}
		if !s.Sellable() {
			unavailable = append(unavailable, id)
		}
	}
	if len(unavailable) > 0 {
		return conflict(CodeSeatUnavailable, "seats are no longer available", unavailable...)
	}
	return nil
}

// SubmitPaymentInput carries the shopper's contact details.
type SubmitPaymentInput struct {
	OrderID       string
	SessionID     string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
}

// SubmitPayment records that the shopper has transferred the money.  The
// order moves to PENDING_CONFIRMATION, its seats are RESERVED in the
// database and the pre-sale locks are no longer needed.
func (s *OrderService) SubmitPayment(ctx context.Context, in SubmitPaymentInput) (*model.Order, error) {
	tx, ctx, cancel, err := s.beginTx(ctx)
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

	order, err := s.orders.GetForUpdateTx(ctx, tx, in.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFound("order not found")
		}
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order.SessionID != in.SessionID {
		return nil, &Error{Kind: KindForbidden, Message: "order belongs to another session"}
	}
	now := s.now()
	switch {
	case order.Status == model.OrderPaid:
		return &order, conflict(CodeAlreadyPaid, "order is already paid")
	case order.Closed():
		return nil, conflict(CodeOrderClosed, "order is "+strings.ToLower(order.Status))
	case order.Status != model.OrderPending:
		return nil, conflict(CodeInvalidStatus, "payment was already submitted")
	case order.PaymentWindowPassed(now):
		return nil, conflict(CodeOrderExpired, "payment window has passed")
	}

	items, err := s.orders.ItemsTx(ctx, tx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	seatIDs := itemSeatIDs(items)
	if _, err := s.seats.UpdateStatusTx(ctx, tx, seatIDs, model.SeatReserved); err != nil {
		return nil, fmt.Errorf("reserve seats: %w", err)
	}
	if err := s.orders.SubmitPaymentTx(ctx, tx, order.ID, in.CustomerName, in.CustomerEmail, in.CustomerPhone); err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}
	existing, err := s.payments.GetByOrderTx(ctx, tx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("load payment: %w", err)
	}
	payment := &model.Payment{
		ID:            uuid.NewString(),
		OrderID:       order.ID,
		Amount:        order.TotalAmount,
		PaymentMethod: model.PaymentMethodBankTransfer,
		Status:        model.PaymentPending,
	}
	if existing != nil {
		payment.ID = existing.ID
	}
	if err := s.payments.UpsertTx(ctx, tx, payment); err != nil {
		return nil, fmt.Errorf("upsert payment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	committed = true

	order.Status = model.OrderPendingConfirmation
	order.CustomerName, order.CustomerEmail, order.CustomerPhone = in.CustomerName, in.CustomerEmail, in.CustomerPhone
	order.ExpiresAt = nil

	s.releaseLocks(ctx, order.EventID, seatIDs)
	s.enqueue(ctx, NotificationJob{
		Purpose: model.PurposePaymentReceived,
		OrderID: order.ID,
		Vars:    map[string]string{"submittedAt": now.Format(time.RFC3339)},
	})
	return &order, nil
}

// RejectInput is a staff decision that a transfer never arrived or was
// wrong.
type RejectInput struct {
	OrderID string
	Reason  string
	Actor   Actor
	Request RequestInfo
}

// Reject cancels an unpaid order, returns its seats to sale and marks the
// payment FAILED.
func (s *OrderService) Reject(ctx context.Context, in RejectInput) (*model.Order, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, validation("", "reason is required")
	}
	tx, ctx, cancel, err := s.beginTx(ctx)
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

	order, err := s.orders.GetForUpdateTx(ctx, tx, in.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFound("order not found")
		}
		return nil, fmt.Errorf("load order: %w", err)
	}
	if err := settleableStatus(order); err != nil {
		return nil, err
	}
	items, err := s.orders.ItemsTx(ctx, tx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	seatIDs := itemSeatIDs(items)
	existing, err := s.payments.GetByOrderTx(ctx, tx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("load payment: %w", err)
	}

	now := s.now()
	if err := s.orders.CancelTx(ctx, tx, order.ID, reason, now); err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}
	if _, err := s.seats.ReleaseUnsoldTx(ctx, tx, seatIDs); err != nil {
		return nil, fmt.Errorf("release seats: %w", err)
	}
	meta := model.PaymentMetadata{RejectedAt: now.Format(time.RFC3339), Reason: reason}
	if !in.Actor.IsSystem() {
		uid := in.Actor.UserID
		meta.RejectedBy = &uid
	}
	payment := &model.Payment{
		ID:            uuid.NewString(),
		OrderID:       order.ID,
		Amount:        order.TotalAmount,
		PaymentMethod: model.PaymentMethodBankTransfer,
		Status:        model.PaymentFailed,
		Metadata:      jsonString(meta),
	}
	oldPayment := ""
	if existing != nil {
		payment.ID = existing.ID
		payment.PaymentMethod = existing.PaymentMethod
		oldPayment = existing.Status
	}
	if err := s.payments.UpsertTx(ctx, tx, payment); err != nil {
		return nil, fmt.Errorf("upsert payment: %w", err)
	}
	entry := newAuditEntry(in.Actor, in.Request, model.AuditReject, model.AuditEntityPayment, order.ID,
		map[string]any{"orderStatus": order.Status, "paymentStatus": oldPayment},
		map[string]any{"orderStatus": model.OrderCancelled, "paymentStatus": model.PaymentFailed, "seatStatus": model.SeatAvailable},
		map[string]any{"orderNumber": order.OrderNumber, "reason": reason})
	if err := s.audit.InsertTx(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("write audit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	committed = true

	order.Status = model.OrderCancelled
	order.CancelledAt = &now
	order.CancellationReason = &reason
	order.ExpiresAt = nil

	s.releaseLocks(ctx, order.EventID, seatIDs)
	s.enqueue(ctx, NotificationJob{
		Purpose:     model.PurposePaymentRejected,
		OrderID:     order.ID,
		TriggeredBy: in.Actor.triggeredBy(),
		Vars:        map[string]string{"reason": reason},
	})
	log.Info().Str("order_id", order.ID).Uint64("user_id", in.Actor.UserID).Msg("payment rejected")
	return &order, nil
}

// settleableStatus maps a non-settleable order to its conflict.  Callers
// still check the payment window themselves where it applies.
func settleableStatus(o model.Order) error {
	switch {
	case o.Status == model.OrderPaid:
		return conflict(CodeAlreadyPaid, "order is already paid")
	case o.Closed():
		return conflict(CodeOrderClosed, "order is "+strings.ToLower(o.Status))
	case !o.Settleable():
		return conflict(CodeInvalidStatus, "order status "+o.Status+" cannot be settled")
	}
	return nil
}

// ExpireOverdue expires up to limit PENDING orders whose payment window
// has passed and returns how many were expired.  Orders currently locked
// by a settlement are skipped and picked up by a later run.
func (s *OrderService) ExpireOverdue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	tx, ctx, cancel, err := s.beginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	now := s.now()
	overdue, err := s.orders.OverduePendingTx(ctx, tx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list overdue orders: %w", err)
	}
	type expired struct {
		eventID string
		seatIDs []string
	}
	done := make([]expired, 0, len(overdue))
	for _, o := range overdue {
		ok, err := s.orders.MarkExpiredTx(ctx, tx, o.ID)
		if err != nil {
			return 0, fmt.Errorf("expire order %s: %w", o.ID, err)
		}
		if !ok {
			continue
		}
		items, err := s.orders.ItemsTx(ctx, tx, o.ID)
		if err != nil {
			return 0, fmt.Errorf("load items: %w", err)
		}
		seatIDs := itemSeatIDs(items)
		if _, err := s.seats.ReleaseUnsoldTx(ctx, tx, seatIDs); err != nil {
			return 0, fmt.Errorf("release seats: %w", err)
		}
		entry := newAuditEntry(Actor{}, RequestInfo{}, model.AuditExpire, model.AuditEntityOrder, o.ID,
			map[string]any{"orderStatus": o.Status},
			map[string]any{"orderStatus": model.OrderExpired},
			map[string]any{"orderNumber": o.OrderNumber, "expiresAt": o.ExpiresAt})
		if err := s.audit.InsertTx(ctx, tx, entry); err != nil {
			return 0, fmt.Errorf("write audit: %w", err)
		}
		done = append(done, expired{eventID: o.EventID, seatIDs: seatIDs})
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	committed = true

	for _, e := range done {
		s.releaseLocks(ctx, e.eventID, e.seatIDs)
	}
	if len(done) > 0 {
		log.Info().Int("count", len(done)).Msg("expired overdue orders")
	}
	return len(done), nil
}

// ResendTicket re-sends the ticket of a PAID order.  The access token is
// rotated first so only the newest mail carries a working link.
func (s *OrderService) ResendTicket(ctx context.Context, orderID string, actor Actor, req RequestInfo) error {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return notFound("order not found")
		}
		return fmt.Errorf("load order: %w", err)
	}
	if order.Status != model.OrderPaid {
		return conflict(CodeInvalidStatus, "only paid orders have a ticket")
	}

	entry := newAuditEntry(actor, req, model.AuditResend, model.AuditEntityOrder, order.ID, nil, nil,
		map[string]any{"orderNumber": order.OrderNumber})
	if err := s.writeAudit(ctx, entry); err != nil {
		return err
	}

	vars, err := s.issueTicket(ctx, order)
	if err != nil {
		return fmt.Errorf("issue ticket: %w", err)
	}
	s.enqueue(ctx, NotificationJob{
		Purpose:        model.PurposeTicketConfirmed,
		OrderID:        order.ID,
		AllowDuplicate: true,
		TriggeredBy:    actor.triggeredBy(),
		Vars:           vars,
	})
	return nil
}

// SendReminder mails the payment instructions of a PENDING order again.
// Only one reminder goes out per order: a repeat answers ALREADY_SENT.
// The attempt is audited whatever its outcome.
func (s *OrderService) SendReminder(ctx context.Context, orderID string, actor Actor, req RequestInfo) (SendResult, error) {
	order, err := s.loadForMail(ctx, orderID)
	if err != nil {
		return SendResult{}, err
	}
	if order.Status != model.OrderPending {
		return SendResult{}, conflict(CodeInvalidStatus,
			fmt.Sprintf("cannot send a reminder for a %s order; the order must be %s", order.Status, model.OrderPending))
	}

	res, sendErr := s.opts.Sender.Process(ctx, NotificationJob{
		Purpose:     model.PurposePaymentPending,
		OrderID:     order.ID,
		TriggeredBy: actor.triggeredBy(),
	})
	meta := map[string]any{
		"orderNumber":   order.OrderNumber,
		"customerEmail": order.CustomerEmail,
		"status":        res.Status,
	}
	if res.Error != "" {
		meta["error"] = res.Error
	}
	if order.ExpiresAt != nil {
		meta["hoursUntilExpiry"] = int(order.ExpiresAt.Sub(s.now()).Round(time.Hour).Hours())
	}
	entry := newAuditEntry(actor, req, model.AuditSendReminder, model.AuditEntityOrder, order.ID, nil, nil, meta)
	if err := s.writeAudit(ctx, entry); err != nil {
		log.Error().Err(err).Str("order_id", order.ID).Msg("audit reminder failed")
	}

	if sendErr != nil {
		return res, sendErr
	}
	if res.Status == SendStatusSkipped {
		return res, conflict(CodeAlreadySent, "a payment reminder was already sent for this order")
	}
	return res, nil
}

// SendTemplateEmail mails an order with a template staff picked.  A PAID
// order gets a freshly rotated ticket link in the variables.  Repeats are
// allowed since staff choose the template deliberately.
func (s *OrderService) SendTemplateEmail(ctx context.Context, orderID, templateID string, actor Actor, req RequestInfo) (SendResult, error) {
	templateID = strings.TrimSpace(templateID)
	if templateID == "" {
		return SendResult{}, validation("", "templateId is required")
	}
	order, err := s.loadForMail(ctx, orderID)
	if err != nil {
		return SendResult{}, err
	}
	vars := map[string]string{"orderStatus": order.Status}
	if order.Status == model.OrderPaid {
		ticket, err := s.issueTicket(ctx, order)
		if err != nil {
			return SendResult{}, fmt.Errorf("issue ticket: %w", err)
		}
		for k, v := range ticket {
			vars[k] = v
		}
	}

	res, sendErr := s.opts.Sender.Process(ctx, NotificationJob{
		TemplateID:     templateID,
		OrderID:        order.ID,
		AllowDuplicate: true,
		TriggeredBy:    actor.triggeredBy(),
		Vars:           vars,
	})
	meta := map[string]any{"orderNumber": order.OrderNumber, "templateId": templateID, "status": res.Status}
	if res.Error != "" {
		meta["error"] = res.Error
	}
	entry := newAuditEntry(actor, req, model.AuditSendEmail, model.AuditEntityOrder, order.ID, nil, nil, meta)
	if err := s.writeAudit(ctx, entry); err != nil {
		log.Error().Err(err).Str("order_id", order.ID).Msg("audit template mail failed")
	}
	return res, sendErr
}

func (s *OrderService) loadForMail(ctx context.Context, orderID string) (model.Order, error) {
	if s.opts.Sender == nil {
		return model.Order{}, errors.New("order service has no mail sender")
	}
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return order, notFound("order not found")
		}
		return order, fmt.Errorf("load order: %w", err)
	}
	return order, nil
}

// writeAudit records an entry that is not part of a state change.
func (s *OrderService) writeAudit(ctx context.Context, entry *model.AuditLog) error {
	tx, txCtx, cancel, err := s.beginTx(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	if err := s.audit.InsertTx(txCtx, tx, entry); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("write audit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// TicketView is what a ticket holder sees.
type TicketView struct {
	Order model.Order       `json:"order"`
	Items []model.OrderItem `json:"items"`
	Event model.Event       `json:"event"`
}

// Ticket returns the ticket of a PAID order for the holder of token.  An
// unknown order and a wrong token are indistinguishable.
func (s *OrderService) Ticket(ctx context.Context, orderNumber, token string) (*TicketView, error) {
	order, err := s.orders.GetByNumber(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFound("ticket not found")
		}
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order.Status != model.OrderPaid || order.AccessTokenHash == nil ||
		!utils.VerifyTicketToken(token, *order.AccessTokenHash) {
		return nil, notFound("ticket not found")
	}
	items, err := s.orders.Items(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	event, err := s.events.GetByID(ctx, order.EventID)
	if err != nil {
		return nil, fmt.Errorf("load event: %w", err)
	}
	return &TicketView{Order: order, Items: items, Event: event}, nil
}

// GetOrder returns an order by id.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFound("order not found")
		}
		return nil, err
	}
	return &o, nil
}

// AuditTrail returns the audit entries of an order.  Payment entries are
// keyed by order id as well.
func (s *OrderService) AuditTrail(ctx context.Context, orderID string) ([]model.AuditLog, error) {
	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	payment, err := s.audit.ListByEntity(ctx, model.AuditEntityPayment, orderID)
	if err != nil {
		return nil, err
	}
	order, err := s.audit.ListByEntity(ctx, model.AuditEntityOrder, orderID)
	if err != nil {
		return nil, err
	}
	all := append(payment, order...)
	sortAuditByTime(all)
	return all, nil
}

// TicketURL builds the link mailed to the customer.
func (s *OrderService) TicketURL(orderNumber, token string) string {
	return s.opts.ClientURL + "/ticket/" + url.PathEscape(orderNumber) + "?token=" + url.QueryEscape(token)
}

// issueTicket rotates the access token and regenerates the QR image.  It
// returns the template variables that exist only now: the raw token never
// leaves this call except inside the ticket URL.
func (s *OrderService) issueTicket(ctx context.Context, order model.Order) (map[string]string, error) {
	raw, hash, err := utils.NewTicketToken()
	if err != nil {
		return nil, err
	}
	vars := map[string]string{"ticketUrl": s.TicketURL(order.OrderNumber, raw)}
	qr, err := utils.TicketQRDataURL(utils.TicketQRPayload{
		OrderNumber: order.OrderNumber,
		EventID:     order.EventID,
		Timestamp:   s.now().UnixMilli(),
	})
	var qrPtr *string
	if err != nil {
		log.Warn().Err(err).Str("order_id", order.ID).Msg("qr generation failed")
	} else {
		qrPtr = &qr
		vars["qrCodeUrl"] = qr
	}
	if err := s.orders.SetAccessToken(ctx, order.ID, hash, qrPtr); err != nil {
		return nil, err
	}
	return vars, nil
}

// releaseLocks drops pre-sale locks after seats moved to a persisted
// state and tells lock listeners the event changed.  Failures only delay
// the lock's natural expiry.
func (s *OrderService) releaseLocks(ctx context.Context, eventID string, seatIDs []string) {
	n, err := s.locks.ForceRelease(context.WithoutCancel(ctx), eventID, seatIDs)
	if err != nil {
		log.Warn().Err(err).Str("event_id", eventID).Msg("release seat locks failed")
	}
	// The seat rows changed even when no lock was left to drop.
	if n == 0 {
		s.locks.SeatsChanged(eventID)
	}
}

func (s *OrderService) enqueue(ctx context.Context, job NotificationJob) {
	if s.queue == nil {
		log.Warn().Str("purpose", job.Purpose).Str("order_id", job.OrderID).Msg("no notification queue, dropping job")
		return
	}
	if err := s.queue.Enqueue(context.WithoutCancel(ctx), job); err != nil {
		log.Error().Err(err).Str("purpose", job.Purpose).Str("order_id", job.OrderID).Msg("enqueue notification failed")
	}
}

func sortAuditByTime(logs []model.AuditLog) {
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].CreatedAt.Before(logs[j].CreatedAt) })
}

func itemSeatIDs(items []model.OrderItem) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.SeatID)
	}
	return ids
}

func jsonString(v any) *string {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}

// newAuditEntry builds an audit row.  Nil maps become SQL NULL.
func newAuditEntry(actor Actor, req RequestInfo, action, entity, entityID string, oldV, newV, meta map[string]any) *model.AuditLog {
	e := &model.AuditLog{
		ID:       uuid.NewString(),
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
	}
	if oldV != nil {
		e.OldValue = jsonString(oldV)
	}
	if newV != nil {
		e.NewValue = jsonString(newV)
	}
	if !actor.IsSystem() {
		uid, role := actor.UserID, actor.Role
		e.UserID = &uid
		e.UserRole = &role
	}
	if req.UserAgent != "" {
		if meta == nil {
			meta = map[string]any{}
		}
		meta["device"] = utils.ParseDevice(req.UserAgent)
		ua := req.UserAgent
		e.UserAgent = &ua
	}
	if req.IP != "" {
		ip := req.IP
		e.IPAddress = &ip
	}
	if meta != nil {
		e.Metadata = jsonString(meta)
	}
	return e
}
