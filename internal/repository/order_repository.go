package repository

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/seat-settlement/internal/model"
)

const orderColumns = "id, order_number, event_id, session_id, customer_name, customer_email, customer_phone, " +
	"total_amount, status, expires_at, paid_at, cancelled_at, cancellation_reason, access_token_hash, " +
	"qr_code_url, email_sent_at, created_at, updated_at"

const orderItemColumns = "id, order_id, seat_id, seat_number, seat_type, price, created_at"

// OrderRepo provides data access to orders and order_items.  Status
// changes happen only through the ...Tx methods so they always share a
// transaction with the seat and payment rows they relate to.
type OrderRepo struct {
	db *sqlx.DB
}

// NewOrderRepo returns a new OrderRepo bound to the provided database.
func NewOrderRepo(db *sqlx.DB) *OrderRepo { return &OrderRepo{db: db} }

// DB exposes the handle so services can open transactions.
func (r *OrderRepo) DB() *sqlx.DB { return r.db }

// GetByID fetches an order outside of any transaction.
func (r *OrderRepo) GetByID(ctx context.Context, id string) (model.Order, error) {
	var o model.Order
	err := r.db.GetContext(ctx, &o, "SELECT "+orderColumns+" FROM orders WHERE id = ? LIMIT 1", id)
	return o, notFoundOr(err)
}

// GetByNumber fetches an order by its printed order number.
func (r *OrderRepo) GetByNumber(ctx context.Context, number string) (model.Order, error) {
	var o model.Order
	err := r.db.GetContext(ctx, &o, "SELECT "+orderColumns+" FROM orders WHERE order_number = ? LIMIT 1", number)
	return o, notFoundOr(err)
}

// GetForUpdateTx reads the order row with an exclusive row lock.  A second
// settlement of the same order blocks here until the first commits and
// then observes the PAID status.
func (r *OrderRepo) GetForUpdateTx(ctx context.Context, tx *sqlx.Tx, id string) (model.Order, error) {
	var o model.Order
	err := tx.GetContext(ctx, &o, "SELECT "+orderColumns+" FROM orders WHERE id = ? FOR UPDATE", id)
	return o, notFoundOr(err)
}

// Items lists the seats of an order.
func (r *OrderRepo) Items(ctx context.Context, orderID string) ([]model.OrderItem, error) {
	items := []model.OrderItem{}
	err := r.db.SelectContext(ctx, &items,
		"SELECT "+orderItemColumns+" FROM order_items WHERE order_id = ? ORDER BY seat_id", orderID)
	return items, err
}

// ItemsTx lists the seats of an order inside tx.
func (r *OrderRepo) ItemsTx(ctx context.Context, tx *sqlx.Tx, orderID string) ([]model.OrderItem, error) {
	items := []model.OrderItem{}
	err := tx.SelectContext(ctx, &items,
		"SELECT "+orderItemColumns+" FROM order_items WHERE order_id = ? ORDER BY seat_id", orderID)
	return items, err
}

// CreateTx inserts a new order row.  A clash on order_number reports
// ErrConflict so the caller can retry with a fresh number.
func (r *OrderRepo) CreateTx(ctx context.Context, tx *sqlx.Tx, o *model.Order) error {
	const q = `INSERT INTO orders (id, order_number, event_id, session_id, customer_name, customer_email,
        customer_phone, total_amount, status, expires_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q, o.ID, o.OrderNumber, o.EventID, o.SessionID, o.CustomerName,
		o.CustomerEmail, o.CustomerPhone, o.TotalAmount, o.Status, o.ExpiresAt)
	if isDuplicateKey(err) {
		return ErrConflict
	}
	return err
}

// OpenSeatIDsTx returns which of seatIDs already belong to an order that
// is still PENDING or PENDING_CONFIRMATION.
func (r *OrderRepo) OpenSeatIDsTx(ctx context.Context, tx *sqlx.Tx, eventID string, seatIDs []string) ([]string, error) {
	if len(seatIDs) == 0 {
		return []string{}, nil
	}
	q, args, err := sqlx.In(`SELECT oi.seat_id FROM order_items oi JOIN orders o ON o.id = oi.order_id
        WHERE o.event_id = ? AND o.status IN (?) AND oi.seat_id IN (?)`,
		eventID, []string{model.OrderPending, model.OrderPendingConfirmation}, seatIDs)
	if err != nil {
		return nil, err
	}
	ids := []string{}
	err = tx.SelectContext(ctx, &ids, tx.Rebind(q), args...)
	return ids, err
}

// CreateItemsTx bulk inserts order items in a single statement.
func (r *OrderRepo) CreateItemsTx(ctx context.Context, tx *sqlx.Tx, items []model.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	values := make([]string, 0, len(items))
	args := make([]interface{}, 0, len(items)*6)
	for _, it := range items {
		values = append(values, "(?, ?, ?, ?, ?, ?)")
		args = append(args, it.ID, it.OrderID, it.SeatID, it.SeatNumber, it.SeatType, it.Price)
	}
	q := "INSERT INTO order_items (id, order_id, seat_id, seat_number, seat_type, price) VALUES " +
		strings.Join(values, ", ")
	_, err := tx.ExecContext(ctx, q, args...)
	return err
}

// MarkPaidTx moves an order to PAID.
func (r *OrderRepo) MarkPaidTx(ctx context.Context, tx *sqlx.Tx, id string, paidAt time.Time) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = ?, paid_at = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?",
		model.OrderPaid, paidAt, id)
	return err
}

// SubmitPaymentTx records the shopper's contact details, moves the order
// to PENDING_CONFIRMATION and clears the payment window.
func (r *OrderRepo) SubmitPaymentTx(ctx context.Context, tx *sqlx.Tx, id, name, email, phone string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = ?, customer_name = ?, customer_email = ?, customer_phone = ?,
        expires_at = NULL, updated_at = UTC_TIMESTAMP() WHERE id = ?`,
		model.OrderPendingConfirmation, name, email, phone, id)
	return err
}

// CancelTx moves an order to CANCELLED with a reason.
func (r *OrderRepo) CancelTx(ctx context.Context, tx *sqlx.Tx, id, reason string, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = ?, cancelled_at = ?, cancellation_reason = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?",
		model.OrderCancelled, at, reason, id)
	return err
}

// MarkExpiredTx moves a PENDING order to EXPIRED.  The status guard keeps
// an order that was settled concurrently from being expired.
func (r *OrderRepo) MarkExpiredTx(ctx context.Context, tx *sqlx.Tx, id string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = ?, updated_at = UTC_TIMESTAMP() WHERE id = ? AND status = ?",
		model.OrderExpired, id, model.OrderPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// OverduePendingTx locks up to limit PENDING orders whose payment window
// ended before now.  SKIP LOCKED leaves orders that a settlement is
// currently holding to the next sweep.
func (r *OrderRepo) OverduePendingTx(ctx context.Context, tx *sqlx.Tx, now time.Time, limit int) ([]model.Order, error) {
	orders := []model.Order{}
	err := tx.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+` FROM orders
        WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?
        ORDER BY expires_at LIMIT ? FOR UPDATE SKIP LOCKED`,
		model.OrderPending, now, limit)
	return orders, err
}

// SetAccessToken overwrites the ticket token hash and, when qrURL is
// non-nil, the QR image.  Older ticket links stop working.
func (r *OrderRepo) SetAccessToken(ctx context.Context, id, tokenHash string, qrURL *string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE orders SET access_token_hash = ?, qr_code_url = COALESCE(?, qr_code_url), updated_at = UTC_TIMESTAMP() WHERE id = ?",
		tokenHash, qrURL, id)
	return err
}

// MarkEmailSent stamps the time the last customer mail went out.
func (r *OrderRepo) MarkEmailSent(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, "UPDATE orders SET email_sent_at = ? WHERE id = ?", at, id)
	return err
}
