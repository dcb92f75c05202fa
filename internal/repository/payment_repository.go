package repository

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/seat-settlement/internal/model"
)

const paymentColumns = "id, order_id, amount, payment_method, status, transaction_id, metadata, paid_at, created_at, updated_at"

// PaymentRepo provides data access to payments.  payments.order_id is
// unique, so every write is an upsert keyed by order.
type PaymentRepo struct {
	db *sqlx.DB
}

func NewPaymentRepo(db *sqlx.DB) *PaymentRepo { return &PaymentRepo{db: db} }

// GetByOrderTx returns the payment of an order, or nil when none exists.
func (r *PaymentRepo) GetByOrderTx(ctx context.Context, tx *sqlx.Tx, orderID string) (*model.Payment, error) {
	var p model.Payment
	err := tx.GetContext(ctx, &p, "SELECT "+paymentColumns+" FROM payments WHERE order_id = ? FOR UPDATE", orderID)
	if err := notFoundOr(err); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// GetByOrder returns the payment of an order outside a transaction.
func (r *PaymentRepo) GetByOrder(ctx context.Context, orderID string) (model.Payment, error) {
	var p model.Payment
	err := r.db.GetContext(ctx, &p, "SELECT "+paymentColumns+" FROM payments WHERE order_id = ? LIMIT 1", orderID)
	return p, notFoundOr(err)
}

// UpsertTx inserts the payment or, when the order already has one,
// overwrites its status, transaction id, metadata and paid_at.  The
// existing row id is kept on update.
func (r *PaymentRepo) UpsertTx(ctx context.Context, tx *sqlx.Tx, p *model.Payment) error {
	const q = `INSERT INTO payments (id, order_id, amount, payment_method, status, transaction_id, metadata, paid_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE status = VALUES(status), transaction_id = VALUES(transaction_id),
        metadata = VALUES(metadata), paid_at = VALUES(paid_at), amount = VALUES(amount),
        updated_at = UTC_TIMESTAMP()`
	_, err := tx.ExecContext(ctx, q, p.ID, p.OrderID, p.Amount, p.PaymentMethod, p.Status,
		p.TransactionID, p.Metadata, p.PaidAt)
	return err
}
