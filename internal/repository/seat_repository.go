package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/seat-settlement/internal/model"
)

const seatColumns = "id, event_id, seat_number, `row`, col, section, seat_type, price, status, created_at, updated_at"

// SeatRepo provides data access to the seats table.  Seat status is only
// changed inside order and settlement transactions; reads outside a
// transaction are used for the seat map and lock pre-checks.
type SeatRepo struct {
	db *sqlx.DB
}

// NewSeatRepo returns a new SeatRepo bound to the provided database.
func NewSeatRepo(db *sqlx.DB) *SeatRepo { return &SeatRepo{db: db} }

// ListByEvent returns every seat of an event in display order.
func (r *SeatRepo) ListByEvent(ctx context.Context, eventID string) ([]model.Seat, error) {
	seats := []model.Seat{}
	err := r.db.SelectContext(ctx, &seats,
		"SELECT "+seatColumns+" FROM seats WHERE event_id = ? ORDER BY section, `row`, seat_number",
		eventID)
	return seats, err
}

// SeatsForEvent returns the seats of eventID among ids.  Seats that do not
// exist or belong to another event are simply absent from the result.
func (r *SeatRepo) SeatsForEvent(ctx context.Context, eventID string, ids []string) ([]model.Seat, error) {
	if len(ids) == 0 {
		return []model.Seat{}, nil
	}
	q, args, err := sqlx.In("SELECT "+seatColumns+" FROM seats WHERE event_id = ? AND id IN (?)", eventID, ids)
	if err != nil {
		return nil, err
	}
	seats := []model.Seat{}
	err = r.db.SelectContext(ctx, &seats, r.db.Rebind(q), args...)
	return seats, err
}

// LockByIDsTx reads the given seats with FOR UPDATE so concurrent
// settlements touching the same seats serialize on the row locks.  Rows
// are locked in primary key order to keep lock acquisition deadlock free.
func (r *SeatRepo) LockByIDsTx(ctx context.Context, tx *sqlx.Tx, ids []string) ([]model.Seat, error) {
	if len(ids) == 0 {
		return []model.Seat{}, nil
	}
	q, args, err := sqlx.In("SELECT "+seatColumns+" FROM seats WHERE id IN (?) ORDER BY id FOR UPDATE", ids)
	if err != nil {
		return nil, err
	}
	seats := []model.Seat{}
	err = tx.SelectContext(ctx, &seats, tx.Rebind(q), args...)
	return seats, err
}

// UpdateStatusTx sets status on all given seats and returns the number of
// rows changed.
func (r *SeatRepo) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, ids []string, status string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	q, args, err := sqlx.In("UPDATE seats SET status = ?, updated_at = UTC_TIMESTAMP() WHERE id IN (?)", status, ids)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(q), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReleaseUnsoldTx returns seats to AVAILABLE unless they were already
// sold.  Used by rejection and the expiry sweep.
func (r *SeatRepo) ReleaseUnsoldTx(ctx context.Context, tx *sqlx.Tx, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	q, args, err := sqlx.In("UPDATE seats SET status = ?, updated_at = UTC_TIMESTAMP() WHERE id IN (?) AND status <> ?",
		model.SeatAvailable, ids, model.SeatSold)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(q), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
