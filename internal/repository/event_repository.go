package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/seat-settlement/internal/model"
)

const eventColumns = "id, name, venue, event_date, start_time, status, max_capacity, available_seats, created_at, updated_at"

type EventRepo struct {
	db *sqlx.DB
}

func NewEventRepo(db *sqlx.DB) *EventRepo { return &EventRepo{db: db} }

// GetByID fetches an event.
func (r *EventRepo) GetByID(ctx context.Context, id string) (model.Event, error) {
	var e model.Event
	err := r.db.GetContext(ctx, &e, "SELECT "+eventColumns+" FROM events WHERE id = ? LIMIT 1", id)
	return e, notFoundOr(err)
}

// DecrementAvailableTx lowers available_seats by n.  The guard refuses to
// go below zero and reports ErrConflict instead.
func (r *EventRepo) DecrementAvailableTx(ctx context.Context, tx *sqlx.Tx, id string, n int) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE events SET available_seats = available_seats - ?, updated_at = UTC_TIMESTAMP() WHERE id = ? AND available_seats >= ?",
		n, id, n)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}
