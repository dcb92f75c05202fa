package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-settlement/internal/model"
)

func TestEventSearchBuildsFilters(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()
	repo := NewEventRepo(sqlx.NewDb(raw, "mysql"))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM events WHERE status = ? AND LOWER(venue) LIKE ?")).
		WithArgs(model.EventPublished, "%arena%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY start_time ASC LIMIT ? OFFSET ?")).
		WithArgs(model.EventPublished, "%arena%", 10, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "venue", "event_date", "start_time", "status",
			"max_capacity", "available_seats", "created_at", "updated_at"}).
			AddRow("e1", "Night", "Arena", now, now, model.EventPublished, 100, 40, now, now))

	events, total, err := repo.Search(context.Background(), EventSearchQuery{Venue: "Arena", TimeFilter: "any", Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, events, 1)
	assert.Equal(t, 40, events[0].AvailableSeats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDecrementAvailableGuardsCapacity(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()
	db := sqlx.NewDb(raw, "mysql")
	repo := NewEventRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("available_seats >= ?")).WithArgs(3, "e1", 3).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := db.Beginx()
	require.NoError(t, err)
	err = repo.DecrementAvailableTx(context.Background(), tx, "e1", 3)
	assert.ErrorIs(t, err, ErrConflict)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}
