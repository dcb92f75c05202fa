package repository

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-settlement/internal/model"
)

func TestLastSentOrdersByTimeThenID(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()
	repo := NewEmailLogRepo(sqlx.NewDb(raw, "mysql"))

	mock.ExpectQuery(regexp.QuoteMeta("AND purpose = ? AND status = ? ORDER BY created_at DESC, id DESC LIMIT 1")).
		WithArgs("ord-1", model.PurposePaymentPending, model.EmailSent).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("log-2"))
	mock.ExpectQuery(regexp.QuoteMeta("AND template_id = ? AND status = ? ORDER BY created_at DESC, id DESC LIMIT 1")).
		WithArgs("ord-1", "tpl-9", model.EmailSent).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	id, err := repo.LastSentByPurpose(context.Background(), "ord-1", model.PurposePaymentPending)
	require.NoError(t, err)
	assert.Equal(t, "log-2", id)

	id, err = repo.LastSentByTemplate(context.Background(), "ord-1", "tpl-9")
	require.NoError(t, err)
	assert.Empty(t, id)
	require.NoError(t, mock.ExpectationsWereMet())
}
