package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-settlement/internal/lockstore"
	"github.com/iliyamo/seat-settlement/internal/middleware"
	"github.com/iliyamo/seat-settlement/internal/model"
	"github.com/iliyamo/seat-settlement/internal/repository"
	"github.com/iliyamo/seat-settlement/internal/service"
	"github.com/iliyamo/seat-settlement/internal/utils"
)

const testSecret = "handler-secret"

type stubInventory struct {
	seats []model.Seat
}

func (s stubInventory) SeatsForEvent(_ context.Context, eventID string, ids []string) ([]model.Seat, error) {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []model.Seat
	for _, seat := range s.seats {
		if seat.EventID == eventID && want[seat.ID] {
			out = append(out, seat)
		}
	}
	return out, nil
}

func (s stubInventory) ListByEvent(_ context.Context, eventID string) ([]model.Seat, error) {
	var out []model.Seat
	for _, seat := range s.seats {
		if seat.EventID == eventID {
			out = append(out, seat)
		}
	}
	return out, nil
}

func newShopEcho(t *testing.T) *echo.Echo {
	t.Helper()
	store := lockstore.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	inv := stubInventory{seats: []model.Seat{
		{ID: "A1", EventID: "evt", SeatNumber: "A1", Status: model.SeatAvailable, Price: 25},
		{ID: "A2", EventID: "evt", SeatNumber: "A2", Status: model.SeatAvailable, Price: 25},
		{ID: "A3", EventID: "evt", SeatNumber: "A3", Status: model.SeatSold, Price: 25},
	}}
	h := NewSeatLockHandler(service.NewLockManager(store, inv, service.LockOptions{TTL: time.Minute, StrictRelease: true}))

	e := echo.New()
	e.Validator = NewValidator()
	e.POST("/v1/sessions", h.NewSession)
	e.POST("/v1/lock", h.Lock)
	e.DELETE("/v1/lock", h.Unlock)
	e.GET("/v1/lock", h.List)
	e.PUT("/v1/lock/extend", h.Extend)
	e.POST("/v1/unlock", h.Beacon)
	e.GET("/v1/events/:id/seats", h.SeatMap)
	return e
}

func do(e *echo.Echo, method, target, body, contentType string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, contentType)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func TestLockConflictAndBeaconRelease(t *testing.T) {
	e := newShopEcho(t)
	body := func(session string) string {
		return `{"eventId":"evt","seatIds":["A2","A1"],"sessionId":"` + session + `"}`
	}

	rec := do(e, http.MethodPost, "/v1/lock", body("s1"), echo.MIMEApplicationJSON)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []any{"A1", "A2"}, decode(t, rec)["seatIds"])

	rec = do(e, http.MethodPost, "/v1/lock", body("s2"), echo.MIMEApplicationJSON)
	require.Equal(t, http.StatusConflict, rec.Code)
	m := decode(t, rec)
	assert.Equal(t, service.CodeSeatLocked, m["code"])
	assert.Equal(t, []any{"A1", "A2"}, m["seatIds"])

	rec = do(e, http.MethodPost, "/v1/unlock", body("s1"), echo.MIMETextPlain)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(e, http.MethodPost, "/v1/lock", body("s2"), echo.MIMEApplicationJSON)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(e, http.MethodGet, "/v1/lock?eventId=evt", "", "", middleware.SessionHeader, "s2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["locks"], 2)
}

func TestBeaconIgnoresGarbage(t *testing.T) {
	e := newShopEcho(t)
	rec := do(e, http.MethodPost, "/v1/unlock", "not json", echo.MIMETextPlain)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestLockValidation(t *testing.T) {
	e := newShopEcho(t)
	rec := do(e, http.MethodPost, "/v1/lock", `{"eventId":"evt","seatIds":[],"sessionId":"s1"}`, echo.MIMEApplicationJSON)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode(t, rec)["code"])
}

func TestLockSoldSeat(t *testing.T) {
	e := newShopEcho(t)
	rec := do(e, http.MethodPost, "/v1/lock", `{"eventId":"evt","seatIds":["A3"],"sessionId":"s1"}`, echo.MIMEApplicationJSON)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, service.CodeSeatUnavailable, decode(t, rec)["code"])
}

func TestUnlockAndExtend(t *testing.T) {
	e := newShopEcho(t)
	lock := `{"eventId":"evt","seatIds":["A1"],"sessionId":"s1"}`
	require.Equal(t, http.StatusOK, do(e, http.MethodPost, "/v1/lock", lock, echo.MIMEApplicationJSON).Code)

	rec := do(e, http.MethodPut, "/v1/lock/extend", `{"eventId":"evt","seatIds":["A1"],"sessionId":"s1","ttlSeconds":120}`, echo.MIMEApplicationJSON)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["extended"])

	// Another session cannot release or extend.
	rec = do(e, http.MethodDelete, "/v1/lock", `{"eventId":"evt","seatIds":["A1"],"sessionId":"s2"}`, echo.MIMEApplicationJSON)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode(t, rec)["released"])

	rec = do(e, http.MethodDelete, "/v1/lock", lock, echo.MIMEApplicationJSON)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["released"])
}

func TestSeatMapProjection(t *testing.T) {
	e := newShopEcho(t)
	require.Equal(t, http.StatusOK,
		do(e, http.MethodPost, "/v1/lock", `{"eventId":"evt","seatIds":["A1"],"sessionId":"s1"}`, echo.MIMEApplicationJSON).Code)

	rec := do(e, http.MethodGet, "/v1/events/evt/seats?sessionId=s1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Seats []model.SeatView `json:"seats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Seats, 3)
	byID := map[string]model.SeatView{}
	for _, s := range resp.Seats {
		byID[s.ID] = s
	}
	assert.True(t, byID["A1"].IsLocked)
	assert.True(t, byID["A1"].LockedByMe)
	assert.False(t, byID["A2"].IsLocked)
	assert.Equal(t, model.SeatSold, byID["A3"].Status)
}

func TestNewSession(t *testing.T) {
	e := newShopEcho(t)
	rec := do(e, http.MethodPost, "/v1/sessions", "", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["sessionId"])
}

func TestRespondError(t *testing.T) {
	e := echo.New()
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&service.Error{Kind: service.KindConflict, Code: service.CodeSeatLocked, Message: "locked", SeatIDs: []string{"A1"}}, http.StatusConflict, service.CodeSeatLocked},
		{&service.Error{Kind: service.KindNotFound, Message: "order not found"}, http.StatusNotFound, "NOT_FOUND"},
		{&service.Error{Kind: service.KindForbidden, Message: "no"}, http.StatusForbidden, "FORBIDDEN"},
		{&service.Error{Kind: service.KindValidation, Message: "bad"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{errors.New("dial tcp: connection refused"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
		require.NoError(t, respondError(c, tc.err))
		assert.Equal(t, tc.status, rec.Code)
		m := decode(t, rec)
		assert.Equal(t, tc.code, m["code"])
		if tc.status == http.StatusInternalServerError {
			assert.Equal(t, "internal server error", m["error"])
		}
	}
}

// stubSender answers every mail job with res.
type stubSender struct {
	jobs []service.NotificationJob
	res  service.SendResult
}

func (s *stubSender) Process(_ context.Context, job service.NotificationJob) (service.SendResult, error) {
	s.jobs = append(s.jobs, job)
	return s.res, nil
}

type adminHarness struct {
	e      *echo.Echo
	mock   sqlmock.Sqlmock
	sender *stubSender
	token  string
}

func newAdminHarness(t *testing.T, role string) *adminHarness {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	db := sqlx.NewDb(raw, "mysql")
	store := lockstore.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	locks := service.NewLockManager(store, nil, service.LockOptions{TTL: time.Minute})
	sender := &stubSender{res: service.SendResult{Status: service.SendStatusSent, EmailLogID: "log-1"}}
	orders := service.NewOrderService(db, service.OrderRepos{
		Orders:   repository.NewOrderRepo(db),
		Seats:    repository.NewSeatRepo(db),
		Payments: repository.NewPaymentRepo(db),
		Events:   repository.NewEventRepo(db),
		Audit:    repository.NewAuditRepo(db),
	}, locks, nil, service.OrderOptions{Sender: sender})
	h := NewAdminHandler(orders, locks, repository.NewEmailLogRepo(db))

	e := echo.New()
	e.Validator = NewValidator()
	g := e.Group("/v1/admin", middleware.JWTAuth(testSecret), middleware.RequireRole(model.RoleAdmin, model.RoleStaff))
	g.POST("/orders/:id/confirm", h.Confirm)
	g.POST("/orders/:id/reject", h.Reject)
	g.POST("/orders/:id/send-reminder", h.SendReminder)
	g.POST("/orders/:id/send-email", h.SendEmail)
	g.GET("/orders/:id/emails", h.Emails)
	g.GET("/seat-locks", h.ListLocks)
	g.DELETE("/seat-locks", h.ForceRelease, middleware.RequireRole(model.RoleAdmin))

	tok, err := utils.NewAccessToken(testSecret, 5, role, 5)
	require.NoError(t, err)
	return &adminHarness{e: e, mock: mock, sender: sender, token: "Bearer " + tok.Token}
}

func TestAdminRequiresToken(t *testing.T) {
	h := newAdminHarness(t, model.RoleStaff)
	rec := do(h.e, http.MethodPost, "/v1/admin/orders/ord-1/confirm", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestConfirmUnknownOrder(t *testing.T) {
	h := newAdminHarness(t, model.RoleStaff)
	h.mock.ExpectBegin()
	h.mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = ? FOR UPDATE")).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	h.mock.ExpectRollback()

	rec := do(h.e, http.MethodPost, "/v1/admin/orders/missing/confirm", "", "", "Authorization", h.token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestConfirmAlreadyPaidReturnsSnapshot(t *testing.T) {
	h := newAdminHarness(t, model.RoleStaff)
	paid := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	h.mock.ExpectBegin()
	h.mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = ? FOR UPDATE")).WithArgs("ord-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_number", "status", "paid_at"}).
			AddRow("ord-1", "TDX-20250601-ABCDEF", model.OrderPaid, paid))
	h.mock.ExpectRollback()

	rec := do(h.e, http.MethodPost, "/v1/admin/orders/ord-1/confirm", `{"notes":"again"}`, echo.MIMEApplicationJSON,
		"Authorization", h.token)
	require.Equal(t, http.StatusConflict, rec.Code)
	m := decode(t, rec)
	assert.Equal(t, service.CodeAlreadyPaid, m["code"])
	order := m["order"].(map[string]any)
	assert.Equal(t, "TDX-20250601-ABCDEF", order["orderNumber"])
	assert.Equal(t, model.OrderPaid, order["status"])
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestRejectNeedsReason(t *testing.T) {
	h := newAdminHarness(t, model.RoleStaff)
	rec := do(h.e, http.MethodPost, "/v1/admin/orders/ord-1/reject", `{}`, echo.MIMEApplicationJSON, "Authorization", h.token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestEmailsForUnknownOrder(t *testing.T) {
	h := newAdminHarness(t, model.RoleStaff)
	h.mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = ?")).WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rec := do(h.e, http.MethodGet, "/v1/admin/orders/nope/emails", "", "", "Authorization", h.token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestForceReleaseIsAdminOnly(t *testing.T) {
	body := `{"eventId":"evt","seatIds":["A1"]}`

	staff := newAdminHarness(t, model.RoleStaff)
	rec := do(staff.e, http.MethodDelete, "/v1/admin/seat-locks", body, echo.MIMEApplicationJSON, "Authorization", staff.token)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := newAdminHarness(t, model.RoleAdmin)
	rec = do(admin.e, http.MethodDelete, "/v1/admin/seat-locks", body, echo.MIMEApplicationJSON, "Authorization", admin.token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode(t, rec)["released"])

	rec = do(admin.e, http.MethodGet, "/v1/admin/seat-locks", "", "", "Authorization", admin.token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

var pendingOrderCols = []string{"id", "order_number", "event_id", "customer_email", "status"}

func TestSendReminderForPendingOrder(t *testing.T) {
	h := newAdminHarness(t, model.RoleStaff)
	h.mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = ?")).WithArgs("ord-1").
		WillReturnRows(sqlmock.NewRows(pendingOrderCols).AddRow("ord-1", "TDX-20250601-ABCDEF", "evt", "ana@example.com", model.OrderPending))
	h.mock.ExpectBegin()
	h.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectCommit()

	rec := do(h.e, http.MethodPost, "/v1/admin/orders/ord-1/send-reminder", "", "", "Authorization", h.token)
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode(t, rec)
	assert.Equal(t, service.SendStatusSent, m["status"])
	assert.Equal(t, "log-1", m["emailLogId"])
	require.Len(t, h.sender.jobs, 1)
	assert.Equal(t, model.PurposePaymentPending, h.sender.jobs[0].Purpose)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestSendReminderRepeatIsConflict(t *testing.T) {
	h := newAdminHarness(t, model.RoleAdmin)
	h.sender.res = service.SendResult{Status: service.SendStatusSkipped, EmailLogID: "log-0"}
	h.mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = ?")).WithArgs("ord-1").
		WillReturnRows(sqlmock.NewRows(pendingOrderCols).AddRow("ord-1", "TDX-20250601-ABCDEF", "evt", "ana@example.com", model.OrderPending))
	h.mock.ExpectBegin()
	h.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectCommit()

	rec := do(h.e, http.MethodPost, "/v1/admin/orders/ord-1/send-reminder", "", "", "Authorization", h.token)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, service.CodeAlreadySent, decode(t, rec)["code"])
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestSendReminderForPaidOrderIsConflict(t *testing.T) {
	h := newAdminHarness(t, model.RoleStaff)
	h.mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = ?")).WithArgs("ord-1").
		WillReturnRows(sqlmock.NewRows(pendingOrderCols).AddRow("ord-1", "TDX-20250601-ABCDEF", "evt", "ana@example.com", model.OrderPaid))

	rec := do(h.e, http.MethodPost, "/v1/admin/orders/ord-1/send-reminder", "", "", "Authorization", h.token)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, service.CodeInvalidStatus, decode(t, rec)["code"])
	assert.Empty(t, h.sender.jobs)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestSendEmailNeedsTemplate(t *testing.T) {
	h := newAdminHarness(t, model.RoleStaff)
	rec := do(h.e, http.MethodPost, "/v1/admin/orders/ord-1/send-email", `{}`, echo.MIMEApplicationJSON, "Authorization", h.token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, h.sender.jobs)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestSendEmailWithTemplate(t *testing.T) {
	h := newAdminHarness(t, model.RoleStaff)
	h.mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = ?")).WithArgs("ord-1").
		WillReturnRows(sqlmock.NewRows(pendingOrderCols).AddRow("ord-1", "TDX-20250601-ABCDEF", "evt", "ana@example.com", model.OrderPending))
	h.mock.ExpectBegin()
	h.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectCommit()

	rec := do(h.e, http.MethodPost, "/v1/admin/orders/ord-1/send-email", `{"templateId":"tpl-9"}`, echo.MIMEApplicationJSON, "Authorization", h.token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.sender.jobs, 1)
	assert.Equal(t, "tpl-9", h.sender.jobs[0].TemplateID)
	assert.True(t, h.sender.jobs[0].AllowDuplicate)
	require.NoError(t, h.mock.ExpectationsWereMet())
}
