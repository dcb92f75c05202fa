package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-settlement/internal/model"
	"github.com/iliyamo/seat-settlement/internal/repository"
)

type stubCatalog struct {
	events []model.Event
	last   repository.EventSearchQuery
}

func (s *stubCatalog) GetByID(_ context.Context, id string) (model.Event, error) {
	for _, e := range s.events {
		if e.ID == id {
			return e, nil
		}
	}
	return model.Event{}, repository.ErrNotFound
}

func (s *stubCatalog) Search(_ context.Context, q repository.EventSearchQuery) ([]model.Event, int64, error) {
	s.last = q
	return s.events, int64(len(s.events)), nil
}

func newEventEcho(cat *stubCatalog) *echo.Echo {
	h := NewEventHandler(cat)
	e := echo.New()
	e.GET("/v1/events", h.List)
	e.GET("/v1/events/:id", h.Get)
	return e
}

func TestEventListClampsPaging(t *testing.T) {
	start := time.Date(2026, 11, 1, 18, 0, 0, 0, time.UTC)
	cat := &stubCatalog{events: []model.Event{
		{ID: "e1", Name: "Conf 2026: Finding Flow", Venue: "Hall A", StartTime: start, Status: model.EventPublished, AvailableSeats: 0},
	}}
	e := newEventEcho(cat)

	rec := do(e, http.MethodGet, "/v1/events?page=0&page_size=500&name=%20conf%20&status=published", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, cat.last.Page)
	assert.Equal(t, 100, cat.last.PageSize)
	assert.Equal(t, "conf", cat.last.Name)
	assert.Equal(t, model.EventPublished, cat.last.Status)

	body := decode(t, rec)
	assert.EqualValues(t, 1, body["total"])
	items := body["data"].([]any)
	require.Len(t, items, 1)
	first := items[0].(map[string]any)
	assert.Equal(t, "Finding Flow", first["tagline"])
	assert.Equal(t, true, first["soldOut"])
}

func TestEventGetHidesDrafts(t *testing.T) {
	cat := &stubCatalog{events: []model.Event{
		{ID: "pub", Name: "Live", Status: model.EventPublished, AvailableSeats: 10},
		{ID: "draft", Name: "Soon", Status: model.EventDraft},
	}}
	e := newEventEcho(cat)

	rec := do(e, http.MethodGet, "/v1/events/pub", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["soldOut"])

	rec = do(e, http.MethodGet, "/v1/events/draft", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, rec)["code"])

	rec = do(e, http.MethodGet, "/v1/events/missing", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
