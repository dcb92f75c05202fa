// This file defines handlers for the public event browsing API.  These
// routes let anonymous shoppers find an event before opening its seat map.
// Bookkeeping fields (capacity counters, timestamps) are filtered from
// responses.

package handler

import (
    "context"
    "errors"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/seat-settlement/internal/model"
    "github.com/iliyamo/seat-settlement/internal/repository"
    "github.com/iliyamo/seat-settlement/internal/service"
)

// EventCatalog is the read side of the events table used for browsing.
// *repository.EventRepo satisfies it.
type EventCatalog interface {
    GetByID(ctx context.Context, id string) (model.Event, error)
    Search(ctx context.Context, q repository.EventSearchQuery) ([]model.Event, int64, error)
}

// EventHandler serves the public event list and detail.
type EventHandler struct {
    Events EventCatalog
}

func NewEventHandler(events EventCatalog) *EventHandler {
    if events == nil {
        panic("nil event catalog passed to NewEventHandler")
    }
    return &EventHandler{Events: events}
}

// PublicEvent is an event as exposed to shoppers.
type PublicEvent struct {
    ID             string    `json:"id"`
    Name           string    `json:"name"`
    Tagline        string    `json:"tagline,omitempty"`
    Venue          string    `json:"venue"`
    EventDate      time.Time `json:"eventDate"`
    StartTime      time.Time `json:"startTime"`
    Status         string    `json:"status"`
    AvailableSeats int       `json:"availableSeats"`
    SoldOut        bool      `json:"soldOut"`
}

func publicEvent(e model.Event) PublicEvent {
    return PublicEvent{
        ID:             e.ID,
        Name:           e.Name,
        Tagline:        tagline(e.Name),
        Venue:          e.Venue,
        EventDate:      e.EventDate,
        StartTime:      e.StartTime,
        Status:         e.Status,
        AvailableSeats: e.AvailableSeats,
        SoldOut:        e.AvailableSeats <= 0,
    }
}

// tagline is the part of a name after the first colon, e.g.
// "Conf 2026: Finding Flow" -> "Finding Flow".
func tagline(name string) string {
    if _, after, ok := strings.Cut(name, ":"); ok {
        return strings.TrimSpace(after)
    }
    return ""
}

// List searches events.  Query params: name, venue, status (default
// PUBLISHED), time ("upcoming" default, or "any"), page, page_size.
func (h *EventHandler) List(c echo.Context) error {
    page, _ := strconv.Atoi(c.QueryParam("page"))
    if page < 1 {
        page = 1
    }
    ps, _ := strconv.Atoi(c.QueryParam("page_size"))
    if ps < 1 {
        ps = 20
    }
    if ps > 100 {
        ps = 100
    }
    q := repository.EventSearchQuery{
        Name:       strings.TrimSpace(c.QueryParam("name")),
        Venue:      strings.TrimSpace(c.QueryParam("venue")),
        Status:     strings.ToUpper(strings.TrimSpace(c.QueryParam("status"))),
        TimeFilter: strings.ToLower(strings.TrimSpace(c.QueryParam("time"))),
        Page:       page,
        PageSize:   ps,
    }
    events, total, err := h.Events.Search(c.Request().Context(), q)
    if err != nil {
        return respondError(c, err)
    }
    out := make([]PublicEvent, 0, len(events))
    for _, e := range events {
        out = append(out, publicEvent(e))
    }
    return c.JSON(http.StatusOK, echo.Map{
        "data":      out,
        "total":     total,
        "page":      page,
        "page_size": ps,
    })
}

var errEventNotFound = &service.Error{Kind: service.KindNotFound, Message: "event not found"}

// Get returns one event.  Draft events are hidden.
func (h *EventHandler) Get(c echo.Context) error {
    e, err := h.Events.GetByID(c.Request().Context(), c.Param("id"))
    if err != nil {
        if errors.Is(err, repository.ErrNotFound) {
            return respondError(c, errEventNotFound)
        }
        return respondError(c, err)
    }
    if e.Status == model.EventDraft {
        return respondError(c, errEventNotFound)
    }
    return c.JSON(http.StatusOK, publicEvent(e))
}
