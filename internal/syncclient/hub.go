package syncclient

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iliyamo/seat-settlement/internal/model"
)

// Update kinds.
const (
	UpdateLock    = "LOCK"
	UpdateUnlock  = "UNLOCK"
	UpdateRefresh = "REFRESH"
)

// Update is one change broadcast to the tabs watching an event.  Seats is
// set only for REFRESH.
type Update struct {
	EventID   string
	Type      string
	SeatIDs   []string
	SessionID string
	Seats     []model.SeatView
	At        time.Time
}

// Hub fans updates out to subscribers per event.  A subscriber that does
// not keep up loses updates rather than stalling the publisher; the next
// REFRESH brings it back in line.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscription]struct{}
}

type subscription struct {
	ch   chan Update
	once sync.Once
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[*subscription]struct{}{}}
}

// Subscribe returns a channel of updates for eventID and a function that
// ends the subscription and closes the channel.
func (h *Hub) Subscribe(eventID string, buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscription{ch: make(chan Update, buffer)}
	h.mu.Lock()
	set, ok := h.subs[eventID]
	if !ok {
		set = map[*subscription]struct{}{}
		h.subs[eventID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[eventID]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, eventID)
			}
		}
		h.mu.Unlock()
		sub.once.Do(func() { close(sub.ch) })
	}
	return sub.ch, cancel
}

// Publish delivers u to every subscriber of u.EventID without blocking.
func (h *Hub) Publish(u Update) {
	if u.At.IsZero() {
		u.At = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[u.EventID] {
		select {
		case sub.ch <- u:
		default:
			log.Debug().Str("event_id", u.EventID).Str("type", u.Type).Msg("hub: subscriber full, update dropped")
		}
	}
}

// Subscribers counts the live subscriptions of an event.
func (h *Hub) Subscribers(eventID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[eventID])
}
