package model

import "time"

// SeatLock is a time boxed, exclusive claim on a seat by a shopper
// session.  It lives only in the lock store and ceases to exist once its
// TTL passes; nothing here is persisted in MySQL.
type SeatLock struct {
	EventID   string    `json:"eventId"`
	SeatID    string    `json:"seatId"`
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// TimeRemaining is the whole seconds left before the lock lapses.
func (l SeatLock) TimeRemaining(now time.Time) int64 {
	if d := l.ExpiresAt.Sub(now); d > 0 {
		return int64(d / time.Second)
	}
	return 0
}
