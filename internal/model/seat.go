package model

import "time"

// Seat statuses persisted in seats.status.  SeatLocked is never written to
// the database; it is projected onto a seat when the lock store holds a
// lock for it.
const (
	SeatAvailable = "AVAILABLE"
	SeatLocked    = "LOCKED"
	SeatReserved  = "RESERVED"
	SeatSold      = "SOLD"
)

// Seat types.
const (
	SeatTypeVIP      = "VIP"
	SeatTypeStandard = "STANDARD"
	SeatTypeEconomy  = "ECONOMY"
)

// Seat describes a physical seat of an event.  Seats are created during
// event setup and afterwards only change status.
//
// Fields:
//
//	ID         – primary key, opaque string (e.g. "A1" or a uuid).
//	EventID    – event the seat belongs to.
//	SeatNumber – printable label shown on the ticket.
//	Row, Col   – grid position used by the seat map.
//	Section    – seating block.
//	SeatType   – VIP, STANDARD or ECONOMY.
//	Price      – current price; orders snapshot it into order_items.
//	Status     – AVAILABLE, RESERVED or SOLD.
type Seat struct {
	ID         string    `db:"id" json:"id"`                  // seats.id
	EventID    string    `db:"event_id" json:"eventId"`       // seats.event_id
	SeatNumber string    `db:"seat_number" json:"seatNumber"` // seats.seat_number
	Row        string    `db:"row" json:"row"`                // seats.row
	Col        string    `db:"col" json:"col"`                // seats.col
	Section    string    `db:"section" json:"section"`        // seats.section
	SeatType   string    `db:"seat_type" json:"seatType"`     // seats.seat_type
	Price      float64   `db:"price" json:"price"`            // seats.price
	Status     string    `db:"status" json:"status"`          // seats.status
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`   // seats.created_at
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`   // seats.updated_at
}

// Sellable reports whether the seat may still be locked by a shopper.
func (s Seat) Sellable() bool {
	return s.Status != SeatSold && s.Status != SeatReserved
}

// SeatView is one cell of the shopper seat map: the persisted seat plus
// the lock overlay computed for the requesting session.
type SeatView struct {
	Seat
	IsLocked   bool       `json:"isLocked"`
	LockedByMe bool       `json:"lockedByMe"`
	LockExpiry *time.Time `json:"lockExpiresAt,omitempty"`
}
