package model

import "time"

// Event statuses.  Only PUBLISHED events are listed to shoppers.
const (
	EventDraft     = "DRAFT"
	EventPublished = "PUBLISHED"
	EventCancelled = "CANCELLED"
	EventCompleted = "COMPLETED"
)

// Event is the scheduled performance seats are sold for.  AvailableSeats
// is a denormalized counter; it is only ever decremented inside the
// settlement transaction that marks the seats SOLD.
type Event struct {
	ID             string    `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Venue          string    `db:"venue" json:"venue"`
	EventDate      time.Time `db:"event_date" json:"eventDate"`
	StartTime      time.Time `db:"start_time" json:"startTime"`
	Status         string    `db:"status" json:"status"`
	MaxCapacity    int       `db:"max_capacity" json:"maxCapacity"`
	AvailableSeats int       `db:"available_seats" json:"availableSeats"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}
