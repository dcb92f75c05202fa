package repository

import (
	"context"
	"strings"

	"github.com/iliyamo/seat-settlement/internal/model"
)

// EventSearchQuery defines filters & pagination for browsing events.
type EventSearchQuery struct {
	Name       string
	Venue      string
	Status     string
	TimeFilter string // upcoming (default) | any
	Page       int
	PageSize   int
}

// Search lists events matching q ordered by start time, together with the
// total number of matches.
func (r *EventRepo) Search(ctx context.Context, q EventSearchQuery) ([]model.Event, int64, error) {
	where := []string{"status = ?"}
	status := q.Status
	if status == "" {
		status = model.EventPublished
	}
	args := []any{status}

	if strings.ToLower(q.TimeFilter) != "any" {
		where = append(where, "start_time >= UTC_TIMESTAMP()")
	}
	if q.Name != "" {
		where = append(where, "LOWER(name) LIKE ?")
		args = append(args, "%"+strings.ToLower(q.Name)+"%")
	}
	if q.Venue != "" {
		where = append(where, "LOWER(venue) LIKE ?")
		args = append(args, "%"+strings.ToLower(q.Venue)+"%")
	}
	cond := strings.Join(where, " AND ")

	var total int64
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM events WHERE "+cond, args...); err != nil {
		return nil, 0, err
	}

	limit := q.PageSize
	offset := (q.Page - 1) * q.PageSize
	out := make([]model.Event, 0, limit)
	err := r.db.SelectContext(ctx, &out,
		"SELECT "+eventColumns+" FROM events WHERE "+cond+" ORDER BY start_time ASC LIMIT ? OFFSET ?",
		append(append([]any{}, args...), limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
