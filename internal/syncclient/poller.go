package syncclient

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultPollInterval matches how often the seat page refreshes.
const DefaultPollInterval = 5 * time.Second

// Poller keeps the seat map of one event fresh by publishing a REFRESH to
// the hub on every tick.
type Poller struct {
	client   *Client
	hub      *Hub
	eventID  string
	interval time.Duration
}

func NewPoller(client *Client, hub *Hub, eventID string, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{client: client, hub: hub, eventID: eventID, interval: interval}
}

// Refresh fetches the seat map once and publishes it.
func (p *Poller) Refresh(ctx context.Context) error {
	seats, err := p.client.SeatMap(ctx, p.eventID)
	if err != nil {
		return err
	}
	p.hub.Publish(Update{EventID: p.eventID, Type: UpdateRefresh, SessionID: p.client.SessionID(), Seats: seats})
	return nil
}

// Run refreshes immediately and then on every tick until ctx is done.
// Failed polls are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		if err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("event_id", p.eventID).Msg("seat map poll failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
