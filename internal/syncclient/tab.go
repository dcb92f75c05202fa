package syncclient

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// beaconTimeout bounds the release sent by Close.
const beaconTimeout = 2 * time.Second

// Tab is one open seat page: it selects seats through the API, tells the
// other tabs about it through the hub, and polls for everyone else's
// changes.  Tabs of one session share a view of the session's holds;
// each tab also remembers which of them it selected itself.
type Tab struct {
	client  *Client
	hub     *Hub
	poller  *Poller
	eventID string

	mu     sync.Mutex
	held   map[string]struct{} // every seat the session holds
	mine   map[string]struct{} // seats this tab selected
	stop   context.CancelFunc
	done   chan struct{}
	closed bool
}

func NewTab(client *Client, hub *Hub, eventID string, pollInterval time.Duration) *Tab {
	return &Tab{
		client:  client,
		hub:     hub,
		poller:  NewPoller(client, hub, eventID, pollInterval),
		eventID: eventID,
		held:    map[string]struct{}{},
		mine:    map[string]struct{}{},
	}
}

// Start loads the session's current holds, then follows the hub and polls
// in the background.  Calling it twice is a no-op.
func (t *Tab) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.stop != nil || t.closed {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	// Subscribe first so nothing published during the load is missed.
	updates, unsubscribe := t.hub.Subscribe(t.eventID, 64)
	locks, err := t.client.ListLocks(ctx, t.eventID)
	if err != nil {
		unsubscribe()
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil || t.closed {
		unsubscribe()
		return nil
	}
	for _, l := range locks.Locks {
		t.held[l.SeatID] = struct{}{}
	}
	ctx, cancel := context.WithCancel(ctx)
	t.stop = cancel
	t.done = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		t.poller.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		defer unsubscribe()
		t.follow(ctx, updates)
	}()
	go func() {
		wg.Wait()
		close(t.done)
	}()
	return nil
}

// follow applies the session's own updates until ctx is done.
func (t *Tab) follow(ctx context.Context, updates <-chan Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			t.apply(u)
		}
	}
}

func (t *Tab) apply(u Update) {
	if u.SessionID != t.client.SessionID() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch u.Type {
	case UpdateLock:
		for _, id := range u.SeatIDs {
			t.held[id] = struct{}{}
		}
	case UpdateUnlock:
		for _, id := range u.SeatIDs {
			delete(t.held, id)
			delete(t.mine, id)
		}
	case UpdateRefresh:
		held := make(map[string]struct{}, len(t.held))
		for _, s := range u.Seats {
			if s.LockedByMe {
				held[s.ID] = struct{}{}
			}
		}
		t.held = held
		for id := range t.mine {
			if _, ok := held[id]; !ok {
				delete(t.mine, id)
			}
		}
	}
}

// Select locks seats for the session.  On a conflict the seat map is
// re-fetched so the tabs see who won, and the *ConflictError is returned.
func (t *Tab) Select(ctx context.Context, seatIDs ...string) (*Grant, error) {
	g, err := t.client.Lock(ctx, t.eventID, seatIDs)
	if err != nil {
		if IsConflict(err) {
			if rerr := t.poller.Refresh(ctx); rerr != nil {
				log.Debug().Err(rerr).Str("event_id", t.eventID).Msg("refresh after conflict failed")
			}
		}
		return nil, err
	}
	t.mu.Lock()
	for _, id := range g.SeatIDs {
		t.held[id] = struct{}{}
		t.mine[id] = struct{}{}
	}
	t.mu.Unlock()
	t.hub.Publish(Update{EventID: t.eventID, Type: UpdateLock, SeatIDs: g.SeatIDs, SessionID: t.client.SessionID()})
	return g, nil
}

// Deselect releases seats the session holds, whichever tab selected them.
func (t *Tab) Deselect(ctx context.Context, seatIDs ...string) (int, error) {
	n, err := t.client.Unlock(ctx, t.eventID, seatIDs)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	for _, id := range seatIDs {
		delete(t.held, id)
		delete(t.mine, id)
	}
	t.mu.Unlock()
	t.hub.Publish(Update{EventID: t.eventID, Type: UpdateUnlock, SeatIDs: seatIDs, SessionID: t.client.SessionID()})
	return n, nil
}

// Held lists the seats the session holds as far as this tab knows, sorted.
func (t *Tab) Held() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedKeys(t.held)
}

// Selected lists the held seats this tab selected itself, sorted.
func (t *Tab) Selected() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedKeys(t.mine)
}

func sortedKeys(m map[string]struct{}) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops the tab and beacons the release of the seats it selected.
// Seats selected by sibling tabs stay held.  Seats the beacon fails to
// free fall back to the lock TTL.
func (t *Tab) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	stop, done := t.stop, t.done
	t.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	mine := t.Selected()
	if len(mine) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), beaconTimeout)
	defer cancel()
	if err := t.client.Beacon(ctx, t.eventID, mine); err != nil {
		log.Warn().Err(err).Str("event_id", t.eventID).Strs("seat_ids", mine).Msg("release beacon failed")
		return err
	}
	t.mu.Lock()
	for _, id := range mine {
		delete(t.held, id)
	}
	t.mine = map[string]struct{}{}
	t.mu.Unlock()
	t.hub.Publish(Update{EventID: t.eventID, Type: UpdateUnlock, SeatIDs: mine, SessionID: t.client.SessionID()})
	return nil
}
