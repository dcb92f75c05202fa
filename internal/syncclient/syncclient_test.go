package syncclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-settlement/internal/handler"
	"github.com/iliyamo/seat-settlement/internal/lockstore"
	"github.com/iliyamo/seat-settlement/internal/model"
	"github.com/iliyamo/seat-settlement/internal/service"
)

type inventory []model.Seat

func (inv inventory) SeatsForEvent(_ context.Context, eventID string, ids []string) ([]model.Seat, error) {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []model.Seat
	for _, s := range inv {
		if s.EventID == eventID && want[s.ID] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (inv inventory) ListByEvent(_ context.Context, eventID string) ([]model.Seat, error) {
	var out []model.Seat
	for _, s := range inv {
		if s.EventID == eventID {
			out = append(out, s)
		}
	}
	return out, nil
}

// newServer runs the shopper lock API over a memory lock store.
func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := lockstore.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	inv := inventory{
		{ID: "A1", EventID: "evt", SeatNumber: "A1", Status: model.SeatAvailable, Price: 20},
		{ID: "A2", EventID: "evt", SeatNumber: "A2", Status: model.SeatAvailable, Price: 20},
		{ID: "A3", EventID: "evt", SeatNumber: "A3", Status: model.SeatAvailable, Price: 20},
	}
	h := handler.NewSeatLockHandler(service.NewLockManager(store, inv, service.LockOptions{TTL: time.Minute, StrictRelease: true}))

	e := echo.New()
	e.Validator = handler.NewValidator()
	e.POST("/v1/lock", h.Lock)
	e.DELETE("/v1/lock", h.Unlock)
	e.GET("/v1/lock", h.List)
	e.POST("/v1/unlock", h.Beacon)
	e.GET("/v1/events/:id/seats", h.SeatMap)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func seatByID(seats []model.SeatView, id string) model.SeatView {
	for _, s := range seats {
		if s.ID == id {
			return s
		}
	}
	return model.SeatView{}
}

func TestLoadOrCreateSessionPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tabs", "session")

	first, err := LoadOrCreateSession(path)
	require.NoError(t, err)
	assert.Len(t, first, 36)

	second, err := LoadOrCreateSession(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadOrCreateSessionReplacesGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session")
	require.NoError(t, os.WriteFile(path, []byte("not-a-uuid"), 0o600))

	id, err := LoadOrCreateSession(path)
	require.NoError(t, err)
	assert.NotEqual(t, "not-a-uuid", id)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, id+"\n", string(raw))
}

func TestClientLockConflictAndUnlock(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	alice := NewClient(srv.URL+"/v1", "alice", nil)
	bob := NewClient(srv.URL+"/v1", "bob", nil)

	g, err := alice.Lock(ctx, "evt", []string{"A2", "A1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "A2"}, g.SeatIDs)
	assert.True(t, g.ExpiresAt.After(time.Now()))

	_, err = bob.Lock(ctx, "evt", []string{"A2", "A3"})
	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []string{"A2"}, ce.SeatIDs)

	locks, err := alice.ListLocks(ctx, "evt")
	require.NoError(t, err)
	assert.Len(t, locks.Locks, 2)
	require.NotNil(t, locks.ExpiresAt)

	n, err := bob.Unlock(ctx, "evt", []string{"A1"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = alice.Unlock(ctx, "evt", []string{"A1", "A2"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = bob.Lock(ctx, "evt", []string{"A2", "A3"})
	require.NoError(t, err)
}

func TestClientReportsAPIErrors(t *testing.T) {
	srv := newServer(t)
	c := NewClient(srv.URL+"/v1", "alice", nil)

	_, err := c.Lock(context.Background(), "evt", nil)
	var ae *APIError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, http.StatusBadRequest, ae.Status)
	assert.False(t, IsConflict(err))
}

func TestClientSeatMapProjectsLocks(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	alice := NewClient(srv.URL+"/v1", "alice", nil)
	bob := NewClient(srv.URL+"/v1", "bob", nil)

	_, err := alice.Lock(ctx, "evt", []string{"A1"})
	require.NoError(t, err)

	mine, err := alice.SeatMap(ctx, "evt")
	require.NoError(t, err)
	require.Len(t, mine, 3)
	assert.True(t, seatByID(mine, "A1").LockedByMe)

	theirs, err := bob.SeatMap(ctx, "evt")
	require.NoError(t, err)
	a1 := seatByID(theirs, "A1")
	assert.True(t, a1.IsLocked)
	assert.False(t, a1.LockedByMe)
	assert.Equal(t, model.SeatLocked, a1.Status)
	assert.Equal(t, model.SeatAvailable, seatByID(theirs, "A2").Status)
}

func TestBeaconReleases(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	c := NewClient(srv.URL+"/v1", "alice", nil)

	_, err := c.Lock(ctx, "evt", []string{"A1"})
	require.NoError(t, err)
	require.NoError(t, c.Beacon(ctx, "evt", []string{"A1"}))

	locks, err := c.ListLocks(ctx, "evt")
	require.NoError(t, err)
	assert.Empty(t, locks.Locks)
}

func TestHubFanOutAndUnsubscribe(t *testing.T) {
	h := NewHub()
	a, cancelA := h.Subscribe("evt", 4)
	b, cancelB := h.Subscribe("evt", 4)
	other, cancelOther := h.Subscribe("other", 4)
	defer cancelOther()

	h.Publish(Update{EventID: "evt", Type: UpdateLock, SeatIDs: []string{"A1"}})
	ua := <-a
	ub := <-b
	assert.Equal(t, UpdateLock, ua.Type)
	assert.Equal(t, []string{"A1"}, ub.SeatIDs)
	assert.False(t, ua.At.IsZero())
	assert.Len(t, other, 0)

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, h.Subscribers("evt"))

	cancelB()
	assert.Equal(t, 0, h.Subscribers("evt"))
}

func TestHubDropsWhenSubscriberFull(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("evt", 1)
	defer cancel()

	h.Publish(Update{EventID: "evt", Type: UpdateLock})
	h.Publish(Update{EventID: "evt", Type: UpdateUnlock})
	u := <-ch
	assert.Equal(t, UpdateLock, u.Type)
	assert.Len(t, ch, 0)
}

func TestPollerPublishesRefreshUntilCancelled(t *testing.T) {
	srv := newServer(t)
	hub := NewHub()
	ch, cancelSub := hub.Subscribe("evt", 8)
	defer cancelSub()

	p := NewPoller(NewClient(srv.URL+"/v1", "alice", nil), hub, "evt", 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case u := <-ch:
			assert.Equal(t, UpdateRefresh, u.Type)
			assert.Len(t, u.Seats, 3)
		case <-time.After(2 * time.Second):
			t.Fatal("no refresh published")
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}

// waitRefreshes drains n REFRESH updates so a tab's first poll cannot
// land after a later LOCK.
func waitRefreshes(t *testing.T, updates <-chan Update, n int) {
	t.Helper()
	for n > 0 {
		select {
		case u := <-updates:
			if u.Type == UpdateRefresh {
				n--
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no refresh published")
		}
	}
}

func TestTabsShareSelectionsAndCloseReleases(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	hub := NewHub()
	client := NewClient(srv.URL+"/v1", "alice", nil)
	first := NewTab(client, hub, "evt", time.Hour)
	second := NewTab(client, hub, "evt", time.Hour)
	defer second.Close()

	updates, cancel := hub.Subscribe("evt", 16)
	defer cancel()
	require.NoError(t, first.Start(ctx))
	require.NoError(t, second.Start(ctx))
	waitRefreshes(t, updates, 2)

	_, err := first.Select(ctx, "A1", "A2")
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "A2"}, first.Held())
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"A1", "A2"}, second.Held())
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, second.Selected())

	// A sibling may release a seat the other tab picked.
	n, err := second.Deselect(ctx, "A2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"A1"}, first.Held())
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"A1"}, first.Selected())

	require.NoError(t, first.Close())
	assert.Empty(t, first.Held())
	assert.Eventually(t, func() bool { return len(second.Held()) == 0 }, 2*time.Second, 10*time.Millisecond)

	locks, err := client.ListLocks(ctx, "evt")
	require.NoError(t, err)
	assert.Empty(t, locks.Locks)
	require.NoError(t, first.Close())
}

func TestTabStartLoadsExistingHolds(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	client := NewClient(srv.URL+"/v1", "alice", nil)
	_, err := client.Lock(ctx, "evt", []string{"A3"})
	require.NoError(t, err)

	tab := NewTab(client, NewHub(), "evt", time.Hour)
	require.NoError(t, tab.Start(ctx))
	assert.Equal(t, []string{"A3"}, tab.Held())
	assert.Empty(t, tab.Selected())

	// Closing a tab that selected nothing leaves the session's holds alone.
	require.NoError(t, tab.Close())
	locks, err := client.ListLocks(ctx, "evt")
	require.NoError(t, err)
	assert.Len(t, locks.Locks, 1)
}

func TestTabIgnoresOtherSessions(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	hub := NewHub()
	alice := NewTab(NewClient(srv.URL+"/v1", "alice", nil), hub, "evt", time.Hour)
	bob := NewTab(NewClient(srv.URL+"/v1", "bob", nil), hub, "evt", time.Hour)
	defer alice.Close()
	defer bob.Close()

	updates, cancel := hub.Subscribe("evt", 16)
	defer cancel()
	require.NoError(t, alice.Start(ctx))
	require.NoError(t, bob.Start(ctx))
	waitRefreshes(t, updates, 2)

	_, err := alice.Select(ctx, "A1")
	require.NoError(t, err)
	hub.Publish(Update{EventID: "evt", Type: UpdateLock, SeatIDs: []string{"A2"}, SessionID: "alice"})
	assert.Eventually(t, func() bool { return len(alice.Held()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, bob.Held())
}

func TestTabConflictRefreshesSeatMap(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	hub := NewHub()
	alice := NewTab(NewClient(srv.URL+"/v1", "alice", nil), hub, "evt", time.Hour)
	bob := NewTab(NewClient(srv.URL+"/v1", "bob", nil), hub, "evt", time.Hour)

	_, err := alice.Select(ctx, "A3")
	require.NoError(t, err)

	updates, cancel := hub.Subscribe("evt", 8)
	defer cancel()
	_, err = bob.Select(ctx, "A3")
	require.True(t, IsConflict(err))

	u := <-updates
	assert.Equal(t, UpdateRefresh, u.Type)
	assert.True(t, seatByID(u.Seats, "A3").IsLocked)
	assert.Empty(t, bob.Held())
}

func TestConcurrentClientsOneWinnerPerSeat(t *testing.T) {
	srv := newServer(t)
	const n = 12
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := NewClient(srv.URL+"/v1", "s"+string(rune('a'+i)), nil)
			if _, err := c.Lock(context.Background(), "evt", []string{"A1", "A2"}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.True(t, IsConflict(err))
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
