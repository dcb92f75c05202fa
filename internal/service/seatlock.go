package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iliyamo/seat-settlement/internal/lockstore"
	"github.com/iliyamo/seat-settlement/internal/model"
)

// DefaultLockTTL is the hold window used when the caller passes no TTL.
const DefaultLockTTL = 300 * time.Second

// SeatInventory is the read side of the seats table the lock manager
// needs.  *repository.SeatRepo satisfies it.
type SeatInventory interface {
	SeatsForEvent(ctx context.Context, eventID string, ids []string) ([]model.Seat, error)
	ListByEvent(ctx context.Context, eventID string) ([]model.Seat, error)
}

// LockKey is the lock store key of one seat.
func LockKey(eventID, seatID string) string {
	return "lock:" + eventID + ":" + seatID
}

func lockPrefix(eventID string) string {
	if eventID == "" {
		return "lock:"
	}
	return "lock:" + eventID + ":"
}

// parseLockKey splits lock:{event}:{seat}.  Seat ids may contain colons;
// event ids may not.
func parseLockKey(key string) (eventID, seatID string, ok bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 || parts[0] != "lock" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// LockGrant is the result of a successful Acquire.
type LockGrant struct {
	EventID   string    `json:"eventId"`
	SeatIDs   []string  `json:"seatIds"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionLocks lists the seats one session holds.  ExpiresAt is the
// earliest expiry among them and nil when nothing is held.
type SessionLocks struct {
	Locks     []model.SeatLock `json:"locks"`
	ExpiresAt *time.Time       `json:"expiresAt"`
}

// SeatIDs returns the seat ids of all locks.
func (s SessionLocks) SeatIDs() []string {
	ids := make([]string, 0, len(s.Locks))
	for _, l := range s.Locks {
		ids = append(ids, l.SeatID)
	}
	return ids
}

// LockOptions tunes a LockManager.
type LockOptions struct {
	TTL           time.Duration
	StrictRelease bool
}

// LockManager grants time boxed exclusive holds on seats to shopper
// sessions.  Exclusivity comes from the store's conditional set; the
// manager adds all-or-nothing acquisition over several seats.
type LockManager struct {
	store         lockstore.Store
	seats         SeatInventory
	ttl           time.Duration
	strictRelease bool
	onChange      func(eventID string)
	now           func() time.Time
}

// NewLockManager wires a manager.  seats may be nil, in which case the
// inventory pre-check is skipped.
func NewLockManager(store lockstore.Store, seats SeatInventory, opts LockOptions) *LockManager {
	if store == nil {
		panic("nil lock store passed to NewLockManager")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &LockManager{
		store:         store,
		seats:         seats,
		ttl:           ttl,
		strictRelease: opts.StrictRelease,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// OnChange registers fn to run after any lock set of an event changed.
// The seat map cache uses it for invalidation.
func (m *LockManager) OnChange(fn func(eventID string)) { m.onChange = fn }

// TTL is the default hold window.
func (m *LockManager) TTL() time.Duration { return m.ttl }

func (m *LockManager) changed(eventID string) {
	if m.onChange != nil {
		m.onChange(eventID)
	}
}

// normalizeSeatIDs trims, drops empties, dedups and sorts.  A fixed order
// keeps two sessions racing for overlapping sets from each holding half.
func normalizeSeatIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func validateLockArgs(eventID, sessionID string, seatIDs []string) ([]string, error) {
	if strings.TrimSpace(eventID) == "" {
		return nil, validation("", "eventId is required")
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, validation("", "sessionId is required")
	}
	ids := normalizeSeatIDs(seatIDs)
	if len(ids) == 0 {
		return nil, validation("", "seatIds must not be empty")
	}
	return ids, nil
}

// Acquire locks every seat in seatIDs for sessionID or none of them.
// Seats the session already holds are re-affirmed with a fresh TTL.  On
// conflict the returned error carries the ids of the seats held by other
// sessions, and every lock taken by this call has been removed again.
func (m *LockManager) Acquire(ctx context.Context, eventID string, seatIDs []string, sessionID string, ttl time.Duration) (*LockGrant, error) {
	ids, err := validateLockArgs(eventID, sessionID, seatIDs)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = m.ttl
	}
	if err := m.checkInventory(ctx, eventID, ids); err != nil {
		return nil, err
	}

	acquired := make([]string, 0, len(ids))
	var conflicting []string
	for i, seatID := range ids {
		key := LockKey(eventID, seatID)
		ok, err := m.store.Set(ctx, key, sessionID, ttl, true)
		if err != nil {
			m.rollback(ctx, eventID, acquired, sessionID)
			return nil, fmt.Errorf("lock seat %s: %w", seatID, err)
		}
		if ok {
			acquired = append(acquired, seatID)
			continue
		}
		mine, err := m.store.RefreshIfValue(ctx, key, sessionID, ttl)
		if err != nil {
			m.rollback(ctx, eventID, acquired, sessionID)
			return nil, fmt.Errorf("refresh seat %s: %w", seatID, err)
		}
		if mine {
			continue
		}
		// The other holder may have expired between the two calls.
		ok, err = m.store.Set(ctx, key, sessionID, ttl, true)
		if err != nil {
			m.rollback(ctx, eventID, acquired, sessionID)
			return nil, fmt.Errorf("lock seat %s: %w", seatID, err)
		}
		if ok {
			acquired = append(acquired, seatID)
			continue
		}
		// Stop taking locks; only report who else is blocked.
		conflicting = append(conflicting, seatID)
		for _, rest := range ids[i+1:] {
			holder, found, err := m.store.Get(ctx, LockKey(eventID, rest))
			if err == nil && found && holder != sessionID {
				conflicting = append(conflicting, rest)
			}
		}
		break
	}
	if len(conflicting) > 0 {
		m.rollback(ctx, eventID, acquired, sessionID)
		log.Debug().Str("event_id", eventID).Str("session_id", sessionID).
			Strs("seat_ids", conflicting).Msg("seat lock conflict")
		return nil, conflict(CodeSeatLocked, "seats are locked by another session", conflicting...)
	}

	m.changed(eventID)
	return &LockGrant{EventID: eventID, SeatIDs: ids, ExpiresAt: m.now().Add(ttl)}, nil
}

func (m *LockManager) checkInventory(ctx context.Context, eventID string, ids []string) error {
	if m.seats == nil {
		return nil
	}
	seats, err := m.seats.SeatsForEvent(ctx, eventID, ids)
	if err != nil {
		return fmt.Errorf("load seats: %w", err)
	}
	byID := make(map[string]model.Seat, len(seats))
	for _, s := range seats {
		byID[s.ID] = s
	}
	var missing, unavailable []string
	for _, id := range ids {
		s, ok := byID[id]
		switch {
		case !ok:
			missing = append(missing, id)
		case !s.Sellable():
			unavailable = append(unavailable, id)
		}
	}
	if len(missing) > 0 {
		e := notFound("seats not found: " + strings.Join(missing, ", "))
		e.SeatIDs = missing
		return e
	}
	if len(unavailable) > 0 {
		return conflict(CodeSeatUnavailable, "seats are no longer available", unavailable...)
	}
	return nil
}

// rollback removes locks taken by a failed Acquire.  It ignores the
// request context so a client disconnect cannot leave seats locked.
func (m *LockManager) rollback(ctx context.Context, eventID string, seatIDs []string, sessionID string) {
	ctx = context.WithoutCancel(ctx)
	for _, seatID := range seatIDs {
		if _, err := m.store.DeleteIfValue(ctx, LockKey(eventID, seatID), sessionID); err != nil {
			log.Warn().Err(err).Str("event_id", eventID).Str("seat_id", seatID).Msg("lock rollback failed")
		}
	}
}

// Release drops the session's locks on seatIDs and returns how many were
// removed.  Releasing a seat that is not held, or held by someone else, is
// a no-op unless strict release is disabled.
func (m *LockManager) Release(ctx context.Context, eventID string, seatIDs []string, sessionID string) (int, error) {
	ids, err := validateLockArgs(eventID, sessionID, seatIDs)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, seatID := range ids {
		key := LockKey(eventID, seatID)
		if m.strictRelease {
			ok, err := m.store.DeleteIfValue(ctx, key, sessionID)
			if err != nil {
				return released, fmt.Errorf("release seat %s: %w", seatID, err)
			}
			if ok {
				released++
			}
			continue
		}
		n, err := m.store.Delete(ctx, key)
		if err != nil {
			return released, fmt.Errorf("release seat %s: %w", seatID, err)
		}
		released += int(n)
	}
	if released > 0 {
		m.changed(eventID)
	}
	return released, nil
}

// Extend refreshes the TTL of every seat the session holds among seatIDs.
// It reports true only when all of them were refreshed.
func (m *LockManager) Extend(ctx context.Context, eventID string, seatIDs []string, sessionID string, ttl time.Duration) (bool, time.Time, error) {
	ids, err := validateLockArgs(eventID, sessionID, seatIDs)
	if err != nil {
		return false, time.Time{}, err
	}
	if ttl <= 0 {
		ttl = m.ttl
	}
	all := true
	for _, seatID := range ids {
		ok, err := m.store.RefreshIfValue(ctx, LockKey(eventID, seatID), sessionID, ttl)
		if err != nil {
			return false, time.Time{}, fmt.Errorf("extend seat %s: %w", seatID, err)
		}
		all = all && ok
	}
	return all, m.now().Add(ttl), nil
}

// ListForSession lists the locks sessionID holds.  An empty eventID lists
// across all events.
func (m *LockManager) ListForSession(ctx context.Context, eventID, sessionID string) (SessionLocks, error) {
	if strings.TrimSpace(sessionID) == "" {
		return SessionLocks{}, validation("", "sessionId is required")
	}
	all, err := m.scan(ctx, eventID)
	if err != nil {
		return SessionLocks{}, err
	}
	out := SessionLocks{Locks: []model.SeatLock{}}
	for _, l := range all {
		if l.SessionID != sessionID {
			continue
		}
		out.Locks = append(out.Locks, l)
		if !l.ExpiresAt.IsZero() && (out.ExpiresAt == nil || l.ExpiresAt.Before(*out.ExpiresAt)) {
			exp := l.ExpiresAt
			out.ExpiresAt = &exp
		}
	}
	return out, nil
}

// ListForEvent returns every live lock of an event.
func (m *LockManager) ListForEvent(ctx context.Context, eventID string) ([]model.SeatLock, error) {
	return m.scan(ctx, eventID)
}

func (m *LockManager) scan(ctx context.Context, eventID string) ([]model.SeatLock, error) {
	entries, err := m.store.Scan(ctx, lockPrefix(eventID))
	if err != nil {
		return nil, fmt.Errorf("scan locks: %w", err)
	}
	locks := make([]model.SeatLock, 0, len(entries))
	for _, e := range entries {
		ev, seat, ok := parseLockKey(e.Key)
		if !ok {
			continue
		}
		locks = append(locks, model.SeatLock{EventID: ev, SeatID: seat, SessionID: e.Value, ExpiresAt: e.ExpiresAt})
	}
	return locks, nil
}

// ForceRelease removes locks regardless of holder.  Used by staff and by
// the order lifecycle once seats have left the pre-sale phase.
func (m *LockManager) ForceRelease(ctx context.Context, eventID string, seatIDs []string) (int, error) {
	ids := normalizeSeatIDs(seatIDs)
	if eventID == "" || len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = LockKey(eventID, id)
	}
	n, err := m.store.Delete(ctx, keys...)
	if err != nil {
		return 0, fmt.Errorf("force release: %w", err)
	}
	if n > 0 {
		m.changed(eventID)
	}
	return int(n), nil
}

// SeatsChanged reports a change to the persisted seats of eventID that
// no lock operation covered, such as seats returned to sale by an order
// that held no locks.
func (m *LockManager) SeatsChanged(eventID string) {
	if eventID != "" {
		m.changed(eventID)
	}
}

// VerifyHeld fails with SEAT_NOT_HELD unless sessionID holds a live lock
// on every seat in seatIDs.
func (m *LockManager) VerifyHeld(ctx context.Context, eventID string, seatIDs []string, sessionID string) error {
	ids, err := validateLockArgs(eventID, sessionID, seatIDs)
	if err != nil {
		return err
	}
	var missing []string
	for _, seatID := range ids {
		holder, found, err := m.store.Get(ctx, LockKey(eventID, seatID))
		if err != nil {
			return fmt.Errorf("verify seat %s: %w", seatID, err)
		}
		if !found || holder != sessionID {
			missing = append(missing, seatID)
		}
	}
	if len(missing) > 0 {
		return conflict(CodeSeatNotHeld, "seats are not locked by this session", missing...)
	}
	return nil
}

// SeatMap returns the event's seats with the lock overlay for sessionID.
// Seats persisted as AVAILABLE but locked are reported as LOCKED.
func (m *LockManager) SeatMap(ctx context.Context, eventID, sessionID string) ([]model.SeatView, error) {
	if m.seats == nil {
		return nil, fmt.Errorf("seat map: no inventory configured")
	}
	seats, err := m.seats.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load seats: %w", err)
	}
	locks, err := m.scan(ctx, eventID)
	if err != nil {
		return nil, err
	}
	byseat := make(map[string]model.SeatLock, len(locks))
	for _, l := range locks {
		byseat[l.SeatID] = l
	}
	views := make([]model.SeatView, 0, len(seats))
	for _, s := range seats {
		v := model.SeatView{Seat: s}
		if l, ok := byseat[s.ID]; ok && s.Status == model.SeatAvailable {
			v.IsLocked = true
			v.LockedByMe = sessionID != "" && l.SessionID == sessionID
			v.Status = model.SeatLocked
			if !l.ExpiresAt.IsZero() {
				exp := l.ExpiresAt
				v.LockExpiry = &exp
			}
		}
		views = append(views, v)
	}
	return views, nil
}
