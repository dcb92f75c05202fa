package lockstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
	gen       uint64
	timer     *time.Timer
}

func (e *memEntry) live(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// MemoryStore is a single process Store.  Keys expire on wall clock
// timers; reads also check the deadline so a late timer never exposes a
// stale value.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	gen     uint64
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memEntry), now: time.Now}
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration, onlyIfAbsent bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lookup(key); ok && onlyIfAbsent {
		return false, nil
	}
	s.put(key, value, ttl)
	return true, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := s.lookup(k); ok {
			s.remove(k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) RefreshTTL(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		return false, nil
	}
	s.put(key, e.value, ttl)
	return true, nil
}

func (s *MemoryStore) DeleteIfValue(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok || e.value != value {
		return false, nil
	}
	s.remove(key)
	return true, nil
}

func (s *MemoryStore) RefreshIfValue(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok || e.value != value {
		return false, nil
	}
	s.put(key, value, ttl)
	return true, nil
}

func (s *MemoryStore) Scan(_ context.Context, prefix string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make([]Entry, 0)
	for k, e := range s.entries {
		if !strings.HasPrefix(k, prefix) || !e.live(now) {
			continue
		}
		out = append(out, Entry{Key: k, Value: e.value, ExpiresAt: e.expiresAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Len reports the number of live keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for _, e := range s.entries {
		if e.live(now) {
			n++
		}
	}
	return n
}

// Close stops all pending expiry timers and drops every key.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.entries {
		s.remove(k)
	}
	return nil
}

// lookup returns the live entry for key, evicting it when its deadline
// already passed.  Caller holds s.mu.
func (s *MemoryStore) lookup(key string) (*memEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if !e.live(s.now()) {
		s.remove(key)
		return nil, false
	}
	return e, true
}

// put replaces key and arms a fresh timer.  Caller holds s.mu.
func (s *MemoryStore) put(key, value string, ttl time.Duration) {
	if old, ok := s.entries[key]; ok && old.timer != nil {
		old.timer.Stop()
	}
	s.gen++
	e := &memEntry{value: value, gen: s.gen}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
		gen := e.gen
		e.timer = time.AfterFunc(ttl, func() { s.expire(key, gen) })
	}
	s.entries[key] = e
}

// remove drops key and its timer.  Caller holds s.mu.
func (s *MemoryStore) remove(key string) {
	if e, ok := s.entries[key]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, key)
	}
}

// expire is the timer callback.  The generation check keeps a timer that
// lost a race with Stop from deleting a value written after it was armed.
func (s *MemoryStore) expire(key string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && e.gen == gen {
		delete(s.entries, key)
	}
}
