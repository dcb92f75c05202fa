// Package lockstore provides the key/value substrate for seat locks: a
// conditional set with expiry, atomic expiry refresh and compare-and-
// delete.  Two interchangeable implementations exist, a Redis backed store
// for multi-instance deployments and a single process in-memory store with
// real wall clock expiry for local runs and tests.
package lockstore

import (
	"context"
	"time"
)

// Store is implemented by every lock backend.  All operations are atomic
// with respect to concurrent callers on the same key.
type Store interface {
	// Set stores value under key with the given ttl.  When onlyIfAbsent is
	// true the write happens only if no live value exists, and the return
	// value reports whether it happened.  A ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration, onlyIfAbsent bool) (bool, error)

	// Get returns the live value under key.  found is false when the key
	// is absent or expired.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Delete removes keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)

	// RefreshTTL resets the expiry of an existing key and reports whether
	// the key existed.
	RefreshTTL(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// DeleteIfValue removes key only while it still holds value.
	DeleteIfValue(ctx context.Context, key, value string) (bool, error)

	// RefreshIfValue resets the expiry of key only while it still holds
	// value.
	RefreshIfValue(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Scan lists live entries whose key starts with prefix.
	Scan(ctx context.Context, prefix string) ([]Entry, error)
}

// Entry is a live key with its holder value and expiry.  ExpiresAt is the
// zero time for keys without expiry.
type Entry struct {
	Key       string
	Value     string
	ExpiresAt time.Time
}
