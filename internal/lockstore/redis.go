package lockstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Compare-and-act scripts.  A plain GET followed by DEL/PEXPIRE would let
// another session's lock slip in between the two round trips.
var (
	deleteIfValueScript = redis.NewScript(`
        if redis.call('GET', KEYS[1]) == ARGV[1] then
            return redis.call('DEL', KEYS[1])
        end
        return 0
    `)

	refreshIfValueScript = redis.NewScript(`
        if redis.call('GET', KEYS[1]) == ARGV[1] then
            return redis.call('PEXPIRE', KEYS[1], ARGV[2])
        end
        return 0
    `)
)

const scanBatch = 200

// RedisStore implements Store on a Redis server.  Conditional set maps to
// SET NX with an expiry, which Redis executes atomically.
type RedisStore struct {
	rdb redis.UniversalClient
}

// NewRedisStore wraps an existing client.  The client is not closed by
// the store.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration, onlyIfAbsent bool) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	if onlyIfAbsent {
		return s.rdb.SetNX(ctx, key, value, ttl).Result()
	}
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return s.rdb.Del(ctx, keys...).Result()
}

func (s *RedisStore) RefreshTTL(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return s.rdb.Persist(ctx, key).Result()
	}
	return s.rdb.PExpire(ctx, key, ttl).Result()
}

func (s *RedisStore) DeleteIfValue(ctx context.Context, key, value string) (bool, error) {
	n, err := deleteIfValueScript.Run(ctx, s.rdb, []string{key}, value).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) RefreshIfValue(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	n, err := refreshIfValueScript.Run(ctx, s.rdb, []string{key}, value, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Scan walks SCAN MATCH prefix* and resolves values and remaining TTLs in
// one pipeline per batch.  Keys that vanish between SCAN and GET are
// skipped.
func (s *RedisStore) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	out := make([]Entry, 0)
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return nil, err
		}
		if len(keys) > 0 {
			entries, err := s.resolve(ctx, keys)
			if err != nil {
				return nil, err
			}
			out = append(out, entries...)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

func (s *RedisStore) resolve(ctx context.Context, keys []string) ([]Entry, error) {
	pipe := s.rdb.Pipeline()
	gets := make([]*redis.StringCmd, len(keys))
	ttls := make([]*redis.DurationCmd, len(keys))
	for i, k := range keys {
		gets[i] = pipe.Get(ctx, k)
		ttls[i] = pipe.PTTL(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	now := time.Now()
	out := make([]Entry, 0, len(keys))
	for i, k := range keys {
		v, err := gets[i].Result()
		if err != nil {
			continue
		}
		e := Entry{Key: k, Value: v}
		if d, err := ttls[i].Result(); err == nil && d > 0 {
			e.ExpiresAt = now.Add(d)
		}
		out = append(out, e)
	}
	return out, nil
}
