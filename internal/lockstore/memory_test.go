package lockstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSetOnlyIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	ok, err := s.Set(ctx, "lock:e1:A1", "sess-a", time.Minute, true)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Set(ctx, "lock:e1:A1", "sess-b", time.Minute, true)
	require.NoError(t, err)
	assert.False(t, ok)

	v, found, err := s.Get(ctx, "lock:e1:A1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "sess-a", v)
}

func TestMemoryStoreExpiryFreesKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	ok, _ := s.Set(ctx, "k", "a", 40*time.Millisecond, true)
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)

	_, found, _ := s.Get(ctx, "k")
	assert.False(t, found)
	assert.Equal(t, 0, s.Len())

	ok, _ = s.Set(ctx, "k", "b", time.Minute, true)
	assert.True(t, ok, "expired key must be acquirable without an explicit delete")
}

func TestMemoryStoreRefreshTTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	_, _ = s.Set(ctx, "k", "a", 60*time.Millisecond, false)
	time.Sleep(30 * time.Millisecond)

	existed, err := s.RefreshTTL(ctx, "k", 300*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, existed)

	time.Sleep(80 * time.Millisecond)
	_, found, _ := s.Get(ctx, "k")
	assert.True(t, found, "refreshed key outlives its original deadline")

	existed, _ = s.RefreshTTL(ctx, "missing", time.Second)
	assert.False(t, existed)
}

func TestMemoryStoreOverwriteDisarmsOldTimer(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	_, _ = s.Set(ctx, "k", "a", 30*time.Millisecond, false)
	_, _ = s.Set(ctx, "k", "b", 0, false)

	time.Sleep(80 * time.Millisecond)
	v, found, _ := s.Get(ctx, "k")
	assert.True(t, found)
	assert.Equal(t, "b", v)
}

func TestMemoryStoreCompareAndAct(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	_, _ = s.Set(ctx, "k", "owner", time.Minute, true)

	ok, _ := s.DeleteIfValue(ctx, "k", "intruder")
	assert.False(t, ok)
	ok, _ = s.RefreshIfValue(ctx, "k", "intruder", time.Hour)
	assert.False(t, ok)

	ok, _ = s.RefreshIfValue(ctx, "k", "owner", time.Hour)
	assert.True(t, ok)
	ok, _ = s.DeleteIfValue(ctx, "k", "owner")
	assert.True(t, ok)

	n, _ := s.Delete(ctx, "k", "other")
	assert.Equal(t, int64(0), n)
}

func TestMemoryStoreScanByPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	_, _ = s.Set(ctx, "lock:e1:B2", "x", time.Minute, true)
	_, _ = s.Set(ctx, "lock:e1:A1", "y", time.Minute, true)
	_, _ = s.Set(ctx, "lock:e2:A1", "z", time.Minute, true)

	entries, err := s.Scan(ctx, "lock:e1:")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "lock:e1:A1", entries[0].Key)
	assert.Equal(t, "y", entries[0].Value)
	assert.False(t, entries[0].ExpiresAt.IsZero())
	assert.Equal(t, "lock:e1:B2", entries[1].Key)
}

func TestMemoryStoreConcurrentAcquireHasOneWinner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	const contenders = 64
	var (
		wins  int32
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			ok, err := s.Set(ctx, "lock:e1:A1", fmt.Sprintf("sess-%d", i), time.Minute, true)
			if err == nil && ok {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}
