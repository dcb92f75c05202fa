package lockstore

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStoreSetNX(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisStore(db)
	ctx := context.Background()

	mock.ExpectSetNX("lock:e1:A1", "sess-a", 300*time.Second).SetVal(true)
	mock.ExpectSetNX("lock:e1:A1", "sess-b", 300*time.Second).SetVal(false)

	ok, err := s.Set(ctx, "lock:e1:A1", "sess-a", 300*time.Second, true)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Set(ctx, "lock:e1:A1", "sess-b", 300*time.Second, true)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreGetMissing(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisStore(db)

	mock.ExpectGet("lock:e1:A1").RedisNil()
	mock.ExpectGet("lock:e1:A2").SetVal("sess-a")

	_, found, err := s.Get(context.Background(), "lock:e1:A1")
	require.NoError(t, err)
	assert.False(t, found)

	v, found, err := s.Get(context.Background(), "lock:e1:A2")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "sess-a", v)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreDeleteAndRefresh(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisStore(db)
	ctx := context.Background()

	mock.ExpectDel("lock:e1:A1", "lock:e1:A2").SetVal(1)
	mock.ExpectPExpire("lock:e1:A3", 2*time.Minute).SetVal(false)

	n, err := s.Delete(ctx, "lock:e1:A1", "lock:e1:A2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	existed, err := s.RefreshTTL(ctx, "lock:e1:A3", 2*time.Minute)
	require.NoError(t, err)
	assert.False(t, existed)

	n, err = s.Delete(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreCompareScripts(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisStore(db)
	ctx := context.Background()

	mock.ExpectEvalSha(deleteIfValueScript.Hash(), []string{"lock:e1:A1"}, "sess-b").SetVal(int64(0))
	mock.ExpectEvalSha(refreshIfValueScript.Hash(), []string{"lock:e1:A1"}, "sess-a", int64(300000)).SetVal(int64(1))

	ok, err := s.DeleteIfValue(ctx, "lock:e1:A1", "sess-b")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.RefreshIfValue(ctx, "lock:e1:A1", "sess-a", 300*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}
