package session

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"userphone/internal/status"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Unix(1_700_000_000, 0)

func setupTestRedisStore() (*RedisStore, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()
	return NewRedisStore(db, func() time.Time { return fixedNow }), mock
}

func TestRedisStore_StartCall_Success(t *testing.T) {
	store, mock := setupTestRedisStore()
	defer mock.ClearExpect()

	mock.ExpectEval(startCallScript, sessionKeys(), "a", "b", fixedNow.Unix(), "1").SetVal(int64(1))

	err := store.StartCall(context.Background(), "a", "b", true)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_StartCall_AlreadyPaired(t *testing.T) {
	store, mock := setupTestRedisStore()
	defer mock.ClearExpect()

	mock.ExpectEval(startCallScript, sessionKeys(), "a", "b", fixedNow.Unix(), "0").SetVal(int64(0))

	err := store.StartCall(context.Background(), "a", "b", false)

	assert.ErrorIs(t, err, status.ErrAlreadyInCall)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_StartCall_RedisError(t *testing.T) {
	store, mock := setupTestRedisStore()
	defer mock.ClearExpect()

	mock.ExpectEval(startCallScript, sessionKeys(), "a", "b", fixedNow.Unix(), "0").SetErr(errors.New("connection refused"))

	err := store.StartCall(context.Background(), "a", "b", false)

	assert.Error(t, err)
	assert.NotErrorIs(t, err, status.ErrAlreadyInCall)
}

func TestRedisStore_EndCall_ReturnsPartnerOnce(t *testing.T) {
	store, mock := setupTestRedisStore()
	defer mock.ClearExpect()
	ctx := context.Background()

	mock.ExpectEval(endCallScript, sessionKeys(), "a").SetVal("b")
	mock.ExpectEval(endCallScript, sessionKeys(), "a").RedisNil()

	partner, ok, err := store.EndCall(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", partner)

	partner, ok, err = store.EndCall(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, partner)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Reads(t *testing.T) {
	store, mock := setupTestRedisStore()
	defer mock.ClearExpect()
	ctx := context.Background()

	mock.ExpectHExists(activeKey, "a").SetVal(true)
	mock.ExpectHGet(activeKey, "a").SetVal("b")
	mock.ExpectHGet(activeKey, "z").RedisNil()
	mock.ExpectSIsMember(anonKey, "a").SetVal(false)
	mock.ExpectHLen(activeKey).SetVal(4)
	mock.ExpectHGetAll(activeKey).SetVal(map[string]string{"a": "b", "b": "a"})

	inCall, err := store.IsInCall(ctx, "a")
	require.NoError(t, err)
	assert.True(t, inCall)

	partner, ok, err := store.Partner(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", partner)

	_, ok, err = store.Partner(ctx, "z")
	require.NoError(t, err)
	assert.False(t, ok)

	anon, err := store.IsAnonymous(ctx, "a")
	require.NoError(t, err)
	assert.False(t, anon)

	count, err := store.ActiveCallCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	calls, err := store.ActiveCalls(ctx)
	require.NoError(t, err)
	assert.Len(t, calls, 2)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_CallDuration(t *testing.T) {
	store, mock := setupTestRedisStore()
	defer mock.ClearExpect()
	ctx := context.Background()

	started := fixedNow.Add(-125 * time.Second).Unix()
	mock.ExpectHGet(startedKey, "a").SetVal(strconv.FormatInt(started, 10))
	mock.ExpectHGet(startedKey, "idle").RedisNil()

	minutes, ok, err := store.CallDuration(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, minutes)

	_, ok, err = store.CallDuration(ctx, "idle")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewStore_FallsBackToMemory(t *testing.T) {
	store, backend := NewStore(nil)
	assert.Equal(t, BackendMemory, backend)
	assert.IsType(t, &MemoryStore{}, store)

	db, _ := redismock.NewClientMock()
	store, backend = NewStore(db)
	assert.Equal(t, BackendRedis, backend)
	assert.IsType(t, &RedisStore{}, store)
}
