package repo

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/qshelter/payment-ledger/internal/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCacheRepo(t *testing.T) (*Repository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRepository(nil, rdb, nil, must(logger.NewLogger("error"))), mr
}

func TestCacheBalance_OlderVersionNeverOverwrites(t *testing.T) {
	r, mr := newCacheRepo(t)
	ctx := context.Background()

	stored, err := r.CacheBalance(ctx, "w1", decimal.NewFromInt(0), 2)
	require.NoError(t, err)
	assert.True(t, stored)

	// a slower worker finishing the previous change
	stored, err = r.CacheBalance(ctx, "w1", decimal.NewFromInt(100), 1)
	require.NoError(t, err)
	assert.False(t, stored)

	bal, err := r.GetCachedBalance(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "0.00", bal.StringFixed(2))

	stored, err = r.CacheBalance(ctx, "w1", decimal.NewFromInt(40), 3)
	require.NoError(t, err)
	assert.True(t, stored)
	bal, err = r.GetCachedBalance(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "40.00", bal.StringFixed(2))
	assert.Equal(t, balanceTTL, mr.TTL("balance:w1"))
}

func TestInvalidateBalance_ForcesMiss(t *testing.T) {
	r, _ := newCacheRepo(t)
	ctx := context.Background()

	_, err := r.CacheBalance(ctx, "w1", decimal.NewFromInt(5), 1)
	require.NoError(t, err)
	require.NoError(t, r.InvalidateBalance(ctx, "w1"))

	_, err = r.GetCachedBalance(ctx, "w1")
	assert.ErrorIs(t, err, redis.Nil)

	// after a drop any version may write again
	stored, err := r.CacheBalance(ctx, "w1", decimal.NewFromInt(7), 1)
	require.NoError(t, err)
	assert.True(t, stored)
}

func TestCacheBalance_UsesSnapshotScript(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	r := NewRepository(nil, rdb, nil, must(logger.NewLogger("error")))
	ctx := context.Background()

	mock.ExpectEvalSha(SnapshotScript.Hash(), []string{"balance:w1"}, SnapshotArgs(decimal.RequireFromString("12.5"), 4)...).SetVal(int64(1))
	stored, err := r.CacheBalance(ctx, "w1", decimal.RequireFromString("12.5"), 4)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_NoClientIsMiss(t *testing.T) {
	r := NewRepository(nil, nil, nil, must(logger.NewLogger("error")))
	ctx := context.Background()

	stored, err := r.CacheBalance(ctx, "w1", decimal.NewFromInt(1), 1)
	require.NoError(t, err)
	assert.False(t, stored)
	require.NoError(t, r.InvalidateBalance(ctx, "w1"))
	_, err = r.GetCachedBalance(ctx, "w1")
	assert.ErrorIs(t, err, redis.Nil)
}
