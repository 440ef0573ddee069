package repo

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

//go:embed lua/snapshot_balance.lua
var luaSnapshotBalance string

const balanceTTL = 5 * time.Minute

// SnapshotScript writes a balance snapshot only when its wallet version is
// newer than the stored one, so late writers never roll a snapshot back.
var SnapshotScript = redis.NewScript(luaSnapshotBalance)

func balanceKey(walletID string) string { return fmt.Sprintf("balance:%s", walletID) }

// SnapshotArgs are the script arguments CacheBalance sends for a snapshot.
func SnapshotArgs(bal decimal.Decimal, version uint64) []interface{} {
	return []interface{}{
		strconv.FormatUint(version, 10),
		bal.StringFixed(2),
		strconv.FormatInt(balanceTTL.Milliseconds(), 10),
	}
}

// CacheBalance writes the display snapshot of a balance at the given wallet
// version. It reports whether the snapshot was stored.
func (r *Repository) CacheBalance(ctx context.Context, walletID string, bal decimal.Decimal, version uint64) (bool, error) {
	if r.rdb == nil {
		return false, nil
	}
	n, err := SnapshotScript.Run(ctx, r.rdb, []string{balanceKey(walletID)}, SnapshotArgs(bal, version)...).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// InvalidateBalance drops the snapshot so readers fall back to the store.
func (r *Repository) InvalidateBalance(ctx context.Context, walletID string) error {
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Del(ctx, balanceKey(walletID)).Err()
}

// GetCachedBalance reads the snapshot. A miss returns redis.Nil.
func (r *Repository) GetCachedBalance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	if r.rdb == nil {
		return decimal.Zero, redis.Nil
	}
	str, err := r.rdb.HGet(ctx, balanceKey(walletID), "balance").Result()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(str)
}
