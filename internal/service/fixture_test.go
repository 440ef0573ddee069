package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/qshelter/payment-ledger/internal/logger"
	"github.com/qshelter/payment-ledger/internal/model"
	"github.com/qshelter/payment-ledger/internal/repo"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fixture struct {
	ctx       context.Context
	db        *gorm.DB
	repo      *repo.Repository
	redis     redismock.ClientMock
	wallets   *WalletService
	alloc     *AllocationService
	schedules *ScheduleService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	// SQLite in-memory DB, one per test
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(repo.Models()...))

	// Redis mock; balance snapshots without an expectation fail and are only logged
	rdb, mock := redismock.NewClientMock()

	log, err := logger.NewLogger("error")
	require.NoError(t, err)
	r := repo.NewRepository(db, rdb, &kafka.Writer{}, log)
	wallets := NewWalletService(r, log)
	return &fixture{
		ctx:       context.Background(),
		db:        db,
		repo:      r,
		redis:     mock,
		wallets:   wallets,
		alloc:     NewAllocationService(r, wallets, log),
		schedules: NewScheduleService(r, log),
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func (f *fixture) seedWallet(t *testing.T, id, owner, balance string) {
	t.Helper()
	require.NoError(t, f.db.Create(&model.Wallet{
		ID: id, OwnerID: owner, TenantID: "t1", Balance: dec(balance), Currency: "NGN", IsActive: true,
	}).Error)
	if !dec(balance).IsZero() {
		// keep the ledger invariant for seeded balances
		require.NoError(t, f.db.Create(&model.Transaction{
			ID: "seed-" + id, WalletID: id, Direction: model.DirectionCredit, Amount: dec(balance),
			BalanceBefore: decimal.Zero, BalanceAfter: dec(balance), Reference: "seed",
		}).Error)
	}
}

type seedInst struct {
	id     string
	amount string
	paid   string
	due    string
	status model.InstallmentStatus
}

func (f *fixture) seedGroup(t *testing.T, id, owner, scope string, insts ...seedInst) {
	t.Helper()
	total, paid := decimal.Zero, decimal.Zero
	rows := make([]model.Installment, 0, len(insts))
	for i, in := range insts {
		p := decimal.Zero
		if in.paid != "" {
			p = dec(in.paid)
		}
		st := in.status
		if st == "" {
			st = model.InstallmentPending
		}
		total = total.Add(dec(in.amount))
		paid = paid.Add(p)
		rows = append(rows, model.Installment{
			ID: in.id, ScheduleID: id, Number: i + 1, Amount: dec(in.amount), PrincipalAmount: dec(in.amount),
			InterestAmount: decimal.Zero, DueDate: day(in.due), PaidAmount: p, Status: st,
		})
	}
	require.NoError(t, f.db.Create(&model.ObligationGroup{
		ID: id, OwnerID: owner, TenantID: "t1", ScopeID: scope,
		TotalAmount: total, PaidAmount: paid, RemainingAmount: total.Sub(paid), Status: model.GroupActive,
	}).Error)
	require.NoError(t, f.db.Create(&rows).Error)
}

func (f *fixture) wallet(t *testing.T, id string) model.Wallet {
	t.Helper()
	var w model.Wallet
	require.NoError(t, f.db.First(&w, "id = ?", id).Error)
	return w
}

func (f *fixture) installment(t *testing.T, id string) model.Installment {
	t.Helper()
	var inst model.Installment
	require.NoError(t, f.db.First(&inst, "id = ?", id).Error)
	return inst
}

func (f *fixture) group(t *testing.T, id string) model.ObligationGroup {
	t.Helper()
	var g model.ObligationGroup
	require.NoError(t, f.db.First(&g, "id = ?", id).Error)
	return g
}

func (f *fixture) outboxCount(t *testing.T, eventType string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&model.OutboxEvent{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}

// ledgerBalance recomputes a wallet balance from its ledger entries.
func (f *fixture) ledgerBalance(t *testing.T, walletID string) decimal.Decimal {
	t.Helper()
	var txs []model.Transaction
	require.NoError(t, f.db.Where("wallet_id = ?", walletID).Find(&txs).Error)
	sum := decimal.Zero
	for _, tx := range txs {
		if tx.Direction == model.DirectionCredit {
			sum = sum.Add(tx.Amount)
		} else {
			sum = sum.Sub(tx.Amount)
		}
	}
	return sum
}
