package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/qshelter/payment-ledger/internal/model"
	"github.com/qshelter/payment-ledger/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// WalletService owns wallet balances and their ledger.
type WalletService struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

// NewWalletService returns WalletService.
func NewWalletService(r repo.RepositoryInterface, logger *zap.SugaredLogger) *WalletService {
	return &WalletService{repo: r, log: logger}
}

// EntryRequest describes one credit or debit. Reference is the idempotency
// key, scoped to the wallet and direction.
type EntryRequest struct {
	WalletID    string
	Amount      decimal.Decimal
	Reference   string
	Description string
	ActorID     string
}

// LedgerResult is the wallet after the operation and the ledger entry that
// produced it. Replayed is set when Reference matched an earlier entry and
// nothing was mutated.
type LedgerResult struct {
	Wallet      *model.Wallet      `json:"wallet"`
	Transaction *model.Transaction `json:"transaction"`
	Replayed    bool               `json:"replayed"`
}

func (r EntryRequest) validate() error {
	if !r.Amount.IsPositive() {
		return model.ErrInvalidAmount
	}
	if r.WalletID == "" {
		return fmt.Errorf("%w: wallet id is required", model.ErrValidation)
	}
	if r.Reference == "" {
		return fmt.Errorf("%w: reference is required", model.ErrValidation)
	}
	return nil
}

// OpenWallet returns the owner's wallet, creating an empty one on first use.
func (s *WalletService) OpenWallet(ctx context.Context, ownerID, tenantID, currency string) (*model.Wallet, error) {
	if ownerID == "" || tenantID == "" {
		return nil, fmt.Errorf("%w: owner and tenant are required", model.ErrValidation)
	}
	if currency == "" {
		currency = "NGN"
	}
	var w *model.Wallet
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		fresh := &model.Wallet{
			ID: uuid.NewString(), OwnerID: ownerID, TenantID: tenantID,
			Balance: decimal.Zero, Currency: currency, IsActive: true,
		}
		if err := s.repo.CreateWallet(ctx, tx, fresh); err != nil {
			return err
		}
		var err error
		w, err = s.repo.GetWalletByOwner(ctx, tx, ownerID)
		return err
	})
	if err != nil {
		return nil, model.Upstream("open wallet", err)
	}
	return w, nil
}

// Credit adds money. A replayed reference returns the original entry.
func (s *WalletService) Credit(ctx context.Context, req EntryRequest) (*LedgerResult, error) {
	return s.run(ctx, model.DirectionCredit, req)
}

// Debit subtracts money; it fails with ErrInsufficientBalance rather than
// overdraw.
func (s *WalletService) Debit(ctx context.Context, req EntryRequest) (*LedgerResult, error) {
	return s.run(ctx, model.DirectionDebit, req)
}

// DebitTx is Debit inside a transaction owned by the caller. The balance
// change only becomes visible when the caller commits.
func (s *WalletService) DebitTx(ctx context.Context, tx *gorm.DB, req EntryRequest) (*LedgerResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	return s.apply(ctx, tx, model.DirectionDebit, req)
}

func (s *WalletService) run(ctx context.Context, dir model.Direction, req EntryRequest) (*LedgerResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	op := "credit"
	if dir == model.DirectionDebit {
		op = "debit"
	}
	var res *LedgerResult
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		var err error
		res, err = s.apply(ctx, tx, dir, req)
		return err
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// a concurrent call with the same reference won the insert
		res, err = s.replay(ctx, dir, req)
	}
	if err != nil {
		return nil, model.Upstream(op, err)
	}
	if !res.Replayed {
		s.SnapshotBalance(ctx, res.Wallet)
	}
	return res, nil
}

func (s *WalletService) replay(ctx context.Context, dir model.Direction, req EntryRequest) (*LedgerResult, error) {
	db := s.repo.DB(ctx)
	prior, err := s.repo.FindTransaction(ctx, db, req.WalletID, dir, req.Reference)
	if err != nil {
		return nil, err
	}
	if prior == nil {
		return nil, gorm.ErrDuplicatedKey
	}
	w, err := s.repo.GetWallet(ctx, db, req.WalletID)
	if err != nil {
		return nil, err
	}
	return &LedgerResult{Wallet: w, Transaction: prior, Replayed: true}, nil
}

func (s *WalletService) apply(ctx context.Context, tx *gorm.DB, dir model.Direction, req EntryRequest) (*LedgerResult, error) {
	w, err := s.repo.GetWalletForUpdate(ctx, tx, req.WalletID)
	if err != nil {
		return nil, err
	}
	prior, err := s.repo.FindTransaction(ctx, tx, w.ID, dir, req.Reference)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		s.log.Infow("ledger replay", "wallet_id", w.ID, "direction", dir, "reference", req.Reference)
		return &LedgerResult{Wallet: w, Transaction: prior, Replayed: true}, nil
	}
	if !w.IsActive {
		return nil, model.ErrWalletInactive
	}

	amt := req.Amount.Round(2)
	newBal := w.Balance.Add(amt)
	eventType := model.EventWalletCredited
	if dir == model.DirectionDebit {
		if w.Balance.LessThan(amt) {
			return nil, model.ErrInsufficientBalance
		}
		newBal = w.Balance.Sub(amt)
		eventType = model.EventWalletDebited
	}
	if err := s.repo.UpdateWallet(ctx, tx, w.ID, newBal, w.Version); err != nil {
		return nil, err
	}
	t := &model.Transaction{
		ID: uuid.NewString(), WalletID: w.ID, Direction: dir, Amount: amt,
		BalanceBefore: w.Balance, BalanceAfter: newBal,
		Reference: req.Reference, Description: req.Description,
	}
	if err := s.repo.CreateTransaction(ctx, tx, t); err != nil {
		return nil, err
	}
	evt, err := repo.NewOutboxEvent(eventType, model.AggregateWallet, w.ID, w.TenantID, req.ActorID, map[string]interface{}{
		"walletId":      w.ID,
		"ownerId":       w.OwnerID,
		"transactionId": t.ID,
		"amount":        amt,
		"balance":       newBal,
		"currency":      w.Currency,
		"reference":     req.Reference,
		"description":   req.Description,
	})
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateOutboxEvent(ctx, tx, evt); err != nil {
		return nil, err
	}

	w.Balance = newBal
	w.Version++
	return &LedgerResult{Wallet: w, Transaction: t}, nil
}

// SnapshotBalance refreshes the display cache after a committed change. When
// the write fails the snapshot is dropped so readers go to the store.
func (s *WalletService) SnapshotBalance(ctx context.Context, w *model.Wallet) {
	if w == nil {
		return
	}
	stored, err := s.repo.CacheBalance(ctx, w.ID, w.Balance, w.Version)
	if err == nil {
		if !stored {
			s.log.Debugw("newer balance snapshot already cached", "wallet_id", w.ID, "version", w.Version)
		}
		return
	}
	s.log.Warnw("cache balance", "wallet_id", w.ID, "error", err)
	if err := s.repo.InvalidateBalance(ctx, w.ID); err != nil {
		s.log.Errorw("drop stale balance snapshot", "wallet_id", w.ID, "error", err)
	}
}

// GetWallet reads the wallet from the store.
func (s *WalletService) GetWallet(ctx context.Context, walletID string) (*model.Wallet, error) {
	w, err := s.repo.GetWallet(ctx, s.repo.DB(ctx), walletID)
	if err != nil {
		return nil, model.Upstream("get wallet", err)
	}
	return w, nil
}

// GetBalance returns the display balance, preferring the cached snapshot.
func (s *WalletService) GetBalance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	bal, err := s.repo.GetCachedBalance(ctx, walletID)
	if err == nil {
		return bal, nil
	}
	w, err := s.GetWallet(ctx, walletID)
	if err != nil {
		return decimal.Zero, err
	}
	s.SnapshotBalance(ctx, w)
	return w.Balance, nil
}

// ListTransactions pages through the ledger, newest first.
func (s *WalletService) ListTransactions(ctx context.Context, walletID string, limit, offset int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	if _, err := s.GetWallet(ctx, walletID); err != nil {
		return nil, err
	}
	txs, err := s.repo.ListTransactions(ctx, walletID, limit, offset)
	if err != nil {
		return nil, model.Upstream("list transactions", err)
	}
	return txs, nil
}
