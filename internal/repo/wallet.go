package repo

import (
	"context"
	"errors"

	"github.com/qshelter/payment-ledger/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetWallet reads a wallet without locking.
func (r *Repository) GetWallet(ctx context.Context, tx *gorm.DB, walletID string) (*model.Wallet, error) {
	var w model.Wallet
	if err := tx.WithContext(ctx).Where("id = ?", walletID).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// GetWalletForUpdate locks wallet row.
func (r *Repository) GetWalletForUpdate(ctx context.Context, tx *gorm.DB, walletID string) (*model.Wallet, error) {
	var w model.Wallet
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", walletID).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// GetWalletByOwner reads the owner's wallet without locking.
func (r *Repository) GetWalletByOwner(ctx context.Context, tx *gorm.DB, ownerID string) (*model.Wallet, error) {
	var w model.Wallet
	if err := tx.WithContext(ctx).Where("owner_id = ?", ownerID).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// CreateWallet inserts a wallet row unless the owner already has one.
func (r *Repository) CreateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet) error {
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "owner_id"}}, DoNothing: true}).
		Create(w).Error
}

// UpdateWallet with optimistic lock.
func (r *Repository) UpdateWallet(ctx context.Context, tx *gorm.DB, walletID string, newBalance decimal.Decimal, oldVersion uint64) error {
	if newBalance.IsNegative() {
		return model.ErrInsufficientBalance
	}
	res := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND version = ?", walletID, oldVersion).
		Updates(map[string]interface{}{
			"balance":    newBalance,
			"version":    oldVersion + 1,
			"updated_at": now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrConcurrentUpdate
	}
	return nil
}

// CreateTransaction inserts record.
func (r *Repository) CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	return tx.WithContext(ctx).Create(t).Error
}

// FindTransaction looks up a ledger entry by its idempotency key. It returns
// nil, nil when none exists.
func (r *Repository) FindTransaction(ctx context.Context, tx *gorm.DB, walletID string, dir model.Direction, reference string) (*model.Transaction, error) {
	if reference == "" {
		return nil, nil
	}
	// a miss is the common case, so Find rather than First keeps it out of
	// the error log
	var txs []model.Transaction
	err := tx.WithContext(ctx).
		Where("wallet_id = ? AND direction = ? AND reference = ?", walletID, dir, reference).
		Limit(1).
		Find(&txs).Error
	if err != nil || len(txs) == 0 {
		return nil, err
	}
	return &txs[0], nil
}

// ListTransactions pages through a wallet's ledger, newest first.
func (r *Repository) ListTransactions(ctx context.Context, walletID string, limit, offset int) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at desc").
		Order("id desc").
		Limit(limit).
		Offset(offset).
		Find(&txs).Error
	return txs, err
}
