package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction of a ledger entry relative to the wallet balance.
type Direction string

const (
	DirectionCredit Direction = "CREDIT"
	DirectionDebit  Direction = "DEBIT"
)

// Transaction is an immutable ledger entry. Reference is the idempotency key,
// unique per (wallet, direction).
type Transaction struct {
	ID            string          `gorm:"primaryKey;size:36" json:"id"`
	WalletID      string          `gorm:"size:36;not null;uniqueIndex:ux_transaction_reference,priority:1;index:ix_transaction_wallet_created,priority:1" json:"walletId"`
	Direction     Direction       `gorm:"size:8;not null;uniqueIndex:ux_transaction_reference,priority:2" json:"direction"`
	Amount        decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	BalanceBefore decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"balanceBefore"`
	BalanceAfter  decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"balanceAfter"`
	Reference     string          `gorm:"size:128;not null;uniqueIndex:ux_transaction_reference,priority:3" json:"reference"`
	Description   string          `gorm:"size:255" json:"description,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index:ix_transaction_wallet_created,priority:2" json:"createdAt"`
}

func (Transaction) TableName() string { return "transaction" }
