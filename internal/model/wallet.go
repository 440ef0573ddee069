package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is a per-owner balance scoped to a tenant.
type Wallet struct {
	ID        string          `gorm:"primaryKey;size:36;column:id" json:"id"`
	OwnerID   string          `gorm:"size:64;not null;uniqueIndex" json:"ownerId"`
	TenantID  string          `gorm:"size:64;not null;index" json:"tenantId"`
	Balance   decimal.Decimal `gorm:"type:numeric(20,2);not null;default:'0'" json:"balance"`
	Currency  string          `gorm:"size:3;not null;default:'NGN'" json:"currency"`
	IsActive  bool            `gorm:"not null;default:true" json:"isActive"`
	Version   uint64          `gorm:"not null;default:0" json:"-"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Wallet) TableName() string { return "wallet" }
