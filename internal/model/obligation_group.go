package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type GroupStatus string

const (
	GroupActive    GroupStatus = "ACTIVE"
	GroupCompleted GroupStatus = "COMPLETED"
)

// ObligationGroup aggregates the installments of one schedule, e.g. a
// contract payment phase. RemainingAmount is TotalAmount - PaidAmount.
type ObligationGroup struct {
	ID              string          `gorm:"primaryKey;size:64" json:"id"`
	OwnerID         string          `gorm:"size:64;not null;index" json:"ownerId"`
	TenantID        string          `gorm:"size:64;not null" json:"tenantId"`
	ScopeID         string          `gorm:"size:64;index" json:"scopeId,omitempty"`
	TotalAmount     decimal.Decimal `gorm:"type:numeric(20,2);not null;default:'0'" json:"totalAmount"`
	PaidAmount      decimal.Decimal `gorm:"type:numeric(20,2);not null;default:'0'" json:"paidAmount"`
	RemainingAmount decimal.Decimal `gorm:"type:numeric(20,2);not null;default:'0'" json:"remainingAmount"`
	Status          GroupStatus     `gorm:"size:16;not null;default:'ACTIVE';index" json:"status"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (ObligationGroup) TableName() string { return "obligation_group" }

// ApplyPayment records amt against the group and completes it once nothing
// remains.
func (g *ObligationGroup) ApplyPayment(amt decimal.Decimal, at time.Time) {
	g.PaidAmount = g.PaidAmount.Add(amt)
	g.RemainingAmount = g.TotalAmount.Sub(g.PaidAmount)
	if g.RemainingAmount.LessThanOrEqual(decimal.Zero) && g.Status != GroupCompleted {
		g.Status = GroupCompleted
		g.CompletedAt = &at
	}
}
