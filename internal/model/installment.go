package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstallmentStatus follows PENDING -> PARTIALLY_PAID -> PAID, with OVERDUE
// set by an external due-date sweep. PAID is terminal.
type InstallmentStatus string

const (
	InstallmentPending       InstallmentStatus = "PENDING"
	InstallmentPartiallyPaid InstallmentStatus = "PARTIALLY_PAID"
	InstallmentOverdue       InstallmentStatus = "OVERDUE"
	InstallmentPaid          InstallmentStatus = "PAID"
)

// Payable reports whether the status still accepts payments.
func (s InstallmentStatus) Payable() bool {
	switch s {
	case InstallmentPending, InstallmentPartiallyPaid, InstallmentOverdue:
		return true
	}
	return false
}

// PayableInstallmentStatuses lists the statuses eligible for allocation.
var PayableInstallmentStatuses = []InstallmentStatus{
	InstallmentPending, InstallmentOverdue, InstallmentPartiallyPaid,
}

// Installment is one scheduled obligation. ScheduleID references the owning
// ObligationGroup.
type Installment struct {
	ID              string            `gorm:"primaryKey;size:36" json:"id"`
	ScheduleID      string            `gorm:"size:64;not null;uniqueIndex:ux_installment_number,priority:1" json:"scheduleId"`
	Number          int               `gorm:"not null;uniqueIndex:ux_installment_number,priority:2" json:"number"`
	Amount          decimal.Decimal   `gorm:"type:numeric(20,2);not null" json:"amount"`
	PrincipalAmount decimal.Decimal   `gorm:"type:numeric(20,2);not null" json:"principalAmount"`
	InterestAmount  decimal.Decimal   `gorm:"type:numeric(20,2);not null" json:"interestAmount"`
	DueDate         time.Time         `gorm:"not null;index" json:"dueDate"`
	GracePeriodEnd  time.Time         `json:"gracePeriodEnd"`
	PaidAmount      decimal.Decimal   `gorm:"type:numeric(20,2);not null;default:'0'" json:"paidAmount"`
	PaidAt          *time.Time        `json:"paidAt,omitempty"`
	Status          InstallmentStatus `gorm:"size:16;not null;default:'PENDING';index" json:"status"`
	CreatedAt       time.Time         `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time         `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Installment) TableName() string { return "installment" }

// Owed is the amount still outstanding.
func (i Installment) Owed() decimal.Decimal {
	return i.Amount.Sub(i.PaidAmount)
}
