package ingest

import (
	"time"

	"github.com/shopspring/decimal"
)

// Inbound event type names as published upstream.
const (
	TypeWalletCredited            = "WalletCredited"
	TypeAllocateToInstallments    = "AllocateToInstallments"
	TypeProcessInstallmentPayment = "ProcessInstallmentPayment"
	TypePaymentPhaseActivated     = "PaymentPhaseActivated"
)

// SourceVirtualAccount marks credits that arrived through a funded virtual
// account; only those trigger automatic allocation.
const SourceVirtualAccount = "virtual_account"

// Meta is the envelope metadata shared by every event.
type Meta struct {
	CorrelationID string `json:"correlationId"`
	Source        string `json:"source"`
}

// Event is one decoded inbound event. The concrete types below are the only
// implementations.
type Event interface {
	EventType() string
}

type WalletCredited struct {
	UserID     string          `json:"userId" validate:"required"`
	WalletID   string          `json:"walletId" validate:"required"`
	Amount     decimal.Decimal `json:"amount" validate:"gt=0"`
	Currency   string          `json:"currency"`
	NewBalance decimal.Decimal `json:"newBalance"`
	Reference  string          `json:"reference"`
	Source     string          `json:"source"`
}

type AllocateToInstallments struct {
	UserID    string           `json:"userId" validate:"required"`
	WalletID  string           `json:"walletId" validate:"required"`
	ScopeID   string           `json:"scopeId,omitempty"`
	MaxAmount *decimal.Decimal `json:"maxAmount,omitempty" validate:"omitempty,gt=0"`
}

type ProcessInstallmentPayment struct {
	InstallmentID string          `json:"installmentId" validate:"required"`
	Amount        decimal.Decimal `json:"amount" validate:"gt=0"`
	WalletID      string          `json:"walletId" validate:"required"`
	UserID        string          `json:"userId" validate:"required"`
	Reference     string          `json:"reference" validate:"required"`
}

type PaymentPhaseActivated struct {
	ScheduleID       string          `json:"scheduleId" validate:"required"`
	TotalAmount      decimal.Decimal `json:"totalAmount" validate:"gt=0"`
	InterestRate     decimal.Decimal `json:"interestRate" validate:"gte=0"`
	InstallmentCount *int            `json:"installmentCount,omitempty" validate:"omitempty,gte=1"`
	StartDate        time.Time       `json:"startDate" validate:"required"`
	TenantID         string          `json:"tenantId" validate:"required"`
	UserID           string          `json:"userId" validate:"required"`
	ScopeID          string          `json:"scopeId,omitempty"`
	Frequency        string          `json:"frequency,omitempty" validate:"omitempty,oneof=MONTHLY BIWEEKLY WEEKLY ONE_TIME CUSTOM MINUTE"`
	IntervalDays     int             `json:"intervalDays,omitempty" validate:"gte=0"`
	GracePeriodDays  int             `json:"gracePeriodDays,omitempty" validate:"gte=0"`
}

// UnknownEvent is any well-formed envelope whose type has no handler.
type UnknownEvent struct {
	Type string
}

func (WalletCredited) EventType() string            { return TypeWalletCredited }
func (AllocateToInstallments) EventType() string    { return TypeAllocateToInstallments }
func (ProcessInstallmentPayment) EventType() string { return TypeProcessInstallmentPayment }
func (PaymentPhaseActivated) EventType() string     { return TypePaymentPhaseActivated }
func (e UnknownEvent) EventType() string            { return e.Type }
