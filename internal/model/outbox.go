package model

import "time"

// Outbound event types written to the outbox.
const (
	EventWalletCredited        = "WALLET.CREDITED"
	EventWalletDebited         = "WALLET.DEBITED"
	EventPaymentCompleted      = "PAYMENT.COMPLETED"
	EventInstallmentsGenerated = "INSTALLMENTS.GENERATED"
)

// Aggregate names carried by outbox rows.
const (
	AggregateWallet      = "Wallet"
	AggregateInstallment = "Installment"
	AggregateSchedule    = "PaymentSchedule"
)

// OutboxEvent is persisted in the same database transaction as the mutation
// it describes and relayed to Kafka afterwards.
type OutboxEvent struct {
	ID            uint64    `gorm:"primaryKey"`
	EventType     string    `gorm:"size:64;not null"`
	AggregateType string    `gorm:"size:64;not null"`
	AggregateID   string    `gorm:"size:64;not null;index"`
	TenantID      string    `gorm:"size:64"`
	ActorID       string    `gorm:"size:64"`
	Payload       string    `gorm:"type:jsonb;not null"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	Processed     bool      `gorm:"not null;default:false;index"`
	ProcessedAt   *time.Time
}

func (OutboxEvent) TableName() string { return "event_outbox" }
