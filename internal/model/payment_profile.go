package model

import "time"

// PaymentProfile carries per-owner payment state read by other services.
type PaymentProfile struct {
	OwnerID            string     `gorm:"primaryKey;size:64" json:"ownerId"`
	TenantID           string     `gorm:"size:64;not null" json:"tenantId"`
	NextPaymentDueDate *time.Time `json:"nextPaymentDueDate"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (PaymentProfile) TableName() string { return "payment_profile" }
