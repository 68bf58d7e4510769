package models

import "time"

const (
	PaymentStatusPending     = "pending"
	PaymentStatusApproved    = "approved"
	PaymentStatusAuthorized  = "authorized"
	PaymentStatusInProcess   = "in_process"
	PaymentStatusRejected    = "rejected"
	PaymentStatusCancelled   = "cancelled"
	PaymentStatusRefunded    = "refunded"
	PaymentStatusChargedBack = "charged_back"
)

// PaymentHistory records one provider payment against a subscription. Amount
// is always in minor units. GatewayPaymentID deduplicates webhook-driven
// inserts within a subscription.
type PaymentHistory struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	SubscriptionID   uint       `gorm:"not null;index:ux_payment_history_sub_payment,unique,priority:1" json:"subscription_id"`
	Amount           int64      `gorm:"not null" json:"amount"`
	Currency         string     `gorm:"type:varchar(8);not null" json:"currency"`
	Status           string     `gorm:"type:varchar(32);not null;default:'pending'" json:"status"`
	GatewayPaymentID string     `gorm:"type:varchar(191);not null;index:ux_payment_history_sub_payment,unique,priority:2" json:"gateway_payment_id"`
	PaidAt           *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Subscription Subscription `gorm:"foreignKey:SubscriptionID" json:"-"`
}
