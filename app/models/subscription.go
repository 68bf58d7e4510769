package models

import "time"

const (
	SubscriptionStatusPending  = "pending"
	SubscriptionStatusActive   = "active"
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusUnpaid   = "unpaid"
)

// Subscription mirrors a provider subscription for one user. Rows are never
// hard-deleted; terminal states are expressed through Status. At most one
// subscription per user may be in a blocking status (active/trialing/past_due).
type Subscription struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	UserID                uint       `gorm:"not null;index" json:"user_id"`
	PlanID                uint       `gorm:"not null;index" json:"plan_id"`
	Status                string     `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	GatewayProvider       string     `gorm:"type:varchar(20);not null;index:ux_subscriptions_provider_subid,unique,priority:1" json:"gateway_provider"`
	GatewaySubscriptionID string     `gorm:"type:varchar(191);not null;index:ux_subscriptions_provider_subid,unique,priority:2" json:"gateway_subscription_id"`
	GatewayCustomerID     string     `gorm:"type:varchar(191)" json:"gateway_customer_id"`
	ExternalReference     string     `gorm:"type:varchar(64);index" json:"external_reference"`
	CurrentPeriodStart    *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd      *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	TrialEnd              *time.Time `gorm:"type:timestamp;default:null" json:"trial_end,omitempty"`
	CancelAtPeriodEnd     bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CanceledAt            *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	CreatedAt             time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	User User `gorm:"foreignKey:UserID" json:"-"`
	Plan Plan `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
}

// BlockingSubscriptionStatuses are the states that prevent a user from
// starting a second checkout.
var BlockingSubscriptionStatuses = []string{
	SubscriptionStatusActive,
	SubscriptionStatusTrialing,
	SubscriptionStatusPastDue,
}

// IsBlockingStatus reports whether status counts against the
// one-subscription-per-user rule.
func IsBlockingStatus(status string) bool {
	for _, s := range BlockingSubscriptionStatuses {
		if s == status {
			return true
		}
	}
	return false
}
