package gateway

import (
	"math"
	"time"
)

// SubscriptionStatus is the canonical subscription state every adapter maps
// its provider-native status onto.
type SubscriptionStatus string

const (
	SubscriptionPending  SubscriptionStatus = "pending"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionUnpaid   SubscriptionStatus = "unpaid"
)

// PaymentStatus is the canonical payment state shared by all adapters.
type PaymentStatus string

const (
	PaymentPending     PaymentStatus = "pending"
	PaymentApproved    PaymentStatus = "approved"
	PaymentAuthorized  PaymentStatus = "authorized"
	PaymentInProcess   PaymentStatus = "in_process"
	PaymentRejected    PaymentStatus = "rejected"
	PaymentCancelled   PaymentStatus = "cancelled"
	PaymentRefunded    PaymentStatus = "refunded"
	PaymentChargedBack PaymentStatus = "charged_back"
)

// ToMinorUnits converts a major-unit decimal amount to integer minor units.
// All stored monetary amounts use minor units regardless of the provider's
// native unit.
func ToMinorUnits(major float64) int64 {
	return int64(math.Round(major * 100))
}

// FromMinorUnits converts minor units back to the major-unit decimal some
// providers expect on outbound calls.
func FromMinorUnits(minor int64) float64 {
	return float64(minor) / 100
}

type ProductRequest struct {
	Name        string
	Description string
}

type ProductResponse struct {
	ID   string
	Name string
}

// PriceRequest carries the amount in minor units; adapters convert to the
// provider's native unit on the wire.
type PriceRequest struct {
	ProductID string
	Amount    int64
	Currency  string
	Interval  string
}

// PriceResponse always carries amount/currency/interval as typed fields so
// callers never have to recover them from the price identifier.
type PriceResponse struct {
	ID        string
	ProductID string
	Amount    int64
	Currency  string
	Interval  string
}

type CustomerRequest struct {
	Email string
	Name  string
}

type CustomerResponse struct {
	ID    string
	Email string
}

// SubscriptionRequest includes the price's typed fields because providers
// without first-class price objects need them on the subscription call.
type SubscriptionRequest struct {
	CustomerID        string
	CustomerEmail     string
	PriceID           string
	Amount            int64
	Currency          string
	Interval          string
	Reason            string
	ExternalReference string
	PaymentMethodID   string
	TrialEnd          *time.Time
}

type SubscriptionUpdate struct {
	PriceID           string
	Amount            int64
	Currency          string
	Reason            string
	CancelAtPeriodEnd *bool
}

// SubscriptionResponse is the canonical shape returned by every adapter:
// status already mapped, money in minor units, checkout artifacts included
// when the provider produces them.
type SubscriptionResponse struct {
	ID                 string
	Status             SubscriptionStatus
	CustomerID         string
	ExternalReference  string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	TrialEnd           *time.Time
	CancelAtPeriodEnd  bool
	CheckoutURL        string
	ClientSecret       string
}

// PaymentRecord is one provider payment, amount in minor units.
type PaymentRecord struct {
	ID       string
	Amount   int64
	Currency string
	Status   PaymentStatus
	PaidAt   *time.Time
}

// ParsedWebhookEvent is the provider-neutral view of an inbound webhook.
// Data holds the raw event object fields; the webhook engine reads
// external_reference / status / amounts from it without provider branching.
type ParsedWebhookEvent struct {
	ID        string
	Type      string
	Data      map[string]interface{}
	Timestamp time.Time
}
