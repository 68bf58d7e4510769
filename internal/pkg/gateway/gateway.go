package gateway

import "context"

// Gateway is the capability contract every payment provider adapter
// satisfies. Adapters translate provider-native concepts into the canonical
// vocabulary and perform no local writes; side effects are confined to the
// provider's own systems.
type Gateway interface {
	// Provider returns the adapter's provider key ("stripe", "mercadopago").
	Provider() string

	CreateProduct(ctx context.Context, req ProductRequest) (*ProductResponse, error)
	UpdateProduct(ctx context.Context, productID string, req ProductRequest) (*ProductResponse, error)
	CreatePrice(ctx context.Context, req PriceRequest) (*PriceResponse, error)
	UpdatePrice(ctx context.Context, priceID string, req PriceRequest) (*PriceResponse, error)

	// GetOrCreateCustomer is idempotent keyed by email: lookup first, create
	// only when absent, never duplicate.
	GetOrCreateCustomer(ctx context.Context, req CustomerRequest) (*CustomerResponse, error)
	UpdateCustomer(ctx context.Context, customerID string, req CustomerRequest) (*CustomerResponse, error)

	CreateSubscription(ctx context.Context, req SubscriptionRequest) (*SubscriptionResponse, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionResponse, error)
	UpdateSubscription(ctx context.Context, subscriptionID string, upd SubscriptionUpdate) (*SubscriptionResponse, error)

	// CancelSubscription with cancelAtPeriodEnd=true marks the remote object
	// for end-of-period cancellation without immediate termination; false
	// terminates immediately.
	CancelSubscription(ctx context.Context, subscriptionID string, cancelAtPeriodEnd bool) (*SubscriptionResponse, error)
	ResumeSubscription(ctx context.Context, subscriptionID string) (*SubscriptionResponse, error)

	GetSubscriptionPayments(ctx context.Context, subscriptionID string) ([]PaymentRecord, error)

	// VerifyWebhookSignature must be evaluated before any event is persisted.
	VerifyWebhookSignature(payload []byte, signature, requestID string) bool
	ParseWebhookEvent(payload []byte, headers map[string]string) (*ParsedWebhookEvent, error)

	// NormalizeSubscriptionStatus and NormalizePaymentStatus apply the
	// provider's status tables to raw webhook values; unknown input maps to
	// the pending state, never an error.
	NormalizeSubscriptionStatus(status string) SubscriptionStatus
	NormalizePaymentStatus(status string) PaymentStatus

	// AmountToMinorUnits converts a raw webhook amount from the provider's
	// native unit into minor units.
	AmountToMinorUnits(amount float64) int64
}
