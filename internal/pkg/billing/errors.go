package billing

import (
	"errors"
	"fmt"
)

// Typed errors for the billing layer. Controllers map these to HTTP codes
// without depending on store or SDK error types.
var (
	// ErrPlanNotFound indicates the requested plan does not exist.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrUserNotFound indicates the checkout user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrSubscriptionNotFound indicates no subscription exists for the user.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrPlanNotAvailable indicates the plan is inactive or not yet synced
	// with the payment gateway.
	ErrPlanNotAvailable = errors.New("plan is not available for checkout")
	// ErrSubscriptionExists indicates the user already holds a blocking
	// subscription; no new remote object was created.
	ErrSubscriptionExists = errors.New("user already has an active subscription")
	// ErrNotCanceled indicates resume was requested on a subscription that is
	// not currently canceled.
	ErrNotCanceled = errors.New("subscription is not canceled")
	// ErrNotLinked indicates the local subscription has no remote gateway id.
	ErrNotLinked = errors.New("subscription is not linked to a gateway subscription")
)

// GatewayError wraps an upstream provider failure with provider attribution.
type GatewayError struct {
	Provider string
	Op       string
	Err      error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s gateway: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func wrapGatewayError(provider, op string, err error) error {
	return &GatewayError{Provider: provider, Op: op, Err: err}
}
