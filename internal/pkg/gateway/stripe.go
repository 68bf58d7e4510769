package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"
)

// StripeGateway adapts the Stripe API onto the shared capability contract.
// Stripe reports money in minor units already, so amounts pass through
// unchanged in both directions.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

// NewStripeGateway builds a Stripe adapter with its own SDK client so tests
// and multi-config scenarios never share global SDK state.
func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{
		api:           api,
		webhookSecret: webhookSecret,
	}
}

func (g *StripeGateway) Provider() string {
	return ProviderStripe
}

func (g *StripeGateway) CreateProduct(ctx context.Context, req ProductRequest) (*ProductResponse, error) {
	params := &stripe.ProductParams{
		Name:        stripe.String(req.Name),
		Description: stripe.String(req.Description),
	}
	params.Context = ctx

	product, err := g.api.Products.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create product: %w", err)
	}
	return &ProductResponse{ID: product.ID, Name: product.Name}, nil
}

func (g *StripeGateway) UpdateProduct(ctx context.Context, productID string, req ProductRequest) (*ProductResponse, error) {
	params := &stripe.ProductParams{
		Name:        stripe.String(req.Name),
		Description: stripe.String(req.Description),
	}
	params.Context = ctx

	product, err := g.api.Products.Update(productID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: update product %s: %w", productID, err)
	}
	return &ProductResponse{ID: product.ID, Name: product.Name}, nil
}

func (g *StripeGateway) CreatePrice(ctx context.Context, req PriceRequest) (*PriceResponse, error) {
	params := &stripe.PriceParams{
		Product:    stripe.String(req.ProductID),
		UnitAmount: stripe.Int64(req.Amount),
		Currency:   stripe.String(req.Currency),
		Recurring: &stripe.PriceRecurringParams{
			Interval: stripe.String(req.Interval),
		},
	}
	params.Context = ctx

	price, err := g.api.Prices.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create price: %w", err)
	}
	return &PriceResponse{
		ID:        price.ID,
		ProductID: req.ProductID,
		Amount:    price.UnitAmount,
		Currency:  string(price.Currency),
		Interval:  req.Interval,
	}, nil
}

// UpdatePrice deactivates the old price and creates a replacement, since
// Stripe prices are immutable once created.
func (g *StripeGateway) UpdatePrice(ctx context.Context, priceID string, req PriceRequest) (*PriceResponse, error) {
	deactivate := &stripe.PriceParams{Active: stripe.Bool(false)}
	deactivate.Context = ctx
	if _, err := g.api.Prices.Update(priceID, deactivate); err != nil {
		return nil, fmt.Errorf("stripe: deactivate price %s: %w", priceID, err)
	}
	return g.CreatePrice(ctx, req)
}

func (g *StripeGateway) GetOrCreateCustomer(ctx context.Context, req CustomerRequest) (*CustomerResponse, error) {
	listParams := &stripe.CustomerListParams{Email: stripe.String(req.Email)}
	listParams.Context = ctx
	listParams.Filters.AddFilter("limit", "", "1")

	iter := g.api.Customers.List(listParams)
	if iter.Next() {
		existing := iter.Customer()
		return &CustomerResponse{ID: existing.ID, Email: existing.Email}, nil
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("stripe: search customer: %w", err)
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(req.Email),
		Name:  stripe.String(req.Name),
	}
	params.Context = ctx

	created, err := g.api.Customers.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create customer: %w", err)
	}
	return &CustomerResponse{ID: created.ID, Email: created.Email}, nil
}

func (g *StripeGateway) UpdateCustomer(ctx context.Context, customerID string, req CustomerRequest) (*CustomerResponse, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(req.Email),
		Name:  stripe.String(req.Name),
	}
	params.Context = ctx

	updated, err := g.api.Customers.Update(customerID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: update customer %s: %w", customerID, err)
	}
	return &CustomerResponse{ID: updated.ID, Email: updated.Email}, nil
}

func (g *StripeGateway) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*SubscriptionResponse, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(req.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(req.PriceID)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
	}
	params.Context = ctx
	params.AddExpand("latest_invoice.payment_intent")

	if req.PaymentMethodID != "" {
		params.DefaultPaymentMethod = stripe.String(req.PaymentMethodID)
	}
	if req.TrialEnd != nil {
		params.TrialEnd = stripe.Int64(req.TrialEnd.Unix())
	}

	sub, err := g.api.Subscriptions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create subscription: %w", err)
	}
	resp := g.toSubscriptionResponse(sub)
	resp.ExternalReference = req.ExternalReference
	return resp, nil
}

func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionResponse, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := g.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: get subscription %s: %w", subscriptionID, err)
	}
	return g.toSubscriptionResponse(sub), nil
}

func (g *StripeGateway) UpdateSubscription(ctx context.Context, subscriptionID string, upd SubscriptionUpdate) (*SubscriptionResponse, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	if upd.PriceID != "" {
		params.Items = []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(upd.PriceID)},
		}
	}
	if upd.CancelAtPeriodEnd != nil {
		params.CancelAtPeriodEnd = stripe.Bool(*upd.CancelAtPeriodEnd)
	}

	sub, err := g.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: update subscription %s: %w", subscriptionID, err)
	}
	return g.toSubscriptionResponse(sub), nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionID string, cancelAtPeriodEnd bool) (*SubscriptionResponse, error) {
	if cancelAtPeriodEnd {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
		params.Context = ctx
		sub, err := g.api.Subscriptions.Update(subscriptionID, params)
		if err != nil {
			return nil, fmt.Errorf("stripe: schedule cancel for subscription %s: %w", subscriptionID, err)
		}
		return g.toSubscriptionResponse(sub), nil
	}

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	sub, err := g.api.Subscriptions.Cancel(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: cancel subscription %s: %w", subscriptionID, err)
	}
	return g.toSubscriptionResponse(sub), nil
}

func (g *StripeGateway) ResumeSubscription(ctx context.Context, subscriptionID string) (*SubscriptionResponse, error) {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(false)}
	params.Context = ctx

	sub, err := g.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: resume subscription %s: %w", subscriptionID, err)
	}
	return g.toSubscriptionResponse(sub), nil
}

func (g *StripeGateway) GetSubscriptionPayments(ctx context.Context, subscriptionID string) ([]PaymentRecord, error) {
	params := &stripe.InvoiceListParams{Subscription: stripe.String(subscriptionID)}
	params.Context = ctx

	var payments []PaymentRecord
	iter := g.api.Invoices.List(params)
	for iter.Next() {
		inv := iter.Invoice()
		record := PaymentRecord{
			ID:       inv.ID,
			Amount:   inv.AmountPaid,
			Currency: string(inv.Currency),
			Status:   mapStripePaymentStatus(string(inv.Status)),
		}
		if inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt > 0 {
			paidAt := time.Unix(inv.StatusTransitions.PaidAt, 0)
			record.PaidAt = &paidAt
		}
		payments = append(payments, record)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("stripe: list invoices for %s: %w", subscriptionID, err)
	}
	return payments, nil
}

func (g *StripeGateway) VerifyWebhookSignature(payload []byte, signature, _ string) bool {
	_, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	return err == nil
}

func (g *StripeGateway) ParseWebhookEvent(payload []byte, headers map[string]string) (*ParsedWebhookEvent, error) {
	signature := headers["Stripe-Signature"]
	if signature == "" {
		signature = headers["stripe-signature"]
	}
	event, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("stripe: parse webhook event: %w", err)
	}

	data := map[string]interface{}{}
	if event.Data != nil && len(event.Data.Raw) > 0 {
		if err := json.Unmarshal(event.Data.Raw, &data); err != nil {
			return nil, fmt.Errorf("stripe: decode event data: %w", err)
		}
	}

	return &ParsedWebhookEvent{
		ID:        event.ID,
		Type:      string(event.Type),
		Data:      data,
		Timestamp: time.Unix(event.Created, 0),
	}, nil
}

func (g *StripeGateway) NormalizeSubscriptionStatus(status string) SubscriptionStatus {
	return mapStripeSubscriptionStatus(status)
}

func (g *StripeGateway) NormalizePaymentStatus(status string) PaymentStatus {
	return mapStripePaymentStatus(status)
}

// AmountToMinorUnits is the identity for Stripe, which reports cents already.
func (g *StripeGateway) AmountToMinorUnits(amount float64) int64 {
	return int64(amount)
}

func (g *StripeGateway) toSubscriptionResponse(sub *stripe.Subscription) *SubscriptionResponse {
	resp := &SubscriptionResponse{
		ID:                sub.ID,
		Status:            mapStripeSubscriptionStatus(string(sub.Status)),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		resp.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodStart > 0 {
		t := time.Unix(sub.CurrentPeriodStart, 0)
		resp.CurrentPeriodStart = &t
	}
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0)
		resp.CurrentPeriodEnd = &t
	}
	if sub.TrialEnd > 0 {
		t := time.Unix(sub.TrialEnd, 0)
		resp.TrialEnd = &t
	}
	if sub.LatestInvoice != nil && sub.LatestInvoice.PaymentIntent != nil {
		resp.ClientSecret = sub.LatestInvoice.PaymentIntent.ClientSecret
	}
	return resp
}

func mapStripeSubscriptionStatus(status string) SubscriptionStatus {
	switch status {
	case "active":
		return SubscriptionActive
	case "trialing":
		return SubscriptionTrialing
	case "past_due":
		return SubscriptionPastDue
	case "canceled":
		return SubscriptionCanceled
	case "unpaid":
		return SubscriptionUnpaid
	case "incomplete":
		return SubscriptionPending
	case "incomplete_expired":
		return SubscriptionCanceled
	default:
		return SubscriptionPending
	}
}

func mapStripePaymentStatus(status string) PaymentStatus {
	switch status {
	case "paid":
		return PaymentApproved
	case "open", "draft":
		return PaymentPending
	case "uncollectible":
		return PaymentRejected
	case "void":
		return PaymentCancelled
	default:
		return PaymentPending
	}
}
