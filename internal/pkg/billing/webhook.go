package billing

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ekklesiahq/ekklesia/app/models"
	"github.com/ekklesiahq/ekklesia/internal/pkg/audit"
	"github.com/ekklesiahq/ekklesia/internal/pkg/gateway"
)

// ErrInvalidSignature is returned when the webhook signature fails
// verification; no event row is persisted in that case.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// WebhookEngine ingests provider webhooks idempotently. The composite unique
// key on (gateway_provider, gateway_event_id) plus the find-then-upsert
// pattern is the sole concurrency-correctness mechanism: there is no
// in-process lock and subscription status races resolve last-write-wins.
type WebhookEngine struct {
	repo    Repository
	gw      gateway.Gateway
	auditor audit.Sink
}

// NewWebhookEngine creates an engine from injected collaborators.
func NewWebhookEngine(repo Repository, gw gateway.Gateway, auditor audit.Sink) *WebhookEngine {
	return &WebhookEngine{repo: repo, gw: gw, auditor: auditor}
}

// NewWebhookEngineFromDB creates an engine from a GORM handle and a gateway.
func NewWebhookEngineFromDB(db *gorm.DB, gw gateway.Gateway) *WebhookEngine {
	return NewWebhookEngine(NewRepository(db), gw, audit.NewSink(db))
}

// Provider returns the provider key of the engine's configured gateway.
func (e *WebhookEngine) Provider() string {
	return e.gw.Provider()
}

// WebhookRequest is one inbound delivery.
type WebhookRequest struct {
	Payload   []byte
	Signature string
	RequestID string
	Headers   map[string]string
}

// Process verifies, deduplicates and dispatches one webhook delivery.
// Redelivery of an already-processed event is a pure no-op; redelivery of a
// previously failed event re-attempts dispatch with the refreshed payload.
func (e *WebhookEngine) Process(ctx context.Context, req WebhookRequest) error {
	provider := e.gw.Provider()

	if !e.gw.VerifyWebhookSignature(req.Payload, req.Signature, req.RequestID) {
		e.record(ctx, audit.Entry{
			Action:      audit.ActionWebhookRejected,
			EntityType:  "webhook_event",
			Description: fmt.Sprintf("rejected %s webhook: signature verification failed", provider),
		})
		return ErrInvalidSignature
	}

	event, err := e.gw.ParseWebhookEvent(req.Payload, req.Headers)
	if err != nil {
		e.record(ctx, audit.Entry{
			Action:      audit.ActionWebhookError,
			EntityType:  "webhook_event",
			Description: fmt.Sprintf("could not parse %s webhook: %v", provider, err),
		})
		return err
	}

	created, stored, err := e.repo.UpsertWebhookEvent(&models.WebhookEvent{
		GatewayProvider: provider,
		GatewayEventID:  event.ID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(req.Payload),
	})
	if err != nil {
		return err
	}
	if !created && stored.Processed {
		// Idempotent short-circuit: same (provider, eventId) already handled.
		return nil
	}

	if err := e.dispatch(ctx, event); err != nil {
		e.record(ctx, audit.Entry{
			Action:      audit.ActionWebhookError,
			EntityType:  "webhook_event",
			EntityID:    fmt.Sprintf("%d", stored.ID),
			Description: fmt.Sprintf("error processing %s event %s (%s): %v", provider, event.ID, event.Type, err),
		})
		if markErr := e.repo.MarkWebhookFailed(stored.ID, err.Error()); markErr != nil {
			log.Printf("webhook: could not mark event %d failed: %v", stored.ID, markErr)
		}
		return err
	}

	if err := e.repo.MarkWebhookProcessed(stored.ID); err != nil {
		return err
	}
	e.record(ctx, audit.Entry{
		Action:      audit.ActionWebhookProcessed,
		EntityType:  "webhook_event",
		EntityID:    fmt.Sprintf("%d", stored.ID),
		Description: fmt.Sprintf("processed %s event %s (%s)", provider, event.ID, event.Type),
	})
	return nil
}

func (e *WebhookEngine) dispatch(ctx context.Context, event *gateway.ParsedWebhookEvent) error {
	switch event.Type {
	case "payment", "payment.updated", "payment.created":
		return e.handlePayment(ctx, event)
	case "preapproval", "preapproval.updated", "customer.subscription.updated", "customer.subscription.deleted":
		return e.handleSubscriptionUpdate(ctx, event)
	case "authorized_payment":
		return e.handleAuthorizedPayment(ctx, event)
	default:
		// Unknown event types are explicitly ignored, not an error.
		return nil
	}
}

func (e *WebhookEngine) handlePayment(ctx context.Context, event *gateway.ParsedWebhookEvent) error {
	sub, err := e.resolveSubscription(event)
	if err != nil || sub == nil {
		return err
	}

	paymentID := dataString(event.Data, "id")
	rawStatus := dataString(event.Data, "status")
	canonical := e.gw.NormalizePaymentStatus(rawStatus)

	if paymentID != "" {
		exists, err := e.repo.PaymentExists(sub.ID, paymentID)
		if err != nil {
			return err
		}
		if !exists {
			currency := dataString(event.Data, "currency_id")
			if currency == "" {
				currency = dataString(event.Data, "currency")
			}
			payment := &models.PaymentHistory{
				SubscriptionID:   sub.ID,
				Amount:           e.gw.AmountToMinorUnits(dataFloat(event.Data, "transaction_amount", "amount_paid", "amount")),
				Currency:         currency,
				Status:           string(canonical),
				GatewayPaymentID: paymentID,
				PaidAt:           &event.Timestamp,
			}
			inserted, err := e.repo.CreatePaymentIfNotExists(payment)
			if err != nil {
				return err
			}
			if inserted {
				e.record(ctx, audit.Entry{
					Action:      audit.ActionPaymentReceived,
					EntityType:  "payment_history",
					EntityID:    paymentID,
					UserID:      sub.UserID,
					Description: fmt.Sprintf("payment %s recorded for subscription %d", paymentID, sub.ID),
					Metadata: map[string]interface{}{
						"subscription_id": sub.ID,
						"amount":          payment.Amount,
						"status":          payment.Status,
					},
				})
			}
		}
	}

	switch canonical {
	case gateway.PaymentApproved, gateway.PaymentAuthorized:
		sub.Status = models.SubscriptionStatusActive
		return e.repo.SaveSubscription(sub)
	case gateway.PaymentRejected, gateway.PaymentCancelled:
		sub.Status = models.SubscriptionStatusPastDue
		if err := e.repo.SaveSubscription(sub); err != nil {
			return err
		}
		e.record(ctx, audit.Entry{
			Action:      audit.ActionPaymentFailed,
			EntityType:  "subscription",
			EntityID:    fmt.Sprintf("%d", sub.ID),
			UserID:      sub.UserID,
			Description: fmt.Sprintf("payment %s failed with status %q", paymentID, rawStatus),
		})
		return nil
	default:
		return nil
	}
}

func (e *WebhookEngine) handleSubscriptionUpdate(ctx context.Context, event *gateway.ParsedWebhookEvent) error {
	sub, err := e.resolveSubscription(event)
	if err != nil || sub == nil {
		return err
	}

	rawStatus := dataString(event.Data, "status")
	sub.Status = string(e.gw.NormalizeSubscriptionStatus(rawStatus))
	if err := e.repo.SaveSubscription(sub); err != nil {
		return err
	}

	e.record(ctx, audit.Entry{
		Action:      audit.ActionSubscriptionUpdated,
		EntityType:  "subscription",
		EntityID:    fmt.Sprintf("%d", sub.ID),
		UserID:      sub.UserID,
		Description: fmt.Sprintf("subscription status updated to %q from provider status %q", sub.Status, rawStatus),
	})
	return nil
}

func (e *WebhookEngine) handleAuthorizedPayment(_ context.Context, event *gateway.ParsedWebhookEvent) error {
	sub, err := e.resolveSubscription(event)
	if err != nil || sub == nil {
		return err
	}
	sub.Status = models.SubscriptionStatusActive
	return e.repo.SaveSubscription(sub)
}

// resolveSubscription finds the local subscription targeted by the event.
// Events with no resolvable target are a no-op, not an error.
func (e *WebhookEngine) resolveSubscription(event *gateway.ParsedWebhookEvent) (*models.Subscription, error) {
	for _, key := range []string{"external_reference", "preapproval_id", "subscription", "id"} {
		ref := dataString(event.Data, key)
		if ref == "" {
			continue
		}
		sub, err := e.repo.FindSubscriptionByGatewayRef(e.gw.Provider(), ref)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

func (e *WebhookEngine) record(ctx context.Context, entry audit.Entry) {
	if err := e.auditor.Record(ctx, entry); err != nil {
		log.Printf("webhook: could not record audit entry %s: %v", entry.Action, err)
	}
}

func dataString(data map[string]interface{}, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

func dataFloat(data map[string]interface{}, keys ...string) float64 {
	for _, key := range keys {
		if v, ok := data[key].(float64); ok {
			return v
		}
	}
	return 0
}
