package audit

import (
	"context"
	"encoding/json"
	"log"

	"gorm.io/gorm"

	"github.com/ekklesiahq/ekklesia/app/models"
)

// Billing audit actions.
const (
	ActionSubscriptionCreated  = "SUBSCRIPTION_CREATED"
	ActionSubscriptionCanceled = "SUBSCRIPTION_CANCELED"
	ActionSubscriptionResumed  = "SUBSCRIPTION_RESUMED"
	ActionSubscriptionUpdated  = "SUBSCRIPTION_UPDATED"
	ActionPaymentReceived      = "PAYMENT_RECEIVED"
	ActionPaymentFailed        = "PAYMENT_FAILED"
	ActionWebhookProcessed     = "WEBHOOK_PROCESSED"
	ActionWebhookError         = "WEBHOOK_ERROR"
	ActionWebhookRejected      = "WEBHOOK_REJECTED"
	ActionGatewayError         = "GATEWAY_ERROR"
)

// Entry describes one audit record.
type Entry struct {
	Action      string
	EntityType  string
	EntityID    string
	UserID      uint
	UserEmail   string
	Description string
	Metadata    map[string]interface{}
}

// Sink is the append-only audit destination.
type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

type gormSink struct {
	db *gorm.DB
}

// NewSink creates an audit sink writing to the audit_logs table.
func NewSink(db *gorm.DB) Sink {
	return &gormSink{db: db}
}

func (s *gormSink) Record(ctx context.Context, entry Entry) error {
	row := models.AuditLog{
		Action:      entry.Action,
		EntityType:  entry.EntityType,
		EntityID:    entry.EntityID,
		UserID:      entry.UserID,
		UserEmail:   entry.UserEmail,
		Description: entry.Description,
	}
	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			log.Printf("audit: could not encode metadata for %s: %v", entry.Action, err)
		} else {
			row.Metadata = encoded
		}
	}
	return s.db.WithContext(ctx).Create(&row).Error
}
