package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEvent stores provider webhook payloads with deduplication metadata.
// The composite unique key on (gateway_provider, gateway_event_id) is the
// idempotency anchor for the whole webhook subsystem: concurrent redeliveries
// collapse onto one row and a processed row is never re-dispatched.
type WebhookEvent struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	GatewayProvider string         `gorm:"type:varchar(20);not null;index:ux_webhook_events_provider_event,unique,priority:1" json:"gateway_provider"`
	GatewayEventID  string         `gorm:"type:varchar(191);not null;index:ux_webhook_events_provider_event,unique,priority:2" json:"gateway_event_id"`
	EventType       string         `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Payload         datatypes.JSON `gorm:"type:jsonb;not null" json:"payload"`
	Processed       bool           `gorm:"default:false;index" json:"processed"`
	ProcessedAt     *time.Time     `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string         `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
