package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog is the append-only trail for billing state changes. Rows are only
// ever inserted; there is no update or delete path.
type AuditLog struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Action      string         `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityType  string         `gorm:"type:varchar(50);not null;index" json:"entity_type"`
	EntityID    string         `gorm:"type:varchar(191);index" json:"entity_id"`
	UserID      uint           `gorm:"index" json:"user_id"`
	UserEmail   string         `gorm:"type:varchar(200)" json:"user_email"`
	Description string         `gorm:"type:text" json:"description"`
	Metadata    datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt   time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}
