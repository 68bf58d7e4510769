package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
)

const (
	PlanSyncPending = "pending"
	PlanSyncSynced  = "synced"
	PlanSyncError   = "error"
)

// Plan is the billable catalog entry. Price is kept in major units here
// because plans are authored by admins; adapters convert to minor units on
// every gateway call. GatewayProductID/GatewayPriceID are filled by the plan
// sync flow and required before a plan can be checked out.
type Plan struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	Name             string         `gorm:"type:varchar(100);not null;uniqueIndex" json:"name" validate:"required,min=3,max=100"`
	Description      string         `gorm:"type:text" json:"description" validate:"max=1000"`
	Price            float64        `gorm:"not null" json:"price" validate:"gt=0"`
	Currency         string         `gorm:"type:varchar(8);not null;default:'BRL'" json:"currency" validate:"required,len=3"`
	Features         datatypes.JSON `gorm:"type:jsonb" json:"features"`
	MaxBranches      *int           `json:"max_branches,omitempty"`
	MaxMembers       *int           `json:"max_members,omitempty"`
	BillingInterval  string         `gorm:"type:varchar(16);not null;default:'month'" json:"billing_interval" validate:"oneof=month year"`
	GatewayProvider  string         `gorm:"type:varchar(20);index" json:"gateway_provider"`
	GatewayProductID string         `gorm:"type:varchar(191)" json:"gateway_product_id"`
	GatewayPriceID   string         `gorm:"type:varchar(191)" json:"gateway_price_id"`
	SyncStatus       string         `gorm:"type:varchar(16);not null;default:'pending'" json:"sync_status"`
	IsActive         bool           `gorm:"default:true;index" json:"is_active"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Plan) Validate() error {
	v := validator.New()

	return v.Struct(p)
}

// IsCheckoutReady reports whether the plan can be used for a new checkout.
func (p *Plan) IsCheckoutReady() bool {
	return p.IsActive && p.SyncStatus == PlanSyncSynced && p.GatewayPriceID != ""
}
