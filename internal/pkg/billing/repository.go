package billing

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ekklesiahq/ekklesia/app/models"
)

// Repository provides the store operations used by the orchestrator and the
// webhook engine.
type Repository interface {
	FindPlanByID(id uint) (*models.Plan, error)
	ListActivePlans() ([]models.Plan, error)
	ListPlansNeedingSync() ([]models.Plan, error)
	SavePlan(plan *models.Plan) error
	FindUserByID(id uint) (*models.User, error)

	FindBlockingSubscriptionByUser(userID uint) (*models.Subscription, error)
	FindLatestSubscriptionByUser(userID uint) (*models.Subscription, error)
	FindSubscriptionByGatewayRef(provider, ref string) (*models.Subscription, error)
	CreateSubscription(sub *models.Subscription) error
	SaveSubscription(sub *models.Subscription) error
	ListSubscriptionsPastPeriodEnd(now time.Time) ([]models.Subscription, error)

	ListPayments(subscriptionID uint, limit int) ([]models.PaymentHistory, error)
	PaymentExists(subscriptionID uint, gatewayPaymentID string) (bool, error)
	CreatePaymentIfNotExists(payment *models.PaymentHistory) (bool, error)

	UpsertWebhookEvent(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint) error
	MarkWebhookFailed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindPlanByID(id uint) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.First(&plan, id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *gormRepository) ListActivePlans() ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.Where("is_active = ?", true).Order("price asc").Find(&plans).Error
	return plans, err
}

func (r *gormRepository) ListPlansNeedingSync() ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.
		Where("is_active = ? AND sync_status <> ?", true, models.PlanSyncSynced).
		Find(&plans).Error
	return plans, err
}

func (r *gormRepository) SavePlan(plan *models.Plan) error {
	return r.db.Save(plan).Error
}

func (r *gormRepository) FindUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) FindBlockingSubscriptionByUser(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.
		Where("user_id = ? AND status IN ?", userID, models.BlockingSubscriptionStatuses).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) FindLatestSubscriptionByUser(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.
		Where("user_id = ?", userID).
		Order("created_at desc").
		Preload("Plan").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) FindSubscriptionByGatewayRef(provider, ref string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.
		Where("gateway_provider = ? AND (gateway_subscription_id = ? OR external_reference = ?)", provider, ref, ref).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) CreateSubscription(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) ListSubscriptionsPastPeriodEnd(now time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("cancel_at_period_end = ? AND current_period_end < ? AND status IN ?",
			true, now, models.BlockingSubscriptionStatuses).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) ListPayments(subscriptionID uint, limit int) ([]models.PaymentHistory, error) {
	var payments []models.PaymentHistory
	err := r.db.
		Where("subscription_id = ?", subscriptionID).
		Order("created_at desc").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *gormRepository) PaymentExists(subscriptionID uint, gatewayPaymentID string) (bool, error) {
	var count int64
	err := r.db.Model(&models.PaymentHistory{}).
		Where("subscription_id = ? AND gateway_payment_id = ?", subscriptionID, gatewayPaymentID).
		Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) CreatePaymentIfNotExists(payment *models.PaymentHistory) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "subscription_id"},
			{Name: "gateway_payment_id"},
		},
		DoNothing: true,
	}).Create(payment)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// UpsertWebhookEvent creates the row on first sighting and refreshes the raw
// payload on unprocessed redeliveries. The composite unique key makes
// concurrent duplicate deliveries collapse onto one row.
func (r *gormRepository) UpsertWebhookEvent(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "gateway_provider"},
			{Name: "gateway_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}
	created := tx.RowsAffected > 0

	var stored models.WebhookEvent
	if err := r.db.
		Where("gateway_provider = ? AND gateway_event_id = ?", event.GatewayProvider, event.GatewayEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}

	if !created && !stored.Processed {
		updates := map[string]interface{}{
			"payload":    event.Payload,
			"event_type": event.EventType,
		}
		if err := r.db.Model(&stored).Updates(updates).Error; err != nil {
			return false, nil, err
		}
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint) error {
	now := time.Now()
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"processed":        true,
		"processed_at":     &now,
		"processing_error": "",
	}).Error
}

func (r *gormRepository) MarkWebhookFailed(id uint, processingError string) error {
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"processed":        false,
		"processing_error": processingError,
	}).Error
}
