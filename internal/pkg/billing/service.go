package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ekklesiahq/ekklesia/app/models"
	"github.com/ekklesiahq/ekklesia/internal/pkg/audit"
	"github.com/ekklesiahq/ekklesia/internal/pkg/gateway"
)

// Service orchestrates the checkout, cancel and resume flows. It composes
// the injected gateway, store repository and audit sink; it performs no
// automatic retries; transient provider failures surface to the caller.
type Service struct {
	repo    Repository
	gw      gateway.Gateway
	auditor audit.Sink
}

// NewService creates an orchestrator from injected collaborators.
func NewService(repo Repository, gw gateway.Gateway, auditor audit.Sink) *Service {
	return &Service{repo: repo, gw: gw, auditor: auditor}
}

// NewServiceFromDB creates an orchestrator from a GORM handle and a gateway.
func NewServiceFromDB(db *gorm.DB, gw gateway.Gateway) *Service {
	return NewService(NewRepository(db), gw, audit.NewSink(db))
}

type CheckoutInput struct {
	UserID          uint
	PlanID          uint
	PaymentMethodID string
	TrialDays       int
}

// CheckoutResult carries the persisted subscription plus whatever artifact
// the provider produced for completing payment collection.
type CheckoutResult struct {
	Subscription *models.Subscription
	CheckoutURL  string
	ClientSecret string
}

// Checkout validates plan and user, enforces the one-blocking-subscription
// rule, creates the remote customer and subscription, and mirrors the remote
// state into a local row. The conflict check runs before any remote call so
// a rejected checkout never creates a remote object.
func (s *Service) Checkout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	plan, err := s.repo.FindPlanByID(in.PlanID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	if !plan.IsCheckoutReady() {
		return nil, ErrPlanNotAvailable
	}

	user, err := s.repo.FindUserByID(in.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if _, err := s.repo.FindBlockingSubscriptionByUser(user.ID); err == nil {
		return nil, ErrSubscriptionExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	customer, err := s.gw.GetOrCreateCustomer(ctx, gateway.CustomerRequest{
		Email: user.Email,
		Name:  user.Name,
	})
	if err != nil {
		return nil, s.gatewayFailure(ctx, user.ID, user.Email, "get or create customer", err)
	}

	var trialEnd *time.Time
	if in.TrialDays > 0 {
		t := time.Now().AddDate(0, 0, in.TrialDays)
		trialEnd = &t
	}

	externalRef := uuid.NewString()
	remote, err := s.gw.CreateSubscription(ctx, gateway.SubscriptionRequest{
		CustomerID:        customer.ID,
		CustomerEmail:     user.Email,
		PriceID:           plan.GatewayPriceID,
		Amount:            gateway.ToMinorUnits(plan.Price),
		Currency:          plan.Currency,
		Interval:          plan.BillingInterval,
		Reason:            plan.Name,
		ExternalReference: externalRef,
		PaymentMethodID:   in.PaymentMethodID,
		TrialEnd:          trialEnd,
	})
	if err != nil {
		return nil, s.gatewayFailure(ctx, user.ID, user.Email, "create subscription", err)
	}

	sub := &models.Subscription{
		UserID:                user.ID,
		PlanID:                plan.ID,
		Status:                string(remote.Status),
		GatewayProvider:       s.gw.Provider(),
		GatewaySubscriptionID: remote.ID,
		GatewayCustomerID:     customer.ID,
		ExternalReference:     externalRef,
		CurrentPeriodStart:    remote.CurrentPeriodStart,
		CurrentPeriodEnd:      remote.CurrentPeriodEnd,
		CancelAtPeriodEnd:     remote.CancelAtPeriodEnd,
	}
	if remote.TrialEnd != nil {
		sub.TrialEnd = remote.TrialEnd
	} else {
		sub.TrialEnd = trialEnd
	}
	if err := s.repo.CreateSubscription(sub); err != nil {
		return nil, err
	}

	s.record(ctx, audit.Entry{
		Action:      audit.ActionSubscriptionCreated,
		EntityType:  "subscription",
		EntityID:    fmt.Sprintf("%d", sub.ID),
		UserID:      user.ID,
		UserEmail:   user.Email,
		Description: fmt.Sprintf("subscription created for plan %q via %s", plan.Name, s.gw.Provider()),
		Metadata: map[string]interface{}{
			"plan_id":                 plan.ID,
			"gateway_subscription_id": remote.ID,
			"status":                  sub.Status,
			"trial_days":              in.TrialDays,
		},
	})

	return &CheckoutResult{
		Subscription: sub,
		CheckoutURL:  remote.CheckoutURL,
		ClientSecret: remote.ClientSecret,
	}, nil
}

// Cancel terminates the user's current subscription. cancelAtPeriodEnd=true
// keeps the remote object alive until period end; the local status flips to
// canceled immediately either way.
func (s *Service) Cancel(ctx context.Context, userID uint, cancelAtPeriodEnd bool) (*models.Subscription, error) {
	sub, err := s.repo.FindBlockingSubscriptionByUser(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	if sub.GatewaySubscriptionID == "" {
		return nil, ErrNotLinked
	}

	if _, err := s.gw.CancelSubscription(ctx, sub.GatewaySubscriptionID, cancelAtPeriodEnd); err != nil {
		return nil, s.gatewayFailure(ctx, userID, "", "cancel subscription", err)
	}

	now := time.Now()
	sub.Status = models.SubscriptionStatusCanceled
	sub.CancelAtPeriodEnd = cancelAtPeriodEnd
	sub.CanceledAt = &now
	if err := s.repo.SaveSubscription(sub); err != nil {
		return nil, err
	}

	s.record(ctx, audit.Entry{
		Action:      audit.ActionSubscriptionCanceled,
		EntityType:  "subscription",
		EntityID:    fmt.Sprintf("%d", sub.ID),
		UserID:      userID,
		Description: fmt.Sprintf("subscription canceled (at period end: %t)", cancelAtPeriodEnd),
		Metadata: map[string]interface{}{
			"gateway_subscription_id": sub.GatewaySubscriptionID,
			"cancel_at_period_end":    cancelAtPeriodEnd,
		},
	})
	return sub, nil
}

// Resume reactivates a canceled subscription on the remote side and locally.
func (s *Service) Resume(ctx context.Context, userID uint) (*models.Subscription, error) {
	sub, err := s.repo.FindLatestSubscriptionByUser(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	if sub.Status != models.SubscriptionStatusCanceled {
		return nil, ErrNotCanceled
	}
	if sub.GatewaySubscriptionID == "" {
		return nil, ErrNotLinked
	}

	if _, err := s.gw.ResumeSubscription(ctx, sub.GatewaySubscriptionID); err != nil {
		return nil, s.gatewayFailure(ctx, userID, "", "resume subscription", err)
	}

	sub.Status = models.SubscriptionStatusActive
	sub.CancelAtPeriodEnd = false
	sub.CanceledAt = nil
	if err := s.repo.SaveSubscription(sub); err != nil {
		return nil, err
	}

	s.record(ctx, audit.Entry{
		Action:      audit.ActionSubscriptionResumed,
		EntityType:  "subscription",
		EntityID:    fmt.Sprintf("%d", sub.ID),
		UserID:      userID,
		Description: "subscription resumed",
		Metadata: map[string]interface{}{
			"gateway_subscription_id": sub.GatewaySubscriptionID,
		},
	})
	return sub, nil
}

// GetUserSubscription returns the user's latest subscription with its plan
// and up to the last 10 payments.
func (s *Service) GetUserSubscription(_ context.Context, userID uint) (*models.Subscription, []models.PaymentHistory, error) {
	sub, err := s.repo.FindLatestSubscriptionByUser(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrSubscriptionNotFound
		}
		return nil, nil, err
	}

	payments, err := s.repo.ListPayments(sub.ID, 10)
	if err != nil {
		return nil, nil, err
	}
	return sub, payments, nil
}

// ListPlans returns the active catalog.
func (s *Service) ListPlans(_ context.Context) ([]models.Plan, error) {
	return s.repo.ListActivePlans()
}

func (s *Service) gatewayFailure(ctx context.Context, userID uint, userEmail, op string, err error) error {
	wrapped := wrapGatewayError(s.gw.Provider(), op, err)
	s.record(ctx, audit.Entry{
		Action:      audit.ActionGatewayError,
		EntityType:  "gateway",
		UserID:      userID,
		UserEmail:   userEmail,
		Description: wrapped.Error(),
	})
	return wrapped
}

func (s *Service) record(ctx context.Context, entry audit.Entry) {
	if err := s.auditor.Record(ctx, entry); err != nil {
		log.Printf("billing: could not record audit entry %s: %v", entry.Action, err)
	}
}
