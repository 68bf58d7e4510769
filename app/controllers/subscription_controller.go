package controllers

import (
	"errors"
	"log"
	"sync"

	"github.com/gofiber/fiber/v2"

	"github.com/ekklesiahq/ekklesia/app/models"
	"github.com/ekklesiahq/ekklesia/internal/pkg/billing"
	"github.com/ekklesiahq/ekklesia/internal/pkg/database"
	"github.com/ekklesiahq/ekklesia/internal/pkg/entitlements"
	"github.com/ekklesiahq/ekklesia/internal/pkg/gateway"
	"github.com/ekklesiahq/ekklesia/internal/pkg/usercontext"
)

var (
	billingMu      sync.Mutex
	billingService *billing.Service
)

// SetBillingService overrides the lazily constructed orchestrator; used by
// startup wiring and tests.
func SetBillingService(svc *billing.Service) {
	billingMu.Lock()
	defer billingMu.Unlock()
	billingService = svc
}

func getBillingService() (*billing.Service, error) {
	billingMu.Lock()
	defer billingMu.Unlock()
	if billingService != nil {
		return billingService, nil
	}

	db := database.GetDB()
	if db == nil {
		return nil, errors.New("database unavailable")
	}
	gw, err := gateway.Default()
	if err != nil {
		return nil, err
	}
	billingService = billing.NewServiceFromDB(db, gw)
	return billingService, nil
}

type checkoutRequest struct {
	PlanID          uint   `json:"planId"`
	PaymentMethodID string `json:"paymentMethodId"`
	TrialDays       int    `json:"trialDays"`
}

type cancelRequest struct {
	CancelAtPeriodEnd *bool `json:"cancelAtPeriodEnd"`
}

// billingErrorStatus maps billing layer errors onto HTTP status plus a
// stable machine-readable error code.
func billingErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, billing.ErrPlanNotFound),
		errors.Is(err, billing.ErrUserNotFound),
		errors.Is(err, billing.ErrSubscriptionNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, billing.ErrPlanNotAvailable):
		return fiber.StatusBadRequest, "plan_not_available"
	case errors.Is(err, billing.ErrSubscriptionExists):
		return fiber.StatusConflict, "subscription_exists"
	case errors.Is(err, billing.ErrNotCanceled):
		return fiber.StatusBadRequest, "not_canceled"
	case errors.Is(err, billing.ErrNotLinked):
		return fiber.StatusBadRequest, "not_linked"
	default:
		var gwErr *billing.GatewayError
		if errors.As(err, &gwErr) {
			return fiber.StatusBadGateway, "gateway_error"
		}
		return fiber.StatusInternalServerError, "internal_server_error"
	}
}

func subscriptionJSON(sub *models.Subscription) fiber.Map {
	return fiber.Map{
		"id":                 sub.ID,
		"planId":             sub.PlanID,
		"status":             sub.Status,
		"gatewayProvider":    sub.GatewayProvider,
		"currentPeriodStart": sub.CurrentPeriodStart,
		"currentPeriodEnd":   sub.CurrentPeriodEnd,
		"trialEnd":           sub.TrialEnd,
		"cancelAtPeriodEnd":  sub.CancelAtPeriodEnd,
		"canceledAt":         sub.CanceledAt,
		"createdAt":          sub.CreatedAt,
	}
}

// checkoutJSON renders a checkout result. The gateway artifacts live inside
// the subscription object so clients find them next to id and status.
func checkoutJSON(result *billing.CheckoutResult) fiber.Map {
	sub := subscriptionJSON(result.Subscription)
	if result.CheckoutURL != "" {
		sub["checkoutUrl"] = result.CheckoutURL
	}
	if result.ClientSecret != "" {
		sub["clientSecret"] = result.ClientSecret
	}
	return fiber.Map{"subscription": sub}
}

// HandleListPlans returns the active plan catalog; no authentication.
func HandleListPlans(c *fiber.Ctx) error {
	svc, err := getBillingService()
	if err != nil {
		log.Printf("plans: service unavailable: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Billing unavailable"})
	}

	plans, err := svc.ListPlans(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load plans"})
	}
	return c.JSON(fiber.Map{"plans": plans})
}

// HandleSyncPlans pushes every active unsynced plan to the configured
// payment gateway. Admin only.
func HandleSyncPlans(c *fiber.Ctx) error {
	svc, err := getBillingService()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Billing unavailable"})
	}

	synced, err := svc.SyncPendingPlans(c.UserContext())
	if err != nil {
		log.Printf("plan sync failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Plan sync failed"})
	}
	return c.JSON(fiber.Map{"synced": synced})
}

// HandleCheckoutSubscription starts a subscription checkout for the
// authenticated user.
func HandleCheckoutSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Login required"})
	}

	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if req.PlanID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "planId is required"})
	}

	svc, err := getBillingService()
	if err != nil {
		log.Printf("checkout: service unavailable: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Billing unavailable"})
	}

	result, err := svc.Checkout(c.UserContext(), billing.CheckoutInput{
		UserID:          userCtx.UserID,
		PlanID:          req.PlanID,
		PaymentMethodID: req.PaymentMethodID,
		TrialDays:       req.TrialDays,
	})
	if err != nil {
		status, code := billingErrorStatus(err)
		if status == fiber.StatusInternalServerError || status == fiber.StatusBadGateway {
			log.Printf("checkout failed for user %d: %v", userCtx.UserID, err)
		}
		return c.Status(status).JSON(fiber.Map{"error": code, "message": err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(checkoutJSON(result))
}

// HandleGetMySubscription returns the caller's latest subscription with its
// recent payments.
func HandleGetMySubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Login required"})
	}

	svc, err := getBillingService()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Billing unavailable"})
	}

	sub, payments, err := svc.GetUserSubscription(c.UserContext(), userCtx.UserID)
	if err != nil {
		status, code := billingErrorStatus(err)
		return c.Status(status).JSON(fiber.Map{"error": code, "message": err.Error()})
	}

	body := subscriptionJSON(sub)
	body["plan"] = sub.Plan
	body["limits"] = entitlements.ForPlan(&sub.Plan)
	body["payments"] = payments
	return c.JSON(fiber.Map{"subscription": body})
}

// HandleCancelSubscription cancels the caller's subscription. When the body
// omits cancelAtPeriodEnd the subscription runs until period end.
func HandleCancelSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Login required"})
	}

	cancelAtPeriodEnd := true
	var req cancelRequest
	if err := c.BodyParser(&req); err == nil && req.CancelAtPeriodEnd != nil {
		cancelAtPeriodEnd = *req.CancelAtPeriodEnd
	}

	svc, err := getBillingService()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Billing unavailable"})
	}

	sub, err := svc.Cancel(c.UserContext(), userCtx.UserID, cancelAtPeriodEnd)
	if err != nil {
		status, code := billingErrorStatus(err)
		return c.Status(status).JSON(fiber.Map{"error": code, "message": err.Error()})
	}
	return c.JSON(fiber.Map{"subscription": subscriptionJSON(sub)})
}

// HandleResumeSubscription reactivates the caller's canceled subscription.
func HandleResumeSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Login required"})
	}

	svc, err := getBillingService()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Billing unavailable"})
	}

	sub, err := svc.Resume(c.UserContext(), userCtx.UserID)
	if err != nil {
		status, code := billingErrorStatus(err)
		return c.Status(status).JSON(fiber.Map{"error": code, "message": err.Error()})
	}
	return c.JSON(fiber.Map{"subscription": subscriptionJSON(sub)})
}
