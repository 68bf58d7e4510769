package billing

import (
	"context"
	"fmt"
	"log"

	"github.com/ekklesiahq/ekklesia/app/models"
	"github.com/ekklesiahq/ekklesia/internal/pkg/gateway"
)

// SyncPlan pushes a plan's product and price to the payment gateway and
// stores the resulting identifiers. A plan must be synced before it can be
// checked out. Sync failures mark the plan with SyncStatus error so the
// catalog surfaces broken plans instead of silently hiding them.
func (s *Service) SyncPlan(ctx context.Context, plan *models.Plan) error {
	if err := plan.Validate(); err != nil {
		return fmt.Errorf("plan %d is not valid for sync: %w", plan.ID, err)
	}

	productReq := gateway.ProductRequest{
		Name:        plan.Name,
		Description: plan.Description,
	}

	var productID string
	if plan.GatewayProductID != "" {
		product, err := s.gw.UpdateProduct(ctx, plan.GatewayProductID, productReq)
		if err != nil {
			return s.planSyncFailure(ctx, plan, "update product", err)
		}
		productID = product.ID
	} else {
		product, err := s.gw.CreateProduct(ctx, productReq)
		if err != nil {
			return s.planSyncFailure(ctx, plan, "create product", err)
		}
		productID = product.ID
	}

	price, err := s.gw.CreatePrice(ctx, gateway.PriceRequest{
		ProductID: productID,
		Amount:    gateway.ToMinorUnits(plan.Price),
		Currency:  plan.Currency,
		Interval:  plan.BillingInterval,
	})
	if err != nil {
		return s.planSyncFailure(ctx, plan, "create price", err)
	}

	plan.GatewayProvider = s.gw.Provider()
	plan.GatewayProductID = productID
	plan.GatewayPriceID = price.ID
	plan.SyncStatus = models.PlanSyncSynced
	return s.repo.SavePlan(plan)
}

// SyncPendingPlans syncs every active plan that is not yet synced. Errors
// are logged per plan so one broken plan does not block the rest.
func (s *Service) SyncPendingPlans(ctx context.Context) (int, error) {
	plans, err := s.repo.ListPlansNeedingSync()
	if err != nil {
		return 0, err
	}

	synced := 0
	for i := range plans {
		if err := s.SyncPlan(ctx, &plans[i]); err != nil {
			log.Printf("billing: plan %d (%s) sync failed: %v", plans[i].ID, plans[i].Name, err)
			continue
		}
		synced++
	}
	return synced, nil
}

func (s *Service) planSyncFailure(ctx context.Context, plan *models.Plan, op string, err error) error {
	plan.SyncStatus = models.PlanSyncError
	if saveErr := s.repo.SavePlan(plan); saveErr != nil {
		log.Printf("billing: could not mark plan %d sync error: %v", plan.ID, saveErr)
	}
	return s.gatewayFailure(ctx, 0, "", fmt.Sprintf("%s for plan %d", op, plan.ID), err)
}
