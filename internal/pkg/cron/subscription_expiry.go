package cron

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ekklesiahq/ekklesia/app/models"
	"github.com/ekklesiahq/ekklesia/internal/pkg/audit"
	"github.com/ekklesiahq/ekklesia/internal/pkg/billing"
	"github.com/ekklesiahq/ekklesia/internal/pkg/database"
	"github.com/ekklesiahq/ekklesia/internal/pkg/mail"
)

// InitSubscriptionExpiryCron starts the daily sweeper that finalizes
// subscriptions marked cancel-at-period-end whose period has elapsed. It is
// a safety net for missed provider webhooks; the webhook engine remains the
// primary state driver.
func InitSubscriptionExpiryCron() *cron.Cron {
	c := cron.New()

	_, err := c.AddFunc("0 9 * * *", func() {
		sweepExpiredSubscriptions()
	})
	if err != nil {
		log.Printf("Could not initialize subscription expiry cron: %v", err)
		return nil
	}

	c.Start()
	return c
}

func sweepExpiredSubscriptions() {
	db := database.GetDB()
	if db == nil {
		log.Println("Subscription expiry sweep skipped: database unavailable")
		return
	}

	repo := billing.NewRepository(db)
	auditor := audit.NewSink(db)
	ctx := context.Background()

	subs, err := repo.ListSubscriptionsPastPeriodEnd(time.Now())
	if err != nil {
		log.Printf("Error fetching period-end subscriptions: %v", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	log.Printf("Finalizing %d subscriptions past period end", len(subs))
	for i := range subs {
		sub := &subs[i]
		now := time.Now()
		sub.Status = models.SubscriptionStatusCanceled
		if sub.CanceledAt == nil {
			sub.CanceledAt = &now
		}
		if err := repo.SaveSubscription(sub); err != nil {
			log.Printf("Error finalizing subscription %d: %v", sub.ID, err)
			continue
		}
		if err := auditor.Record(ctx, audit.Entry{
			Action:      audit.ActionSubscriptionCanceled,
			EntityType:  "subscription",
			EntityID:    fmt.Sprintf("%d", sub.ID),
			UserID:      sub.UserID,
			Description: "subscription finalized after period end",
		}); err != nil {
			log.Printf("Error recording audit entry for subscription %d: %v", sub.ID, err)
		}

		notifySubscriptionEnded(repo, sub)
	}
}

// notifySubscriptionEnded emails the user best-effort; delivery failures
// never block the sweep.
func notifySubscriptionEnded(repo billing.Repository, sub *models.Subscription) {
	user, err := repo.FindUserByID(sub.UserID)
	if err != nil {
		log.Printf("Could not load user %d for expiry notice: %v", sub.UserID, err)
		return
	}
	plan, err := repo.FindPlanByID(sub.PlanID)
	if err != nil {
		log.Printf("Could not load plan %d for expiry notice: %v", sub.PlanID, err)
		return
	}
	if err := mail.SendSubscriptionEnded(user.Email, user.Name, plan.Name); err != nil {
		log.Printf("Could not send expiry notice to %s: %v", user.Email, err)
	}
}
