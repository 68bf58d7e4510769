package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ekklesiahq/ekklesia/app/models"
	"github.com/ekklesiahq/ekklesia/internal/pkg/audit"
	"github.com/ekklesiahq/ekklesia/internal/pkg/gateway"
)

// fakeRepo is an in-memory Repository for orchestrator and webhook tests.
type fakeRepo struct {
	plans    map[uint]*models.Plan
	users    map[uint]*models.User
	subs     []*models.Subscription
	payments []*models.PaymentHistory
	events   []*models.WebhookEvent

	nextSubID   uint
	nextPayID   uint
	nextEventID uint

	saveSubErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		plans: make(map[uint]*models.Plan),
		users: make(map[uint]*models.User),
	}
}

func (r *fakeRepo) FindPlanByID(id uint) (*models.Plan, error) {
	if plan, ok := r.plans[id]; ok {
		return plan, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) ListActivePlans() ([]models.Plan, error) {
	var out []models.Plan
	for _, plan := range r.plans {
		if plan.IsActive {
			out = append(out, *plan)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListPlansNeedingSync() ([]models.Plan, error) {
	var out []models.Plan
	for _, plan := range r.plans {
		if plan.IsActive && plan.SyncStatus != models.PlanSyncSynced {
			out = append(out, *plan)
		}
	}
	return out, nil
}

func (r *fakeRepo) SavePlan(plan *models.Plan) error {
	r.plans[plan.ID] = plan
	return nil
}

func (r *fakeRepo) FindUserByID(id uint) (*models.User, error) {
	if user, ok := r.users[id]; ok {
		return user, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) FindBlockingSubscriptionByUser(userID uint) (*models.Subscription, error) {
	for _, sub := range r.subs {
		if sub.UserID == userID && models.IsBlockingStatus(sub.Status) {
			return sub, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) FindLatestSubscriptionByUser(userID uint) (*models.Subscription, error) {
	var latest *models.Subscription
	for _, sub := range r.subs {
		if sub.UserID == userID && (latest == nil || sub.ID > latest.ID) {
			latest = sub
		}
	}
	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return latest, nil
}

func (r *fakeRepo) FindSubscriptionByGatewayRef(provider, ref string) (*models.Subscription, error) {
	for _, sub := range r.subs {
		if sub.GatewayProvider != provider {
			continue
		}
		if sub.GatewaySubscriptionID == ref || (sub.ExternalReference != "" && sub.ExternalReference == ref) {
			return sub, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) CreateSubscription(sub *models.Subscription) error {
	r.nextSubID++
	sub.ID = r.nextSubID
	r.subs = append(r.subs, sub)
	return nil
}

func (r *fakeRepo) SaveSubscription(sub *models.Subscription) error {
	if r.saveSubErr != nil {
		return r.saveSubErr
	}
	for i, existing := range r.subs {
		if existing.ID == sub.ID {
			r.subs[i] = sub
			return nil
		}
	}
	r.subs = append(r.subs, sub)
	return nil
}

func (r *fakeRepo) ListSubscriptionsPastPeriodEnd(now time.Time) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range r.subs {
		if sub.CancelAtPeriodEnd && sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.Before(now) &&
			models.IsBlockingStatus(sub.Status) {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListPayments(subscriptionID uint, limit int) ([]models.PaymentHistory, error) {
	var out []models.PaymentHistory
	for i := len(r.payments) - 1; i >= 0 && len(out) < limit; i-- {
		if r.payments[i].SubscriptionID == subscriptionID {
			out = append(out, *r.payments[i])
		}
	}
	return out, nil
}

func (r *fakeRepo) PaymentExists(subscriptionID uint, gatewayPaymentID string) (bool, error) {
	for _, p := range r.payments {
		if p.SubscriptionID == subscriptionID && p.GatewayPaymentID == gatewayPaymentID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) CreatePaymentIfNotExists(payment *models.PaymentHistory) (bool, error) {
	exists, _ := r.PaymentExists(payment.SubscriptionID, payment.GatewayPaymentID)
	if exists {
		return false, nil
	}
	r.nextPayID++
	payment.ID = r.nextPayID
	r.payments = append(r.payments, payment)
	return true, nil
}

func (r *fakeRepo) UpsertWebhookEvent(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	for _, stored := range r.events {
		if stored.GatewayProvider == event.GatewayProvider && stored.GatewayEventID == event.GatewayEventID {
			if !stored.Processed {
				stored.Payload = event.Payload
				stored.EventType = event.EventType
			}
			return false, stored, nil
		}
	}
	r.nextEventID++
	event.ID = r.nextEventID
	r.events = append(r.events, event)
	return true, event, nil
}

func (r *fakeRepo) MarkWebhookProcessed(id uint) error {
	for _, stored := range r.events {
		if stored.ID == id {
			now := time.Now()
			stored.Processed = true
			stored.ProcessedAt = &now
			stored.ProcessingError = ""
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeRepo) MarkWebhookFailed(id uint, processingError string) error {
	for _, stored := range r.events {
		if stored.ID == id {
			stored.Processed = false
			stored.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

// fakeSink collects audit entries in memory.
type fakeSink struct {
	entries []audit.Entry
}

func (s *fakeSink) Record(_ context.Context, entry audit.Entry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *fakeSink) count(action string) int {
	n := 0
	for _, e := range s.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

type fakeCancel struct {
	subscriptionID    string
	cancelAtPeriodEnd bool
}

// fakeGateway records the remote calls the orchestrator makes.
type fakeGateway struct {
	provider string

	customersCreated int
	createdSubs      []gateway.SubscriptionRequest
	cancels          []fakeCancel
	resumes          []string

	customerErr error
	createErr   error
	cancelErr   error
	resumeErr   error

	subResp *gateway.SubscriptionResponse
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		provider: "stripe",
		subResp: &gateway.SubscriptionResponse{
			ID:           "sub_test_1",
			Status:       gateway.SubscriptionPending,
			ClientSecret: "pi_secret_1",
		},
	}
}

func (g *fakeGateway) Provider() string { return g.provider }

func (g *fakeGateway) CreateProduct(_ context.Context, req gateway.ProductRequest) (*gateway.ProductResponse, error) {
	return &gateway.ProductResponse{ID: "prod_test", Name: req.Name}, nil
}

func (g *fakeGateway) UpdateProduct(_ context.Context, productID string, req gateway.ProductRequest) (*gateway.ProductResponse, error) {
	return &gateway.ProductResponse{ID: productID, Name: req.Name}, nil
}

func (g *fakeGateway) CreatePrice(_ context.Context, req gateway.PriceRequest) (*gateway.PriceResponse, error) {
	return &gateway.PriceResponse{ID: "price_test", Amount: req.Amount, Currency: req.Currency, Interval: req.Interval}, nil
}

func (g *fakeGateway) UpdatePrice(_ context.Context, priceID string, req gateway.PriceRequest) (*gateway.PriceResponse, error) {
	return &gateway.PriceResponse{ID: priceID, Amount: req.Amount, Currency: req.Currency, Interval: req.Interval}, nil
}

func (g *fakeGateway) GetOrCreateCustomer(_ context.Context, req gateway.CustomerRequest) (*gateway.CustomerResponse, error) {
	if g.customerErr != nil {
		return nil, g.customerErr
	}
	g.customersCreated++
	return &gateway.CustomerResponse{ID: "cus_test_1", Email: req.Email}, nil
}

func (g *fakeGateway) UpdateCustomer(_ context.Context, customerID string, req gateway.CustomerRequest) (*gateway.CustomerResponse, error) {
	return &gateway.CustomerResponse{ID: customerID, Email: req.Email}, nil
}

func (g *fakeGateway) CreateSubscription(_ context.Context, req gateway.SubscriptionRequest) (*gateway.SubscriptionResponse, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.createdSubs = append(g.createdSubs, req)
	resp := *g.subResp
	resp.ExternalReference = req.ExternalReference
	resp.TrialEnd = req.TrialEnd
	return &resp, nil
}

func (g *fakeGateway) GetSubscription(_ context.Context, subscriptionID string) (*gateway.SubscriptionResponse, error) {
	resp := *g.subResp
	resp.ID = subscriptionID
	return &resp, nil
}

func (g *fakeGateway) UpdateSubscription(_ context.Context, subscriptionID string, _ gateway.SubscriptionUpdate) (*gateway.SubscriptionResponse, error) {
	resp := *g.subResp
	resp.ID = subscriptionID
	return &resp, nil
}

func (g *fakeGateway) CancelSubscription(_ context.Context, subscriptionID string, cancelAtPeriodEnd bool) (*gateway.SubscriptionResponse, error) {
	if g.cancelErr != nil {
		return nil, g.cancelErr
	}
	g.cancels = append(g.cancels, fakeCancel{subscriptionID: subscriptionID, cancelAtPeriodEnd: cancelAtPeriodEnd})
	resp := *g.subResp
	resp.ID = subscriptionID
	resp.Status = gateway.SubscriptionCanceled
	return &resp, nil
}

func (g *fakeGateway) ResumeSubscription(_ context.Context, subscriptionID string) (*gateway.SubscriptionResponse, error) {
	if g.resumeErr != nil {
		return nil, g.resumeErr
	}
	g.resumes = append(g.resumes, subscriptionID)
	resp := *g.subResp
	resp.ID = subscriptionID
	resp.Status = gateway.SubscriptionActive
	return &resp, nil
}

func (g *fakeGateway) GetSubscriptionPayments(_ context.Context, _ string) ([]gateway.PaymentRecord, error) {
	return nil, nil
}

func (g *fakeGateway) VerifyWebhookSignature(_ []byte, _, _ string) bool { return true }

func (g *fakeGateway) ParseWebhookEvent(_ []byte, _ map[string]string) (*gateway.ParsedWebhookEvent, error) {
	return nil, errors.New("not implemented")
}

func (g *fakeGateway) NormalizeSubscriptionStatus(status string) gateway.SubscriptionStatus {
	return gateway.SubscriptionPending
}

func (g *fakeGateway) NormalizePaymentStatus(status string) gateway.PaymentStatus {
	return gateway.PaymentPending
}

func (g *fakeGateway) AmountToMinorUnits(amount float64) int64 { return int64(amount) }

func seedPlanAndUser(repo *fakeRepo) {
	repo.plans[1] = &models.Plan{
		ID:              1,
		Name:            "Crescimento",
		Price:           99.90,
		Currency:        "BRL",
		BillingInterval: "month",
		GatewayProvider: "stripe",
		GatewayPriceID:  "price_growth",
		SyncStatus:      models.PlanSyncSynced,
		IsActive:        true,
	}
	repo.users[1] = &models.User{ID: 1, Email: "pastor@igreja.org", Name: "João Batista"}
}

func TestCheckoutCreatesSubscription(t *testing.T) {
	repo := newFakeRepo()
	gw := newFakeGateway()
	sink := &fakeSink{}
	seedPlanAndUser(repo)

	svc := NewService(repo, gw, sink)
	result, err := svc.Checkout(context.Background(), CheckoutInput{UserID: 1, PlanID: 1})
	require.NoError(t, err)
	require.NotNil(t, result.Subscription)

	sub := result.Subscription
	assert.Equal(t, uint(1), sub.UserID)
	assert.Equal(t, "stripe", sub.GatewayProvider)
	assert.Equal(t, "sub_test_1", sub.GatewaySubscriptionID)
	assert.Equal(t, "cus_test_1", sub.GatewayCustomerID)
	assert.NotEmpty(t, sub.ExternalReference)
	assert.Equal(t, "pi_secret_1", result.ClientSecret)

	assert.Equal(t, 1, gw.customersCreated)
	require.Len(t, gw.createdSubs, 1)
	assert.Equal(t, sub.ExternalReference, gw.createdSubs[0].ExternalReference)
	assert.Equal(t, 1, sink.count(audit.ActionSubscriptionCreated))
}

func TestCheckoutSendsAmountInMinorUnits(t *testing.T) {
	repo := newFakeRepo()
	gw := newFakeGateway()
	seedPlanAndUser(repo)
	repo.plans[1].Price = 1000

	svc := NewService(repo, gw, &fakeSink{})
	_, err := svc.Checkout(context.Background(), CheckoutInput{UserID: 1, PlanID: 1})
	require.NoError(t, err)
	require.Len(t, gw.createdSubs, 1)
	assert.Equal(t, int64(100000), gw.createdSubs[0].Amount)
}

func TestCheckoutPlanNotFound(t *testing.T) {
	repo := newFakeRepo()
	seedPlanAndUser(repo)

	svc := NewService(repo, newFakeGateway(), &fakeSink{})
	_, err := svc.Checkout(context.Background(), CheckoutInput{UserID: 1, PlanID: 99})
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestCheckoutPlanNotSynced(t *testing.T) {
	repo := newFakeRepo()
	seedPlanAndUser(repo)
	repo.plans[1].SyncStatus = models.PlanSyncPending

	svc := NewService(repo, newFakeGateway(), &fakeSink{})
	_, err := svc.Checkout(context.Background(), CheckoutInput{UserID: 1, PlanID: 1})
	assert.ErrorIs(t, err, ErrPlanNotAvailable)
}

func TestCheckoutConflictMakesNoRemoteCalls(t *testing.T) {
	repo := newFakeRepo()
	gw := newFakeGateway()
	seedPlanAndUser(repo)
	repo.subs = append(repo.subs, &models.Subscription{
		ID:     7,
		UserID: 1,
		Status: models.SubscriptionStatusActive,
	})

	svc := NewService(repo, gw, &fakeSink{})
	_, err := svc.Checkout(context.Background(), CheckoutInput{UserID: 1, PlanID: 1})
	assert.ErrorIs(t, err, ErrSubscriptionExists)
	assert.Equal(t, 0, gw.customersCreated)
	assert.Empty(t, gw.createdSubs)
}

func TestCheckoutPastDueBlocksNewCheckout(t *testing.T) {
	repo := newFakeRepo()
	seedPlanAndUser(repo)
	repo.subs = append(repo.subs, &models.Subscription{
		ID:     3,
		UserID: 1,
		Status: models.SubscriptionStatusPastDue,
	})

	svc := NewService(repo, newFakeGateway(), &fakeSink{})
	_, err := svc.Checkout(context.Background(), CheckoutInput{UserID: 1, PlanID: 1})
	assert.ErrorIs(t, err, ErrSubscriptionExists)
}

func TestCheckoutCanceledDoesNotBlock(t *testing.T) {
	repo := newFakeRepo()
	seedPlanAndUser(repo)
	repo.subs = append(repo.subs, &models.Subscription{
		ID:     3,
		UserID: 1,
		Status: models.SubscriptionStatusCanceled,
	})

	svc := NewService(repo, newFakeGateway(), &fakeSink{})
	_, err := svc.Checkout(context.Background(), CheckoutInput{UserID: 1, PlanID: 1})
	assert.NoError(t, err)
}

func TestCheckoutGatewayFailure(t *testing.T) {
	repo := newFakeRepo()
	gw := newFakeGateway()
	sink := &fakeSink{}
	seedPlanAndUser(repo)
	gw.createErr = errors.New("provider unavailable")

	svc := NewService(repo, gw, sink)
	_, err := svc.Checkout(context.Background(), CheckoutInput{UserID: 1, PlanID: 1})
	require.Error(t, err)

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "stripe", gwErr.Provider)
	assert.Equal(t, 1, sink.count(audit.ActionGatewayError))
	assert.Empty(t, repo.subs)
}

func TestCheckoutWithTrialDays(t *testing.T) {
	repo := newFakeRepo()
	gw := newFakeGateway()
	seedPlanAndUser(repo)

	svc := NewService(repo, gw, &fakeSink{})
	result, err := svc.Checkout(context.Background(), CheckoutInput{UserID: 1, PlanID: 1, TrialDays: 14})
	require.NoError(t, err)
	require.Len(t, gw.createdSubs, 1)
	require.NotNil(t, gw.createdSubs[0].TrialEnd)
	require.NotNil(t, result.Subscription.TrialEnd)

	wantAround := time.Now().AddDate(0, 0, 14)
	diff := gw.createdSubs[0].TrialEnd.Sub(wantAround)
	assert.Less(t, diff.Abs(), time.Minute)
}

func TestCancelAtPeriodEnd(t *testing.T) {
	repo := newFakeRepo()
	gw := newFakeGateway()
	sink := &fakeSink{}
	repo.subs = append(repo.subs, &models.Subscription{
		ID:                    5,
		UserID:                1,
		Status:                models.SubscriptionStatusActive,
		GatewayProvider:       "stripe",
		GatewaySubscriptionID: "sub_test_1",
	})

	svc := NewService(repo, gw, sink)
	sub, err := svc.Cancel(context.Background(), 1, true)
	require.NoError(t, err)

	require.Len(t, gw.cancels, 1)
	assert.True(t, gw.cancels[0].cancelAtPeriodEnd)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.NotNil(t, sub.CanceledAt)
	assert.Equal(t, 1, sink.count(audit.ActionSubscriptionCanceled))
}

func TestCancelImmediately(t *testing.T) {
	repo := newFakeRepo()
	gw := newFakeGateway()
	repo.subs = append(repo.subs, &models.Subscription{
		ID:                    5,
		UserID:                1,
		Status:                models.SubscriptionStatusActive,
		GatewayProvider:       "stripe",
		GatewaySubscriptionID: "sub_test_1",
	})

	svc := NewService(repo, gw, &fakeSink{})
	sub, err := svc.Cancel(context.Background(), 1, false)
	require.NoError(t, err)
	require.Len(t, gw.cancels, 1)
	assert.False(t, gw.cancels[0].cancelAtPeriodEnd)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
}

func TestCancelWithoutSubscription(t *testing.T) {
	svc := NewService(newFakeRepo(), newFakeGateway(), &fakeSink{})
	_, err := svc.Cancel(context.Background(), 1, true)
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestCancelUnlinkedSubscription(t *testing.T) {
	repo := newFakeRepo()
	repo.subs = append(repo.subs, &models.Subscription{
		ID:     5,
		UserID: 1,
		Status: models.SubscriptionStatusActive,
	})

	svc := NewService(repo, newFakeGateway(), &fakeSink{})
	_, err := svc.Cancel(context.Background(), 1, true)
	assert.ErrorIs(t, err, ErrNotLinked)
}

func TestResumeCanceledSubscription(t *testing.T) {
	repo := newFakeRepo()
	gw := newFakeGateway()
	sink := &fakeSink{}
	canceledAt := time.Now().Add(-time.Hour)
	repo.subs = append(repo.subs, &models.Subscription{
		ID:                    5,
		UserID:                1,
		Status:                models.SubscriptionStatusCanceled,
		GatewayProvider:       "stripe",
		GatewaySubscriptionID: "sub_test_1",
		CancelAtPeriodEnd:     true,
		CanceledAt:            &canceledAt,
	})

	svc := NewService(repo, gw, sink)
	sub, err := svc.Resume(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"sub_test_1"}, gw.resumes)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.False(t, sub.CancelAtPeriodEnd)
	assert.Nil(t, sub.CanceledAt)
	assert.Equal(t, 1, sink.count(audit.ActionSubscriptionResumed))
}

func TestResumeActiveSubscriptionFails(t *testing.T) {
	repo := newFakeRepo()
	repo.subs = append(repo.subs, &models.Subscription{
		ID:                    5,
		UserID:                1,
		Status:                models.SubscriptionStatusActive,
		GatewaySubscriptionID: "sub_test_1",
	})

	svc := NewService(repo, newFakeGateway(), &fakeSink{})
	_, err := svc.Resume(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotCanceled)
}

func TestGetUserSubscriptionWithPayments(t *testing.T) {
	repo := newFakeRepo()
	repo.subs = append(repo.subs, &models.Subscription{
		ID:     5,
		UserID: 1,
		Status: models.SubscriptionStatusActive,
	})
	for i := 0; i < 12; i++ {
		repo.payments = append(repo.payments, &models.PaymentHistory{
			ID:               uint(i + 1),
			SubscriptionID:   5,
			GatewayPaymentID: string(rune('a' + i)),
			Status:           models.PaymentStatusApproved,
		})
	}

	svc := NewService(repo, newFakeGateway(), &fakeSink{})
	sub, payments, err := svc.GetUserSubscription(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint(5), sub.ID)
	assert.Len(t, payments, 10)
}

func TestGetUserSubscriptionNotFound(t *testing.T) {
	svc := NewService(newFakeRepo(), newFakeGateway(), &fakeSink{})
	_, _, err := svc.GetUserSubscription(context.Background(), 1)
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestSyncPlanFillsGatewayIdentifiers(t *testing.T) {
	repo := newFakeRepo()
	seedPlanAndUser(repo)
	plan := repo.plans[1]
	plan.SyncStatus = models.PlanSyncPending
	plan.GatewayProductID = ""
	plan.GatewayPriceID = ""

	svc := NewService(repo, newFakeGateway(), &fakeSink{})
	require.NoError(t, svc.SyncPlan(context.Background(), plan))

	assert.Equal(t, "prod_test", plan.GatewayProductID)
	assert.Equal(t, "price_test", plan.GatewayPriceID)
	assert.Equal(t, "stripe", plan.GatewayProvider)
	assert.Equal(t, models.PlanSyncSynced, plan.SyncStatus)
	assert.True(t, plan.IsCheckoutReady())
}

func TestSyncPendingPlansSkipsSyncedPlans(t *testing.T) {
	repo := newFakeRepo()
	repo.plans[1] = &models.Plan{ID: 1, Name: "Essencial", Price: 49.90, Currency: "BRL", BillingInterval: "month", SyncStatus: models.PlanSyncPending, IsActive: true}
	repo.plans[2] = &models.Plan{ID: 2, Name: "Crescimento", Price: 99.90, Currency: "BRL", BillingInterval: "month", SyncStatus: models.PlanSyncSynced, GatewayPriceID: "price_x", IsActive: true}

	svc := NewService(repo, newFakeGateway(), &fakeSink{})
	synced, err := svc.SyncPendingPlans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, synced)
	assert.Equal(t, models.PlanSyncSynced, repo.plans[1].SyncStatus)
}
