package constants

// API route constants
const (
	APIRoute            = "/api"
	PlansRoute          = "/plans"
	SubscriptionsRoute  = "/subscriptions"
	CheckoutRoute       = "/checkout"
	CancelRoute         = "/cancel"
	ResumeRoute         = "/resume"
	PaymentWebhookRoute = "/webhooks/payment/:provider"
	AdminPlanSyncRoute  = "/plans/sync"
)
