package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ekklesiahq/ekklesia/app/controllers"
	"github.com/ekklesiahq/ekklesia/internal/pkg/constants"
	"github.com/ekklesiahq/ekklesia/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute, limiter.New())

	// Public surface: plan catalog and provider webhooks. Webhooks carry no
	// bearer token; signature verification is their only gate.
	api.Get(constants.PlansRoute, controllers.HandleListPlans)
	api.Post(constants.PaymentWebhookRoute, controllers.HandlePaymentWebhook)

	subs := api.Group(constants.SubscriptionsRoute, middleware.JWTAuth())
	subs.Post(constants.CheckoutRoute, controllers.HandleCheckoutSubscription)
	subs.Get("/", controllers.HandleGetMySubscription)
	subs.Post(constants.CancelRoute, controllers.HandleCancelSubscription)
	subs.Post(constants.ResumeRoute, controllers.HandleResumeSubscription)

	admin := api.Group("/admin", middleware.JWTAuth(), middleware.RequireAdmin)
	admin.Post(constants.AdminPlanSyncRoute, controllers.HandleSyncPlans)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
