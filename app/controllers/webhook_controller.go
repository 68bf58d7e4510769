package controllers

import (
	"errors"
	"log"
	"sync"

	"github.com/gofiber/fiber/v2"

	"github.com/ekklesiahq/ekklesia/internal/pkg/billing"
	"github.com/ekklesiahq/ekklesia/internal/pkg/database"
	"github.com/ekklesiahq/ekklesia/internal/pkg/gateway"
)

var (
	webhookMu     sync.Mutex
	webhookEngine *billing.WebhookEngine
)

// SetWebhookEngine overrides the lazily constructed engine; used by startup
// wiring and tests.
func SetWebhookEngine(engine *billing.WebhookEngine) {
	webhookMu.Lock()
	defer webhookMu.Unlock()
	webhookEngine = engine
}

func getWebhookEngine() (*billing.WebhookEngine, error) {
	webhookMu.Lock()
	defer webhookMu.Unlock()
	if webhookEngine != nil {
		return webhookEngine, nil
	}

	db := database.GetDB()
	if db == nil {
		return nil, errors.New("database unavailable")
	}
	gw, err := gateway.Default()
	if err != nil {
		return nil, err
	}
	webhookEngine = billing.NewWebhookEngineFromDB(db, gw)
	return webhookEngine, nil
}

// webhookSignature picks the provider's signature header from the request
// headers. Stripe uses Stripe-Signature; MercadoPago uses x-signature plus
// x-request-id.
func webhookSignature(provider string, headers map[string]string) (signature, requestID string) {
	switch provider {
	case gateway.ProviderStripe:
		return headers["Stripe-Signature"], ""
	case gateway.ProviderMercadoPago:
		return headers["X-Signature"], headers["X-Request-Id"]
	default:
		return "", ""
	}
}

// HandlePaymentWebhook ingests provider webhooks at
// POST /api/webhooks/payment/:provider. The route is unauthenticated;
// signature verification is the only gate.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	engine, err := getWebhookEngine()
	if err != nil {
		log.Printf("webhook: engine unavailable: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Webhook processing unavailable"})
	}

	provider := c.Params("provider")
	if engine.Provider() != provider {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Unknown webhook provider"})
	}

	headers := map[string]string{
		"Stripe-Signature": c.Get("Stripe-Signature"),
		"X-Signature":      c.Get("X-Signature"),
		"X-Request-Id":     c.Get("X-Request-Id"),
	}
	signature, requestID := webhookSignature(provider, headers)

	err = engine.Process(c.UserContext(), billing.WebhookRequest{
		Payload:   c.Body(),
		Signature: signature,
		RequestID: requestID,
		Headers:   headers,
	})
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid webhook signature"})
		}
		log.Printf("webhook: processing %s delivery failed: %v", provider, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Webhook processing failed"})
	}

	return c.JSON(fiber.Map{"received": true})
}
