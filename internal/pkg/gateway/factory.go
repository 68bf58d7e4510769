package gateway

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ekklesiahq/ekklesia/internal/pkg/env"
)

const (
	ProviderStripe      = "stripe"
	ProviderMercadoPago = "mercadopago"
)

// Config selects the active provider and carries its credentials. Unset
// credentials for the selected provider fail at construction time, not at
// first use.
type Config struct {
	Provider    string
	Stripe      StripeConfig
	MercadoPago MercadoPagoConfig
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type MercadoPagoConfig struct {
	AccessToken   string
	WebhookSecret string
	APIBaseURL    string
}

// ConfigFromEnv reads the gateway configuration from the environment.
func ConfigFromEnv() Config {
	return Config{
		Provider: strings.ToLower(strings.TrimSpace(env.GetEnv("PAYMENT_GATEWAY", ProviderMercadoPago))),
		Stripe: StripeConfig{
			SecretKey:     env.GetEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		MercadoPago: MercadoPagoConfig{
			AccessToken:   env.GetEnv("MP_ACCESS_TOKEN", ""),
			WebhookSecret: env.GetEnv("MP_WEBHOOK_SECRET", ""),
			APIBaseURL:    env.GetEnv("MP_API_BASE_URL", ""),
		},
	}
}

// New always constructs a fresh adapter for the configured provider. The
// switch is the single closed decision point for supported providers.
func New(cfg Config) (Gateway, error) {
	switch cfg.Provider {
	case ProviderStripe:
		if strings.TrimSpace(cfg.Stripe.SecretKey) == "" {
			return nil, fmt.Errorf("gateway: STRIPE_SECRET_KEY is not configured")
		}
		return NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret), nil
	case ProviderMercadoPago:
		if strings.TrimSpace(cfg.MercadoPago.AccessToken) == "" {
			return nil, fmt.Errorf("gateway: MP_ACCESS_TOKEN is not configured")
		}
		return NewMercadoPagoGateway(cfg.MercadoPago.AccessToken, cfg.MercadoPago.WebhookSecret, cfg.MercadoPago.APIBaseURL), nil
	case "":
		return nil, fmt.Errorf("gateway: PAYMENT_GATEWAY is not configured")
	default:
		return nil, fmt.Errorf("gateway: unsupported provider %q", cfg.Provider)
	}
}

var (
	defaultMu      sync.Mutex
	defaultGateway Gateway
)

// Default lazily constructs and caches one adapter for the process from
// environment configuration. Production wiring calls it once at startup and
// injects the result; tests use New or Reset for isolation.
func Default() (Gateway, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultGateway != nil {
		return defaultGateway, nil
	}
	gw, err := New(ConfigFromEnv())
	if err != nil {
		return nil, err
	}
	defaultGateway = gw
	return defaultGateway, nil
}

// Reset clears the cached default adapter.
func Reset() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultGateway = nil
}
