package controllers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWebhookSignatureHeaderSelection(t *testing.T) {
	t.Parallel()

	headers := map[string]string{
		"Stripe-Signature": "t=1,v1=abc",
		"X-Signature":      "ts=2,v1=def",
		"X-Request-Id":     "req-1",
	}

	sig, reqID := webhookSignature("stripe", headers)
	assert.Equal(t, "t=1,v1=abc", sig)
	assert.Empty(t, reqID)

	sig, reqID = webhookSignature("mercadopago", headers)
	assert.Equal(t, "ts=2,v1=def", sig)
	assert.Equal(t, "req-1", reqID)

	sig, reqID = webhookSignature("paypal", headers)
	assert.Empty(t, sig)
	assert.Empty(t, reqID)
}
