package gateway

import "testing"

func TestMapStripeSubscriptionStatus(t *testing.T) {
	tests := []struct {
		in   string
		want SubscriptionStatus
	}{
		{in: "active", want: SubscriptionActive},
		{in: "trialing", want: SubscriptionTrialing},
		{in: "past_due", want: SubscriptionPastDue},
		{in: "canceled", want: SubscriptionCanceled},
		{in: "unpaid", want: SubscriptionUnpaid},
		{in: "incomplete", want: SubscriptionPending},
		{in: "incomplete_expired", want: SubscriptionCanceled},
		{in: "something_new", want: SubscriptionPending},
		{in: "", want: SubscriptionPending},
	}

	for _, tt := range tests {
		if got := mapStripeSubscriptionStatus(tt.in); got != tt.want {
			t.Fatalf("mapStripeSubscriptionStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMapStripePaymentStatus(t *testing.T) {
	tests := []struct {
		in   string
		want PaymentStatus
	}{
		{in: "paid", want: PaymentApproved},
		{in: "open", want: PaymentPending},
		{in: "draft", want: PaymentPending},
		{in: "uncollectible", want: PaymentRejected},
		{in: "void", want: PaymentCancelled},
		{in: "unexpected", want: PaymentPending},
	}

	for _, tt := range tests {
		if got := mapStripePaymentStatus(tt.in); got != tt.want {
			t.Fatalf("mapStripePaymentStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStripeGatewayProvider(t *testing.T) {
	g := NewStripeGateway("sk_test_123", "whsec_123")
	if g.Provider() != ProviderStripe {
		t.Fatalf("Provider() = %q, want %q", g.Provider(), ProviderStripe)
	}
}

func TestStripeVerifyWebhookSignature_Invalid(t *testing.T) {
	g := NewStripeGateway("sk_test_123", "whsec_123")
	if g.VerifyWebhookSignature([]byte(`{}`), "bogus", "") {
		t.Fatalf("expected invalid signature to fail")
	}
	if g.VerifyWebhookSignature([]byte(`{}`), "", "") {
		t.Fatalf("expected empty signature to fail")
	}
}
