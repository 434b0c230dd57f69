package payments

import (
	"context"
	"testing"

	"github.com/stripe/stripe-go/v76"

	"github.com/yourusername/dossier-forge/internal/config"
)

func TestTierByID(t *testing.T) {
	tier := TierByID("starter")
	if tier == nil {
		t.Fatal("expected starter tier")
	}
	if tier.Credits != 5 || tier.AmountCents != 500 {
		t.Fatalf("unexpected starter tier %+v", tier)
	}

	if TierByID("enterprise") != nil {
		t.Fatal("expected nil for unknown tier")
	}
	if TierByID("") != nil {
		t.Fatal("expected nil for empty tier")
	}
}

func TestCreateCheckout(t *testing.T) {
	var captured *stripe.CheckoutSessionParams
	svc := &Service{
		cfg: &config.Config{FrontendURL: "https://app.example.com"},
		createSession: func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
			captured = params
			return &stripe.CheckoutSession{URL: "https://checkout.stripe.com/pay/cs_test_123"}, nil
		},
	}

	url, err := svc.CreateCheckout(context.Background(), "u1", "research")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://checkout.stripe.com/pay/cs_test_123" {
		t.Fatalf("unexpected checkout url %q", url)
	}

	if captured == nil {
		t.Fatal("expected session params captured")
	}
	if got := captured.Metadata["userId"]; got != "u1" {
		t.Fatalf("expected userId metadata, got %q", got)
	}
	if got := captured.Metadata["tierId"]; got != "research" {
		t.Fatalf("expected tierId metadata, got %q", got)
	}
	if got := captured.Metadata["credits"]; got != "20" {
		t.Fatalf("expected credits metadata, got %q", got)
	}
	if len(captured.LineItems) != 1 {
		t.Fatalf("expected 1 line item, got %d", len(captured.LineItems))
	}
	if got := *captured.LineItems[0].PriceData.UnitAmount; got != 1500 {
		t.Fatalf("expected unit amount 1500, got %d", got)
	}
	if got := *captured.SuccessURL; got != "https://app.example.com/billing?status=success" {
		t.Fatalf("unexpected success url %q", got)
	}
}

func TestCreateCheckoutUnknownTier(t *testing.T) {
	svc := &Service{cfg: &config.Config{}}
	if _, err := svc.CreateCheckout(context.Background(), "u1", "enterprise"); err == nil {
		t.Fatal("expected error for unknown tier")
	}
}
