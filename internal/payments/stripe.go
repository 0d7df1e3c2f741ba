package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"github.com/stripe/stripe-go/v74/webhook"
)

// StripeIssuer backs donation intents with real Stripe PaymentIntents.
type StripeIssuer struct{}

// NewStripeIssuer sets the package-level stripe key, matching how
// stripe-go expects to be initialized.
func NewStripeIssuer(apiKey string) *StripeIssuer {
	stripe.Key = apiKey
	return &StripeIssuer{}
}

func (s *StripeIssuer) Issue(ctx context.Context, amountCents int64, rideID string) (string, string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(string(stripe.CurrencyUSD)),
	}
	params.AddMetadata("type", "ride_donation")
	params.AddMetadata("ride_id", rideID)
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", "", err
	}
	return pi.ID, pi.ClientSecret, nil
}

// WebhookVerifier parses and signature-checks Stripe callback payloads.
type WebhookVerifier struct {
	secret string
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret}
}

// CallbackResult is the engine-facing view of a payment event: which
// provider reference it concerns and whether the charge succeeded.
type CallbackResult struct {
	ProviderRef string
	Outcome     string // succeeded, failed, cancelled
}

// Verify returns a CallbackResult for the intent lifecycle events we
// care about, or ok=false for everything else.
func (v *WebhookVerifier) Verify(payload []byte, sigHeader string) (CallbackResult, bool, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, v.secret)
	if err != nil {
		return CallbackResult{}, false, err
	}
	var outcome string
	switch event.Type {
	case "payment_intent.succeeded":
		outcome = "succeeded"
	case "payment_intent.payment_failed":
		outcome = "failed"
	case "payment_intent.canceled":
		outcome = "cancelled"
	default:
		return CallbackResult{}, false, nil
	}
	ref, _ := event.Data.Object["id"].(string)
	if ref == "" {
		return CallbackResult{}, false, nil
	}
	return CallbackResult{ProviderRef: ref, Outcome: outcome}, true, nil
}
