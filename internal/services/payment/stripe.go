package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/paymentintent"
	"github.com/stripe/stripe-go/v72/refund"
)

// StripeGateway implements Gateway on top of Stripe PaymentIntents with
// manual capture: Authorize creates the intent, the holding window runs
// while the funds are authorized, and Capture/Refund settle it.
type StripeGateway struct {
	timeout time.Duration
}

// NewStripeGateway configures the Stripe client with the given secret key
// and a bounded HTTP timeout for every processor round-trip.
func NewStripeGateway(secretKey string, timeout time.Duration) *StripeGateway {
	stripe.Key = secretKey
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: timeout},
	}))
	return &StripeGateway{timeout: timeout}
}

func (g *StripeGateway) Authorize(ctx context.Context, amount float64, currency string, metadata map[string]string) (*Authorization, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Params:             stripe.Params{Context: ctx},
		Amount:             stripe.Int64(toMinorUnits(amount)),
		Currency:           stripe.String(currency),
		CaptureMethod:      stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, mapStripeError("authorize", err)
	}

	return &Authorization{
		Reference:    pi.ID,
		ClientSecret: pi.ClientSecret,
	}, nil
}

func (g *StripeGateway) Capture(ctx context.Context, reference string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	_, err := paymentintent.Capture(reference, &stripe.PaymentIntentCaptureParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return mapStripeError("capture", err)
	}
	return nil
}

func (g *StripeGateway) Refund(ctx context.Context, reference string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// An uncaptured intent is cancelled rather than refunded; Stripe
	// rejects refunds against authorizations that never settled.
	pi, err := paymentintent.Get(reference, &stripe.PaymentIntentParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return mapStripeError("refund", err)
	}

	if pi.Status == stripe.PaymentIntentStatusRequiresCapture {
		_, err = paymentintent.Cancel(reference, &stripe.PaymentIntentCancelParams{
			Params: stripe.Params{Context: ctx},
		})
		if err != nil {
			return mapStripeError("refund", err)
		}
		return nil
	}

	_, err = refund.New(&stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(reference),
	})
	if err != nil {
		return mapStripeError("refund", err)
	}
	return nil
}

func mapStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		log.Warn().Str("op", op).Str("code", string(stripeErr.Code)).Msg("stripe request failed")
		if stripeErr.Code == stripe.ErrorCodeCardDeclined {
			return fmt.Errorf("%s: %w", op, ErrDeclined)
		}
	}
	return fmt.Errorf("%s: %w: %v", op, ErrProcessor, err)
}

// toMinorUnits converts a major-unit amount to the smallest currency unit
// Stripe expects, e.g. rupees to paise.
func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
