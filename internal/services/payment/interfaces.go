package payment

import "context"

// Authorization is the result of a successful authorization request. The
// client secret is handed to the frontend so the buyer can complete the
// payment; the reference identifies the payment at the processor.
type Authorization struct {
	Reference    string
	ClientSecret string
}

// Gateway is the payment processor boundary. The escrow engine consumes
// authorize/capture/refund and never re-implements card processing.
// Implementations must apply bounded timeouts; callers hold no locks while
// these calls are in flight.
type Gateway interface {
	// Authorize places a hold on the buyer's funds without capturing them.
	Authorize(ctx context.Context, amount float64, currency string, metadata map[string]string) (*Authorization, error)
	// Capture releases previously authorized funds to the platform, to be
	// paid out to the seller.
	Capture(ctx context.Context, reference string) error
	// Refund returns captured or authorized funds to the buyer.
	Refund(ctx context.Context, reference string) error
}
