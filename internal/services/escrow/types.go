package escrow

import (
	"context"
	"time"
)

// Config controls the escrow lifecycle timing.
type Config struct {
	// HoldDuration is the holding window: how long the buyer has to confirm
	// or dispute after the processor authorizes the payment.
	HoldDuration time.Duration
	// Currency applied to every authorization. Single-currency platform.
	Currency string
}

// DefaultHoldDuration applies when no hold duration is configured.
const DefaultHoldDuration = 10 * time.Minute

// TrustLedger is the slice of the trust service the escrow engine drives on
// terminal transitions.
type TrustLedger interface {
	RecordDisputeOutcome(ctx context.Context, sellerID uint) error
	RecordSale(ctx context.Context, sellerID uint) error
}

// InitiateResult is returned from Initiate: the created transaction plus
// the processor handle the frontend needs to collect the payment.
type InitiateResult struct {
	TransactionID string  `json:"transaction_id"`
	Amount        float64 `json:"amount"`
	ClientSecret  string  `json:"client_secret"`
	Reference     string  `json:"payment_reference"`
}

// ConfirmResult is returned from a successful confirmation. The coupon code
// is revealed to the buyer only here.
type ConfirmResult struct {
	TransactionID string `json:"transaction_id"`
	CouponCode    string `json:"coupon_code"`
}
