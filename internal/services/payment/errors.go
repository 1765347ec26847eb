package payment

import "errors"

var (
	// ErrDeclined is returned when the processor rejects the payment
	// outright. Callers mark the transaction failed; there is no retry.
	ErrDeclined = errors.New("payment declined by processor")

	// ErrProcessor wraps transient processor failures (timeouts, 5xx).
	// Interactive callers surface it for an explicit user retry; the
	// expiry sweeper retries on its next pass.
	ErrProcessor = errors.New("payment processor error")
)
