package escrow

import "errors"

// Service errors
var (
	// Validation
	ErrSelfPurchase  = errors.New("cannot buy your own coupon")
	ErrMissingReason = errors.New("dispute reason is required")

	// Resource conflicts
	ErrCouponUnavailable = errors.New("coupon is not available")
	ErrCouponExpired     = errors.New("coupon has expired")
	ErrCouponNotApproved = errors.New("coupon is not approved for sale")

	// State conflicts
	ErrInvalidState = errors.New("transaction is not in the expected state")
	// ErrAlreadyFinalized is the benign outcome of losing the race against
	// another finalizer; callers surface it as success.
	ErrAlreadyFinalized = errors.New("transaction already finalized")

	// Authorization
	ErrNotBuyer      = errors.New("only the buyer may perform this action")
	ErrNotAuthorized = errors.New("not authorized to view this transaction")
)
