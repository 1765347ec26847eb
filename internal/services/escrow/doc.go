/*
Package escrow implements the purchase lifecycle for resold coupons.

State machine:

	pending --(processor authorizes)--> holding
	pending --(processor declines)----> failed     [terminal]
	holding --(buyer confirms)--------> completed  [terminal]
	holding --(sweeper fires)---------> completed  [terminal]
	holding --(buyer disputes)--------> refunded   [terminal]

Every transition is an atomic conditional update on the stored
payment_status, so a buyer action racing the expiry sweeper resolves to
exactly one winner; the loser observes "already finalized", which the HTTP
layer reports as success.

The transient processing state marks a transition in flight while the
payment processor call runs. No database lock is held across that call: the
row is claimed (holding -> processing), the processor is invoked, and the
claim either advances to a terminal state or reverts to holding for retry.
A crash between a successful processor call and the terminal commit is
repaired by the processor's own capture and refund events: Stripe delivers
them at least once, and ReconcileCapture and ReconcileRefund replay the
terminal commit for any row still stuck in processing.

Usage:

	svc := escrow.NewService(txRepo, couponRepo, gateway, trustLedger, notifier, escrow.Config{
	    HoldDuration: 10 * time.Minute,
	})

	res, err := svc.Initiate(ctx, couponID, buyerID)
	// ... processor webhook drives HandleAuthorizationResult ...
	confirmed, err := svc.Confirm(ctx, res.TransactionID, buyerID)

The expiry sweeper guarantees no transaction outlives its holding window:

	sweeper := escrow.NewSweeper(svc, txRepo, 5*time.Second)
	go sweeper.Run(ctx)
*/
package escrow
