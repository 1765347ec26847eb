package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"couponbay/internal/models"
	"couponbay/internal/repositories"
	"couponbay/internal/services/notification"
	"couponbay/internal/services/payment"
)

type Service struct {
	txRepo     repositories.TransactionRepository
	couponRepo repositories.CouponRepository
	gateway    payment.Gateway
	trust      TrustLedger
	notifier   notification.Publisher
	config     Config
	now        func() time.Time
}

// NewService creates a new escrow service. The trust ledger and notifier
// react to terminal transitions; the notifier is optional.
func NewService(
	txRepo repositories.TransactionRepository,
	couponRepo repositories.CouponRepository,
	gateway payment.Gateway,
	trust TrustLedger,
	notifier notification.Publisher,
	config Config,
) *Service {
	if txRepo == nil {
		panic("transaction repo is required")
	}
	if couponRepo == nil {
		panic("coupon repo is required")
	}
	if gateway == nil {
		panic("payment gateway is required")
	}
	if trust == nil {
		panic("trust ledger is required")
	}
	if notifier == nil {
		notifier = notification.NoopPublisher{}
	}
	if config.HoldDuration <= 0 {
		config.HoldDuration = DefaultHoldDuration
	}
	if config.Currency == "" {
		config.Currency = "inr"
	}

	return &Service{
		txRepo:     txRepo,
		couponRepo: couponRepo,
		gateway:    gateway,
		trust:      trust,
		notifier:   notifier,
		config:     config,
		now:        time.Now,
	}
}

// Initiate starts a purchase: it validates the coupon, reserves it for this
// transaction, snapshots the price and requests payment authorization. The
// transaction stays pending until the processor callback arrives.
func (s *Service) Initiate(ctx context.Context, couponID, buyerID uint) (*InitiateResult, error) {
	coupon, err := s.couponRepo.GetByID(ctx, couponID)
	if err != nil {
		if errors.Is(err, repositories.ErrCouponNotFound) {
			return nil, ErrCouponUnavailable
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}

	if coupon.SellerID == buyerID {
		return nil, ErrSelfPurchase
	}
	if coupon.Status != models.CouponStatusApproved {
		return nil, ErrCouponNotApproved
	}
	if coupon.ExpiryDate != nil && !coupon.ExpiryDate.After(s.now()) {
		return nil, ErrCouponExpired
	}
	if coupon.IsSold || coupon.ReservedTxnID != nil {
		return nil, ErrCouponUnavailable
	}

	tx := &models.Transaction{
		ID:            uuid.NewString(),
		CouponID:      coupon.ID,
		BuyerID:       buyerID,
		SellerID:      coupon.SellerID,
		Amount:        coupon.Price, // snapshot, never re-read
		Currency:      s.config.Currency,
		PaymentStatus: models.StatusPending,
	}

	// The conditional reservation closes the double-sell window: of two
	// concurrent initiations, exactly one flips reserved_txn_id.
	reserved, err := s.couponRepo.Reserve(ctx, coupon.ID, tx.ID)
	if err != nil {
		return nil, fmt.Errorf("reserve coupon: %w", err)
	}
	if !reserved {
		return nil, ErrCouponUnavailable
	}

	if err := s.txRepo.Create(ctx, tx); err != nil {
		if relErr := s.couponRepo.Release(ctx, coupon.ID, tx.ID); relErr != nil {
			log.Error().Err(relErr).Str("transaction_id", tx.ID).Msg("failed to release reservation after create failure")
		}
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	// The processor round-trip happens with no lock held; the reservation
	// above is the only thing keeping other buyers out.
	auth, err := s.gateway.Authorize(ctx, tx.Amount, tx.Currency, map[string]string{
		"transaction_id": tx.ID,
		"coupon_id":      fmt.Sprint(coupon.ID),
	})
	if err != nil {
		s.failPending(ctx, tx, "")
		return nil, fmt.Errorf("authorize payment: %w", err)
	}

	// Best effort: the webhook also carries the reference and will store it
	// if this update loses the race with the callback.
	if _, err := s.txRepo.TransitionStatus(ctx, tx.ID, models.StatusPending, models.StatusPending,
		map[string]interface{}{"payment_reference": auth.Reference}); err != nil {
		log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("failed to store payment reference")
	}

	return &InitiateResult{
		TransactionID: tx.ID,
		Amount:        tx.Amount,
		ClientSecret:  auth.ClientSecret,
		Reference:     auth.Reference,
	}, nil
}

// HandleAuthorizationResult applies an authorization outcome delivered by
// the processor. Delivery is at-least-once, so the transition is a no-op
// when the transaction already left pending.
func (s *Service) HandleAuthorizationResult(ctx context.Context, transactionID, reference string, authorized bool) error {
	tx, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repositories.ErrTransactionNotFound) {
			// Not one of ours; acknowledge so the processor stops
			// redelivering.
			log.Debug().Str("transaction_id", transactionID).Msg("authorization callback for unknown transaction")
			return nil
		}
		return fmt.Errorf("get transaction: %w", err)
	}

	if !authorized {
		s.failPending(ctx, tx, reference)
		return nil
	}

	expiresAt := s.now().Add(s.config.HoldDuration)
	updates := map[string]interface{}{"expires_at": expiresAt}
	if reference != "" {
		updates["payment_reference"] = reference
	}

	ok, err := s.txRepo.TransitionStatus(ctx, transactionID, models.StatusPending, models.StatusHolding, updates)
	if err != nil {
		return fmt.Errorf("transition to holding: %w", err)
	}
	if !ok {
		// Redelivered callback for a transaction already holding or
		// terminal; at-most-once effect.
		log.Debug().Str("transaction_id", transactionID).Msg("authorization callback ignored, transaction already advanced")
		return nil
	}

	log.Info().Str("transaction_id", transactionID).Time("expires_at", expiresAt).Msg("payment authorized, holding window open")
	return nil
}

// Confirm finalizes a purchase on the buyer's say-so: funds are captured to
// the seller and the coupon code is revealed. Racing the expiry sweeper is
// expected; the loser gets ErrAlreadyFinalized, which handlers surface as
// success.
func (s *Service) Confirm(ctx context.Context, transactionID string, actorID uint) (*ConfirmResult, error) {
	tx, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if tx.BuyerID != actorID {
		return nil, ErrNotBuyer
	}

	if err := s.claimHolding(ctx, tx); err != nil {
		return nil, err
	}

	if err := s.gateway.Capture(ctx, tx.PaymentReference); err != nil {
		s.releaseClaim(ctx, tx.ID)
		return nil, fmt.Errorf("capture payment: %w", err)
	}

	return s.finalizeCompleted(ctx, tx)
}

// AutoConfirm is invoked by the expiry sweeper once the holding window has
// elapsed. It is the same transition as Confirm without a buyer actor;
// losing to a manual confirm or dispute is a success.
func (s *Service) AutoConfirm(ctx context.Context, transactionID string) error {
	tx, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}

	if err := s.claimHolding(ctx, tx); err != nil {
		if errors.Is(err, ErrAlreadyFinalized) {
			return nil
		}
		return err
	}

	if err := s.gateway.Capture(ctx, tx.PaymentReference); err != nil {
		// Transient processor failure: put the row back so the next sweep
		// retries. The transaction is never marked terminal on this path.
		s.releaseClaim(ctx, tx.ID)
		return fmt.Errorf("capture payment: %w", err)
	}

	if _, err := s.finalizeCompleted(ctx, tx); err != nil {
		return err
	}
	log.Info().Str("transaction_id", transactionID).Msg("holding window elapsed, auto-confirmed")
	return nil
}

// Dispute grants the buyer a refund for a non-working coupon. The reason is
// mandatory; every dispute with a reason is granted, and the seller takes a
// trust penalty.
func (s *Service) Dispute(ctx context.Context, transactionID string, actorID uint, reason string) (*models.Transaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrMissingReason
	}

	tx, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if tx.BuyerID != actorID {
		return nil, ErrNotBuyer
	}

	if err := s.claimHolding(ctx, tx); err != nil {
		return nil, err
	}

	if err := s.gateway.Refund(ctx, tx.PaymentReference); err != nil {
		s.releaseClaim(ctx, tx.ID)
		return nil, fmt.Errorf("refund payment: %w", err)
	}

	if err := s.finalizeRefunded(ctx, tx, reason); err != nil {
		return nil, err
	}
	return tx, nil
}

// ReconcileCapture applies a processor capture confirmation. It finishes a
// transaction whose capture succeeded at the processor but whose local
// commit was lost, either to a crash before the terminal write or to a
// capture call that timed out locally after succeeding remotely. Events
// arrive at least once; anything already terminal is acknowledged as is.
func (s *Service) ReconcileCapture(ctx context.Context, transactionID string) error {
	tx, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repositories.ErrTransactionNotFound) {
			log.Debug().Str("transaction_id", transactionID).Msg("capture event for unknown transaction")
			return nil
		}
		return fmt.Errorf("get transaction: %w", err)
	}

	switch tx.Status() {
	case models.StatusProcessing:
	case models.StatusHolding:
		// A capture that timed out locally released the claim; the funds
		// moved anyway, so re-claim and finish.
		if err := s.claimHolding(ctx, tx); err != nil {
			if errors.Is(err, ErrAlreadyFinalized) {
				return nil
			}
			return err
		}
	default:
		return nil
	}

	if _, err := s.finalizeCompleted(ctx, tx); err != nil {
		return err
	}
	log.Info().Str("transaction_id", tx.ID).Msg("capture confirmation reconciled")
	return nil
}

// ReconcileRefund applies a processor cancellation or refund outcome. A
// canceled or refunded payment can never complete, so the transaction ends
// refunded (or failed, when the authorization never reached holding).
func (s *Service) ReconcileRefund(ctx context.Context, transactionID string) error {
	tx, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repositories.ErrTransactionNotFound) {
			log.Debug().Str("transaction_id", transactionID).Msg("refund event for unknown transaction")
			return nil
		}
		return fmt.Errorf("get transaction: %w", err)
	}
	return s.reconcileRefund(ctx, tx)
}

// ReconcileRefundByReference is ReconcileRefund keyed by the processor
// reference, for refund events that carry no transaction metadata.
func (s *Service) ReconcileRefundByReference(ctx context.Context, reference string) error {
	tx, err := s.txRepo.GetByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, repositories.ErrTransactionNotFound) {
			log.Debug().Str("reference", reference).Msg("refund event for unknown payment reference")
			return nil
		}
		return fmt.Errorf("get transaction: %w", err)
	}
	return s.reconcileRefund(ctx, tx)
}

func (s *Service) reconcileRefund(ctx context.Context, tx *models.Transaction) error {
	switch tx.Status() {
	case models.StatusProcessing:
		return s.finalizeRefunded(ctx, tx, tx.DisputeReason)
	case models.StatusHolding:
		// A refund that timed out locally released the claim; the money
		// went back regardless, so re-claim and commit the refund.
		if err := s.claimHolding(ctx, tx); err != nil {
			if errors.Is(err, ErrAlreadyFinalized) {
				return nil
			}
			return err
		}
		return s.finalizeRefunded(ctx, tx, tx.DisputeReason)
	case models.StatusPending:
		s.failPending(ctx, tx, "")
		return nil
	default:
		return nil
	}
}

// GetTransaction returns a transaction visible to the actor: buyer, seller
// or admin.
func (s *Service) GetTransaction(ctx context.Context, transactionID string, actorID uint, isAdmin bool) (*models.Transaction, error) {
	tx, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && tx.BuyerID != actorID && tx.SellerID != actorID {
		return nil, ErrNotAuthorized
	}
	return tx, nil
}

// ListUserTransactions returns the actor's purchases and sales, newest
// first.
func (s *Service) ListUserTransactions(ctx context.Context, userID uint, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.txRepo.ListByUser(ctx, userID, limit, offset)
}

// claimHolding performs the atomic compare-and-set that decides every
// confirm/dispute/auto-confirm race: first writer moves holding to
// processing, everyone else loses.
func (s *Service) claimHolding(ctx context.Context, tx *models.Transaction) error {
	ok, err := s.txRepo.TransitionStatus(ctx, tx.ID, models.StatusHolding, models.StatusProcessing, nil)
	if err != nil {
		return fmt.Errorf("claim transaction: %w", err)
	}
	if ok {
		return nil
	}

	current, err := s.txRepo.GetByID(ctx, tx.ID)
	if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}
	if current.Status().IsTerminal() {
		return ErrAlreadyFinalized
	}
	return ErrInvalidState
}

// releaseClaim reverts a processing claim after a transient processor
// failure so the transaction can be retried.
func (s *Service) releaseClaim(ctx context.Context, transactionID string) {
	if _, err := s.txRepo.TransitionStatus(ctx, transactionID, models.StatusProcessing, models.StatusHolding, nil); err != nil {
		log.Error().Err(err).Str("transaction_id", transactionID).Msg("failed to release processing claim")
	}
}

// finalizeCompleted commits the completed state and its side effects: the
// coupon is marked sold, the seller's sale counter increments, both parties
// are notified and the coupon code is revealed to the buyer. The side
// effects run only for the writer that wins the terminal compare-and-set,
// so a buyer confirm racing the processor's capture event applies them
// exactly once. Side-effect failures are logged only; the terminal write is
// never rolled back.
func (s *Service) finalizeCompleted(ctx context.Context, tx *models.Transaction) (*ConfirmResult, error) {
	ok, err := s.txRepo.TransitionStatus(ctx, tx.ID, models.StatusProcessing, models.StatusCompleted, nil)
	if err != nil {
		return nil, fmt.Errorf("finalize transaction: %w", err)
	}
	tx.PaymentStatus = models.StatusCompleted

	if ok {
		if err := s.couponRepo.MarkSold(ctx, tx.CouponID, tx.ID); err != nil {
			log.Error().Err(err).Str("transaction_id", tx.ID).Msg("failed to mark coupon sold")
		}

		if err := s.trust.RecordSale(ctx, tx.SellerID); err != nil {
			log.Error().Err(err).Uint("seller_id", tx.SellerID).Msg("failed to record sale")
		}

		s.publish(ctx, tx.BuyerID, notification.EventPurchaseCompleted, models.JSON{
			"transaction_id": tx.ID, "coupon_id": tx.CouponID,
		})
		s.publish(ctx, tx.SellerID, notification.EventSaleCompleted, models.JSON{
			"transaction_id": tx.ID, "amount": tx.Amount,
		})
	}

	// The code reveal happens even for the losing writer; the buyer asked
	// for it and the purchase is completed either way.
	result := &ConfirmResult{TransactionID: tx.ID}
	coupon, err := s.couponRepo.GetByID(ctx, tx.CouponID)
	if err != nil {
		log.Error().Err(err).Str("transaction_id", tx.ID).Msg("failed to load coupon for code reveal")
	} else {
		result.CouponCode = coupon.Code
	}

	return result, nil
}

// finalizeRefunded commits the refunded state and its side effects: the
// coupon returns to the market, the seller takes the trust penalty and both
// parties are notified. Like finalizeCompleted, the side effects belong to
// the writer that wins the terminal compare-and-set. An error on the
// terminal write leaves the row in processing until the processor's refund
// event replays this commit.
func (s *Service) finalizeRefunded(ctx context.Context, tx *models.Transaction, reason string) error {
	updates := map[string]interface{}{}
	if reason != "" {
		updates["dispute_reason"] = reason
	}
	ok, err := s.txRepo.TransitionStatus(ctx, tx.ID, models.StatusProcessing, models.StatusRefunded, updates)
	if err != nil {
		return fmt.Errorf("finalize refund: %w", err)
	}
	tx.PaymentStatus = models.StatusRefunded
	if reason != "" {
		tx.DisputeReason = reason
	}
	if !ok {
		return nil
	}

	if err := s.couponRepo.Release(ctx, tx.CouponID, tx.ID); err != nil {
		log.Error().Err(err).Str("transaction_id", tx.ID).Msg("failed to release coupon after refund")
	}

	if err := s.trust.RecordDisputeOutcome(ctx, tx.SellerID); err != nil {
		log.Error().Err(err).Uint("seller_id", tx.SellerID).Msg("failed to apply trust penalty")
	}

	s.publish(ctx, tx.BuyerID, notification.EventPurchaseRefunded, models.JSON{
		"transaction_id": tx.ID, "reason": tx.DisputeReason,
	})
	s.publish(ctx, tx.SellerID, notification.EventDisputeFiled, models.JSON{
		"transaction_id": tx.ID, "reason": tx.DisputeReason,
	})

	return nil
}

// failPending marks a pending transaction failed and releases the coupon.
// Safe under redelivery: only the writer that wins the transition releases.
func (s *Service) failPending(ctx context.Context, tx *models.Transaction, reference string) {
	updates := map[string]interface{}{}
	if reference != "" {
		updates["payment_reference"] = reference
	}
	ok, err := s.txRepo.TransitionStatus(ctx, tx.ID, models.StatusPending, models.StatusFailed, updates)
	if err != nil {
		log.Error().Err(err).Str("transaction_id", tx.ID).Msg("failed to mark transaction failed")
		return
	}
	if !ok {
		return
	}

	if err := s.couponRepo.Release(ctx, tx.CouponID, tx.ID); err != nil {
		log.Error().Err(err).Str("transaction_id", tx.ID).Msg("failed to release coupon after failed authorization")
	}

	s.publish(ctx, tx.BuyerID, notification.EventPurchaseFailed, models.JSON{
		"transaction_id": tx.ID, "coupon_id": tx.CouponID,
	})
}

func (s *Service) publish(ctx context.Context, userID uint, eventType string, payload models.JSON) {
	if err := s.notifier.Publish(ctx, notification.Event{
		UserID:  userID,
		Type:    eventType,
		Payload: payload,
	}); err != nil {
		log.Warn().Err(err).Str("type", eventType).Msg("failed to publish notification")
	}
}
