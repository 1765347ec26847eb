package escrow

import (
	"context"
	"testing"
	"time"

	"couponbay/internal/models"
	"couponbay/internal/repositories"
	"couponbay/internal/services/notification"
	"couponbay/internal/services/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTxRepo struct {
	mock.Mock
}

func (m *MockTxRepo) Create(ctx context.Context, tx *models.Transaction) error {
	return m.Called(ctx, tx).Error(0)
}

func (m *MockTxRepo) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTxRepo) GetByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTxRepo) ListByUser(ctx context.Context, userID uint, limit, offset int) ([]models.Transaction, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Transaction), args.Error(1)
}

func (m *MockTxRepo) ListExpiredHolding(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Transaction), args.Error(1)
}

func (m *MockTxRepo) TransitionStatus(ctx context.Context, id string, from, to models.PaymentStatus, updates map[string]interface{}) (bool, error) {
	args := m.Called(ctx, id, from, to, updates)
	return args.Bool(0), args.Error(1)
}

type MockCouponRepo struct {
	mock.Mock
}

func (m *MockCouponRepo) GetByID(ctx context.Context, id uint) (*models.Coupon, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Coupon), args.Error(1)
}

func (m *MockCouponRepo) Reserve(ctx context.Context, couponID uint, transactionID string) (bool, error) {
	args := m.Called(ctx, couponID, transactionID)
	return args.Bool(0), args.Error(1)
}

func (m *MockCouponRepo) Release(ctx context.Context, couponID uint, transactionID string) error {
	return m.Called(ctx, couponID, transactionID).Error(0)
}

func (m *MockCouponRepo) MarkSold(ctx context.Context, couponID uint, transactionID string) error {
	return m.Called(ctx, couponID, transactionID).Error(0)
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Authorize(ctx context.Context, amount float64, currency string, metadata map[string]string) (*payment.Authorization, error) {
	args := m.Called(ctx, amount, currency, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Authorization), args.Error(1)
}

func (m *MockGateway) Capture(ctx context.Context, reference string) error {
	return m.Called(ctx, reference).Error(0)
}

func (m *MockGateway) Refund(ctx context.Context, reference string) error {
	return m.Called(ctx, reference).Error(0)
}

type MockTrustLedger struct {
	mock.Mock
}

func (m *MockTrustLedger) RecordDisputeOutcome(ctx context.Context, sellerID uint) error {
	return m.Called(ctx, sellerID).Error(0)
}

func (m *MockTrustLedger) RecordSale(ctx context.Context, sellerID uint) error {
	return m.Called(ctx, sellerID).Error(0)
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(txRepo *MockTxRepo, couponRepo *MockCouponRepo, gateway *MockGateway, trust *MockTrustLedger) *Service {
	svc := NewService(txRepo, couponRepo, gateway, trust, notification.NoopPublisher{}, Config{
		HoldDuration: 10 * time.Minute,
		Currency:     "inr",
	})
	svc.now = func() time.Time { return testNow }
	return svc
}

func approvedCoupon() *models.Coupon {
	expiry := testNow.Add(24 * time.Hour)
	c := &models.Coupon{
		SellerID:   2,
		Title:      "50% off electronics",
		Code:       "SAVE50",
		Price:      299.0,
		Status:     models.CouponStatusApproved,
		ExpiryDate: &expiry,
	}
	c.ID = 10
	return c
}

func holdingTx() *models.Transaction {
	expires := testNow.Add(5 * time.Minute)
	return &models.Transaction{
		ID:               "txn-1",
		CouponID:         10,
		BuyerID:          1,
		SellerID:         2,
		Amount:           299.0,
		Currency:         "inr",
		PaymentStatus:    models.StatusHolding,
		PaymentReference: "pi_123",
		ExpiresAt:        &expires,
	}
}

func TestService_Initiate(t *testing.T) {
	tests := []struct {
		name    string
		buyerID uint
		coupon  func() *models.Coupon
		wantErr error
	}{
		{
			name:    "self purchase rejected",
			buyerID: 2,
			coupon:  approvedCoupon,
			wantErr: ErrSelfPurchase,
		},
		{
			name:    "unapproved coupon rejected",
			buyerID: 1,
			coupon: func() *models.Coupon {
				c := approvedCoupon()
				c.Status = models.CouponStatusPending
				return c
			},
			wantErr: ErrCouponNotApproved,
		},
		{
			name:    "expired coupon rejected",
			buyerID: 1,
			coupon: func() *models.Coupon {
				c := approvedCoupon()
				past := testNow.Add(-time.Hour)
				c.ExpiryDate = &past
				return c
			},
			wantErr: ErrCouponExpired,
		},
		{
			name:    "sold coupon rejected",
			buyerID: 1,
			coupon: func() *models.Coupon {
				c := approvedCoupon()
				c.IsSold = true
				return c
			},
			wantErr: ErrCouponUnavailable,
		},
		{
			name:    "reserved coupon rejected",
			buyerID: 1,
			coupon: func() *models.Coupon {
				c := approvedCoupon()
				txn := "txn-other"
				c.ReservedTxnID = &txn
				return c
			},
			wantErr: ErrCouponUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txRepo := new(MockTxRepo)
			couponRepo := new(MockCouponRepo)
			gateway := new(MockGateway)
			trust := new(MockTrustLedger)
			svc := newTestService(txRepo, couponRepo, gateway, trust)

			couponRepo.On("GetByID", mock.Anything, uint(10)).Return(tt.coupon(), nil)

			result, err := svc.Initiate(context.Background(), 10, tt.buyerID)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, result)

			// No reservation, transaction or processor call on a failed
			// precondition.
			couponRepo.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything, mock.Anything)
			txRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
			gateway.AssertNotCalled(t, "Authorize", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}

	t.Run("missing coupon reads as unavailable", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		couponRepo := new(MockCouponRepo)
		gateway := new(MockGateway)
		trust := new(MockTrustLedger)
		svc := newTestService(txRepo, couponRepo, gateway, trust)

		couponRepo.On("GetByID", mock.Anything, uint(10)).Return(nil, repositories.ErrCouponNotFound)

		_, err := svc.Initiate(context.Background(), 10, 1)
		assert.ErrorIs(t, err, ErrCouponUnavailable)
	})

	t.Run("successful initiation snapshots price and reserves", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		couponRepo := new(MockCouponRepo)
		gateway := new(MockGateway)
		trust := new(MockTrustLedger)
		svc := newTestService(txRepo, couponRepo, gateway, trust)

		couponRepo.On("GetByID", mock.Anything, uint(10)).Return(approvedCoupon(), nil)
		couponRepo.On("Reserve", mock.Anything, uint(10), mock.AnythingOfType("string")).Return(true, nil)

		var created *models.Transaction
		txRepo.On("Create", mock.Anything, mock.AnythingOfType("*models.Transaction")).
			Run(func(args mock.Arguments) {
				created = args.Get(1).(*models.Transaction)
			}).Return(nil)

		gateway.On("Authorize", mock.Anything, 299.0, "inr", mock.Anything).
			Return(&payment.Authorization{Reference: "pi_123", ClientSecret: "pi_123_secret"}, nil)

		txRepo.On("TransitionStatus", mock.Anything, mock.AnythingOfType("string"),
			models.StatusPending, models.StatusPending, mock.Anything).Return(true, nil)

		result, err := svc.Initiate(context.Background(), 10, 1)
		require.NoError(t, err)
		require.NotNil(t, created)

		assert.Equal(t, created.ID, result.TransactionID)
		assert.Equal(t, 299.0, result.Amount)
		assert.Equal(t, "pi_123_secret", result.ClientSecret)
		assert.Equal(t, models.StatusPending, created.PaymentStatus)
		assert.Equal(t, uint(1), created.BuyerID)
		assert.Equal(t, uint(2), created.SellerID)

		couponRepo.AssertExpectations(t)
		txRepo.AssertExpectations(t)
		gateway.AssertExpectations(t)
	})

	t.Run("lost reservation race reads as unavailable", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		couponRepo := new(MockCouponRepo)
		gateway := new(MockGateway)
		trust := new(MockTrustLedger)
		svc := newTestService(txRepo, couponRepo, gateway, trust)

		couponRepo.On("GetByID", mock.Anything, uint(10)).Return(approvedCoupon(), nil)
		couponRepo.On("Reserve", mock.Anything, uint(10), mock.AnythingOfType("string")).Return(false, nil)

		_, err := svc.Initiate(context.Background(), 10, 1)
		assert.ErrorIs(t, err, ErrCouponUnavailable)
		txRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("authorization failure fails the transaction and releases the coupon", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		couponRepo := new(MockCouponRepo)
		gateway := new(MockGateway)
		trust := new(MockTrustLedger)
		svc := newTestService(txRepo, couponRepo, gateway, trust)

		couponRepo.On("GetByID", mock.Anything, uint(10)).Return(approvedCoupon(), nil)
		couponRepo.On("Reserve", mock.Anything, uint(10), mock.AnythingOfType("string")).Return(true, nil)
		txRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
		gateway.On("Authorize", mock.Anything, 299.0, "inr", mock.Anything).
			Return(nil, payment.ErrDeclined)

		txRepo.On("TransitionStatus", mock.Anything, mock.AnythingOfType("string"),
			models.StatusPending, models.StatusFailed, mock.Anything).Return(true, nil)
		couponRepo.On("Release", mock.Anything, uint(10), mock.AnythingOfType("string")).Return(nil)

		_, err := svc.Initiate(context.Background(), 10, 1)
		assert.ErrorIs(t, err, payment.ErrDeclined)

		txRepo.AssertExpectations(t)
		couponRepo.AssertExpectations(t)
	})
}

func TestService_HandleAuthorizationResult(t *testing.T) {
	t.Run("authorized opens the holding window", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		svc := newTestService(txRepo, new(MockCouponRepo), new(MockGateway), new(MockTrustLedger))

		pending := holdingTx()
		pending.PaymentStatus = models.StatusPending
		txRepo.On("GetByID", mock.Anything, "txn-1").Return(pending, nil)

		txRepo.On("TransitionStatus", mock.Anything, "txn-1",
			models.StatusPending, models.StatusHolding,
			mock.MatchedBy(func(updates map[string]interface{}) bool {
				expires, ok := updates["expires_at"].(time.Time)
				return ok && expires.Equal(testNow.Add(10*time.Minute)) &&
					updates["payment_reference"] == "pi_123"
			})).Return(true, nil)

		err := svc.HandleAuthorizationResult(context.Background(), "txn-1", "pi_123", true)
		assert.NoError(t, err)
		txRepo.AssertExpectations(t)
	})

	t.Run("redelivered callback is a no-op", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		svc := newTestService(txRepo, new(MockCouponRepo), new(MockGateway), new(MockTrustLedger))

		txRepo.On("GetByID", mock.Anything, "txn-1").Return(holdingTx(), nil)
		txRepo.On("TransitionStatus", mock.Anything, "txn-1",
			models.StatusPending, models.StatusHolding, mock.Anything).Return(false, nil)

		err := svc.HandleAuthorizationResult(context.Background(), "txn-1", "pi_123", true)
		assert.NoError(t, err)
	})

	t.Run("unknown transaction is acknowledged", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		svc := newTestService(txRepo, new(MockCouponRepo), new(MockGateway), new(MockTrustLedger))

		txRepo.On("GetByID", mock.Anything, "txn-missing").Return(nil, repositories.ErrTransactionNotFound)

		// An error here would make the processor redeliver forever.
		err := svc.HandleAuthorizationResult(context.Background(), "txn-missing", "pi_123", true)
		assert.NoError(t, err)
		txRepo.AssertNotCalled(t, "TransitionStatus",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("declined authorization fails the transaction", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		couponRepo := new(MockCouponRepo)
		svc := newTestService(txRepo, couponRepo, new(MockGateway), new(MockTrustLedger))

		pending := holdingTx()
		pending.PaymentStatus = models.StatusPending
		txRepo.On("GetByID", mock.Anything, "txn-1").Return(pending, nil)
		txRepo.On("TransitionStatus", mock.Anything, "txn-1",
			models.StatusPending, models.StatusFailed, mock.Anything).Return(true, nil)
		couponRepo.On("Release", mock.Anything, uint(10), "txn-1").Return(nil)

		err := svc.HandleAuthorizationResult(context.Background(), "txn-1", "pi_123", false)
		assert.NoError(t, err)
		couponRepo.AssertExpectations(t)
	})
}

func TestService_Confirm(t *testing.T) {
	t.Run("successful confirm captures and reveals the code", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		couponRepo := new(MockCouponRepo)
		gateway := new(MockGateway)
		trust := new(MockTrustLedger)
		svc := newTestService(txRepo, couponRepo, gateway, trust)

		txRepo.On("GetByID", mock.Anything, "txn-1").Return(holdingTx(), nil)
		txRepo.On("TransitionStatus", mock.Anything, "txn-1",
			models.StatusHolding, models.StatusProcessing, mock.Anything).Return(true, nil)
		gateway.On("Capture", mock.Anything, "pi_123").Return(nil)
		txRepo.On("TransitionStatus", mock.Anything, "txn-1",
			models.StatusProcessing, models.StatusCompleted, mock.Anything).Return(true, nil)
		couponRepo.On("MarkSold", mock.Anything, uint(10), "txn-1").Return(nil)
		trust.On("RecordSale", mock.Anything, uint(2)).Return(nil)

		sold := approvedCoupon()
		sold.IsSold = true
		couponRepo.On("GetByID", mock.Anything, uint(10)).Return(sold, nil)

		result, err := svc.Confirm(context.Background(), "txn-1", 1)
		require.NoError(t, err)
		assert.Equal(t, "txn-1", result.TransactionID)
		assert.Equal(t, "SAVE50", result.CouponCode)

		txRepo.AssertExpectations(t)
		gateway.AssertExpectations(t)
		trust.AssertExpectations(t)
	})

	t.Run("only the buyer may confirm", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		svc := newTestService(txRepo, new(MockCouponRepo), new(MockGateway), new(MockTrustLedger))

		txRepo.On("GetByID", mock.Anything, "txn-1").Return(holdingTx(), nil)

		_, err := svc.Confirm(context.Background(), "txn-1", 2)
		assert.ErrorIs(t, err, ErrNotBuyer)
	})

	t.Run("losing the race to the sweeper is benign", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		svc := newTestService(txRepo, new(MockCouponRepo), new(MockGateway), new(MockTrustLedger))

		tx := holdingTx()
		completed := holdingTx()
		completed.PaymentStatus = models.StatusCompleted

		txRepo.On("GetByID", mock.Anything, "txn-1").Return(tx, nil).Once()
		txRepo.On("TransitionStatus", mock.Anything, "txn-1",
			models.StatusHolding, models.StatusProcessing, mock.Anything).Return(false, nil)
		txRepo.On("GetByID", mock.Anything, "txn-1").Return(completed, nil).Once()

		_, err := svc.Confirm(context.Background(), "txn-1", 1)
		assert.ErrorIs(t, err, ErrAlreadyFinalized)
	})

	t.Run("claim on a pending transaction is an invalid state", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		svc := newTestService(txRepo, new(MockCouponRepo), new(MockGateway), new(MockTrustLedger))

		pending := holdingTx()
		pending.PaymentStatus = models.StatusPending

		txRepo.On("GetByID", mock.Anything, "txn-1").Return(pending, nil)
		txRepo.On("TransitionStatus", mock.Anything, "txn-1",
			models.StatusHolding, models.StatusProcessing, mock.Anything).Return(false, nil)

		_, err := svc.Confirm(context.Background(), "txn-1", 1)
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("losing the terminal commit skips side effects but reveals the code", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		couponRepo := new(MockCouponRepo)
		gateway := new(MockGateway)
		trust := new(MockTrustLedger)
		svc := newTestService(txRepo, couponRepo, gateway, trust)

		txRepo.On("GetByID", mock.Anything, "txn-1").Return(holdingTx(), nil)
		txRepo.On("TransitionStatus", mock.Anything, "txn-1",
			models.StatusHolding, models.StatusProcessing, mock.Anything).Return(true, nil)
		gateway.On("Capture", mock.Anything, "pi_123").Return(nil)
		// The processor's capture event committed the terminal state first.
		txRepo.On("TransitionStatus", mock.Anything, "txn-1",
			models.StatusProcessing, models.StatusCompleted, mock.Anything).Return(false, nil)

		sold := approvedCoupon()
		sold.IsSold = true
		couponRepo.On("GetByID", mock.Anything, uint(10)).Return(sold, nil)

		result, err := svc.Confirm(context.Background(), "txn-1", 1)
		require.NoError(t, err)
		assert.Equal(t, "SAVE50", result.CouponCode)

		// The winning writer already applied these.
		couponRepo.AssertNotCalled(t, "MarkSold", mock.Anything, mock.Anything, mock.Anything)
		trust.AssertNotCalled(t, "RecordSale", mock.Anything, mock.Anything)
	})

	t.Run("capture failure releases the claim for retry", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		gateway := new(MockGateway)
		svc := newTestService(txRepo, new(MockCouponRepo), gateway, new(MockTrustLedger))

		txRepo.On("GetByID", mock.Anything, "txn-1").Return(holdingTx(), nil)
		txRepo.On("TransitionStatus", mock.Anything, "txn-1",
			models.StatusHolding, models.StatusProcessing, mock.Anything).Return(true, nil)
		gateway.On("Capture", mock.Anything, "pi_123").Return(payment.ErrProcessor)
		txRepo.On("TransitionStatus", mock.Anything, "txn-1",
			models.StatusProcessing, models.StatusHolding, mock.Anything).Return(true, nil)

		_, err := svc.Confirm(context.Background(), "txn-1", 1)
		assert.ErrorIs(t, err, payment.ErrProcessor)
		txRepo.AssertExpectations(t)
	})
}

func TestService_AutoConfirm(t *testing.T) {
	t.Run("already finalized is success", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		svc := newTestService(txRepo, new(MockCouponRepo), new(MockGateway), new(MockTrustLedger))

		completed := holdingTx()
		completed.PaymentStatus = models.StatusCompleted

		txRepo.On("GetByID", mock.Anything, "txn-1").Return(holdingTx(), nil).Once()
		txRepo.On("TransitionStatus", mock.Anything, "txn-1",
			models.StatusHolding, models.StatusProcessing, mock.Anything).Return(false, nil)
		txRepo.On("GetByID", mock.Anything, "txn-1").Return(completed, nil).Once()

		err := svc.AutoConfirm(context.Background(), "txn-1")
		assert.NoError(t, err)
	})

	t.Run("transient capture failure leaves the transaction retryable", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		gateway := new(MockGateway)
		svc := newTestService(txRepo, new(MockCouponRepo), gateway, new(MockTrustLedger))

		txRepo.On("GetByID", mock.Anything, "txn-1").Return(holdingTx(), nil)
		txRepo.On("TransitionStatus", mock.Anything, "txn-1",
			models.StatusHolding, models.StatusProcessing, mock.Anything).Return(true, nil)
		gateway.On("Capture", mock.Anything, "pi_123").Return(payment.ErrProcessor)
		txRepo.On("TransitionStatus", mock.Anything, "txn-1",
			models.StatusProcessing, models.StatusHolding, mock.Anything).Return(true, nil)

		err := svc.AutoConfirm(context.Background(), "txn-1")
		assert.ErrorIs(t, err, payment.ErrProcessor)

		// Never marked terminal on a transient failure.
		txRepo.AssertNotCalled(t, "TransitionStatus", mock.Anything, "txn-1",
			models.StatusProcessing, models.StatusCompleted, mock.Anything)
	})
}

func TestService_Dispute(t *testing.T) {
	t.Run("reason is mandatory", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		svc := newTestService(txRepo, new(MockCouponRepo), new(MockGateway), new(MockTrustLedger))

		_, err := svc.Dispute(context.Background(), "txn-1", 1, "   ")
		assert.ErrorIs(t, err, ErrMissingReason)

		// Rejected before any read or write.
		txRepo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	})

	t.Run("only the buyer may dispute", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		svc := newTestService(txRepo, new(MockCouponRepo), new(MockGateway), new(MockTrustLedger))

		txRepo.On("GetByID", mock.Anything, "txn-1").Return(holdingTx(), nil)

		_, err := svc.Dispute(context.Background(), "txn-1", 99, "code does not work")
		assert.ErrorIs(t, err, ErrNotBuyer)
	})

	t.Run("granted dispute refunds, relists and penalizes the seller", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		couponRepo := new(MockCouponRepo)
		gateway := new(MockGateway)
		trust := new(MockTrustLedger)
		svc := newTestService(txRepo, couponRepo, gateway, trust)

		txRepo.On("GetByID", mock.Anything, "txn-1").Return(holdingTx(), nil)
		txRepo.On("TransitionStatus", mock.Anything, "txn-1",
			models.StatusHolding, models.StatusProcessing, mock.Anything).Return(true, nil)
		gateway.On("Refund", mock.Anything, "pi_123").Return(nil)
		txRepo.On("TransitionStatus", mock.Anything, "txn-1",
			models.StatusProcessing, models.StatusRefunded,
			mock.MatchedBy(func(updates map[string]interface{}) bool {
				return updates["dispute_reason"] == "code does not work"
			})).Return(true, nil)
		couponRepo.On("Release", mock.Anything, uint(10), "txn-1").Return(nil)
		trust.On("RecordDisputeOutcome", mock.Anything, uint(2)).Return(nil)

		tx, err := svc.Dispute(context.Background(), "txn-1", 1, "code does not work")
		require.NoError(t, err)
		assert.Equal(t, models.StatusRefunded, tx.PaymentStatus)
		assert.Equal(t, "code does not work", tx.DisputeReason)

		txRepo.AssertExpectations(t)
		gateway.AssertExpectations(t)
		trust.AssertExpectations(t)
	})

	t.Run("refund failure releases the claim", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		gateway := new(MockGateway)
		trust := new(MockTrustLedger)
		svc := newTestService(txRepo, new(MockCouponRepo), gateway, trust)

		txRepo.On("GetByID", mock.Anything, "txn-1").Return(holdingTx(), nil)
		txRepo.On("TransitionStatus", mock.Anything, "txn-1",
			models.StatusHolding, models.StatusProcessing, mock.Anything).Return(true, nil)
		gateway.On("Refund", mock.Anything, "pi_123").Return(payment.ErrProcessor)
		txRepo.On("TransitionStatus", mock.Anything, "txn-1",
			models.StatusProcessing, models.StatusHolding, mock.Anything).Return(true, nil)

		_, err := svc.Dispute(context.Background(), "txn-1", 1, "code does not work")
		assert.ErrorIs(t, err, payment.ErrProcessor)
		trust.AssertNotCalled(t, "RecordDisputeOutcome", mock.Anything, mock.Anything)
	})
}

func TestService_ReconcileCapture(t *testing.T) {
	t.Run("finishes a transaction stranded in processing", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		couponRepo := new(MockCouponRepo)
		trust := new(MockTrustLedger)
		svc := newTestService(txRepo, couponRepo, new(MockGateway), trust)

		// Crash after the capture succeeded, before the terminal commit.
		stranded := holdingTx()
		stranded.PaymentStatus = models.StatusProcessing
		txRepo.On("GetByID", mock.Anything, "txn-1").Return(stranded, nil)
		txRepo.On("TransitionStatus", mock.Anything, "txn-1",
			models.StatusProcessing, models.StatusCompleted, mock.Anything).Return(true, nil)
		couponRepo.On("MarkSold", mock.Anything, uint(10), "txn-1").Return(nil)
		trust.On("RecordSale", mock.Anything, uint(2)).Return(nil)
		couponRepo.On("GetByID", mock.Anything, uint(10)).Return(approvedCoupon(), nil)

		err := svc.ReconcileCapture(context.Background(), "txn-1")
		assert.NoError(t, err)
		txRepo.AssertExpectations(t)
		couponRepo.AssertExpectations(t)
		trust.AssertExpectations(t)
	})

	t.Run("re-claims a holding transaction whose capture timed out locally", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		couponRepo := new(MockCouponRepo)
		trust := new(MockTrustLedger)
		svc := newTestService(txRepo, couponRepo, new(MockGateway), trust)

		txRepo.On("GetByID", mock.Anything, "txn-1").Return(holdingTx(), nil)
		txRepo.On("TransitionStatus", mock.Anything, "txn-1",
			models.StatusHolding, models.StatusProcessing, mock.Anything).Return(true, nil)
		txRepo.On("TransitionStatus", mock.Anything, "txn-1",
			models.StatusProcessing, models.StatusCompleted, mock.Anything).Return(true, nil)
		couponRepo.On("MarkSold", mock.Anything, uint(10), "txn-1").Return(nil)
		trust.On("RecordSale", mock.Anything, uint(2)).Return(nil)
		couponRepo.On("GetByID", mock.Anything, uint(10)).Return(approvedCoupon(), nil)

		err := svc.ReconcileCapture(context.Background(), "txn-1")
		assert.NoError(t, err)
		txRepo.AssertExpectations(t)
	})

	t.Run("already completed is a no-op", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		couponRepo := new(MockCouponRepo)
		trust := new(MockTrustLedger)
		svc := newTestService(txRepo, couponRepo, new(MockGateway), trust)

		completed := holdingTx()
		completed.PaymentStatus = models.StatusCompleted
		txRepo.On("GetByID", mock.Anything, "txn-1").Return(completed, nil)

		err := svc.ReconcileCapture(context.Background(), "txn-1")
		assert.NoError(t, err)
		txRepo.AssertNotCalled(t, "TransitionStatus",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		couponRepo.AssertNotCalled(t, "MarkSold", mock.Anything, mock.Anything, mock.Anything)
		trust.AssertNotCalled(t, "RecordSale", mock.Anything, mock.Anything)
	})

	t.Run("unknown transaction is acknowledged", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		svc := newTestService(txRepo, new(MockCouponRepo), new(MockGateway), new(MockTrustLedger))

		txRepo.On("GetByID", mock.Anything, "txn-missing").Return(nil, repositories.ErrTransactionNotFound)

		err := svc.ReconcileCapture(context.Background(), "txn-missing")
		assert.NoError(t, err)
	})
}

func TestService_ReconcileRefund(t *testing.T) {
	t.Run("finishes a refund stranded in processing", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		couponRepo := new(MockCouponRepo)
		trust := new(MockTrustLedger)
		svc := newTestService(txRepo, couponRepo, new(MockGateway), trust)

		// Crash after the refund succeeded, before the terminal commit.
		stranded := holdingTx()
		stranded.PaymentStatus = models.StatusProcessing
		stranded.DisputeReason = "code does not work"
		txRepo.On("GetByID", mock.Anything, "txn-1").Return(stranded, nil)
		txRepo.On("TransitionStatus", mock.Anything, "txn-1",
			models.StatusProcessing, models.StatusRefunded,
			mock.MatchedBy(func(updates map[string]interface{}) bool {
				return updates["dispute_reason"] == "code does not work"
			})).Return(true, nil)
		couponRepo.On("Release", mock.Anything, uint(10), "txn-1").Return(nil)
		trust.On("RecordDisputeOutcome", mock.Anything, uint(2)).Return(nil)

		err := svc.ReconcileRefund(context.Background(), "txn-1")
		assert.NoError(t, err)
		txRepo.AssertExpectations(t)
		couponRepo.AssertExpectations(t)
		trust.AssertExpectations(t)
	})

	t.Run("canceled authorization fails a pending transaction", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		couponRepo := new(MockCouponRepo)
		svc := newTestService(txRepo, couponRepo, new(MockGateway), new(MockTrustLedger))

		pending := holdingTx()
		pending.PaymentStatus = models.StatusPending
		txRepo.On("GetByID", mock.Anything, "txn-1").Return(pending, nil)
		txRepo.On("TransitionStatus", mock.Anything, "txn-1",
			models.StatusPending, models.StatusFailed, mock.Anything).Return(true, nil)
		couponRepo.On("Release", mock.Anything, uint(10), "txn-1").Return(nil)

		err := svc.ReconcileRefund(context.Background(), "txn-1")
		assert.NoError(t, err)
		txRepo.AssertExpectations(t)
		couponRepo.AssertExpectations(t)
	})

	t.Run("already refunded is a no-op", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		trust := new(MockTrustLedger)
		svc := newTestService(txRepo, new(MockCouponRepo), new(MockGateway), trust)

		refunded := holdingTx()
		refunded.PaymentStatus = models.StatusRefunded
		txRepo.On("GetByID", mock.Anything, "txn-1").Return(refunded, nil)

		err := svc.ReconcileRefund(context.Background(), "txn-1")
		assert.NoError(t, err)
		txRepo.AssertNotCalled(t, "TransitionStatus",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		trust.AssertNotCalled(t, "RecordDisputeOutcome", mock.Anything, mock.Anything)
	})
}

func TestService_ReconcileRefundByReference(t *testing.T) {
	t.Run("resolves the transaction by payment reference", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		couponRepo := new(MockCouponRepo)
		trust := new(MockTrustLedger)
		svc := newTestService(txRepo, couponRepo, new(MockGateway), trust)

		stranded := holdingTx()
		stranded.PaymentStatus = models.StatusProcessing
		txRepo.On("GetByReference", mock.Anything, "pi_123").Return(stranded, nil)
		txRepo.On("TransitionStatus", mock.Anything, "txn-1",
			models.StatusProcessing, models.StatusRefunded, mock.Anything).Return(true, nil)
		couponRepo.On("Release", mock.Anything, uint(10), "txn-1").Return(nil)
		trust.On("RecordDisputeOutcome", mock.Anything, uint(2)).Return(nil)

		err := svc.ReconcileRefundByReference(context.Background(), "pi_123")
		assert.NoError(t, err)
		txRepo.AssertExpectations(t)
	})

	t.Run("unknown reference is acknowledged", func(t *testing.T) {
		txRepo := new(MockTxRepo)
		svc := newTestService(txRepo, new(MockCouponRepo), new(MockGateway), new(MockTrustLedger))

		txRepo.On("GetByReference", mock.Anything, "pi_unknown").Return(nil, repositories.ErrTransactionNotFound)

		err := svc.ReconcileRefundByReference(context.Background(), "pi_unknown")
		assert.NoError(t, err)
	})
}

func TestService_GetTransaction(t *testing.T) {
	txRepo := new(MockTxRepo)
	svc := newTestService(txRepo, new(MockCouponRepo), new(MockGateway), new(MockTrustLedger))

	txRepo.On("GetByID", mock.Anything, "txn-1").Return(holdingTx(), nil)

	t.Run("buyer sees it", func(t *testing.T) {
		tx, err := svc.GetTransaction(context.Background(), "txn-1", 1, false)
		assert.NoError(t, err)
		assert.Equal(t, "txn-1", tx.ID)
	})

	t.Run("seller sees it", func(t *testing.T) {
		_, err := svc.GetTransaction(context.Background(), "txn-1", 2, false)
		assert.NoError(t, err)
	})

	t.Run("stranger is rejected", func(t *testing.T) {
		_, err := svc.GetTransaction(context.Background(), "txn-1", 99, false)
		assert.ErrorIs(t, err, ErrNotAuthorized)
	})

	t.Run("admin sees everything", func(t *testing.T) {
		_, err := svc.GetTransaction(context.Background(), "txn-1", 99, true)
		assert.NoError(t, err)
	})
}

func TestService_ListUserTransactions(t *testing.T) {
	txRepo := new(MockTxRepo)
	svc := newTestService(txRepo, new(MockCouponRepo), new(MockGateway), new(MockTrustLedger))

	// Out-of-range limits clamp to the default.
	txRepo.On("ListByUser", mock.Anything, uint(1), 20, 0).Return([]models.Transaction{}, nil).Twice()
	txRepo.On("ListByUser", mock.Anything, uint(1), 50, 10).Return([]models.Transaction{}, nil).Once()

	_, err := svc.ListUserTransactions(context.Background(), 1, 0, 0)
	assert.NoError(t, err)
	_, err = svc.ListUserTransactions(context.Background(), 1, 500, 0)
	assert.NoError(t, err)
	_, err = svc.ListUserTransactions(context.Background(), 1, 50, 10)
	assert.NoError(t, err)

	txRepo.AssertExpectations(t)
}
