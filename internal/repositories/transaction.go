package repositories

import (
	"context"
	"errors"
	"time"

	"couponbay/internal/models"

	"gorm.io/gorm"
)

var ErrTransactionNotFound = errors.New("transaction not found")

// TransactionRepository provides access to escrow transaction records.
// TransitionStatus is the single write path for lifecycle changes: it is a
// compare-and-set keyed on the current status, so racing writers resolve to
// exactly one winner.
type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) error
	GetByID(ctx context.Context, id string) (*models.Transaction, error)
	GetByReference(ctx context.Context, reference string) (*models.Transaction, error)
	ListByUser(ctx context.Context, userID uint, limit, offset int) ([]models.Transaction, error)
	ListExpiredHolding(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error)
	TransitionStatus(ctx context.Context, id string, from, to models.PaymentStatus, updates map[string]interface{}) (bool, error)
}

type transactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	return r.db.WithContext(ctx).Create(tx).Error
}

func (r *transactionRepository) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	var tx models.Transaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&tx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// GetByReference looks a transaction up by its processor payment reference.
// Refund events from the processor carry the reference but no transaction
// metadata.
func (r *transactionRepository) GetByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	var tx models.Transaction
	if err := r.db.WithContext(ctx).Where("payment_reference = ?", reference).First(&tx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) ListByUser(ctx context.Context, userID uint, limit, offset int) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := r.db.WithContext(ctx).
		Where("buyer_id = ? OR seller_id = ?", userID, userID).
		Limit(limit).Offset(offset).Order("created_at DESC").
		Find(&txs).Error
	return txs, err
}

// ListExpiredHolding returns holding transactions whose window has elapsed.
// The sweeper feeds each one through AutoConfirm. The legacy "escrowed"
// status is matched too so old rows are swept like canonical ones.
func (r *transactionRepository) ListExpiredHolding(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := r.db.WithContext(ctx).
		Where("payment_status IN ? AND expires_at <= ?", []string{string(models.StatusHolding), "escrowed"}, now).
		Limit(limit).Order("expires_at ASC").
		Find(&txs).Error
	return txs, err
}

// TransitionStatus atomically moves a transaction from one status to
// another, applying extra column updates in the same statement. It returns
// false when the row was not in the expected status, which is how a losing
// racer learns the transaction was already claimed or finalized.
func (r *transactionRepository) TransitionStatus(ctx context.Context, id string, from, to models.PaymentStatus, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["payment_status"] = to

	fromStatuses := []string{string(from)}
	// Accept the legacy alias on the guard as well, so old rows transition.
	if from == models.StatusHolding {
		fromStatuses = append(fromStatuses, "escrowed")
	}

	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND payment_status IN ?", id, fromStatuses).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
