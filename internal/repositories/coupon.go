package repositories

import (
	"context"
	"errors"

	"couponbay/internal/models"

	"gorm.io/gorm"
)

var ErrCouponNotFound = errors.New("coupon not found")

// CouponRepository is the escrow core's view of the coupon listing store.
// Reserve, Release and MarkSold are the only writes; everything else about
// listings (CRUD, search, moderation) is owned by the surrounding app.
type CouponRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Coupon, error)
	// Reserve claims the coupon for a transaction. It succeeds only when the
	// coupon is approved, unsold and carries no active reservation; the
	// conditional update makes concurrent initiations lose cleanly.
	Reserve(ctx context.Context, couponID uint, transactionID string) (bool, error)
	// Release drops the reservation held by the given transaction and puts
	// the coupon back on the market.
	Release(ctx context.Context, couponID uint, transactionID string) error
	// MarkSold flips the coupon to sold, clearing the reservation.
	MarkSold(ctx context.Context, couponID uint, transactionID string) error
}

type couponRepository struct {
	db *gorm.DB
}

func NewCouponRepository(db *gorm.DB) CouponRepository {
	return &couponRepository{db: db}
}

func (r *couponRepository) GetByID(ctx context.Context, id uint) (*models.Coupon, error) {
	var coupon models.Coupon
	if err := r.db.WithContext(ctx).First(&coupon, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, err
	}
	return &coupon, nil
}

func (r *couponRepository) Reserve(ctx context.Context, couponID uint, transactionID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Coupon{}).
		Where("id = ? AND status = ? AND is_sold = ? AND reserved_txn_id IS NULL",
			couponID, models.CouponStatusApproved, false).
		Update("reserved_txn_id", transactionID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *couponRepository) Release(ctx context.Context, couponID uint, transactionID string) error {
	return r.db.WithContext(ctx).
		Model(&models.Coupon{}).
		Where("id = ? AND reserved_txn_id = ?", couponID, transactionID).
		Update("reserved_txn_id", nil).Error
}

func (r *couponRepository) MarkSold(ctx context.Context, couponID uint, transactionID string) error {
	return r.db.WithContext(ctx).
		Model(&models.Coupon{}).
		Where("id = ? AND reserved_txn_id = ?", couponID, transactionID).
		Updates(map[string]interface{}{
			"is_sold":         true,
			"reserved_txn_id": nil,
		}).Error
}
