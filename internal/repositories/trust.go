package repositories

import (
	"context"
	"errors"

	"couponbay/internal/models"

	"gorm.io/gorm"
)

var ErrTrustProfileNotFound = errors.New("trust profile not found")

// TrustRepository stores trust profiles and their audit trail. Profiles are
// created lazily the first time a user's reputation is touched.
type TrustRepository interface {
	GetOrCreate(ctx context.Context, userID uint) (*models.TrustProfile, error)
	GetByUserID(ctx context.Context, userID uint) (*models.TrustProfile, error)
	Save(ctx context.Context, profile *models.TrustProfile) error
	IncrementSales(ctx context.Context, userID uint) error
	RecordEvent(ctx context.Context, event *models.TrustEvent) error
}

type trustRepository struct {
	db *gorm.DB
}

func NewTrustRepository(db *gorm.DB) TrustRepository {
	return &trustRepository{db: db}
}

func (r *trustRepository) GetOrCreate(ctx context.Context, userID uint) (*models.TrustProfile, error) {
	profile := models.TrustProfile{UserID: userID, TrustScore: models.TrustScoreDefault}
	err := r.db.WithContext(ctx).
		Where(models.TrustProfile{UserID: userID}).
		Attrs(models.TrustProfile{TrustScore: models.TrustScoreDefault}).
		FirstOrCreate(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *trustRepository) GetByUserID(ctx context.Context, userID uint) (*models.TrustProfile, error) {
	var profile models.TrustProfile
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTrustProfileNotFound
		}
		return nil, err
	}
	return &profile, nil
}

func (r *trustRepository) Save(ctx context.Context, profile *models.TrustProfile) error {
	return r.db.WithContext(ctx).Save(profile).Error
}

func (r *trustRepository) IncrementSales(ctx context.Context, userID uint) error {
	return r.db.WithContext(ctx).
		Model(&models.TrustProfile{}).
		Where("user_id = ?", userID).
		Update("successful_sales", gorm.Expr("successful_sales + 1")).Error
}

func (r *trustRepository) RecordEvent(ctx context.Context, event *models.TrustEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}
