// Package trust maintains per-seller reputation: a bounded trust score, a
// dispute warning counter and the ban flag. It is the only writer of trust
// profiles; the escrow engine and the admin surface drive it through
// terminal transaction events and explicit overrides.
package trust

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"couponbay/internal/models"
	"couponbay/internal/repositories"
	"couponbay/internal/services/notification"
)

// Config controls the dispute penalty policy.
type Config struct {
	// Deduction is subtracted from the trust score per substantiated
	// dispute.
	Deduction int
	// WarningThreshold is the warnings count at which the profile shows the
	// warning badge. Crossing it never auto-bans; banning stays an explicit
	// admin action.
	WarningThreshold int
}

// Cache is the subset of the cache service the ledger uses. A nil cache
// disables caching.
type Cache interface {
	CacheTrustProfile(ctx context.Context, profile *models.TrustProfile) error
	GetTrustProfile(ctx context.Context, userID uint) (*models.TrustProfile, error)
	InvalidateTrustProfile(ctx context.Context, userID uint) error
}

type Service struct {
	repo     repositories.TrustRepository
	cache    Cache
	notifier notification.Publisher
	config   Config
}

// NewService creates a new trust ledger service. Cache and notifier are
// optional.
func NewService(repo repositories.TrustRepository, cache Cache, notifier notification.Publisher, config Config) *Service {
	if repo == nil {
		panic("repo is required")
	}
	if notifier == nil {
		notifier = notification.NoopPublisher{}
	}
	if config.Deduction <= 0 {
		config.Deduction = 15
	}
	if config.WarningThreshold <= 0 {
		config.WarningThreshold = 2
	}
	return &Service{
		repo:     repo,
		cache:    cache,
		notifier: notifier,
		config:   config,
	}
}

// Profile returns the user's trust profile, creating a default one on first
// touch, together with the derived badge.
func (s *Service) Profile(ctx context.Context, userID uint) (*models.TrustProfile, string, error) {
	if s.cache != nil {
		if profile, err := s.cache.GetTrustProfile(ctx, userID); err == nil {
			return profile, s.BadgeFor(profile), nil
		}
	}

	profile, err := s.repo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("get trust profile: %w", err)
	}

	s.cacheProfile(ctx, profile)
	return profile, s.BadgeFor(profile), nil
}

// RecordDisputeOutcome applies the penalty for a substantiated dispute:
// one warning and a fixed score deduction, clamped at the lower bound.
func (s *Service) RecordDisputeOutcome(ctx context.Context, sellerID uint) error {
	profile, err := s.repo.GetOrCreate(ctx, sellerID)
	if err != nil {
		return fmt.Errorf("get trust profile: %w", err)
	}

	oldScore := profile.TrustScore
	profile.WarningsCount++
	profile.TrustScore = clampScore(profile.TrustScore - s.config.Deduction)

	if err := s.repo.Save(ctx, profile); err != nil {
		return fmt.Errorf("save trust profile: %w", err)
	}

	if err := s.repo.RecordEvent(ctx, &models.TrustEvent{
		UserID:   sellerID,
		Kind:     models.TrustEventDispute,
		OldScore: oldScore,
		NewScore: profile.TrustScore,
	}); err != nil {
		log.Warn().Err(err).Uint("user_id", sellerID).Msg("failed to record trust event")
	}

	if profile.WarningsCount == s.config.WarningThreshold {
		log.Info().Uint("seller_id", sellerID).Int("warnings", profile.WarningsCount).
			Msg("seller crossed warning threshold")
	}

	s.invalidateProfile(ctx, sellerID)
	return nil
}

// RecordSale increments the seller's successful-sale counter.
func (s *Service) RecordSale(ctx context.Context, sellerID uint) error {
	if _, err := s.repo.GetOrCreate(ctx, sellerID); err != nil {
		return fmt.Errorf("get trust profile: %w", err)
	}
	if err := s.repo.IncrementSales(ctx, sellerID); err != nil {
		return fmt.Errorf("increment sales: %w", err)
	}
	s.invalidateProfile(ctx, sellerID)
	return nil
}

// AdjustTrustScore is the admin override. It overwrites rather than deltas;
// the reason is audit-only.
func (s *Service) AdjustTrustScore(ctx context.Context, userID uint, newScore int, reason string, actorID uint) (*models.TrustProfile, error) {
	if newScore < models.TrustScoreMin || newScore > models.TrustScoreMax {
		return nil, ErrInvalidScore
	}

	profile, err := s.repo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get trust profile: %w", err)
	}

	oldScore := profile.TrustScore
	profile.TrustScore = newScore
	if err := s.repo.Save(ctx, profile); err != nil {
		return nil, fmt.Errorf("save trust profile: %w", err)
	}

	if err := s.repo.RecordEvent(ctx, &models.TrustEvent{
		UserID:   userID,
		ActorID:  actorID,
		Kind:     models.TrustEventAdjust,
		OldScore: oldScore,
		NewScore: newScore,
		Reason:   reason,
	}); err != nil {
		log.Warn().Err(err).Uint("user_id", userID).Msg("failed to record trust event")
	}

	s.invalidateProfile(ctx, userID)
	return profile, nil
}

// Ban marks the user banned. Banning an already-banned user is a no-op
// success.
func (s *Service) Ban(ctx context.Context, userID uint, reason string, actorID uint) error {
	profile, err := s.repo.GetOrCreate(ctx, userID)
	if err != nil {
		return fmt.Errorf("get trust profile: %w", err)
	}
	if profile.IsBanned {
		return nil
	}

	profile.IsBanned = true
	profile.BanReason = reason
	if err := s.repo.Save(ctx, profile); err != nil {
		return fmt.Errorf("save trust profile: %w", err)
	}

	if err := s.repo.RecordEvent(ctx, &models.TrustEvent{
		UserID:   userID,
		ActorID:  actorID,
		Kind:     models.TrustEventBan,
		OldScore: profile.TrustScore,
		NewScore: profile.TrustScore,
		Reason:   reason,
	}); err != nil {
		log.Warn().Err(err).Uint("user_id", userID).Msg("failed to record trust event")
	}

	if err := s.notifier.Publish(ctx, notification.Event{
		UserID:  userID,
		Type:    notification.EventAccountBanned,
		Payload: models.JSON{"reason": reason},
	}); err != nil {
		log.Warn().Err(err).Uint("user_id", userID).Msg("failed to publish ban notification")
	}

	s.invalidateProfile(ctx, userID)
	return nil
}

// Unban lifts a ban. Unbanning a user who is not banned is a no-op success.
func (s *Service) Unban(ctx context.Context, userID uint, actorID uint) error {
	profile, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrTrustProfileNotFound) {
			return nil
		}
		return fmt.Errorf("get trust profile: %w", err)
	}
	if !profile.IsBanned {
		return nil
	}

	profile.IsBanned = false
	profile.BanReason = ""
	if err := s.repo.Save(ctx, profile); err != nil {
		return fmt.Errorf("save trust profile: %w", err)
	}

	if err := s.repo.RecordEvent(ctx, &models.TrustEvent{
		UserID:   userID,
		ActorID:  actorID,
		Kind:     models.TrustEventUnban,
		OldScore: profile.TrustScore,
		NewScore: profile.TrustScore,
	}); err != nil {
		log.Warn().Err(err).Uint("user_id", userID).Msg("failed to record trust event")
	}

	s.invalidateProfile(ctx, userID)
	return nil
}

// BadgeFor derives the display badge from the profile. It is pure and never
// stored.
func (s *Service) BadgeFor(profile *models.TrustProfile) string {
	switch {
	case profile.WarningsCount >= s.config.WarningThreshold:
		return models.BadgeWarning
	case profile.TrustScore > 90:
		return models.BadgeGold
	case profile.TrustScore >= 70:
		return models.BadgeVerified
	default:
		return models.BadgeNew
	}
}

func (s *Service) cacheProfile(ctx context.Context, profile *models.TrustProfile) {
	if s.cache == nil {
		return
	}
	if err := s.cache.CacheTrustProfile(ctx, profile); err != nil {
		log.Debug().Err(err).Uint("user_id", profile.UserID).Msg("failed to cache trust profile")
	}
}

func (s *Service) invalidateProfile(ctx context.Context, userID uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateTrustProfile(ctx, userID); err != nil {
		log.Debug().Err(err).Uint("user_id", userID).Msg("failed to invalidate trust profile cache")
	}
}

func clampScore(score int) int {
	if score < models.TrustScoreMin {
		return models.TrustScoreMin
	}
	if score > models.TrustScoreMax {
		return models.TrustScoreMax
	}
	return score
}
