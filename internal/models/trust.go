package models

import (
	"time"

	"gorm.io/gorm"
)

// Trust score bounds and badge thresholds.
const (
	TrustScoreMin     = 0
	TrustScoreMax     = 100
	TrustScoreDefault = 100

	BadgeGold     = "gold"
	BadgeVerified = "verified"
	BadgeWarning  = "warning"
	BadgeNew      = "new"
)

// TrustProfile is the per-user reputation record. It is mutated only by the
// trust ledger, in reaction to transaction terminal events or explicit
// admin overrides.
type TrustProfile struct {
	gorm.Model
	UserID          uint   `gorm:"uniqueIndex;not null" json:"user_id"`
	TrustScore      int    `gorm:"default:100" json:"trust_score"`
	WarningsCount   int    `gorm:"default:0" json:"warnings_count"`
	SuccessfulSales int    `gorm:"default:0" json:"successful_sales"`
	IsBanned        bool   `gorm:"default:false" json:"is_banned"`
	BanReason       string `json:"ban_reason,omitempty"`
}

// Trust event kinds, recorded for audit.
const (
	TrustEventDispute = "dispute_penalty"
	TrustEventAdjust  = "admin_adjustment"
	TrustEventBan     = "ban"
	TrustEventUnban   = "unban"
)

// TrustEvent is an append-only audit record of a trust ledger mutation.
// ActorID is zero for system-initiated events.
type TrustEvent struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	ActorID   uint      `json:"actor_id,omitempty"`
	Kind      string    `gorm:"not null" json:"kind"`
	OldScore  int       `json:"old_score"`
	NewScore  int       `json:"new_score"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
