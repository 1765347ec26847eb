package models

import (
	"time"

	"gorm.io/gorm"
)

// Coupon moderation states. A coupon is only purchasable while approved.
const (
	CouponStatusPending  = "pending"
	CouponStatusApproved = "approved"
	CouponStatusRejected = "rejected"
)

// Coupon is a listed discount coupon offered for resale. Listing CRUD and
// moderation live outside the escrow core; the core reads availability and
// flips the reservation/sold flags.
type Coupon struct {
	gorm.Model
	SellerID      uint       `gorm:"not null;index" json:"seller_id"`
	Title         string     `gorm:"not null" json:"title"`
	Code          string     `gorm:"not null" json:"-"` // revealed to the buyer only after completion
	Price         float64    `gorm:"not null" json:"price"`
	Status        string     `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	IsSold        bool       `gorm:"default:false" json:"is_sold"`
	ReservedTxnID *string    `gorm:"index" json:"-"` // id of the active transaction holding the reservation
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`
}

// Available reports whether the coupon can be purchased right now.
func (c *Coupon) Available(now time.Time) bool {
	if c.Status != CouponStatusApproved || c.IsSold || c.ReservedTxnID != nil {
		return false
	}
	if c.ExpiryDate != nil && !c.ExpiryDate.After(now) {
		return false
	}
	return true
}
