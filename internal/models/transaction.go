package models

import (
	"fmt"
	"time"
)

// PaymentStatus is the canonical lifecycle state of an escrow transaction.
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "pending"    // created, waiting for processor authorization
	StatusProcessing PaymentStatus = "processing" // a finalizer holds the transition while the processor call is in flight
	StatusHolding    PaymentStatus = "holding"    // funds authorized, holding window open
	StatusCompleted  PaymentStatus = "completed"  // funds captured to seller
	StatusFailed     PaymentStatus = "failed"     // authorization declined
	StatusRefunded   PaymentStatus = "refunded"   // dispute granted, funds returned to buyer
)

// statusAliases maps the legacy status vocabulary, still present in old rows
// and processor metadata, onto the canonical enum.
var statusAliases = map[string]PaymentStatus{
	"escrowed": StatusHolding,
	"released": StatusCompleted,
}

// ParseStatus converts a raw status string into the canonical enum,
// accepting legacy aliases on read.
func ParseStatus(raw string) (PaymentStatus, error) {
	switch s := PaymentStatus(raw); s {
	case StatusPending, StatusProcessing, StatusHolding, StatusCompleted, StatusFailed, StatusRefunded:
		return s, nil
	}
	if s, ok := statusAliases[raw]; ok {
		return s, nil
	}
	return "", fmt.Errorf("unknown payment status %q", raw)
}

// IsTerminal reports whether the status is one of the permanent end states.
// Terminal rows are audit records and are never mutated or deleted.
func (s PaymentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRefunded
}

// Transaction is a single purchase attempt. Amount is snapshotted from the
// coupon price at initiation time and never re-read.
type Transaction struct {
	ID               string        `gorm:"primarykey" json:"id"`
	CouponID         uint          `gorm:"not null;index" json:"coupon_id"`
	BuyerID          uint          `gorm:"not null;index" json:"buyer_id"`
	SellerID         uint          `gorm:"not null;index" json:"seller_id"`
	Amount           float64       `gorm:"not null" json:"amount"`
	Currency         string        `gorm:"default:'inr'" json:"currency"`
	PaymentStatus    PaymentStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"payment_status"`
	PaymentReference string        `gorm:"index" json:"payment_reference,omitempty"`
	DisputeReason    string        `json:"dispute_reason,omitempty"`
	ExpiresAt        *time.Time    `gorm:"index" json:"expires_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Status returns the canonical status, translating legacy values that may
// still be stored on old rows.
func (t *Transaction) Status() PaymentStatus {
	if s, err := ParseStatus(string(t.PaymentStatus)); err == nil {
		return s
	}
	return t.PaymentStatus
}
