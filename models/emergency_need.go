package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Emergency need statuses
const (
	NeedStatusFundraising = "fundraising"
	NeedStatusReviewing   = "reviewing"
	NeedStatusFulfilled   = "fulfilled"
)

var (
	ErrNeedSaturated         = errors.New("emergency need: requested quantity exceeds remaining")
	ErrNeedNotFundraising    = errors.New("emergency need: not accepting donations")
	ErrInvalidNeedTransition = errors.New("emergency need: invalid status transition")
)

// EmergencyNeed is a case-specific request for a supply, tracked apart from inventory
type EmergencyNeed struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	CaseID      uint            `gorm:"not null;index" json:"case_id"`
	SupplyName  string          `gorm:"not null" json:"supply_name"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"unit_price"`
	Target      int             `gorm:"not null;check:target > 0" json:"target_quantity"`
	Collected   int             `gorm:"not null;default:0;check:collected >= 0" json:"collected_quantity"`
	Status      string          `gorm:"not null;default:'fundraising';index" json:"status"` // fundraising, reviewing, fulfilled
	ImageKey    *string         `json:"-"`
	ImageURL    string          `gorm:"-" json:"image_url,omitempty"`
	ReviewingAt *time.Time      `json:"reviewing_at,omitempty"`
	FulfilledAt *time.Time      `json:"fulfilled_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TableName specifies the table name for the EmergencyNeed model
func (EmergencyNeed) TableName() string {
	return "emergency_needs"
}

// Remaining returns how many units are still needed
func (n *EmergencyNeed) Remaining() int {
	if n.Collected >= n.Target {
		return 0
	}
	return n.Target - n.Collected
}

// IsOpen reports whether the need still accepts donations
func (n *EmergencyNeed) IsOpen() bool {
	return n.Status == NeedStatusFundraising && n.Collected < n.Target
}

// AddProgress records quantity collected. It never moves collected past target and
// reports whether this call moved the need from fundraising to reviewing.
func (n *EmergencyNeed) AddProgress(quantity int, now time.Time) (bool, error) {
	if n.Status != NeedStatusFundraising {
		return false, ErrNeedNotFundraising
	}
	if quantity <= 0 || quantity > n.Remaining() {
		return false, ErrNeedSaturated
	}

	n.Collected += quantity
	if n.Collected > n.Target {
		n.Collected = n.Target
	}

	if n.Collected == n.Target {
		n.Status = NeedStatusReviewing
		n.ReviewingAt = &now
		return true, nil
	}
	return false, nil
}

// MarkFulfilled closes a need once its supplies were handed over
func (n *EmergencyNeed) MarkFulfilled(now time.Time) error {
	if n.Status != NeedStatusReviewing {
		return ErrInvalidNeedTransition
	}
	n.Status = NeedStatusFulfilled
	n.FulfilledAt = &now
	return nil
}
