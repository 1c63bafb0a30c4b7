package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Supply types
const (
	SupplyTypeRegular   = "regular"
	SupplyTypeEmergency = "emergency"
)

// Supply represents a stocked item donors can fund
type Supply struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	Name        string          `gorm:"not null" json:"name"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"unit_price"`
	OnHand      int             `gorm:"not null;default:0;check:on_hand >= 0" json:"on_hand"`
	Type        string          `gorm:"not null;default:'regular';index" json:"type"` // regular, emergency
	Description string          `json:"description"`
	ImageKey    *string         `json:"-"`                            // nullable, S3 key for the supply picture
	ImageURL    string          `gorm:"-" json:"image_url,omitempty"` // computed field
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TableName specifies the table name for the Supply model
func (Supply) TableName() string {
	return "supplies"
}
