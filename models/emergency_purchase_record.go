package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EmergencyPurchaseRecord links a paid order to the emergency need it funded
type EmergencyPurchaseRecord struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	OrderID         uint            `gorm:"not null;uniqueIndex" json:"order_id"`
	EmergencyNeedID uint            `gorm:"not null;index" json:"emergency_need_id"`
	SupplyName      string          `gorm:"not null" json:"supply_name"`
	Quantity        int             `gorm:"not null" json:"quantity"`
	UnitPrice       decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"unit_price"`
	CreatedAt       time.Time       `json:"created_at"`
}

// TableName specifies the table name for the EmergencyPurchaseRecord model
func (EmergencyPurchaseRecord) TableName() string {
	return "emergency_purchase_records"
}
