package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Payment statuses
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
)

// Order sources
const (
	OrderSourceRegular   = "regular"
	OrderSourcePackage   = "package"
	OrderSourceEmergency = "emergency"
)

var ErrOrderAlreadySettled = errors.New("order: payment status is already terminal")

// Order represents a donor's purchase. Orders are never deleted.
type Order struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	OrderNumber        string          `gorm:"size:50;not null;uniqueIndex" json:"order_number"`
	DonorID            *uint           `gorm:"index" json:"donor_id"` // nullable, anonymous donations allowed
	TotalPrice         decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"total_price"`
	PaymentStatus      string          `gorm:"not null;default:'pending';index" json:"payment_status"` // pending, paid, failed
	Source             string          `gorm:"not null" json:"source"`                                 // regular, package, emergency
	PackageType        *string         `json:"package_type,omitempty"`
	EmergencyNeedID    *uint           `gorm:"index" json:"emergency_need_id,omitempty"`
	FailureReason      *string         `json:"failure_reason,omitempty"`
	ReconciliationNote *string         `json:"reconciliation_note,omitempty"` // set when a package constituent could not be resolved
	PaidAt             *time.Time      `json:"paid_at,omitempty"`
	LineItems          []OrderLineItem `gorm:"foreignKey:OrderID" json:"line_items,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// TableName specifies the table name for the Order model
func (Order) TableName() string {
	return "orders"
}

// IsSettled reports whether the order reached a terminal payment status
func (o *Order) IsSettled() bool {
	return o.PaymentStatus == PaymentStatusPaid || o.PaymentStatus == PaymentStatusFailed
}

// MarkPaid moves a pending order to paid
func (o *Order) MarkPaid(now time.Time) error {
	if o.IsSettled() {
		return ErrOrderAlreadySettled
	}
	o.PaymentStatus = PaymentStatusPaid
	o.PaidAt = &now
	o.FailureReason = nil
	return nil
}

// MarkFailed moves a pending order to failed
func (o *Order) MarkFailed(reason string) error {
	if o.IsSettled() {
		return ErrOrderAlreadySettled
	}
	o.PaymentStatus = PaymentStatusFailed
	if reason != "" {
		o.FailureReason = &reason
	}
	return nil
}

// OrderLineItem is a priced line of an order
type OrderLineItem struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	OrderID    uint            `gorm:"not null;index" json:"order_id"`
	SupplyID   *uint           `gorm:"index" json:"supply_id"` // nullable for emergency lines
	SupplyName string          `gorm:"not null" json:"supply_name"`
	Quantity   int             `gorm:"not null;check:quantity > 0" json:"quantity"`
	UnitPrice  decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"unit_price"`
	CreatedAt  time.Time       `json:"created_at"`
}

// TableName specifies the table name for the OrderLineItem model
func (OrderLineItem) TableName() string {
	return "order_line_items"
}

// Subtotal returns quantity times the unit price snapshot
func (l OrderLineItem) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}
