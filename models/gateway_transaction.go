package models

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// Gateway transaction statuses
const (
	GatewayStatusPending    = "pending"
	GatewayStatusProcessing = "processing"
	GatewayStatusSuccess    = "success"
	GatewayStatusFailed     = "failed"
)

var ErrInvalidGatewayTransition = errors.New("gateway transaction: invalid status transition")

// GatewayTransaction tracks the payment gateway exchange for one order
type GatewayTransaction struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	OrderID         uint           `gorm:"not null;uniqueIndex" json:"order_id"`
	MerchantTradeNo string         `gorm:"size:50;not null;uniqueIndex" json:"merchant_trade_no"`
	GatewayTradeNo  *string        `gorm:"size:50" json:"gateway_trade_no"` // assigned by the gateway, unknown before redirect
	Status          string         `gorm:"not null;default:'pending'" json:"status"`
	ReturnCode      *string        `json:"return_code,omitempty"`
	ReturnMessage   *string        `json:"return_message,omitempty"`
	ResponseData    datatypes.JSON `json:"-"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// TableName specifies the table name for the GatewayTransaction model
func (GatewayTransaction) TableName() string {
	return "gateway_transactions"
}

// IsTerminal reports whether the gateway already settled this transaction
func (g *GatewayTransaction) IsTerminal() bool {
	return g.Status == GatewayStatusSuccess || g.Status == GatewayStatusFailed
}

// MarkProcessing records that the donor was redirected to the gateway
func (g *GatewayTransaction) MarkProcessing() error {
	switch g.Status {
	case GatewayStatusPending:
		g.Status = GatewayStatusProcessing
		return nil
	case GatewayStatusProcessing:
		return nil
	default:
		return ErrInvalidGatewayTransition
	}
}

// Settle moves the transaction to success or failed
func (g *GatewayTransaction) Settle(succeeded bool, now time.Time) error {
	if g.IsTerminal() {
		return ErrInvalidGatewayTransition
	}
	if succeeded {
		g.Status = GatewayStatusSuccess
	} else {
		g.Status = GatewayStatusFailed
	}
	g.ProcessedAt = &now
	return nil
}
