package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/ngoplatform/donations-api/models"
	"gorm.io/gorm"
)

// InventoryLedger owns supply stock counts
type InventoryLedger struct {
	db *gorm.DB
}

// NewInventoryLedger creates a ledger over the given database
func NewInventoryLedger(db *gorm.DB) *InventoryLedger {
	return &InventoryLedger{db: db}
}

func (l *InventoryLedger) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		tx = l.db
	}
	return tx.WithContext(ctx)
}

// Get loads a supply by id
func (l *InventoryLedger) Get(ctx context.Context, supplyID uint) (*models.Supply, error) {
	var supply models.Supply
	if err := l.conn(ctx, nil).First(&supply, supplyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSupplyNotFound
		}
		return nil, fmt.Errorf("failed to load supply %d: %w", supplyID, err)
	}
	return &supply, nil
}

// ListSupplies returns supplies of the given type ordered by id. An empty type lists all.
func (l *InventoryLedger) ListSupplies(ctx context.Context, supplyType string, limit int) ([]models.Supply, error) {
	query := l.conn(ctx, nil).Order("id ASC")
	if supplyType != "" {
		query = query.Where("type = ?", supplyType)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var supplies []models.Supply
	if err := query.Find(&supplies).Error; err != nil {
		return nil, fmt.Errorf("failed to list supplies: %w", err)
	}
	return supplies, nil
}

// Increase adds quantity to a supply's on-hand count
func (l *InventoryLedger) Increase(ctx context.Context, tx *gorm.DB, supplyID uint, quantity int) error {
	if quantity <= 0 {
		return newValidation("quantity", "must be greater than zero")
	}

	result := l.conn(ctx, tx).Model(&models.Supply{}).
		Where("id = ?", supplyID).
		Update("on_hand", gorm.Expr("on_hand + ?", quantity))
	if result.Error != nil {
		return fmt.Errorf("failed to increase supply %d: %w", supplyID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSupplyNotFound
	}
	return nil
}

// Decrease removes quantity from a supply's on-hand count. The conditional update
// keeps the count at or above zero no matter what the caller checked beforehand.
func (l *InventoryLedger) Decrease(ctx context.Context, tx *gorm.DB, supplyID uint, quantity int) error {
	if quantity <= 0 {
		return newValidation("quantity", "must be greater than zero")
	}

	db := l.conn(ctx, tx)
	result := db.Model(&models.Supply{}).
		Where("id = ? AND on_hand >= ?", supplyID, quantity).
		Update("on_hand", gorm.Expr("on_hand - ?", quantity))
	if result.Error != nil {
		return fmt.Errorf("failed to decrease supply %d: %w", supplyID, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var supply models.Supply
	if err := db.Select("id", "on_hand").First(&supply, supplyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSupplyNotFound
		}
		return fmt.Errorf("failed to load supply %d: %w", supplyID, err)
	}
	return &InsufficientStockError{SupplyID: supplyID, Requested: quantity, Available: supply.OnHand}
}

// SetImageKey points a supply at a stored picture
func (l *InventoryLedger) SetImageKey(ctx context.Context, supplyID uint, imageKey string) (*models.Supply, error) {
	result := l.conn(ctx, nil).Model(&models.Supply{}).
		Where("id = ?", supplyID).
		Update("image_key", imageKey)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to set image for supply %d: %w", supplyID, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrSupplyNotFound
	}
	return l.Get(ctx, supplyID)
}
