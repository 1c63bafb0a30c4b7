package config

import (
	"fmt"
	"log"

	"github.com/ngoplatform/donations-api/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// seedSupplies mirrors the supply ids referenced by the package catalog
var seedSupplies = []models.Supply{
	{ID: 1, Name: "Rice 5kg", UnitPrice: decimal.NewFromInt(250), OnHand: 40, Type: models.SupplyTypeRegular},
	{ID: 2, Name: "Instant Noodles (case)", UnitPrice: decimal.NewFromInt(180), OnHand: 25, Type: models.SupplyTypeRegular},
	{ID: 3, Name: "Milk Powder", UnitPrice: decimal.NewFromInt(320), OnHand: 12, Type: models.SupplyTypeRegular},
	{ID: 11, Name: "First Aid Kit", UnitPrice: decimal.NewFromInt(80), OnHand: 30, Type: models.SupplyTypeRegular},
	{ID: 12, Name: "Digital Thermometer", UnitPrice: decimal.NewFromInt(60), OnHand: 20, Type: models.SupplyTypeRegular},
	{ID: 13, Name: "Adult Diapers", UnitPrice: decimal.NewFromInt(150), OnHand: 18, Type: models.SupplyTypeRegular},
	{ID: 14, Name: "Face Masks (box)", UnitPrice: decimal.NewFromInt(25), OnHand: 100, Type: models.SupplyTypeRegular},
	{ID: 21, Name: "Toothpaste", UnitPrice: decimal.NewFromInt(45), OnHand: 60, Type: models.SupplyTypeRegular},
	{ID: 22, Name: "Bar Soap", UnitPrice: decimal.NewFromInt(30), OnHand: 80, Type: models.SupplyTypeRegular},
	{ID: 23, Name: "Bath Towel", UnitPrice: decimal.NewFromInt(90), OnHand: 35, Type: models.SupplyTypeRegular},
}

var seedNeeds = []models.EmergencyNeed{
	{CaseID: 101, SupplyName: "Adult Diapers", UnitPrice: decimal.NewFromInt(150), Target: 10, Status: models.NeedStatusFundraising},
	{CaseID: 102, SupplyName: "Milk Powder", UnitPrice: decimal.NewFromInt(320), Target: 5, Status: models.NeedStatusFundraising},
}

// SeedDevelopmentData loads a small catalog when the supplies table is empty
func SeedDevelopmentData(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.Supply{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count supplies: %w", err)
	}
	if count > 0 {
		return nil
	}

	return db.Transaction(func(tx *gorm.DB) error {
		supplies := make([]models.Supply, len(seedSupplies))
		copy(supplies, seedSupplies)
		if err := tx.Create(&supplies).Error; err != nil {
			return fmt.Errorf("failed to seed supplies: %w", err)
		}
		if stmt := supplySequenceResetSQL(tx.Dialector.Name()); stmt != "" {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("failed to advance supplies id sequence: %w", err)
			}
		}

		needs := make([]models.EmergencyNeed, len(seedNeeds))
		copy(needs, seedNeeds)
		if err := tx.Create(&needs).Error; err != nil {
			return fmt.Errorf("failed to seed emergency needs: %w", err)
		}

		log.Printf("Seeded %d supplies and %d emergency needs", len(supplies), len(needs))
		return nil
	})
}

// supplySequenceResetSQL moves the serial sequence past the explicitly seeded ids.
// Only postgres keeps a sequence that ignores explicit inserts.
func supplySequenceResetSQL(dialect string) string {
	if dialect != "postgres" {
		return ""
	}
	return "SELECT setval(pg_get_serial_sequence('supplies', 'id'), (SELECT MAX(id) FROM supplies))"
}
