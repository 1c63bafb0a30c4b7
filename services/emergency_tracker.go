package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ngoplatform/donations-api/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProgressResult describes a successful reservation against an emergency need
type ProgressResult struct {
	Need          *models.EmergencyNeed
	ReachedTarget bool // true only for the reservation that moved the need to reviewing
}

// EmergencyNeedTracker owns the lifecycle of case-specific fundraising needs
type EmergencyNeedTracker struct {
	db  *gorm.DB
	now func() time.Time
}

// NewEmergencyNeedTracker creates a tracker over the given database
func NewEmergencyNeedTracker(db *gorm.DB) *EmergencyNeedTracker {
	return &EmergencyNeedTracker{db: db, now: time.Now}
}

func (t *EmergencyNeedTracker) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		tx = t.db
	}
	return tx.WithContext(ctx)
}

// Get loads an emergency need by id
func (t *EmergencyNeedTracker) Get(ctx context.Context, needID uint) (*models.EmergencyNeed, error) {
	var need models.EmergencyNeed
	if err := t.conn(ctx, nil).First(&need, needID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEmergencyNeedNotFound
		}
		return nil, fmt.Errorf("failed to load emergency need %d: %w", needID, err)
	}
	return &need, nil
}

// GetOpenNeeds lists needs that are still fundraising and short of target
func (t *EmergencyNeedTracker) GetOpenNeeds(ctx context.Context, limit int) ([]models.EmergencyNeed, error) {
	query := t.conn(ctx, nil).
		Where("status = ? AND collected < target", models.NeedStatusFundraising).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var needs []models.EmergencyNeed
	if err := query.Find(&needs).Error; err != nil {
		return nil, fmt.Errorf("failed to list open emergency needs: %w", err)
	}
	return needs, nil
}

// ReserveProgress credits quantity to a need inside the caller's transaction.
// The need row is locked first, so concurrent finalizations against the same need
// serialize and the second one sees the recomputed remainder.
func (t *EmergencyNeedTracker) ReserveProgress(ctx context.Context, tx *gorm.DB, needID uint, quantity int) (*ProgressResult, error) {
	if tx == nil {
		return nil, errors.New("emergency tracker: reserve progress requires a transaction")
	}

	var need models.EmergencyNeed
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&need, needID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEmergencyNeedNotFound
		}
		return nil, fmt.Errorf("failed to lock emergency need %d: %w", needID, err)
	}

	reached, err := need.AddProgress(quantity, t.now())
	if err != nil {
		return nil, &EmergencyNeedSaturatedError{NeedID: needID, Requested: quantity, Remaining: openRemaining(&need)}
	}

	if err := tx.WithContext(ctx).Save(&need).Error; err != nil {
		return nil, fmt.Errorf("failed to update emergency need %d: %w", needID, err)
	}

	return &ProgressResult{Need: &need, ReachedTarget: reached}, nil
}

// MarkFulfilled closes a reviewed need once the supplies were delivered
func (t *EmergencyNeedTracker) MarkFulfilled(ctx context.Context, needID uint) (*models.EmergencyNeed, error) {
	var need models.EmergencyNeed
	err := t.conn(ctx, nil).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&need, needID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrEmergencyNeedNotFound
			}
			return err
		}
		if err := need.MarkFulfilled(t.now()); err != nil {
			return err
		}
		return tx.Save(&need).Error
	})
	if err != nil {
		return nil, err
	}
	return &need, nil
}

// openRemaining is the quantity a need can still accept; zero once it left fundraising
func openRemaining(need *models.EmergencyNeed) int {
	if need.Status != models.NeedStatusFundraising {
		return 0
	}
	return need.Remaining()
}
