package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/ngoplatform/donations-api/models"
	"gorm.io/gorm"
)

var ErrDonorNotFound = errors.New("donor not found")

// DonorIdentity is the authenticated donor placing an order
type DonorIdentity struct {
	DonorID uint
	Auth0ID string
	Name    string
	Email   string
	Phone   string
}

// DonorDirectory resolves token subjects to donor profiles
type DonorDirectory struct {
	db *gorm.DB
}

// NewDonorDirectory creates a directory over the given database
func NewDonorDirectory(db *gorm.DB) *DonorDirectory {
	return &DonorDirectory{db: db}
}

// FindByAuth0ID returns the donor registered under the given Auth0 subject
func (d *DonorDirectory) FindByAuth0ID(ctx context.Context, auth0ID string) (*models.Donor, error) {
	if auth0ID == "" {
		return nil, ErrDonorNotFound
	}

	var donor models.Donor
	if err := d.db.WithContext(ctx).Where("auth0_id = ?", auth0ID).First(&donor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDonorNotFound
		}
		return nil, fmt.Errorf("failed to look up donor: %w", err)
	}
	return &donor, nil
}

// Identity resolves an Auth0 subject into a DonorIdentity. A subject without a
// donor profile yields nil, which checkout treats as an anonymous donation.
func (d *DonorDirectory) Identity(ctx context.Context, auth0ID string) (*DonorIdentity, error) {
	donor, err := d.FindByAuth0ID(ctx, auth0ID)
	if errors.Is(err, ErrDonorNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &DonorIdentity{
		DonorID: donor.ID,
		Auth0ID: donor.Auth0ID,
		Name:    donor.Name,
		Email:   donor.Email,
		Phone:   donor.Phone,
	}, nil
}
