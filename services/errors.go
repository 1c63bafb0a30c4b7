package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSupplyNotFound        = errors.New("supply not found")
	ErrEmergencyNeedNotFound = errors.New("emergency need not found")
	ErrOrderNotFound         = errors.New("order not found")
	ErrPackageNotFound       = errors.New("package not found")
)

// ValidationError rejects a malformed purchase before anything is persisted
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Code returns the API error code
func (e *ValidationError) Code() string { return "VALIDATION_ERROR" }

// InsufficientStockError is returned when a supply cannot cover the requested quantity
type InsufficientStockError struct {
	SupplyID  uint
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("supply %d: requested %d but only %d available", e.SupplyID, e.Requested, e.Available)
}

// Code returns the API error code
func (e *InsufficientStockError) Code() string { return "INSUFFICIENT_STOCK" }

// EmergencyNeedSaturatedError is returned when a need cannot absorb the requested quantity
type EmergencyNeedSaturatedError struct {
	NeedID    uint
	Requested int
	Remaining int
}

func (e *EmergencyNeedSaturatedError) Error() string {
	return fmt.Sprintf("emergency need %d: requested %d but only %d remaining", e.NeedID, e.Requested, e.Remaining)
}

// Code returns the API error code
func (e *EmergencyNeedSaturatedError) Code() string { return "EMERGENCY_NEED_SATURATED" }

// OrderPersistenceError means a transaction failed and was fully rolled back. Safe to retry.
type OrderPersistenceError struct {
	Op  string
	Err error
}

func (e *OrderPersistenceError) Error() string {
	return fmt.Sprintf("order persistence: %s: %v", e.Op, e.Err)
}

func (e *OrderPersistenceError) Unwrap() error { return e.Err }

// Code returns the API error code
func (e *OrderPersistenceError) Code() string { return "ORDER_PERSISTENCE_ERROR" }

// PublicMessage is the donor-facing text; the cause stays in the logs
func (e *OrderPersistenceError) PublicMessage() string {
	return "We could not record your donation. Please try again."
}

// SignatureError rejects a gateway callback whose CheckMacValue does not match
type SignatureError struct {
	MerchantTradeNo string
	Reason          string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("gateway signature rejected for %q: %s", e.MerchantTradeNo, e.Reason)
}

// Code returns the API error code
func (e *SignatureError) Code() string { return "SIGNATURE_ERROR" }

// PartialPackageResolutionError flags package constituents that could not be credited.
// The order still completes; the gap is left for reconciliation.
type PartialPackageResolutionError struct {
	PackageType     string
	MissingSupplies []uint
}

func (e *PartialPackageResolutionError) Error() string {
	ids := make([]string, len(e.MissingSupplies))
	for i, id := range e.MissingSupplies {
		ids[i] = fmt.Sprintf("%d", id)
	}
	return fmt.Sprintf("package %s: unresolved supplies [%s]", e.PackageType, strings.Join(ids, ","))
}

// Code returns the API error code
func (e *PartialPackageResolutionError) Code() string { return "PARTIAL_PACKAGE_RESOLUTION" }

func newValidation(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}
