package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is the root of every rejected batch.
	ErrValidation = errors.New("ledger: validation failed")
	// ErrUnknownTenant is returned when a tenant is not part of the configured set.
	ErrUnknownTenant = errors.New("ledger: unknown tenant")
	// ErrMissingReading is returned when a batch omits a tenant's reading.
	ErrMissingReading = errors.New("ledger: missing reading")
	// ErrReadingRegressed is returned when a reading is lower than the previous one.
	ErrReadingRegressed = errors.New("ledger: reading lower than previous")
	// ErrInvalidReading is returned for NaN, infinite or negative readings.
	ErrInvalidReading = errors.New("ledger: invalid reading")
	// ErrInvalidRecharge is returned for malformed recharge amounts.
	ErrInvalidRecharge = errors.New("ledger: invalid recharge amount")
	// ErrStoreIO wraps failures to read or write the backing store.
	ErrStoreIO = errors.New("ledger: store io")
	// ErrInvalidBook is returned when a book name cannot be resolved to a store.
	ErrInvalidBook = errors.New("ledger: invalid book")
	// ErrMalformedRow marks a stored row that cannot be decoded.
	ErrMalformedRow = errors.New("ledger: malformed row")
	// ErrEmptyTenantSet is returned when no tenants are configured.
	ErrEmptyTenantSet = errors.New("ledger: empty tenant set")
	// ErrNothingToRevert is returned when the ledger has no records.
	ErrNothingToRevert = errors.New("ledger: nothing to revert")
)

// ValidationError describes a rejected batch. It matches ErrValidation and
// its specific cause with errors.Is.
type ValidationError struct {
	Tenant string
	Reason string
	Cause  error
}

func (e *ValidationError) Error() string {
	if e.Tenant == "" {
		return fmt.Sprintf("%s: %s", e.Cause, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", e.Cause, e.Tenant, e.Reason)
}

// Is reports ErrValidation for every validation error.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// NewValidationError builds a ValidationError for the given cause.
func NewValidationError(cause error, tenant, reason string) *ValidationError {
	return &ValidationError{Tenant: tenant, Reason: reason, Cause: cause}
}

// ValidationReason returns a short label for metrics.
func ValidationReason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownTenant):
		return "unknown_tenant"
	case errors.Is(err, ErrMissingReading):
		return "missing_reading"
	case errors.Is(err, ErrReadingRegressed):
		return "reading_regressed"
	case errors.Is(err, ErrInvalidReading):
		return "invalid_reading"
	case errors.Is(err, ErrInvalidRecharge):
		return "invalid_recharge"
	default:
		return "other"
	}
}
