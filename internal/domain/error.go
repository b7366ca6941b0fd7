package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Storage / common errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrUserNotFound       = errors.New("user not found")

	// Promo / discount errors
	ErrPromoNotFound         = errors.New("promo code not found or inactive")
	ErrPromoAlreadyUsed      = errors.New("promo code already used by this user")
	ErrPromoExhausted        = errors.New("promo code has no activations left")
	ErrDiscountAlreadyActive = errors.New("user already has an active discount")
	ErrNoActiveSubscription  = errors.New("no active subscription")

	// Payment provider errors
	ErrProviderNotConfigured   = errors.New("payment provider is not configured")
	ErrVerificationUnavailable = errors.New("payment verification unavailable")
	ErrVerificationMismatch    = errors.New("payment verification mismatch")
	ErrActivationFailed        = errors.New("subscription activation failed")

	ErrRateLimited     = errors.New("too many requests")
	ErrLockNotAcquired = errors.New("lock not acquired")
)

// ActiveDiscountExistsError is returned when a user redeems a discount code
// while a live reservation is still held. It matches ErrDiscountAlreadyActive.
type ActiveDiscountExistsError struct {
	Code       string
	Percentage int
	ExpiresAt  time.Time
}

func (e *ActiveDiscountExistsError) Error() string {
	return fmt.Sprintf("active discount %s (%d%%) until %s", e.Code, e.Percentage, e.ExpiresAt.Format(time.RFC3339))
}

func (e *ActiveDiscountExistsError) Is(target error) bool { return target == ErrDiscountAlreadyActive }

// VerificationError carries the field that disagreed with the provider.
type VerificationError struct {
	Reason string
	Err    error
}

func (e *VerificationError) Error() string { return e.Err.Error() + ": " + e.Reason }
func (e *VerificationError) Unwrap() error { return e.Err }

func NewVerificationMismatch(reason string) error {
	return &VerificationError{Reason: reason, Err: ErrVerificationMismatch}
}

func NewVerificationUnavailable(reason string) error {
	return &VerificationError{Reason: reason, Err: ErrVerificationUnavailable}
}
