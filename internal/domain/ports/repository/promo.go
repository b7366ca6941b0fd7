package repository

import (
	"context"
	"time"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
)

// PromoCodeRepository is the promo ledger. Counter adjustments run on the
// caller's tx so they commit with the change they protect.
type PromoCodeRepository interface {
	Create(ctx context.Context, tx Tx, p *model.PromoCode) (int64, error)
	FindByID(ctx context.Context, tx Tx, id int64) (*model.PromoCode, error)
	// FindActiveByCode returns an active, in-window code of the given type.
	FindActiveByCode(ctx context.Context, tx Tx, code string, typ model.PromoType, now time.Time) (*model.PromoCode, error)
	List(ctx context.Context, tx Tx, offset, limit int) ([]*model.PromoCode, error)
	SetActive(ctx context.Context, tx Tx, id int64, active bool) error

	FindActivation(ctx context.Context, tx Tx, promoID, userID int64) (*model.PromoCodeActivation, error)
	// RecordActivation inserts (promo, user) once; false if it already existed.
	RecordActivation(ctx context.Context, tx Tx, promoID, userID int64, paymentID *int64) (bool, error)
	// LinkActivationPayment sets payment_id where it is still NULL.
	LinkActivationPayment(ctx context.Context, tx Tx, promoID, userID, paymentID int64) (bool, error)

	// IncrementUsage bumps current_activations. Without allowOverflow it
	// refuses to pass max_activations and returns false. The new counter and
	// the cap are returned for alarming.
	IncrementUsage(ctx context.Context, tx Tx, id int64, allowOverflow bool) (ok bool, current, max int, err error)
	// DecrementUsage subtracts n, floored at zero.
	DecrementUsage(ctx context.Context, tx Tx, id int64, n int) error
}

// ActiveDiscountRepository is the reservation store: one row per user.
type ActiveDiscountRepository interface {
	// Get returns the reservation; expired rows only when includeExpired.
	Get(ctx context.Context, tx Tx, userID int64, now time.Time, includeExpired bool) (*model.ActiveDiscount, error)
	// Insert fails with domain.ErrDiscountAlreadyActive if the user holds one.
	Insert(ctx context.Context, tx Tx, d *model.ActiveDiscount) error
	Clear(ctx context.Context, tx Tx, userID int64) (bool, error)
	// ClearIfMatches deletes only when the promo id and, if given, the
	// expires_at <= bound still hold.
	ClearIfMatches(ctx context.Context, tx Tx, userID, promoID int64, expiresAtOrBefore *time.Time) (bool, error)
	// ListExpired returns oldest-expiry-first reservations with expires_at <= now.
	ListExpired(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.ExpiredDiscount, error)
	// ClearByPromoCode removes every reservation for a promo, returning the count.
	ClearByPromoCode(ctx context.Context, tx Tx, promoID int64) (int, error)
}
