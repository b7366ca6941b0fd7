package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/ports/repository"
)

var _ repository.ActiveDiscountRepository = (*activeDiscountRepo)(nil)

type activeDiscountRepo struct{ pool *pgxpool.Pool }

func NewActiveDiscountRepo(pool *pgxpool.Pool) *activeDiscountRepo {
	return &activeDiscountRepo{pool: pool}
}

func (r *activeDiscountRepo) Get(ctx context.Context, tx repository.Tx, userID int64, now time.Time, includeExpired bool) (*model.ActiveDiscount, error) {
	q := `
SELECT user_id, promo_code_id, discount_percentage, activated_at, expires_at
  FROM active_discounts
 WHERE user_id = $1
   AND ($2 OR expires_at > $3)`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, userID, includeExpired, now)
	if err != nil {
		return nil, err
	}
	var (
		d   model.ActiveDiscount
		pct int32
	)
	if err := row.Scan(&d.UserID, &d.PromoCodeID, &pct, &d.ActivatedAt, &d.ExpiresAt); err != nil {
		return nil, scanError(err)
	}
	d.DiscountPercentage = int(pct)
	return &d, nil
}

// Insert relies on the user_id primary key: a second reservation for the same
// user is rejected with ErrDiscountAlreadyActive.
func (r *activeDiscountRepo) Insert(ctx context.Context, tx repository.Tx, d *model.ActiveDiscount) error {
	const q = `
INSERT INTO active_discounts (user_id, promo_code_id, discount_percentage, activated_at, expires_at)
VALUES ($1,$2,$3,$4,$5);`
	_, err := execSQL(ctx, r.pool, tx, q, d.UserID, d.PromoCodeID, int32(d.DiscountPercentage), d.ActivatedAt, d.ExpiresAt)
	if err == nil {
		return nil
	}
	if pgErrCode(err) == pgUniqueViolation {
		return domain.ErrDiscountAlreadyActive
	}
	return mapError(err)
}

func (r *activeDiscountRepo) Clear(ctx context.Context, tx repository.Tx, userID int64) (bool, error) {
	cmd, err := execSQL(ctx, r.pool, tx, `DELETE FROM active_discounts WHERE user_id=$1`, userID)
	if err != nil {
		return false, mapError(err)
	}
	return cmd.RowsAffected() >= 1, nil
}

// ClearIfMatches deletes the reservation only while it still references
// promoID; a fresh reservation created after the caller's read survives.
func (r *activeDiscountRepo) ClearIfMatches(ctx context.Context, tx repository.Tx, userID, promoID int64, expiresAtOrBefore *time.Time) (bool, error) {
	const q = `
DELETE FROM active_discounts
 WHERE user_id = $1
   AND promo_code_id = $2
   AND ($3::timestamptz IS NULL OR expires_at <= $3::timestamptz);`
	cmd, err := execSQL(ctx, r.pool, tx, q, userID, promoID, expiresAtOrBefore)
	if err != nil {
		return false, mapError(err)
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *activeDiscountRepo) ListExpired(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.ExpiredDiscount, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT d.user_id, d.promo_code_id, d.discount_percentage, d.activated_at, d.expires_at, p.code
  FROM active_discounts d
  JOIN promo_codes p ON p.promo_code_id = d.promo_code_id
 WHERE d.expires_at <= $1
 ORDER BY d.expires_at ASC
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, now, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*model.ExpiredDiscount
	for rows.Next() {
		var (
			e   model.ExpiredDiscount
			pct int32
		)
		if err := rows.Scan(&e.UserID, &e.PromoCodeID, &pct, &e.ActivatedAt, &e.ExpiresAt, &e.Code); err != nil {
			return nil, scanError(err)
		}
		e.DiscountPercentage = int(pct)
		out = append(out, &e)
	}
	return out, mapError(rows.Err())
}

func (r *activeDiscountRepo) ClearByPromoCode(ctx context.Context, tx repository.Tx, promoID int64) (int, error) {
	cmd, err := execSQL(ctx, r.pool, tx, `DELETE FROM active_discounts WHERE promo_code_id=$1`, promoID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidExecContext) {
			return 0, err
		}
		return 0, mapError(err)
	}
	return int(cmd.RowsAffected()), nil
}
