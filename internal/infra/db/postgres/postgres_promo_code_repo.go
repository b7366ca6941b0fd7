package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/ports/repository"
)

var _ repository.PromoCodeRepository = (*promoCodeRepo)(nil)

type promoCodeRepo struct{ pool *pgxpool.Pool }

func NewPromoCodeRepo(pool *pgxpool.Pool) *promoCodeRepo {
	return &promoCodeRepo{pool: pool}
}

const promoColumns = `promo_code_id, code, promo_type, COALESCE(bonus_days,0), COALESCE(discount_percentage,0),
  max_activations, current_activations, is_active, created_by_admin_id, created_at, valid_until`

func scanPromo(row pgx.Row) (*model.PromoCode, error) {
	var (
		p      model.PromoCode
		typ    string
		bonus  int32
		pct    int32
		maxAct int32
		curAct int32
	)
	if err := row.Scan(&p.ID, &p.Code, &typ, &bonus, &pct, &maxAct, &curAct, &p.IsActive,
		&p.CreatedByAdminID, &p.CreatedAt, &p.ValidUntil); err != nil {
		return nil, scanError(err)
	}
	p.Type = model.PromoType(typ)
	p.BonusDays = int(bonus)
	p.DiscountPercentage = int(pct)
	p.MaxActivations = int(maxAct)
	p.CurrentActivations = int(curAct)
	return &p, nil
}

func (r *promoCodeRepo) Create(ctx context.Context, tx repository.Tx, p *model.PromoCode) (int64, error) {
	const q = `
INSERT INTO promo_codes (code, promo_type, bonus_days, discount_percentage, max_activations, is_active, created_by_admin_id, valid_until)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING promo_code_id, current_activations, created_at;`
	row, err := pickRow(ctx, r.pool, tx, q,
		model.NormalizePromoCode(p.Code), string(p.Type), int32(p.BonusDays), int32(p.DiscountPercentage),
		int32(p.MaxActivations), p.IsActive, p.CreatedByAdminID, p.ValidUntil)
	if err != nil {
		return 0, err
	}
	var cur int32
	if err := row.Scan(&p.ID, &cur, &p.CreatedAt); err != nil {
		return 0, mapError(err)
	}
	p.CurrentActivations = int(cur)
	return p.ID, nil
}

func (r *promoCodeRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.PromoCode, error) {
	q := `SELECT ` + promoColumns + ` FROM promo_codes WHERE promo_code_id=$1`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanPromo(row)
}

func (r *promoCodeRepo) FindActiveByCode(ctx context.Context, tx repository.Tx, code string, typ model.PromoType, now time.Time) (*model.PromoCode, error) {
	const q = `SELECT ` + promoColumns + `
  FROM promo_codes
 WHERE code = $1
   AND promo_type = $2
   AND is_active
   AND (valid_until IS NULL OR valid_until > $3)`
	row, err := pickRow(ctx, r.pool, tx, q, model.NormalizePromoCode(code), string(typ), now)
	if err != nil {
		return nil, err
	}
	p, err := scanPromo(row)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrPromoNotFound
	}
	return p, err
}

func (r *promoCodeRepo) List(ctx context.Context, tx repository.Tx, offset, limit int) ([]*model.PromoCode, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + promoColumns + ` FROM promo_codes ORDER BY created_at DESC, promo_code_id DESC OFFSET $1 LIMIT $2`
	rows, err := queryRows(ctx, r.pool, tx, q, offset, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := []*model.PromoCode{}
	for rows.Next() {
		p, err := scanPromo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, mapError(rows.Err())
}

func (r *promoCodeRepo) SetActive(ctx context.Context, tx repository.Tx, id int64, active bool) error {
	cmd, err := execSQL(ctx, r.pool, tx, `UPDATE promo_codes SET is_active=$2 WHERE promo_code_id=$1`, id, active)
	if err != nil {
		return mapError(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *promoCodeRepo) FindActivation(ctx context.Context, tx repository.Tx, promoID, userID int64) (*model.PromoCodeActivation, error) {
	const q = `
SELECT activation_id, promo_code_id, user_id, activated_at, payment_id
  FROM promo_code_activations
 WHERE promo_code_id=$1 AND user_id=$2`
	row, err := pickRow(ctx, r.pool, tx, q, promoID, userID)
	if err != nil {
		return nil, err
	}
	var a model.PromoCodeActivation
	if err := row.Scan(&a.ID, &a.PromoCodeID, &a.UserID, &a.ActivatedAt, &a.PaymentID); err != nil {
		return nil, scanError(err)
	}
	return &a, nil
}

func (r *promoCodeRepo) RecordActivation(ctx context.Context, tx repository.Tx, promoID, userID int64, paymentID *int64) (bool, error) {
	const q = `
INSERT INTO promo_code_activations (promo_code_id, user_id, payment_id)
VALUES ($1,$2,$3)
ON CONFLICT (promo_code_id, user_id) DO NOTHING;`
	cmd, err := execSQL(ctx, r.pool, tx, q, promoID, userID, paymentID)
	if err != nil {
		return false, mapError(err)
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *promoCodeRepo) LinkActivationPayment(ctx context.Context, tx repository.Tx, promoID, userID, paymentID int64) (bool, error) {
	const q = `
UPDATE promo_code_activations
   SET payment_id = $3
 WHERE promo_code_id = $1 AND user_id = $2 AND payment_id IS NULL;`
	cmd, err := execSQL(ctx, r.pool, tx, q, promoID, userID, paymentID)
	if err != nil {
		return false, mapError(err)
	}
	return cmd.RowsAffected() >= 1, nil
}

// IncrementUsage is a single conditional UPDATE; the capacity check and the
// bump cannot interleave with another redeemer.
func (r *promoCodeRepo) IncrementUsage(ctx context.Context, tx repository.Tx, id int64, allowOverflow bool) (bool, int, int, error) {
	const q = `
UPDATE promo_codes
   SET current_activations = current_activations + 1
 WHERE promo_code_id = $1
   AND ($2 OR current_activations < max_activations)
RETURNING current_activations, max_activations;`
	row, err := pickRow(ctx, r.pool, tx, q, id, allowOverflow)
	if err != nil {
		return false, 0, 0, err
	}
	var cur, max int32
	if err := row.Scan(&cur, &max); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, 0, 0, nil
		}
		return false, 0, 0, mapError(err)
	}
	return true, int(cur), int(max), nil
}

func (r *promoCodeRepo) DecrementUsage(ctx context.Context, tx repository.Tx, id int64, n int) error {
	if n <= 0 {
		return nil
	}
	const q = `
UPDATE promo_codes
   SET current_activations = GREATEST(current_activations - $2, 0)
 WHERE promo_code_id = $1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, int32(n))
	return mapError(err)
}
