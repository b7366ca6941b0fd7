package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `payment_id, user_id, provider, provider_payment_id, idempotence_key,
  amount, original_amount, discount_applied, currency, status, description,
  subscription_duration_months, traffic_gb, sale_mode, promo_code_id, created_at, updated_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		p        model.Payment
		status   string
		saleMode string
		months   *int32
	)
	if err := row.Scan(
		&p.ID, &p.UserID, &p.Provider, &p.ProviderPaymentID, &p.IdempotenceKey,
		&p.Amount, &p.OriginalAmount, &p.DiscountApplied, &p.Currency, &status, &p.Description,
		&months, &p.TrafficGB, &saleMode, &p.PromoCodeID, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, scanError(err)
	}
	p.Status = model.PaymentStatus(status)
	p.SaleMode = model.SaleMode(saleMode)
	if months != nil {
		m := int(*months)
		p.DurationMonths = &m
	}
	return &p, nil
}

func (r *paymentRepo) Create(ctx context.Context, tx repository.Tx, p *model.Payment) (int64, error) {
	const q = `
INSERT INTO payments (
  user_id, provider, provider_payment_id, idempotence_key, amount, original_amount, discount_applied,
  currency, status, description, subscription_duration_months, traffic_gb, sale_mode, promo_code_id
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
RETURNING payment_id, created_at, updated_at;`

	var months *int32
	if p.DurationMonths != nil {
		m := int32(*p.DurationMonths)
		months = &m
	}
	row, err := pickRow(ctx, r.pool, tx, q,
		p.UserID, p.Provider, p.ProviderPaymentID, p.IdempotenceKey, p.Amount, p.OriginalAmount, p.DiscountApplied,
		p.Currency, string(p.Status), p.Description, months, p.TrafficGB, string(p.SaleMode), p.PromoCodeID,
	)
	if err != nil {
		return 0, err
	}
	if err := row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return 0, mapError(err)
	}
	return p.ID, nil
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE payment_id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) FindByProviderPaymentID(ctx context.Context, tx repository.Tx, providerPaymentID string) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE provider_payment_id=$1`
	row, err := pickRow(ctx, r.pool, tx, q, providerPaymentID)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) SetProviderPaymentID(ctx context.Context, tx repository.Tx, id int64, providerPaymentID string) error {
	const q = `UPDATE payments SET provider_payment_id=$2, updated_at=NOW() WHERE payment_id=$1 AND status LIKE $3;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, providerPaymentID, model.PendingStatusPattern())
	if err != nil {
		return mapError(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ClaimForProcessing is the single statement that decides which webhook
// delivery owns the activation.
func (r *paymentRepo) ClaimForProcessing(ctx context.Context, tx repository.Tx, id int64, providerPaymentID string) (bool, error) {
	const q = `
UPDATE payments
   SET status = 'processing',
       provider_payment_id = $2,
       updated_at = NOW()
 WHERE payment_id = $1
   AND status LIKE $3;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, providerPaymentID, model.PendingStatusPattern())
	if err != nil {
		return false, mapError(err)
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *paymentRepo) RollbackProcessing(ctx context.Context, tx repository.Tx, id int64, prev model.PaymentStatus) (bool, error) {
	if !prev.IsPending() {
		return false, domain.ErrInvalidArgument
	}
	const q = `UPDATE payments SET status=$2, updated_at=NOW() WHERE payment_id=$1 AND status='processing';`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, string(prev))
	if err != nil {
		return false, mapError(err)
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *paymentRepo) MarkSucceededOnce(ctx context.Context, tx repository.Tx, id int64, providerPaymentID string) (bool, error) {
	const q = `
UPDATE payments
   SET status = 'succeeded',
       provider_payment_id = $2,
       updated_at = NOW()
 WHERE payment_id = $1
   AND status = 'processing';`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, providerPaymentID)
	if err != nil {
		return false, mapError(err)
	}
	return cmd.RowsAffected() >= 1, nil
}

// UpdateStatusIfPending never touches a row that has left pending_*.
func (r *paymentRepo) UpdateStatusIfPending(ctx context.Context, tx repository.Tx, id int64, status model.PaymentStatus) (bool, error) {
	const q = `
UPDATE payments
   SET status = $2,
       updated_at = NOW()
 WHERE payment_id = $1
   AND status LIKE $3;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, string(status), model.PendingStatusPattern())
	if err != nil {
		return false, mapError(err)
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *paymentRepo) ListProcessingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE status='processing' AND updated_at < $1 ORDER BY updated_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, olderThan, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, mapError(rows.Err())
}
