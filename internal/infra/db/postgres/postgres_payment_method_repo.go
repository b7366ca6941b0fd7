package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/ports/repository"
)

var _ repository.PaymentMethodRepository = (*paymentMethodRepo)(nil)

type paymentMethodRepo struct{ pool *pgxpool.Pool }

func NewPaymentMethodRepo(pool *pgxpool.Pool) *paymentMethodRepo {
	return &paymentMethodRepo{pool: pool}
}

// Upsert keys on the provider's method id, so repeated webhooks for the same
// card refresh the row instead of duplicating it.
func (r *paymentMethodRepo) Upsert(ctx context.Context, tx repository.Tx, m *model.UserPaymentMethod) error {
	const q = `
INSERT INTO user_payment_methods (user_id, provider, provider_payment_method_id, card_last4, card_network, title, is_default)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (provider_payment_method_id) DO UPDATE SET
  card_last4=EXCLUDED.card_last4, card_network=EXCLUDED.card_network,
  title=EXCLUDED.title, is_default=EXCLUDED.is_default, updated_at=NOW()
RETURNING method_id, created_at;`
	row, err := pickRow(ctx, r.pool, tx, q, m.UserID, m.Provider, m.ProviderPaymentMethodID,
		m.CardLast4, m.CardNetwork, m.Title, m.IsDefault)
	if err != nil {
		return err
	}
	if err := row.Scan(&m.ID, &m.CreatedAt); err != nil {
		return mapError(err)
	}
	return nil
}

func (r *paymentMethodRepo) ListByUser(ctx context.Context, tx repository.Tx, userID int64) ([]*model.UserPaymentMethod, error) {
	const q = `
SELECT method_id, user_id, provider, provider_payment_method_id,
       COALESCE(card_last4,''), COALESCE(card_network,''), COALESCE(title,''), is_default, created_at
  FROM user_payment_methods
 WHERE user_id=$1
 ORDER BY is_default DESC, created_at DESC;`
	rows, err := queryRows(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*model.UserPaymentMethod
	for rows.Next() {
		var m model.UserPaymentMethod
		if err := rows.Scan(&m.ID, &m.UserID, &m.Provider, &m.ProviderPaymentMethodID,
			&m.CardLast4, &m.CardNetwork, &m.Title, &m.IsDefault, &m.CreatedAt); err != nil {
			return nil, scanError(err)
		}
		out = append(out, &m)
	}
	return out, mapError(rows.Err())
}
