package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/ports/repository"
)

var _ repository.SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)

type PostgresSubscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresSubscriptionRepo(pool *pgxpool.Pool) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{pool: pool}
}

// FindActiveByUser returns the latest-ending active subscription.
func (r *PostgresSubscriptionRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID int64) (*model.Subscription, error) {
	q := `
SELECT subscription_id, user_id, start_date, end_date, duration_months, traffic_limit_bytes,
       is_active, COALESCE(provider,''), last_payment_id, updated_at
  FROM subscriptions
 WHERE user_id=$1 AND is_active
 ORDER BY end_date DESC
 LIMIT 1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	var (
		s      model.Subscription
		months int32
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.StartDate, &s.EndDate, &months, &s.TrafficLimitBytes,
		&s.IsActive, &s.Provider, &s.LastPaymentID, &s.UpdatedAt); err != nil {
		return nil, scanError(err)
	}
	s.DurationMonths = int(months)
	return &s, nil
}

// Save inserts when s.ID is zero and updates in place otherwise.
func (r *PostgresSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) (int64, error) {
	if s.ID == 0 {
		const q = `
INSERT INTO subscriptions (user_id, start_date, end_date, duration_months, traffic_limit_bytes, is_active, provider, last_payment_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING subscription_id, updated_at;`
		row, err := pickRow(ctx, r.pool, tx, q, s.UserID, s.StartDate, s.EndDate, int32(s.DurationMonths),
			s.TrafficLimitBytes, s.IsActive, s.Provider, s.LastPaymentID)
		if err != nil {
			return 0, err
		}
		if err := row.Scan(&s.ID, &s.UpdatedAt); err != nil {
			return 0, mapError(err)
		}
		return s.ID, nil
	}

	const q = `
UPDATE subscriptions
   SET start_date=$2, end_date=$3, duration_months=$4, traffic_limit_bytes=$5,
       is_active=$6, provider=$7, last_payment_id=$8, updated_at=NOW()
 WHERE subscription_id=$1
RETURNING updated_at;`
	row, err := pickRow(ctx, r.pool, tx, q, s.ID, s.StartDate, s.EndDate, int32(s.DurationMonths),
		s.TrafficLimitBytes, s.IsActive, s.Provider, s.LastPaymentID)
	if err != nil {
		return 0, err
	}
	if err := row.Scan(&s.UpdatedAt); err != nil {
		return 0, scanError(err)
	}
	return s.ID, nil
}
