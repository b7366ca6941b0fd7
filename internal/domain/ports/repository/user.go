package repository

import (
	"context"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
)

type UserRepository interface {
	FindByID(ctx context.Context, tx Tx, id int64) (*model.User, error)
	Save(ctx context.Context, tx Tx, u *model.User) error
}

// SubscriptionRepository is the port for VPN subscriptions.
type SubscriptionRepository interface {
	FindActiveByUser(ctx context.Context, tx Tx, userID int64) (*model.Subscription, error)
	Save(ctx context.Context, tx Tx, s *model.Subscription) (int64, error)
}
