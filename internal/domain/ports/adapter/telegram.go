package adapter

import (
	"context"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/ports/repository"
)

// Notifier delivers plain-text messages. Callers treat failures as log-only.
type Notifier interface {
	NotifyUser(ctx context.Context, userID int64, text string) error
	NotifyAdmins(ctx context.Context, text string) error
}

// SubscriptionActivator grants what a payment bought. It has external side
// effects and must not be retried blindly.
type SubscriptionActivator interface {
	ActivateSubscription(ctx context.Context, tx repository.Tx, req model.ActivationRequest) (*model.ActivationResult, error)
}
