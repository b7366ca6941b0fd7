package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/ports/adapter"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/ports/repository"
)

var _ adapter.SubscriptionActivator = (*SubscriptionUseCase)(nil)

// SubscriptionUseCase records what a payment bought. Panel provisioning is
// handled elsewhere; only dates and traffic limits live here.
type SubscriptionUseCase struct {
	subs repository.SubscriptionRepository
	log  *zerolog.Logger
	now  func() time.Time
}

func NewSubscriptionUseCase(subs repository.SubscriptionRepository, logger *zerolog.Logger) *SubscriptionUseCase {
	l := logger.With().Str("component", "SubscriptionUseCase").Logger()
	return &SubscriptionUseCase{subs: subs, log: &l, now: func() time.Time { return time.Now().UTC() }}
}

// ActivateSubscription extends the active subscription by the purchased
// months, or raises its traffic limit for a traffic package.
func (uc *SubscriptionUseCase) ActivateSubscription(ctx context.Context, tx repository.Tx, req model.ActivationRequest) (*model.ActivationResult, error) {
	sub, err := uc.subs.FindActiveByUser(ctx, tx, req.UserID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	now := uc.now()

	switch req.SaleMode {
	case model.SaleModeTraffic:
		if !req.TrafficGB.IsPositive() {
			return nil, fmt.Errorf("%w: traffic_gb", domain.ErrInvalidArgument)
		}
		if sub == nil {
			return nil, domain.ErrNoActiveSubscription
		}
		sub.TrafficLimitBytes += model.TrafficBytes(req.TrafficGB)
	default:
		if req.Months <= 0 {
			return nil, fmt.Errorf("%w: months", domain.ErrInvalidArgument)
		}
		start := sub.ExtendFrom(now)
		if sub == nil {
			sub = &model.Subscription{UserID: req.UserID, StartDate: now}
		}
		sub.EndDate = start.AddDate(0, req.Months, 0)
		sub.DurationMonths = req.Months
	}

	sub.IsActive = true
	sub.Provider = req.Provider
	paymentID := req.PaymentID
	sub.LastPaymentID = &paymentID

	id, err := uc.subs.Save(ctx, tx, sub)
	if err != nil {
		return nil, err
	}
	end := sub.EndDate
	uc.log.Info().
		Int64("user_id", req.UserID).
		Int64("payment_id", req.PaymentID).
		Time("end_date", end).
		Str("sale_mode", string(req.SaleMode)).
		Msg("subscription activated")
	return &model.ActivationResult{SubscriptionID: id, EndDate: &end}, nil
}
