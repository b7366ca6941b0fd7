package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/ports/adapter"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/ports/repository"
	"github.com/orryxvpn/remnawave-tg-shop/internal/infra/logging"
)

// DiscountPricer applies the user's live discount, if any, to a price.
type DiscountPricer interface {
	DiscountForPrice(ctx context.Context, userID int64, price decimal.Decimal) (final, discount decimal.Decimal, promoID *int64, err error)
}

type InitiateRequest struct {
	UserID            int64
	SaleMode          model.SaleMode
	Months            int
	TrafficGB         decimal.Decimal
	Price             decimal.Decimal
	Description       string
	SavePaymentMethod bool
}

type InitiateResult struct {
	Payment         *model.Payment
	ConfirmationURL string
}

// PaymentUseCase creates ledger rows and provider payments.
type PaymentUseCase struct {
	payments  repository.PaymentRepository
	users     repository.UserRepository
	provider  adapter.PaymentProvider
	pricer    DiscountPricer
	log       *zerolog.Logger
	currency  string
	returnURL string
}

func NewPaymentUseCase(
	payments repository.PaymentRepository,
	users repository.UserRepository,
	provider adapter.PaymentProvider,
	pricer DiscountPricer,
	logger *zerolog.Logger,
	currency, returnURL string,
) *PaymentUseCase {
	l := logger.With().Str("component", "PaymentUseCase").Logger()
	return &PaymentUseCase{
		payments:  payments,
		users:     users,
		provider:  provider,
		pricer:    pricer,
		log:       &l,
		currency:  currency,
		returnURL: returnURL,
	}
}

// Initiate prices the purchase, stores a pending row and registers the
// payment with the provider. The ledger id travels in the metadata so the
// webhook can find the row again.
func (u *PaymentUseCase) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	defer logging.TraceDuration(u.log, "PaymentUseCase.Initiate")()

	if !u.provider.Configured() {
		return nil, domain.ErrProviderNotConfigured
	}
	if !req.Price.IsPositive() {
		return nil, fmt.Errorf("%w: price", domain.ErrInvalidArgument)
	}
	if req.SaleMode == "" {
		req.SaleMode = model.SaleModeSubscription
	}
	switch {
	case req.SaleMode == model.SaleModeTraffic && !req.TrafficGB.IsPositive():
		return nil, fmt.Errorf("%w: traffic_gb", domain.ErrInvalidArgument)
	case req.SaleMode != model.SaleModeTraffic && req.Months <= 0:
		return nil, fmt.Errorf("%w: months", domain.ErrInvalidArgument)
	}
	if _, err := u.users.FindByID(ctx, repository.NoTX, req.UserID); err != nil {
		return nil, err
	}

	final, discount, promoID, err := u.pricer.DiscountForPrice(ctx, req.UserID, req.Price)
	if err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}

	key := ulid.Make().String()
	p := &model.Payment{
		UserID:         req.UserID,
		Provider:       u.provider.Name(),
		IdempotenceKey: &key,
		Amount:         final,
		Currency:       u.currency,
		Status:         model.PendingStatusFor(u.provider.Name()),
		Description:    req.Description,
		SaleMode:       req.SaleMode,
		PromoCodeID:    promoID,
	}
	if promoID != nil {
		p.OriginalAmount = decimal.NewNullDecimal(req.Price)
		p.DiscountApplied = decimal.NewNullDecimal(discount)
	}
	meta := model.PaymentMetadata{UserID: req.UserID, SaleMode: req.SaleMode, PromoCodeID: promoID}
	if req.SaleMode == model.SaleModeTraffic {
		p.TrafficGB = decimal.NewNullDecimal(req.TrafficGB)
		meta.TrafficGB = req.TrafficGB
	} else {
		months := req.Months
		p.DurationMonths = &months
		meta.SubscriptionMonths = months
	}

	if _, err := u.payments.Create(ctx, repository.NoTX, p); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	meta.PaymentDBID = p.ID

	res, err := u.provider.CreatePayment(ctx, adapter.CreatePaymentRequest{
		Amount:            final,
		Currency:          u.currency,
		Description:       req.Description,
		ReturnURL:         u.returnURL,
		IdempotenceKey:    key,
		Metadata:          meta.Map(),
		SavePaymentMethod: req.SavePaymentMethod,
	})
	if err != nil {
		u.log.Error().Err(err).Int64("payment_id", p.ID).Msg("provider rejected payment creation")
		return nil, fmt.Errorf("provider create payment: %w", err)
	}
	if err := u.payments.SetProviderPaymentID(ctx, repository.NoTX, p.ID, res.ProviderPaymentID); err != nil {
		return nil, fmt.Errorf("store provider payment id: %w", err)
	}
	id := res.ProviderPaymentID
	p.ProviderPaymentID = &id

	u.log.Info().
		Int64("payment_id", p.ID).
		Str("provider_payment_id", id).
		Str("amount", final.StringFixed(2)).
		Bool("discounted", promoID != nil).
		Msg("payment initiated")
	return &InitiateResult{Payment: p, ConfirmationURL: res.ConfirmationURL}, nil
}

func (u *PaymentUseCase) GetPayment(ctx context.Context, id int64) (*model.Payment, error) {
	p, err := u.payments.FindByID(ctx, repository.NoTX, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNotFound
	}
	return p, err
}
