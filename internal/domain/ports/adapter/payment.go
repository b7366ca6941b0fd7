package adapter

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
)

// CreatePaymentRequest is a provider-agnostic payment intent.
type CreatePaymentRequest struct {
	Amount            decimal.Decimal
	Currency          string
	Description       string
	ReturnURL         string
	IdempotenceKey    string
	Metadata          map[string]string
	SavePaymentMethod bool
}

type CreatePaymentResult struct {
	ProviderPaymentID string
	Status            string
	ConfirmationURL   string
}

// PaymentProvider is the hex port for payment providers.
type PaymentProvider interface {
	Name() string
	// Configured is false when credentials are missing; verification then
	// has to be reported as unavailable.
	Configured() bool

	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error)
	// GetPaymentInfo fetches the authoritative payment; domain.ErrNotFound
	// when the provider does not know the id.
	GetPaymentInfo(ctx context.Context, providerPaymentID string) (*model.ProviderPayment, error)
	CancelPayment(ctx context.Context, providerPaymentID, idempotenceKey string) error
}
