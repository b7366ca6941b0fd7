package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/ports/adapter"
)

// PaymentVerifier re-reads a notified payment from the provider API. Webhook
// bodies are never trusted on their own.
type PaymentVerifier struct {
	provider adapter.PaymentProvider
	log      *zerolog.Logger
}

func NewPaymentVerifier(provider adapter.PaymentProvider, logger *zerolog.Logger) *PaymentVerifier {
	l := logger.With().Str("component", "PaymentVerifier").Logger()
	return &PaymentVerifier{provider: provider, log: &l}
}

// VerifySucceeded requires the provider's copy to be succeeded, paid and to
// agree with the notification on user, ledger id, amount and currency.
// The returned payment is the provider's authoritative copy.
func (v *PaymentVerifier) VerifySucceeded(ctx context.Context, n model.ProviderPayment) (*model.ProviderPayment, error) {
	auth, err := v.fetch(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	if auth.Status != model.ProviderStatusSucceeded || !auth.Paid {
		return nil, domain.NewVerificationMismatch(fmt.Sprintf("status=%s paid=%t", auth.Status, auth.Paid))
	}
	for _, key := range []string{model.MetaUserID, model.MetaPaymentDBID} {
		want := strings.TrimSpace(n.Metadata[key])
		got := strings.TrimSpace(auth.Metadata[key])
		if want == "" || got != want {
			return nil, domain.NewVerificationMismatch(key)
		}
	}
	if !model.AmountsEqual(auth.Amount, n.Amount) {
		return nil, domain.NewVerificationMismatch(fmt.Sprintf("amount %s != %s", n.Amount.StringFixed(2), auth.Amount.StringFixed(2)))
	}
	if !strings.EqualFold(auth.Currency, n.Currency) {
		return nil, domain.NewVerificationMismatch(fmt.Sprintf("currency %s != %s", n.Currency, auth.Currency))
	}
	return auth, nil
}

// Refresh overlays the provider's state onto the notification. Used before
// any mutation driven by canceled or waiting_for_capture events.
func (v *PaymentVerifier) Refresh(ctx context.Context, n model.ProviderPayment) (*model.ProviderPayment, error) {
	auth, err := v.fetch(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	out := n.Overlay(*auth)
	return &out, nil
}

func (v *PaymentVerifier) fetch(ctx context.Context, providerPaymentID string) (*model.ProviderPayment, error) {
	if v.provider == nil || !v.provider.Configured() {
		return nil, domain.NewVerificationUnavailable("provider not configured")
	}
	if strings.TrimSpace(providerPaymentID) == "" {
		return nil, domain.NewVerificationMismatch("empty provider payment id")
	}
	auth, err := v.provider.GetPaymentInfo(ctx, providerPaymentID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil, domain.NewVerificationUnavailable("payment unknown to provider")
	case err != nil:
		v.log.Warn().Err(err).Str("provider_payment_id", providerPaymentID).Msg("provider lookup failed")
		return nil, domain.NewVerificationUnavailable(err.Error())
	case auth == nil:
		return nil, domain.NewVerificationUnavailable("empty provider response")
	}
	return auth, nil
}
