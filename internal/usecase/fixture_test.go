//go:build !integration

package usecase_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
	"github.com/orryxvpn/remnawave-tg-shop/internal/usecase"
)

// fixture wires the use cases over one in-memory store.
type fixture struct {
	store     *memStore
	payments  *memPaymentRepo
	promos    *memPromoRepo
	discounts *memDiscountRepo
	users     *memUserRepo
	subs      *memSubRepo
	methods   *memMethodRepo

	provider  *MockProvider
	activator *MockActivator
	notifier  *MockNotifier
	tm        *MockTxManager

	now time.Time

	promoUC   *usecase.PromoUseCase
	verifier  *usecase.PaymentVerifier
	finalizer *usecase.PaymentFinalizer
}

func newFixture(t *testing.T, opts ...usecase.PromoOption) *fixture {
	t.Helper()
	s := newMemStore()
	f := &fixture{
		store:     s,
		payments:  &memPaymentRepo{s: s},
		promos:    &memPromoRepo{s: s},
		discounts: &memDiscountRepo{s: s},
		users:     &memUserRepo{s: s},
		subs:      &memSubRepo{s: s},
		methods:   &memMethodRepo{s: s},
		provider:  &MockProvider{},
		activator: &MockActivator{},
		notifier:  &MockNotifier{},
		tm:        NewMockTxManager(),
		now:       time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	logger := newTestLogger()
	opts = append([]usecase.PromoOption{usecase.WithClock(func() time.Time { return f.now })}, opts...)
	f.promoUC = usecase.NewPromoUseCase(f.promos, f.discounts, f.payments, f.subs, f.notifier, f.tm, logger, opts...)
	f.verifier = usecase.NewPaymentVerifier(f.provider, logger)
	f.finalizer = usecase.NewPaymentFinalizer(f.payments, f.methods, f.users, f.verifier, f.provider,
		f.activator, f.promoUC, f.notifier, f.tm, logger, true)
	return f
}

func (f *fixture) seedUser(t *testing.T, id int64) {
	t.Helper()
	require.NoError(t, f.users.Save(context.Background(), nil, &model.User{ID: id, Username: "user" + strconv.FormatInt(id, 10)}))
}

func (f *fixture) seedPromo(t *testing.T, code string, pct, maxAct int) *model.PromoCode {
	t.Helper()
	p, err := model.NewPromoCode(code, model.PromoTypeDiscount, 0, pct, maxAct, nil, nil)
	require.NoError(t, err)
	_, err = f.promos.Create(context.Background(), nil, p)
	require.NoError(t, err)
	return p
}

func (f *fixture) seedBonusPromo(t *testing.T, code string, days, maxAct int) *model.PromoCode {
	t.Helper()
	p, err := model.NewPromoCode(code, model.PromoTypeBonusDays, days, 0, maxAct, nil, nil)
	require.NoError(t, err)
	_, err = f.promos.Create(context.Background(), nil, p)
	require.NoError(t, err)
	return p
}

// seedPending stores a pending_yookassa payment for one month.
func (f *fixture) seedPending(t *testing.T, userID int64, amount string) *model.Payment {
	t.Helper()
	months := 1
	p := &model.Payment{
		UserID:         userID,
		Provider:       "yookassa",
		Amount:         decimal.RequireFromString(amount),
		Currency:       "RUB",
		Status:         model.PaymentStatusPendingYooKassa,
		SaleMode:       model.SaleModeSubscription,
		DurationMonths: &months,
	}
	_, err := f.payments.Create(context.Background(), nil, p)
	require.NoError(t, err)
	return p
}

// seedDiscounted stores a pending payment that was priced with promo.
func (f *fixture) seedDiscounted(t *testing.T, userID int64, promo *model.PromoCode, original string) *model.Payment {
	t.Helper()
	orig := decimal.RequireFromString(original)
	final, discount := model.CalculateDiscountedPrice(orig, promo.DiscountPercentage)
	p := f.seedPending(t, userID, final.StringFixed(2))
	f.store.mu.Lock()
	row := f.store.payments[p.ID]
	id := promo.ID
	row.PromoCodeID = &id
	row.OriginalAmount = decimal.NewNullDecimal(orig)
	row.DiscountApplied = decimal.NewNullDecimal(discount)
	cp := *row
	f.store.mu.Unlock()
	return &cp
}

// notification builds the provider object for a ledger row.
func notification(providerID string, p *model.Payment, status string) model.ProviderPayment {
	return model.ProviderPayment{
		ID:       providerID,
		Status:   status,
		Paid:     status == model.ProviderStatusSucceeded,
		Amount:   p.Amount,
		Currency: p.Currency,
		Metadata: map[string]string{
			model.MetaUserID:             strconv.FormatInt(p.UserID, 10),
			model.MetaPaymentDBID:        strconv.FormatInt(p.ID, 10),
			model.MetaSubscriptionMonths: "1",
			model.MetaSaleMode:           string(model.SaleModeSubscription),
		},
	}
}

// providerReturns makes the provider API answer with obj for any id.
func (f *fixture) providerReturns(obj model.ProviderPayment) {
	f.provider.GetPaymentInfoFunc = func(ctx context.Context, id string) (*model.ProviderPayment, error) {
		cp := obj
		return &cp, nil
	}
}

func (f *fixture) setStatus(id int64, st model.PaymentStatus) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.payments[id].Status = st
}
