package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/ports/adapter"
)

var _ adapter.PaymentProvider = (*NoopPaymentGateway)(nil)

// NoopPaymentGateway is an in-memory provider for local runs. Payments it
// creates succeed immediately when looked up.
type NoopPaymentGateway struct {
	mu       sync.Mutex
	seq      int64
	payments map[string]model.ProviderPayment
}

func NewNoopPaymentGateway() *NoopPaymentGateway {
	return &NoopPaymentGateway{payments: make(map[string]model.ProviderPayment)}
}

func (g *NoopPaymentGateway) Name() string     { return "yookassa" }
func (g *NoopPaymentGateway) Configured() bool { return true }

func (g *NoopPaymentGateway) next() string {
	g.seq++
	return fmt.Sprintf("noop-%d", g.seq)
}

func (g *NoopPaymentGateway) CreatePayment(ctx context.Context, req adapter.CreatePaymentRequest) (*adapter.CreatePaymentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next()
	meta := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		meta[k] = v
	}
	g.payments[id] = model.ProviderPayment{
		ID:          id,
		Status:      model.ProviderStatusSucceeded,
		Paid:        true,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		Metadata:    meta,
	}
	return &adapter.CreatePaymentResult{ProviderPaymentID: id, Status: model.ProviderStatusPending, ConfirmationURL: "https://example.test/pay/" + id}, nil
}

func (g *NoopPaymentGateway) GetPaymentInfo(ctx context.Context, providerPaymentID string) (*model.ProviderPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[providerPaymentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (g *NoopPaymentGateway) CancelPayment(ctx context.Context, providerPaymentID, idempotenceKey string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[providerPaymentID]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = model.ProviderStatusCanceled
	p.Paid = false
	g.payments[providerPaymentID] = p
	return nil
}
