package repository

import (
	"context"
	"time"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
)

// -----------------------------
// Payments
// -----------------------------

// PaymentRepository is the payment ledger. Every state transition is a single
// conditional UPDATE; the bool result is "this call moved the row".
type PaymentRepository interface {
	Create(ctx context.Context, tx Tx, p *model.Payment) (int64, error)
	FindByID(ctx context.Context, tx Tx, id int64) (*model.Payment, error)
	FindByProviderPaymentID(ctx context.Context, tx Tx, providerPaymentID string) (*model.Payment, error)
	SetProviderPaymentID(ctx context.Context, tx Tx, id int64, providerPaymentID string) error

	// ClaimForProcessing moves a pending_* row to processing and records the
	// provider id. Returns domain.ErrAlreadyExists when another row owns the
	// provider id.
	ClaimForProcessing(ctx context.Context, tx Tx, id int64, providerPaymentID string) (bool, error)
	// RollbackProcessing restores a processing row to prev (a pending_* status).
	RollbackProcessing(ctx context.Context, tx Tx, id int64, prev model.PaymentStatus) (bool, error)
	// MarkSucceededOnce moves a processing row to succeeded.
	MarkSucceededOnce(ctx context.Context, tx Tx, id int64, providerPaymentID string) (bool, error)
	// UpdateStatusIfPending writes a terminal status only from pending_*.
	UpdateStatusIfPending(ctx context.Context, tx Tx, id int64, status model.PaymentStatus) (bool, error)

	ListProcessingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Payment, error)
}

type PaymentMethodRepository interface {
	// Upsert stores or refreshes a method keyed by the provider's method id.
	Upsert(ctx context.Context, tx Tx, m *model.UserPaymentMethod) error
	ListByUser(ctx context.Context, tx Tx, userID int64) ([]*model.UserPaymentMethod, error)
}
