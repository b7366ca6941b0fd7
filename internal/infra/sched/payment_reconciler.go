package sched

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/ports/adapter"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/ports/repository"
	"github.com/orryxvpn/remnawave-tg-shop/internal/infra/metrics"
)

// ProcessingLister finds payments that stayed claimed for too long.
type ProcessingLister interface {
	ListProcessingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error)
}

// PaymentReconciler reports payments stuck in processing. It never moves
// them: activation may already have happened outside the database.
type PaymentReconciler struct {
	payments   ProcessingLister
	notifier   adapter.Notifier
	interval   time.Duration
	stuckAfter time.Duration
	log        *zerolog.Logger
	now        func() time.Time
}

func NewPaymentReconciler(payments ProcessingLister, notifier adapter.Notifier, interval, stuckAfter time.Duration, logger *zerolog.Logger) *PaymentReconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if stuckAfter <= 0 {
		stuckAfter = 15 * time.Minute
	}
	l := logger.With().Str("component", "PaymentReconciler").Logger()
	return &PaymentReconciler{
		payments:   payments,
		notifier:   notifier,
		interval:   interval,
		stuckAfter: stuckAfter,
		log:        &l,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (w *PaymentReconciler) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting payment reconciler")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping payment reconciler")
			return ctx.Err()
		case <-t.C:
			if _, err := w.Tick(ctx); err != nil {
				w.log.Error().Err(err).Msg("list processing payments")
			}
		}
	}
}

// Tick returns the stuck payments found and raises the alarm for them.
func (w *PaymentReconciler) Tick(ctx context.Context) ([]*model.Payment, error) {
	stuck, err := w.payments.ListProcessingOlderThan(ctx, repository.NoTX, w.now().Add(-w.stuckAfter), 200)
	if err != nil {
		return nil, err
	}
	metrics.SetStuckProcessing(len(stuck))
	if len(stuck) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(stuck))
	for _, p := range stuck {
		ids = append(ids, fmt.Sprint(p.ID))
		w.log.Warn().
			Int64("payment_id", p.ID).
			Int64("user_id", p.UserID).
			Time("updated_at", p.UpdatedAt).
			Msg("payment stuck in processing")
	}
	if w.notifier != nil {
		msg := fmt.Sprintf("%d payment(s) stuck in processing for over %s: %s", len(stuck), w.stuckAfter, strings.Join(ids, ", "))
		if err := w.notifier.NotifyAdmins(ctx, msg); err != nil {
			w.log.Warn().Err(err).Msg("operator alert not delivered")
		}
	}
	return stuck, nil
}
