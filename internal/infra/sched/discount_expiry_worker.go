package sched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/ports/adapter"
	"github.com/orryxvpn/remnawave-tg-shop/internal/infra/metrics"
)

const (
	sweepLockKey    = "lock:discount_sweep"
	maxSweepBatches = 20
)

// DiscountExpirer removes reservations expired at now, one transaction per call.
type DiscountExpirer interface {
	ExpireDiscounts(ctx context.Context, now time.Time, limit int) ([]*model.ExpiredDiscount, error)
}

// Locker is an optional cross-replica guard.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, key, token string) error
}

// DiscountExpiryWorker periodically releases expired discount reservations
// and tells the affected users.
type DiscountExpiryWorker struct {
	interval    time.Duration
	batch       int
	passTimeout time.Duration
	promos      DiscountExpirer
	notifier    adapter.Notifier
	locker      Locker
	log         *zerolog.Logger
	now         func() time.Time
}

func NewDiscountExpiryWorker(interval time.Duration, batch int, promos DiscountExpirer, notifier adapter.Notifier, locker Locker, logger *zerolog.Logger) *DiscountExpiryWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	l := logger.With().Str("component", "DiscountExpiryWorker").Logger()
	return &DiscountExpiryWorker{
		interval:    interval,
		batch:       batch,
		passTimeout: 2 * interval,
		promos:      promos,
		notifier:    notifier,
		locker:      locker,
		log:         &l,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (w *DiscountExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting discount expiry worker")
	w.pass(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping discount expiry worker")
			return ctx.Err()
		case <-ticker.C:
			w.pass(ctx)
		}
	}
}

func (w *DiscountExpiryWorker) pass(ctx context.Context) {
	n, err := w.RunOnce(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("discount sweep failed")
		return
	}
	if n > 0 {
		w.log.Info().Int("count", n).Msg("expired discounts released")
	}
}

// RunOnce drains expired reservations in batches. A started batch ignores the
// caller's cancellation so it is committed and its users are told; once the
// caller is canceled no further batch starts.
func (w *DiscountExpiryWorker) RunOnce(parent context.Context) (n int, err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), w.passTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			metrics.IncDiscountSweep("panic")
			err = fmt.Errorf("discount sweep panic: %v", r)
		}
	}()

	if w.locker != nil {
		token, lerr := w.locker.TryLock(ctx, sweepLockKey, w.interval)
		switch {
		case errors.Is(lerr, domain.ErrLockNotAcquired):
			metrics.IncDiscountSweep("skipped")
			return 0, nil
		case lerr != nil:
			w.log.Warn().Err(lerr).Msg("sweep lock unavailable; sweeping anyway")
		default:
			defer func() {
				if uerr := w.locker.Unlock(ctx, sweepLockKey, token); uerr != nil {
					w.log.Warn().Err(uerr).Msg("sweep unlock failed")
				}
			}()
		}
	}

	now := w.now()
	for i := 0; i < maxSweepBatches; i++ {
		removed, err := w.promos.ExpireDiscounts(ctx, now, w.batch)
		if err != nil {
			metrics.IncDiscountSweep("error")
			return n, err
		}
		n += len(removed)
		metrics.AddDiscountsExpired(len(removed))
		for _, d := range removed {
			w.notify(ctx, d)
		}
		if len(removed) < w.batch {
			break
		}
		if parent.Err() != nil {
			w.log.Info().Int("count", n).Msg("sweep stopped after in-flight batch")
			break
		}
	}
	metrics.IncDiscountSweep("ok")
	return n, nil
}

func (w *DiscountExpiryWorker) notify(ctx context.Context, d *model.ExpiredDiscount) {
	if w.notifier == nil {
		return
	}
	text := fmt.Sprintf("Your %d%% discount expired before payment.", d.DiscountPercentage)
	if d.Code != "" {
		text = fmt.Sprintf("Your %d%% discount from promo code %s expired before payment.", d.DiscountPercentage, d.Code)
	}
	if err := w.notifier.NotifyUser(ctx, d.UserID, text); err != nil {
		w.log.Warn().Err(err).Int64("user_id", d.UserID).Msg("expiry notice not delivered")
	}
}
