package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/ports/adapter"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/ports/repository"
	"github.com/orryxvpn/remnawave-tg-shop/internal/infra/logging"
	"github.com/orryxvpn/remnawave-tg-shop/internal/infra/metrics"
)

const defaultDiscountTimeout = 10 * time.Minute

// RedeemLimiter throttles redemption attempts per key.
type RedeemLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// DiscountView is a live reservation together with its code.
type DiscountView struct {
	model.ActiveDiscount
	Code string
}

type BonusResult struct {
	Code      string
	BonusDays int
	EndDate   time.Time
}

type CreatePromoInput struct {
	Code               string     `json:"code" validate:"required,min=3,max=64"`
	Type               string     `json:"type" validate:"required,oneof=bonus_days discount"`
	BonusDays          int        `json:"bonus_days" validate:"gte=0"`
	DiscountPercentage int        `json:"discount_percentage" validate:"gte=0,lte=100"`
	MaxActivations     int        `json:"max_activations" validate:"gte=1"`
	ValidUntil         *time.Time `json:"valid_until"`
	AdminID            *int64     `json:"-"`
}

// PromoUseCase owns promo redemption and the per-user discount reservation.
// Every counter change is made in the same transaction as the activation or
// reservation change it accounts for.
type PromoUseCase struct {
	promos    repository.PromoCodeRepository
	discounts repository.ActiveDiscountRepository
	payments  repository.PaymentRepository
	subs      repository.SubscriptionRepository
	notifier  adapter.Notifier
	tm        repository.TransactionManager
	log       *zerolog.Logger

	timeout     time.Duration
	limiter     RedeemLimiter
	limit       int
	limitWindow time.Duration
	now         func() time.Time
}

type PromoOption func(*PromoUseCase)

func WithDiscountTimeout(d time.Duration) PromoOption {
	return func(u *PromoUseCase) {
		if d > 0 {
			u.timeout = d
		}
	}
}

func WithRedeemLimiter(l RedeemLimiter, limit int, window time.Duration) PromoOption {
	return func(u *PromoUseCase) {
		u.limiter, u.limit, u.limitWindow = l, limit, window
	}
}

func WithClock(now func() time.Time) PromoOption {
	return func(u *PromoUseCase) { u.now = now }
}

func NewPromoUseCase(
	promos repository.PromoCodeRepository,
	discounts repository.ActiveDiscountRepository,
	payments repository.PaymentRepository,
	subs repository.SubscriptionRepository,
	notifier adapter.Notifier,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
	opts ...PromoOption,
) *PromoUseCase {
	l := logger.With().Str("component", "PromoUseCase").Logger()
	u := &PromoUseCase{
		promos:    promos,
		discounts: discounts,
		payments:  payments,
		subs:      subs,
		notifier:  notifier,
		tm:        tm,
		log:       &l,
		timeout:   defaultDiscountTimeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(u)
	}
	return u
}

// ApplyDiscountPromo reserves a discount for userID. A live reservation is
// reported as *domain.ActiveDiscountExistsError and never replaced.
func (u *PromoUseCase) ApplyDiscountPromo(ctx context.Context, userID int64, code string) (*model.ActiveDiscount, error) {
	defer logging.TraceDuration(u.log, "PromoUseCase.ApplyDiscountPromo")()
	if err := u.allow(ctx, userID); err != nil {
		return nil, err
	}

	now := u.now()
	var (
		out       *model.ActiveDiscount
		rejection error
	)
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		out, rejection = nil, nil

		existing, err := u.discounts.Get(ctx, tx, userID, now, true)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return err
		case existing.Expired(now):
			if err := u.releaseExpired(ctx, tx, existing, now); err != nil {
				return err
			}
		default:
			promo, err := u.promos.FindByID(ctx, tx, existing.PromoCodeID)
			if err == nil {
				rejection = &domain.ActiveDiscountExistsError{Code: promo.Code, Percentage: existing.DiscountPercentage, ExpiresAt: existing.ExpiresAt}
				return nil
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			if _, err := u.discounts.Clear(ctx, tx, userID); err != nil {
				return err
			}
		}

		promo, err := u.promos.FindActiveByCode(ctx, tx, code, model.PromoTypeDiscount, now)
		if errors.Is(err, domain.ErrPromoNotFound) {
			rejection = err
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := u.promos.FindActivation(ctx, tx, promo.ID, userID); err == nil {
			rejection = domain.ErrPromoAlreadyUsed
			return nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		d := &model.ActiveDiscount{
			UserID:             userID,
			PromoCodeID:        promo.ID,
			DiscountPercentage: promo.DiscountPercentage,
			ActivatedAt:        now,
			ExpiresAt:          now.Add(u.timeout),
		}
		if err := u.discounts.Insert(ctx, tx, d); err != nil {
			return err
		}
		ok, _, _, err := u.promos.IncrementUsage(ctx, tx, promo.ID, false)
		if err != nil {
			return err
		}
		if !ok {
			if _, err := u.discounts.ClearIfMatches(ctx, tx, userID, promo.ID, nil); err != nil {
				return err
			}
			rejection = domain.ErrPromoExhausted
			return nil
		}
		out = d
		return nil
	})
	if err == nil {
		err = rejection
	}
	metrics.IncPromoRedemption(string(model.PromoTypeDiscount), redemptionResult(err))
	if err != nil {
		return nil, err
	}

	u.log.Info().
		Int64("user_id", userID).
		Str("code", model.NormalizePromoCode(code)).
		Int("percentage", out.DiscountPercentage).
		Time("expires_at", out.ExpiresAt).
		Msg("discount reserved")
	return out, nil
}

// ApplyBonusPromo adds a bonus-days code to the user's active subscription.
func (u *PromoUseCase) ApplyBonusPromo(ctx context.Context, userID int64, code string) (*BonusResult, error) {
	defer logging.TraceDuration(u.log, "PromoUseCase.ApplyBonusPromo")()
	if err := u.allow(ctx, userID); err != nil {
		return nil, err
	}

	now := u.now()
	var out *BonusResult
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		promo, err := u.promos.FindActiveByCode(ctx, tx, code, model.PromoTypeBonusDays, now)
		if err != nil {
			return err
		}
		if _, err := u.promos.FindActivation(ctx, tx, promo.ID, userID); err == nil {
			return domain.ErrPromoAlreadyUsed
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		sub, err := u.subs.FindActiveByUser(ctx, tx, userID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNoActiveSubscription
		}
		if err != nil {
			return err
		}

		ok, _, _, err := u.promos.IncrementUsage(ctx, tx, promo.ID, false)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrPromoExhausted
		}
		recorded, err := u.promos.RecordActivation(ctx, tx, promo.ID, userID, nil)
		if err != nil {
			return err
		}
		if !recorded {
			return domain.ErrPromoAlreadyUsed
		}

		sub.EndDate = sub.ExtendFrom(now).AddDate(0, 0, promo.BonusDays)
		sub.IsActive = true
		if _, err := u.subs.Save(ctx, tx, sub); err != nil {
			return err
		}
		out = &BonusResult{Code: promo.Code, BonusDays: promo.BonusDays, EndDate: sub.EndDate}
		return nil
	})
	metrics.IncPromoRedemption(string(model.PromoTypeBonusDays), redemptionResult(err))
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("Promo %s activated by user %d: +%d days", out.Code, userID, out.BonusDays)
	if err := u.notifier.NotifyAdmins(ctx, msg); err != nil {
		u.log.Warn().Err(err).Msg("admin notification failed")
	}
	return out, nil
}

// GetActiveDiscount returns the live reservation or domain.ErrNotFound.
// Stale reservations found on the way are cleaned up.
func (u *PromoUseCase) GetActiveDiscount(ctx context.Context, userID int64) (*DiscountView, error) {
	now := u.now()
	var out *DiscountView
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		out = nil
		d, err := u.discounts.Get(ctx, tx, userID, now, true)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return err
		}
		if d.Expired(now) {
			return u.releaseExpired(ctx, tx, d, now)
		}

		promo, err := u.promos.FindByID(ctx, tx, d.PromoCodeID)
		if errors.Is(err, domain.ErrNotFound) {
			_, err = u.discounts.Clear(ctx, tx, userID)
			return err
		}
		if err != nil {
			return err
		}
		if promo.Expired(now) {
			u.log.Info().Str("code", promo.Code).Int64("user_id", userID).Msg("promo validity ended; clearing reservation")
			cleared, err := u.discounts.ClearIfMatches(ctx, tx, userID, promo.ID, nil)
			if err != nil {
				return err
			}
			if cleared {
				return u.promos.DecrementUsage(ctx, tx, promo.ID, 1)
			}
			return nil
		}
		out = &DiscountView{ActiveDiscount: *d, Code: promo.Code}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, domain.ErrNotFound
	}
	return out, nil
}

// DiscountForPrice prices an item for userID. Without a live reservation the
// original price is returned with a zero discount and a nil promo id.
func (u *PromoUseCase) DiscountForPrice(ctx context.Context, userID int64, price decimal.Decimal) (final, discount decimal.Decimal, promoID *int64, err error) {
	view, err := u.GetActiveDiscount(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return price, decimal.Zero, nil, nil
	}
	if err != nil {
		return decimal.Zero, decimal.Zero, nil, err
	}
	final, discount = model.CalculateDiscountedPrice(price, view.DiscountPercentage)
	id := view.PromoCodeID
	return final, discount, &id, nil
}

// ConsumeDiscount runs inside the finalizer's transaction. The payment row
// decides whether a discount was charged, whatever happened to the
// reservation in the meantime.
func (u *PromoUseCase) ConsumeDiscount(ctx context.Context, tx repository.Tx, userID, paymentID int64) (bool, error) {
	log := u.log.With().Int64("user_id", userID).Int64("payment_id", paymentID).Logger()

	p, err := u.payments.FindByID(ctx, tx, paymentID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn().Msg("payment not found for discount consumption")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !p.HasDiscount() {
		if p.DiscountApplied.Valid && p.DiscountApplied.Decimal.IsPositive() {
			log.Warn().Msg("payment has a discount but no promo code")
		}
		return false, nil
	}
	promoID := *p.PromoCodeID
	log = log.With().Int64("promo_code_id", promoID).Logger()

	created := false
	act, err := u.promos.FindActivation(ctx, tx, promoID, userID)
	switch {
	case err == nil:
		if act.PaymentID == nil {
			if _, err := u.promos.LinkActivationPayment(ctx, tx, promoID, userID, paymentID); err != nil {
				return false, err
			}
		}
	case errors.Is(err, domain.ErrNotFound):
		recorded, err := u.promos.RecordActivation(ctx, tx, promoID, userID, &paymentID)
		if err != nil {
			return false, err
		}
		if !recorded {
			log.Error().Msg("could not record discount activation")
			return false, nil
		}
		created = true
	default:
		return false, err
	}

	cleared := false
	d, err := u.discounts.Get(ctx, tx, userID, u.now(), true)
	switch {
	case err == nil && d.PromoCodeID == promoID:
		if cleared, err = u.discounts.ClearIfMatches(ctx, tx, userID, promoID, nil); err != nil {
			return false, err
		}
	case err == nil:
		log.Info().Int64("reserved_promo_code_id", d.PromoCodeID).Msg("reservation belongs to another promo; left untouched")
	case errors.Is(err, domain.ErrNotFound):
		log.Info().Msg("reservation already gone at consumption")
	default:
		return false, err
	}

	// The reservation's usage was already given back on expiry; this payment
	// still used the code, so count it again.
	if created && !cleared {
		_, cur, max, err := u.promos.IncrementUsage(ctx, tx, promoID, true)
		if err != nil {
			return false, err
		}
		if cur > max {
			metrics.IncPromoOverflow(strconv.FormatInt(promoID, 10))
			log.Warn().Int("current", cur).Int("max", max).Msg("promo activations exceed max after reconciliation")
		}
	}

	log.Info().Msg("discount consumed")
	return true, nil
}

// ExpireDiscounts removes up to limit reservations expired at now and
// returns the ones this call actually deleted. One transaction per batch.
func (u *PromoUseCase) ExpireDiscounts(ctx context.Context, now time.Time, limit int) ([]*model.ExpiredDiscount, error) {
	var removed []*model.ExpiredDiscount
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		removed = nil
		list, err := u.discounts.ListExpired(ctx, tx, now, limit)
		if err != nil {
			return err
		}
		for _, d := range list {
			ok, err := u.discounts.ClearIfMatches(ctx, tx, d.UserID, d.PromoCodeID, &now)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := u.promos.DecrementUsage(ctx, tx, d.PromoCodeID, 1); err != nil {
				return err
			}
			removed = append(removed, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// DeactivatePromo disables a code and releases its outstanding reservations.
func (u *PromoUseCase) DeactivatePromo(ctx context.Context, promoID int64) (int, error) {
	var cleared int
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.promos.SetActive(ctx, tx, promoID, false); err != nil {
			return err
		}
		n, err := u.discounts.ClearByPromoCode(ctx, tx, promoID)
		if err != nil {
			return err
		}
		cleared = n
		return u.promos.DecrementUsage(ctx, tx, promoID, n)
	})
	if err != nil {
		return 0, err
	}
	u.log.Info().Int64("promo_code_id", promoID).Int("reservations_cleared", cleared).Msg("promo deactivated")
	return cleared, nil
}

func (u *PromoUseCase) CreatePromo(ctx context.Context, in CreatePromoInput) (*model.PromoCode, error) {
	p, err := model.NewPromoCode(in.Code, model.PromoType(in.Type), in.BonusDays, in.DiscountPercentage, in.MaxActivations, in.ValidUntil, in.AdminID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	if _, err := u.promos.Create(ctx, repository.NoTX, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (u *PromoUseCase) ListPromos(ctx context.Context, offset, limit int) ([]*model.PromoCode, error) {
	return u.promos.List(ctx, repository.NoTX, offset, limit)
}

func (u *PromoUseCase) GetPromo(ctx context.Context, id int64) (*model.PromoCode, error) {
	return u.promos.FindByID(ctx, repository.NoTX, id)
}

// releaseExpired deletes an expired reservation and gives its usage back,
// unless someone else removed it first.
func (u *PromoUseCase) releaseExpired(ctx context.Context, tx repository.Tx, d *model.ActiveDiscount, now time.Time) error {
	ok, err := u.discounts.ClearIfMatches(ctx, tx, d.UserID, d.PromoCodeID, &now)
	if err != nil || !ok {
		return err
	}
	return u.promos.DecrementUsage(ctx, tx, d.PromoCodeID, 1)
}

func (u *PromoUseCase) allow(ctx context.Context, userID int64) error {
	if u.limiter == nil || u.limit <= 0 {
		return nil
	}
	ok, err := u.limiter.Allow(ctx, fmt.Sprintf("rate_limit:%d:promo_redeem", userID), u.limit, u.limitWindow)
	if err != nil {
		// fail open: the limiter is not part of correctness
		u.log.Warn().Err(err).Msg("redeem limiter unavailable")
		return nil
	}
	if !ok {
		return domain.ErrRateLimited
	}
	return nil
}

func redemptionResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrDiscountAlreadyActive):
		return "already_active"
	case errors.Is(err, domain.ErrPromoNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrPromoAlreadyUsed):
		return "already_used"
	case errors.Is(err, domain.ErrPromoExhausted):
		return "exhausted"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrNoActiveSubscription):
		return "no_subscription"
	default:
		return "error"
	}
}
