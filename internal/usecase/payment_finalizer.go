package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/ports/adapter"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/ports/repository"
	"github.com/orryxvpn/remnawave-tg-shop/internal/infra/logging"
	"github.com/orryxvpn/remnawave-tg-shop/internal/infra/metrics"
)

// FinalizeOutcome tells the webhook layer whether the provider should
// redeliver. Only OutcomeRetry asks for redelivery.
type FinalizeOutcome string

const (
	OutcomeSucceeded        FinalizeOutcome = "succeeded"
	OutcomeAlreadyProcessed FinalizeOutcome = "already_processed"
	OutcomeTerminal         FinalizeOutcome = "terminal"
	OutcomeRejected         FinalizeOutcome = "rejected"
	OutcomeIgnored          FinalizeOutcome = "ignored"
	OutcomeRetry            FinalizeOutcome = "retry"
)

type FinalizeResult struct {
	Outcome   FinalizeOutcome
	Reason    string
	PaymentID int64
}

func (r FinalizeResult) Retryable() bool { return r.Outcome == OutcomeRetry }

// DiscountConsumer links a finalized payment to its promo activation inside
// the finalizer's transaction.
type DiscountConsumer interface {
	ConsumeDiscount(ctx context.Context, tx repository.Tx, userID, paymentID int64) (bool, error)
}

var errMarkLost = errors.New("payment left processing before mark-succeeded")

// PaymentFinalizer turns verified provider notifications into exactly one
// activation per payment: claim, activate, mark succeeded.
type PaymentFinalizer struct {
	payments     repository.PaymentRepository
	methods      repository.PaymentMethodRepository
	users        repository.UserRepository
	verifier     *PaymentVerifier
	provider     adapter.PaymentProvider
	activator    adapter.SubscriptionActivator
	discounts    DiscountConsumer
	notifier     adapter.Notifier
	tm           repository.TransactionManager
	log          *zerolog.Logger
	autopayments bool
}

func NewPaymentFinalizer(
	payments repository.PaymentRepository,
	methods repository.PaymentMethodRepository,
	users repository.UserRepository,
	verifier *PaymentVerifier,
	provider adapter.PaymentProvider,
	activator adapter.SubscriptionActivator,
	discounts DiscountConsumer,
	notifier adapter.Notifier,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
	autopayments bool,
) *PaymentFinalizer {
	l := logger.With().Str("component", "PaymentFinalizer").Logger()
	return &PaymentFinalizer{
		payments:     payments,
		methods:      methods,
		users:        users,
		verifier:     verifier,
		provider:     provider,
		activator:    activator,
		discounts:    discounts,
		notifier:     notifier,
		tm:           tm,
		log:          &l,
		autopayments: autopayments,
	}
}

// Handle dispatches on the event variant. A returned error always comes with
// OutcomeRetry.
func (f *PaymentFinalizer) Handle(ctx context.Context, ev model.WebhookEvent) (FinalizeResult, error) {
	defer logging.TraceDuration(f.log, "PaymentFinalizer.Handle")()

	obj := ev.Object()
	ctx = logging.WithProviderPaymentID(ctx, obj.ID)

	var (
		res FinalizeResult
		err error
	)
	switch e := ev.(type) {
	case model.PaymentSucceeded:
		res, err = f.handleSucceeded(ctx, e.Payment)
	case model.PaymentCanceled:
		res, err = f.handleCanceled(ctx, e.Payment)
	case model.PaymentWaitingForCapture:
		res, err = f.handleWaitingForCapture(ctx, e.Payment)
	default:
		res = FinalizeResult{Outcome: OutcomeIgnored, Reason: "unsupported_event"}
	}
	if err != nil {
		res.Outcome = OutcomeRetry
	}
	if res.Retryable() && res.PaymentID > 0 {
		// A retry is pointless once the ledger already holds a failure.
		if cur, ferr := f.payments.FindByID(ctx, repository.NoTX, res.PaymentID); ferr == nil && cur.Status.IsFailed() {
			res = FinalizeResult{Outcome: OutcomeTerminal, Reason: string(cur.Status), PaymentID: res.PaymentID}
			err = nil
		}
	}
	metrics.IncFinalizeOutcome(string(res.Outcome), res.Reason)
	return res, err
}

func (f *PaymentFinalizer) handleSucceeded(ctx context.Context, n model.ProviderPayment) (FinalizeResult, error) {
	log := logging.With(ctx, f.log)

	auth, err := f.verifier.VerifySucceeded(ctx, n)
	if err != nil {
		log.Warn().Err(err).Msg("succeeded notification failed verification")
		return FinalizeResult{Outcome: OutcomeRetry, Reason: verificationReason(err)}, nil
	}

	meta, err := model.ParsePaymentMetadata(auth.Metadata)
	if err != nil {
		log.Error().Err(err).Interface("metadata", auth.Metadata).Msg("malformed payment metadata")
		if id, ok := metaPaymentID(auth.Metadata); ok {
			f.fail(ctx, id, model.FailReasonMetadata)
			return FinalizeResult{Outcome: OutcomeTerminal, Reason: model.FailReasonMetadata, PaymentID: id}, nil
		}
		return FinalizeResult{Outcome: OutcomeRejected, Reason: model.FailReasonMetadata}, nil
	}

	ctx = logging.WithPaymentID(logging.WithUserID(ctx, meta.UserID), meta.PaymentDBID)
	log = logging.With(ctx, f.log)
	base := FinalizeResult{PaymentID: meta.PaymentDBID}

	p, err := f.payments.FindByID(ctx, repository.NoTX, meta.PaymentDBID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Error().Msg("payment row not found for succeeded notification")
		return FinalizeResult{Outcome: OutcomeRejected, Reason: "payment_not_found"}, nil
	}
	if err != nil {
		log.Error().Err(err).Msg("load payment")
		return with(base, OutcomeRetry, "storage"), err
	}

	switch {
	case p.Status == model.PaymentStatusSucceeded:
		log.Info().Msg("duplicate succeeded notification; already processed")
		return with(base, OutcomeAlreadyProcessed, ""), nil
	case p.Status.IsTerminal():
		log.Warn().Str("status", string(p.Status)).Msg("succeeded notification for a terminal payment")
		return with(base, OutcomeTerminal, string(p.Status)), nil
	case p.Status == model.PaymentStatusProcessing:
		return with(base, OutcomeRetry, "busy"), nil
	}

	switch {
	case p.UserID != meta.UserID:
		return f.failTerminal(ctx, base, model.FailReasonOwnership)
	case !model.AmountsEqual(p.Amount, auth.Amount):
		return f.failTerminal(ctx, base, model.FailReasonAmount)
	case !strings.EqualFold(p.Currency, auth.Currency):
		return f.failTerminal(ctx, base, model.FailReasonCurrency)
	}

	if _, err := f.users.FindByID(ctx, repository.NoTX, p.UserID); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) || errors.Is(err, domain.ErrNotFound) {
			return f.failTerminal(ctx, base, model.FailReasonUserNotFound)
		}
		log.Error().Err(err).Msg("load user")
		return with(base, OutcomeRetry, "storage"), err
	}

	prev := p.Status
	claimed, err := f.claim(ctx, p.ID, auth.ID)
	if errors.Is(err, domain.ErrAlreadyExists) {
		log.Error().Msg("provider payment id already bound to another payment")
		return f.failTerminal(ctx, base, model.FailReasonDuplicateProvider)
	}
	if err != nil {
		log.Error().Err(err).Msg("claim payment")
		return with(base, OutcomeRetry, "storage"), err
	}
	if !claimed {
		return f.afterLostClaim(ctx, base)
	}

	req := activationRequest(p, meta)
	var (
		result        *model.ActivationResult
		activationErr error
	)
	err = f.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if f.autopayments && auth.PaymentMethod != nil && auth.PaymentMethod.Saved && auth.PaymentMethod.ID != "" {
			if err := f.saveMethod(ctx, tx, p.UserID, p.Provider, auth.PaymentMethod); err != nil {
				return fmt.Errorf("save payment method: %w", err)
			}
		}

		res, err := f.activator.ActivateSubscription(ctx, tx, req)
		if err == nil && !res.Complete() {
			err = domain.ErrActivationFailed
		}
		if err != nil {
			activationErr = err
			return err
		}

		ok, err := f.payments.MarkSucceededOnce(ctx, tx, p.ID, auth.ID)
		if err != nil {
			return fmt.Errorf("mark succeeded: %w", err)
		}
		if !ok {
			return errMarkLost
		}

		if p.HasDiscount() {
			if _, err := f.discounts.ConsumeDiscount(ctx, tx, p.UserID, p.ID); err != nil {
				return fmt.Errorf("consume discount: %w", err)
			}
		}
		result = res
		return nil
	})

	switch {
	case err == nil:
	case activationErr != nil:
		log.Error().Err(activationErr).Msg("activation failed; rolling payment back for retry")
		f.rollback(ctx, p.ID, prev)
		return with(base, OutcomeRetry, "activation_failed"), nil
	case errors.Is(err, errMarkLost):
		log.Error().Msg("payment was no longer processing at mark-succeeded; notifications suppressed")
		return with(base, OutcomeRetry, "mark_conflict"), nil
	default:
		// Activation may already have external effects; the row stays in
		// processing for the reconciler instead of being re-activated.
		log.Error().Err(err).Msg("finalization transaction failed after activation")
		return with(base, OutcomeRetry, "commit_failed"), err
	}

	metrics.AddPaymentRevenue(p.Currency, p.Amount)
	log.Info().Str("amount", p.Amount.StringFixed(2)).Msg("payment finalized")
	f.notifySuccess(ctx, p, req, result)
	return with(base, OutcomeSucceeded, ""), nil
}

func (f *PaymentFinalizer) handleCanceled(ctx context.Context, n model.ProviderPayment) (FinalizeResult, error) {
	log := logging.With(ctx, f.log)

	auth, err := f.verifier.Refresh(ctx, n)
	if err != nil {
		log.Warn().Err(err).Msg("canceled notification could not be refreshed")
		return FinalizeResult{Outcome: OutcomeRetry, Reason: verificationReason(err)}, nil
	}
	if !auth.IsCanceled() {
		log.Warn().Str("provider_status", auth.Status).Msg("canceled notification disagrees with provider")
		return FinalizeResult{Outcome: OutcomeRetry, Reason: "status_mismatch"}, nil
	}

	id, ok := metaPaymentID(auth.Metadata)
	if !ok {
		return FinalizeResult{Outcome: OutcomeRejected, Reason: model.FailReasonMetadata}, nil
	}
	ctx = logging.WithPaymentID(ctx, id)
	log = logging.With(ctx, f.log)
	base := FinalizeResult{PaymentID: id}

	p, err := f.payments.FindByID(ctx, repository.NoTX, id)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn().Msg("canceled notification for unknown payment")
		return FinalizeResult{Outcome: OutcomeRejected, Reason: "payment_not_found"}, nil
	}
	if err != nil {
		return with(base, OutcomeRetry, "storage"), err
	}

	changed, err := f.payments.UpdateStatusIfPending(ctx, repository.NoTX, p.ID, model.PaymentStatusCanceled)
	if err != nil {
		log.Error().Err(err).Msg("mark payment canceled")
		return with(base, OutcomeRetry, "storage"), err
	}
	if !changed {
		log.Info().Str("status", string(p.Status)).Msg("canceled notification ignored; payment not pending")
		return with(base, OutcomeTerminal, "not_pending"), nil
	}

	f.notifyUser(ctx, p.UserID, "Your payment was not completed. No money was charged.")
	return with(base, OutcomeTerminal, string(model.PaymentStatusCanceled)), nil
}

// handleWaitingForCapture completes a card-binding payment: the method is
// saved and the authorization is released at the provider.
func (f *PaymentFinalizer) handleWaitingForCapture(ctx context.Context, n model.ProviderPayment) (FinalizeResult, error) {
	log := logging.With(ctx, f.log)

	auth, err := f.verifier.Refresh(ctx, n)
	if err != nil {
		log.Warn().Err(err).Msg("waiting_for_capture notification could not be refreshed")
		return FinalizeResult{Outcome: OutcomeRetry, Reason: verificationReason(err)}, nil
	}
	if auth.Status != model.ProviderStatusWaitingForCapture {
		log.Warn().Str("provider_status", auth.Status).Msg("waiting_for_capture notification disagrees with provider")
		return FinalizeResult{Outcome: OutcomeRetry, Reason: "status_mismatch"}, nil
	}
	if auth.Metadata[model.MetaBindOnly] != "1" || !f.autopayments {
		return FinalizeResult{Outcome: OutcomeIgnored, Reason: "not_bind_only"}, nil
	}
	userID, err := strconv.ParseInt(strings.TrimSpace(auth.Metadata[model.MetaUserID]), 10, 64)
	if err != nil || userID <= 0 {
		return FinalizeResult{Outcome: OutcomeRejected, Reason: model.FailReasonMetadata}, nil
	}
	ctx = logging.WithUserID(ctx, userID)
	log = logging.With(ctx, f.log)

	if auth.PaymentMethod == nil || auth.PaymentMethod.ID == "" {
		log.Warn().Msg("bind-only payment without a payment method")
		return FinalizeResult{Outcome: OutcomeRejected, Reason: "no_payment_method"}, nil
	}
	err = f.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		return f.saveMethod(ctx, tx, userID, f.provider.Name(), auth.PaymentMethod)
	})
	if err != nil {
		log.Error().Err(err).Msg("save bound payment method")
		return FinalizeResult{Outcome: OutcomeRetry, Reason: "storage"}, err
	}

	res := FinalizeResult{Outcome: OutcomeSucceeded, Reason: "bound"}
	if id, ok := metaPaymentID(auth.Metadata); ok {
		res.PaymentID = id
		if _, err := f.payments.UpdateStatusIfPending(ctx, repository.NoTX, id, model.PaymentStatusCanceled); err != nil {
			log.Warn().Err(err).Msg("close bind-only ledger row")
		}
	}

	f.notifyUser(ctx, userID, "Your card was linked for automatic renewal.")
	if err := f.provider.CancelPayment(ctx, auth.ID, "cancel-"+auth.ID); err != nil {
		log.Warn().Err(err).Msg("release bind-only authorization")
	}
	return res, nil
}

func (f *PaymentFinalizer) claim(ctx context.Context, paymentID int64, providerPaymentID string) (bool, error) {
	var claimed bool
	err := f.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ok, err := f.payments.ClaimForProcessing(ctx, tx, paymentID, providerPaymentID)
		claimed = ok
		return err
	})
	return claimed, err
}

func (f *PaymentFinalizer) afterLostClaim(ctx context.Context, base FinalizeResult) (FinalizeResult, error) {
	cur, err := f.payments.FindByID(ctx, repository.NoTX, base.PaymentID)
	if err != nil {
		return with(base, OutcomeRetry, "storage"), err
	}
	switch {
	case cur.Status == model.PaymentStatusSucceeded:
		return with(base, OutcomeAlreadyProcessed, ""), nil
	case cur.Status.IsTerminal():
		return with(base, OutcomeTerminal, string(cur.Status)), nil
	default:
		logging.With(ctx, f.log).Info().Str("status", string(cur.Status)).Msg("payment claimed by another delivery")
		return with(base, OutcomeRetry, "busy"), nil
	}
}

// rollback returns a claimed payment to its pre-claim status in its own
// transaction; the work transaction has already been rolled back.
func (f *PaymentFinalizer) rollback(ctx context.Context, paymentID int64, prev model.PaymentStatus) {
	ctx = context.WithoutCancel(ctx)
	var ok bool
	err := f.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		ok, err = f.payments.RollbackProcessing(ctx, tx, paymentID, prev)
		return err
	})
	log := logging.With(ctx, f.log)
	switch {
	case err != nil:
		metrics.IncRollback("error")
		log.Error().Err(err).Msg("rollback of processing payment failed")
	case !ok:
		metrics.IncRollback("noop")
		log.Warn().Msg("rollback found payment no longer processing")
	default:
		metrics.IncRollback("ok")
	}
}

func (f *PaymentFinalizer) fail(ctx context.Context, paymentID int64, reason string) {
	ok, err := f.payments.UpdateStatusIfPending(ctx, repository.NoTX, paymentID, model.FailedStatus(reason))
	log := logging.With(ctx, f.log)
	if err != nil {
		log.Error().Err(err).Str("reason", reason).Msg("record payment failure")
		return
	}
	if ok {
		log.Warn().Str("reason", reason).Msg("payment marked failed")
	}
}

func (f *PaymentFinalizer) failTerminal(ctx context.Context, base FinalizeResult, reason string) (FinalizeResult, error) {
	f.fail(ctx, base.PaymentID, reason)
	return with(base, OutcomeTerminal, reason), nil
}

func (f *PaymentFinalizer) saveMethod(ctx context.Context, tx repository.Tx, userID int64, provider string, pm *model.ProviderPaymentMethod) error {
	return f.methods.Upsert(ctx, tx, &model.UserPaymentMethod{
		UserID:                  userID,
		Provider:                provider,
		ProviderPaymentMethodID: pm.ID,
		CardLast4:               pm.CardLast4,
		CardNetwork:             pm.CardNetwork,
		Title:                   pm.Title,
		IsDefault:               true,
	})
}

func (f *PaymentFinalizer) notifySuccess(ctx context.Context, p *model.Payment, req model.ActivationRequest, res *model.ActivationResult) {
	var b strings.Builder
	b.WriteString("Payment received. ")
	if req.SaleMode == model.SaleModeTraffic {
		fmt.Fprintf(&b, "%s GB of traffic added", req.TrafficGB.String())
	} else {
		fmt.Fprintf(&b, "Subscription extended by %d month(s)", req.Months)
	}
	fmt.Fprintf(&b, ", paid %s %s.", p.Amount.StringFixed(2), p.Currency)
	if res.AppliedPromoBonusDays > 0 {
		fmt.Fprintf(&b, " Bonus: +%d days.", res.AppliedPromoBonusDays)
	}
	fmt.Fprintf(&b, " Active until %s.", res.EndDate.Format("2006-01-02"))
	f.notifyUser(ctx, p.UserID, b.String())

	admin := fmt.Sprintf("Payment #%d succeeded: user %d, %s %s, %s", p.ID, p.UserID, p.Amount.StringFixed(2), p.Currency, p.SaleMode)
	if p.HasDiscount() {
		admin += fmt.Sprintf(", discount %s (promo #%d)", p.DiscountApplied.Decimal.StringFixed(2), *p.PromoCodeID)
	}
	if err := f.notifier.NotifyAdmins(ctx, admin); err != nil {
		logging.With(ctx, f.log).Warn().Err(err).Msg("admin notification failed")
	}
}

func (f *PaymentFinalizer) notifyUser(ctx context.Context, userID int64, text string) {
	if err := f.notifier.NotifyUser(ctx, userID, text); err != nil {
		logging.With(ctx, f.log).Warn().Err(err).Msg("user notification failed")
	}
}

func activationRequest(p *model.Payment, meta model.PaymentMetadata) model.ActivationRequest {
	req := model.ActivationRequest{
		UserID:         p.UserID,
		PaymentID:      p.ID,
		Months:         meta.SubscriptionMonths,
		TrafficGB:      meta.TrafficGB,
		SaleMode:       meta.SaleMode,
		Amount:         p.Amount,
		Provider:       p.Provider,
		PromoCodeID:    p.PromoCodeID,
		AutoRenewSubID: meta.AutoRenewSubID,
	}
	if p.DurationMonths != nil && *p.DurationMonths > 0 {
		req.Months = *p.DurationMonths
	}
	if p.TrafficGB.Valid {
		req.TrafficGB = p.TrafficGB.Decimal
	}
	if p.SaleMode != "" {
		req.SaleMode = p.SaleMode
	}
	return req
}

func metaPaymentID(meta map[string]string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(meta[model.MetaPaymentDBID]), 10, 64)
	return id, err == nil && id > 0
}

func verificationReason(err error) string {
	if errors.Is(err, domain.ErrVerificationMismatch) {
		return "verification_mismatch"
	}
	return "verification_unavailable"
}

func with(base FinalizeResult, outcome FinalizeOutcome, reason string) FinalizeResult {
	base.Outcome = outcome
	base.Reason = reason
	return base
}
