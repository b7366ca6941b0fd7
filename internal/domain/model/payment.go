package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPendingYooKassa PaymentStatus = "pending_yookassa" // created, awaiting provider notification
	PaymentStatusPendingStars    PaymentStatus = "pending_stars"
	PaymentStatusProcessing      PaymentStatus = "processing" // claimed by one finalizer, not user-visible
	PaymentStatusSucceeded       PaymentStatus = "succeeded"
	PaymentStatusCanceled        PaymentStatus = "canceled"
)

// Terminal failure reasons; stored as "failed_<reason>".
const (
	FailReasonMetadata          = "metadata_error"
	FailReasonUserNotFound      = "user_not_found"
	FailReasonOwnership         = "ownership_mismatch"
	FailReasonAmount            = "amount_mismatch"
	FailReasonCurrency          = "currency_mismatch"
	FailReasonDuplicateProvider = "duplicate_provider_payment"
)

const (
	pendingStatusPrefix = "pending"
	failedStatusPrefix  = "failed"
)

// PendingStatusPrefix is the prefix every pending status starts with.
func PendingStatusPrefix() string { return pendingStatusPrefix + "_" }

// PendingStatusPattern is PendingStatusPrefix as a LIKE pattern; the
// underscore is escaped so it matches itself only.
func PendingStatusPattern() string { return pendingStatusPrefix + `\_%` }

func FailedStatus(reason string) PaymentStatus {
	return PaymentStatus(failedStatusPrefix + "_" + reason)
}

func PendingStatusFor(provider string) PaymentStatus {
	return PaymentStatus(pendingStatusPrefix + "_" + strings.ToLower(provider))
}

func (s PaymentStatus) IsPending() bool { return strings.HasPrefix(string(s), PendingStatusPrefix()) }
func (s PaymentStatus) IsFailed() bool  { return strings.HasPrefix(string(s), failedStatusPrefix) }

// IsTerminal reports whether no further transition is expected.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusCanceled || s.IsFailed()
}

type SaleMode string

const (
	SaleModeSubscription SaleMode = "subscription"
	SaleModeTraffic      SaleMode = "traffic"
)

// Payment is the ledger row for one purchase attempt.
type Payment struct {
	ID                int64
	UserID            int64
	Provider          string
	ProviderPaymentID *string
	IdempotenceKey    *string
	Amount            decimal.Decimal
	OriginalAmount    decimal.NullDecimal
	DiscountApplied   decimal.NullDecimal
	Currency          string
	Status            PaymentStatus
	Description       string
	DurationMonths    *int
	TrafficGB         decimal.NullDecimal
	SaleMode          SaleMode
	PromoCodeID       *int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasDiscount reports whether the ledger row shows a discount was charged.
func (p *Payment) HasDiscount() bool {
	return p.PromoCodeID != nil && p.DiscountApplied.Valid && p.DiscountApplied.Decimal.IsPositive()
}

// AmountsEqual compares money at two-decimal precision.
func AmountsEqual(a, b decimal.Decimal) bool {
	return a.Round(2).Equal(b.Round(2))
}

// UserPaymentMethod is a saved provider payment method used for auto-renewal.
type UserPaymentMethod struct {
	ID                      int64
	UserID                  int64
	Provider                string
	ProviderPaymentMethodID string
	CardLast4               string
	CardNetwork             string
	Title                   string
	IsDefault               bool
	CreatedAt               time.Time
}
