package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain"
)

// Provider-side payment statuses.
const (
	ProviderStatusPending           = "pending"
	ProviderStatusWaitingForCapture = "waiting_for_capture"
	ProviderStatusSucceeded         = "succeeded"
	ProviderStatusCanceled          = "canceled"
)

// ProviderPaymentMethod is the provider's snapshot of the instrument used.
type ProviderPaymentMethod struct {
	ID          string
	Type        string
	Saved       bool
	Title       string
	CardLast4   string
	CardNetwork string
}

// ProviderPayment is a payment as described by the provider, either in a
// webhook body or in the authoritative API response.
type ProviderPayment struct {
	ID            string
	Status        string
	Paid          bool
	Amount        decimal.Decimal
	Currency      string
	Description   string
	Metadata      map[string]string
	PaymentMethod *ProviderPaymentMethod
}

// IsCanceled accepts both spellings providers use.
func (p ProviderPayment) IsCanceled() bool {
	s := strings.ToLower(p.Status)
	return s == ProviderStatusCanceled || s == "cancelled"
}

// Overlay replaces the webhook copy with the provider's authoritative fields.
// A payment method snapshot without an id is ignored.
func (p ProviderPayment) Overlay(auth ProviderPayment) ProviderPayment {
	out := p
	out.Status = auth.Status
	out.Paid = auth.Paid
	if !auth.Amount.IsZero() {
		out.Amount = auth.Amount
	}
	if auth.Currency != "" {
		out.Currency = auth.Currency
	}
	if len(auth.Metadata) > 0 {
		out.Metadata = auth.Metadata
	}
	if auth.PaymentMethod != nil && auth.PaymentMethod.ID != "" {
		pm := *auth.PaymentMethod
		out.PaymentMethod = &pm
	}
	return out
}

type WebhookEventKind string

const (
	EventPaymentSucceeded         WebhookEventKind = "payment.succeeded"
	EventPaymentCanceled          WebhookEventKind = "payment.canceled"
	EventPaymentWaitingForCapture WebhookEventKind = "payment.waiting_for_capture"
)

// WebhookEvent is one of PaymentSucceeded, PaymentCanceled,
// PaymentWaitingForCapture or UnsupportedEvent.
type WebhookEvent interface {
	Kind() WebhookEventKind
	Object() ProviderPayment
}

type PaymentSucceeded struct{ Payment ProviderPayment }
type PaymentCanceled struct{ Payment ProviderPayment }
type PaymentWaitingForCapture struct{ Payment ProviderPayment }
type UnsupportedEvent struct {
	Name    string
	Payment ProviderPayment
}

func (e PaymentSucceeded) Kind() WebhookEventKind         { return EventPaymentSucceeded }
func (e PaymentSucceeded) Object() ProviderPayment        { return e.Payment }
func (e PaymentCanceled) Kind() WebhookEventKind          { return EventPaymentCanceled }
func (e PaymentCanceled) Object() ProviderPayment         { return e.Payment }
func (e PaymentWaitingForCapture) Kind() WebhookEventKind { return EventPaymentWaitingForCapture }
func (e PaymentWaitingForCapture) Object() ProviderPayment {
	return e.Payment
}
func (e UnsupportedEvent) Kind() WebhookEventKind  { return WebhookEventKind(e.Name) }
func (e UnsupportedEvent) Object() ProviderPayment { return e.Payment }

func NewWebhookEvent(name string, obj ProviderPayment) WebhookEvent {
	switch WebhookEventKind(name) {
	case EventPaymentSucceeded:
		return PaymentSucceeded{Payment: obj}
	case EventPaymentCanceled:
		return PaymentCanceled{Payment: obj}
	case EventPaymentWaitingForCapture:
		return PaymentWaitingForCapture{Payment: obj}
	default:
		return UnsupportedEvent{Name: name, Payment: obj}
	}
}

// Metadata keys shared with the provider.
const (
	MetaUserID             = "user_id"
	MetaPaymentDBID        = "payment_db_id"
	MetaSubscriptionMonths = "subscription_months"
	MetaTrafficGB          = "traffic_gb"
	MetaSaleMode           = "sale_mode"
	MetaPromoCodeID        = "promo_code_id"
	MetaAutoRenewSubID     = "auto_renew_for_subscription_id"
	MetaBindOnly           = "bind_only"
)

// PaymentMetadata is the strictly parsed form of the provider metadata map.
type PaymentMetadata struct {
	UserID             int64
	PaymentDBID        int64
	SubscriptionMonths int
	TrafficGB          decimal.Decimal
	SaleMode           SaleMode
	PromoCodeID        *int64
	AutoRenewSubID     *int64
	BindOnly           bool
}

// HasReferences reports whether the ids the event's handler needs are present
// at all. A card-binding authorization may carry no ledger row, so
// waiting_for_capture needs only the user.
func HasReferences(ev WebhookEvent) bool {
	meta := ev.Object().Metadata
	if strings.TrimSpace(meta[MetaUserID]) == "" {
		return false
	}
	if _, ok := ev.(PaymentWaitingForCapture); ok {
		return true
	}
	return strings.TrimSpace(meta[MetaPaymentDBID]) != ""
}

// ParsePaymentMetadata validates ids and purchase terms. Every failure wraps
// domain.ErrInvalidArgument.
func ParsePaymentMetadata(meta map[string]string) (PaymentMetadata, error) {
	var out PaymentMetadata
	var err error
	if out.UserID, err = parseID(meta, MetaUserID); err != nil {
		return out, err
	}
	if out.PaymentDBID, err = parseID(meta, MetaPaymentDBID); err != nil {
		return out, err
	}
	out.SaleMode = SaleMode(strings.TrimSpace(meta[MetaSaleMode]))
	if out.SaleMode == "" {
		out.SaleMode = SaleModeSubscription
	}
	out.BindOnly = meta[MetaBindOnly] == "1"

	switch out.SaleMode {
	case SaleModeTraffic:
		gb, err := decimal.NewFromString(strings.TrimSpace(meta[MetaTrafficGB]))
		if err != nil || !gb.IsPositive() {
			return out, fmt.Errorf("%w: %s", domain.ErrInvalidArgument, MetaTrafficGB)
		}
		out.TrafficGB = gb
	case SaleModeSubscription:
		if !out.BindOnly {
			months, err := strconv.Atoi(strings.TrimSpace(meta[MetaSubscriptionMonths]))
			if err != nil || months <= 0 {
				return out, fmt.Errorf("%w: %s", domain.ErrInvalidArgument, MetaSubscriptionMonths)
			}
			out.SubscriptionMonths = months
		}
	default:
		return out, fmt.Errorf("%w: %s=%q", domain.ErrInvalidArgument, MetaSaleMode, out.SaleMode)
	}

	if out.PromoCodeID, err = parseOptionalID(meta, MetaPromoCodeID); err != nil {
		return out, err
	}
	if out.AutoRenewSubID, err = parseOptionalID(meta, MetaAutoRenewSubID); err != nil {
		return out, err
	}
	return out, nil
}

// Map renders metadata for a provider create-payment request.
func (m PaymentMetadata) Map() map[string]string {
	out := map[string]string{
		MetaUserID:      strconv.FormatInt(m.UserID, 10),
		MetaPaymentDBID: strconv.FormatInt(m.PaymentDBID, 10),
		MetaSaleMode:    string(m.SaleMode),
	}
	if m.SaleMode == SaleModeTraffic {
		out[MetaTrafficGB] = m.TrafficGB.String()
	} else if m.SubscriptionMonths > 0 {
		out[MetaSubscriptionMonths] = strconv.Itoa(m.SubscriptionMonths)
	}
	if m.PromoCodeID != nil {
		out[MetaPromoCodeID] = strconv.FormatInt(*m.PromoCodeID, 10)
	}
	if m.AutoRenewSubID != nil {
		out[MetaAutoRenewSubID] = strconv.FormatInt(*m.AutoRenewSubID, 10)
	}
	if m.BindOnly {
		out[MetaBindOnly] = "1"
	}
	return out
}

func parseID(meta map[string]string, key string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(meta[key]), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: %s", domain.ErrInvalidArgument, key)
	}
	return v, nil
}

func parseOptionalID(meta map[string]string, key string) (*int64, error) {
	if strings.TrimSpace(meta[key]) == "" {
		return nil, nil
	}
	v, err := parseID(meta, key)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
