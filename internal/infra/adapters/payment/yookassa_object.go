package payment

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
)

// Amount is YooKassa's money object; value is a decimal string.
type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type Confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type Card struct {
	Last4    string `json:"last4"`
	CardType string `json:"card_type"`
}

type PaymentMethod struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Saved bool   `json:"saved"`
	Title string `json:"title"`
	Card  *Card  `json:"card,omitempty"`
}

// PaymentObject is the payment resource shared by API responses and
// webhook notifications.
type PaymentObject struct {
	ID            string         `json:"id" validate:"required"`
	Status        string         `json:"status" validate:"required"`
	Paid          bool           `json:"paid"`
	Amount        Amount         `json:"amount"`
	Description   string         `json:"description,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	PaymentMethod *PaymentMethod `json:"payment_method,omitempty"`
	Confirmation  *Confirmation  `json:"confirmation,omitempty"`
}

type createPaymentBody struct {
	Amount            Amount            `json:"amount"`
	Capture           bool              `json:"capture"`
	Confirmation      *Confirmation     `json:"confirmation,omitempty"`
	Description       string            `json:"description,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	SavePaymentMethod bool              `json:"save_payment_method,omitempty"`
}

// Notification is the webhook envelope.
type Notification struct {
	Type   string        `json:"type"`
	Event  string        `json:"event" validate:"required"`
	Object PaymentObject `json:"object" validate:"required"`
}

// ToModel converts the wire object. Metadata values of any JSON type are
// rendered as strings; an unparsable amount is an error.
func (o PaymentObject) ToModel() (model.ProviderPayment, error) {
	if o.ID == "" {
		return model.ProviderPayment{}, errEmptyPaymentID
	}
	p := model.ProviderPayment{
		ID:          o.ID,
		Status:      o.Status,
		Paid:        o.Paid,
		Currency:    o.Amount.Currency,
		Description: o.Description,
		Metadata:    make(map[string]string, len(o.Metadata)),
	}
	if o.Amount.Value != "" {
		amt, err := decimal.NewFromString(o.Amount.Value)
		if err != nil {
			return model.ProviderPayment{}, fmt.Errorf("amount %q: %w", o.Amount.Value, err)
		}
		p.Amount = amt
	}
	for k, v := range o.Metadata {
		p.Metadata[k] = metaString(v)
	}
	if pm := o.PaymentMethod; pm != nil {
		p.PaymentMethod = &model.ProviderPaymentMethod{ID: pm.ID, Type: pm.Type, Saved: pm.Saved, Title: pm.Title}
		if pm.Card != nil {
			p.PaymentMethod.CardLast4 = pm.Card.Last4
			p.PaymentMethod.CardNetwork = pm.Card.CardType
		}
	}
	return p, nil
}

func metaString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
