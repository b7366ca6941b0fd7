package model

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type PromoType string

const (
	PromoTypeBonusDays PromoType = "bonus_days"
	PromoTypeDiscount  PromoType = "discount"
)

var validate = validator.New()

// PromoCode is an admin-defined code. CurrentActivations may exceed
// MaxActivations only through the overflow reconciliation path.
type PromoCode struct {
	ID                 int64      `validate:"-"`
	Code               string     `validate:"required,min=3,max=64"`
	Type               PromoType  `validate:"required,oneof=bonus_days discount"`
	BonusDays          int        `validate:"required_if=Type bonus_days,gte=0"`
	DiscountPercentage int        `validate:"required_if=Type discount,gte=0,lte=100"`
	MaxActivations     int        `validate:"gte=1"`
	CurrentActivations int        `validate:"gte=0"`
	IsActive           bool       `validate:"-"`
	CreatedByAdminID   *int64     `validate:"-"`
	CreatedAt          time.Time  `validate:"-"`
	ValidUntil         *time.Time `validate:"-"`
}

func NormalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func NewPromoCode(code string, typ PromoType, bonusDays, discountPct, maxActivations int, validUntil *time.Time, adminID *int64) (*PromoCode, error) {
	p := &PromoCode{
		Code:               NormalizePromoCode(code),
		Type:               typ,
		BonusDays:          bonusDays,
		DiscountPercentage: discountPct,
		MaxActivations:     maxActivations,
		IsActive:           true,
		CreatedByAdminID:   adminID,
		CreatedAt:          time.Now(),
		ValidUntil:         validUntil,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PromoCode) Validate() error { return validate.Struct(p) }

// Expired reports whether the validity window has closed at now.
func (p *PromoCode) Expired(now time.Time) bool {
	return p.ValidUntil != nil && !p.ValidUntil.After(now)
}

// Usable reports whether a new redemption may be accepted at now.
func (p *PromoCode) Usable(now time.Time) bool {
	return p.IsActive && !p.Expired(now) && p.CurrentActivations < p.MaxActivations
}

type PromoCodeActivation struct {
	ID          int64
	PromoCodeID int64
	UserID      int64
	ActivatedAt time.Time
	PaymentID   *int64
}

// ActiveDiscount is a user's single outstanding discount reservation.
type ActiveDiscount struct {
	UserID             int64
	PromoCodeID        int64
	DiscountPercentage int
	ActivatedAt        time.Time
	ExpiresAt          time.Time
}

// Expired is true once expires_at <= now.
func (d *ActiveDiscount) Expired(now time.Time) bool { return !d.ExpiresAt.After(now) }

// ExpiredDiscount is a reservation removed by the sweeper, with the code
// kept for the user notice.
type ExpiredDiscount struct {
	ActiveDiscount
	Code string
}

var hundred = decimal.NewFromInt(100)

// CalculateDiscountedPrice returns the final price and the discount amount.
// final = round(original * (1 - pct/100), 2), discount = original - final.
func CalculateDiscountedPrice(original decimal.Decimal, pct int) (final, discount decimal.Decimal) {
	factor := hundred.Sub(decimal.NewFromInt(int64(pct))).Div(hundred)
	final = original.Mul(factor).Round(2)
	if final.IsNegative() {
		return decimal.Zero, original
	}
	return final, original.Sub(final)
}
