package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const bytesPerGB = 1 << 30

// Subscription is the user's VPN entitlement. Panel provisioning lives
// outside this service; only the dates and traffic limit are tracked here.
type Subscription struct {
	ID                int64
	UserID            int64
	StartDate         time.Time
	EndDate           time.Time
	DurationMonths    int
	TrafficLimitBytes int64
	IsActive          bool
	Provider          string
	LastPaymentID     *int64
	UpdatedAt         time.Time
}

// ExtendFrom returns the date a new period should start from: the current
// end date while it is still in the future, now otherwise.
func (s *Subscription) ExtendFrom(now time.Time) time.Time {
	if s != nil && s.IsActive && s.EndDate.After(now) {
		return s.EndDate
	}
	return now
}

func TrafficBytes(gb decimal.Decimal) int64 {
	return gb.Mul(decimal.NewFromInt(bytesPerGB)).IntPart()
}

// ActivationRequest describes what a finalized payment bought.
type ActivationRequest struct {
	UserID         int64
	PaymentID      int64
	Months         int
	TrafficGB      decimal.Decimal
	SaleMode       SaleMode
	Amount         decimal.Decimal
	Provider       string
	PromoCodeID    *int64
	AutoRenewSubID *int64
}

// ActivationResult is complete only when EndDate is set.
type ActivationResult struct {
	SubscriptionID        int64
	EndDate               *time.Time
	AppliedPromoBonusDays int
}

func (r *ActivationResult) Complete() bool {
	return r != nil && r.EndDate != nil && !r.EndDate.IsZero()
}
