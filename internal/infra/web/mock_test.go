//go:build !integration

package web

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
	"github.com/orryxvpn/remnawave-tg-shop/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(nil)
	return &logger
}

type MockPromoAdmin struct {
	ListPromosFunc      func(ctx context.Context, offset, limit int) ([]*model.PromoCode, error)
	GetPromoFunc        func(ctx context.Context, id int64) (*model.PromoCode, error)
	CreatePromoFunc     func(ctx context.Context, in usecase.CreatePromoInput) (*model.PromoCode, error)
	DeactivatePromoFunc func(ctx context.Context, id int64) (int, error)

	ApplyDiscountPromoFunc func(ctx context.Context, userID int64, code string) (*model.ActiveDiscount, error)
	ApplyBonusPromoFunc    func(ctx context.Context, userID int64, code string) (*usecase.BonusResult, error)
	GetActiveDiscountFunc  func(ctx context.Context, userID int64) (*usecase.DiscountView, error)
}

func (m *MockPromoAdmin) ListPromos(ctx context.Context, offset, limit int) ([]*model.PromoCode, error) {
	if m.ListPromosFunc != nil {
		return m.ListPromosFunc(ctx, offset, limit)
	}
	return []*model.PromoCode{}, nil
}

func (m *MockPromoAdmin) GetPromo(ctx context.Context, id int64) (*model.PromoCode, error) {
	if m.GetPromoFunc != nil {
		return m.GetPromoFunc(ctx, id)
	}
	return &model.PromoCode{ID: id, Code: "SAVE10", Type: model.PromoTypeDiscount}, nil
}

func (m *MockPromoAdmin) CreatePromo(ctx context.Context, in usecase.CreatePromoInput) (*model.PromoCode, error) {
	if m.CreatePromoFunc != nil {
		return m.CreatePromoFunc(ctx, in)
	}
	return &model.PromoCode{ID: 1, Code: in.Code, Type: model.PromoType(in.Type)}, nil
}

func (m *MockPromoAdmin) DeactivatePromo(ctx context.Context, id int64) (int, error) {
	if m.DeactivatePromoFunc != nil {
		return m.DeactivatePromoFunc(ctx, id)
	}
	return 0, nil
}

func (m *MockPromoAdmin) ApplyDiscountPromo(ctx context.Context, userID int64, code string) (*model.ActiveDiscount, error) {
	if m.ApplyDiscountPromoFunc != nil {
		return m.ApplyDiscountPromoFunc(ctx, userID, code)
	}
	return &model.ActiveDiscount{UserID: userID, PromoCodeID: 1, DiscountPercentage: 10}, nil
}

func (m *MockPromoAdmin) ApplyBonusPromo(ctx context.Context, userID int64, code string) (*usecase.BonusResult, error) {
	if m.ApplyBonusPromoFunc != nil {
		return m.ApplyBonusPromoFunc(ctx, userID, code)
	}
	return &usecase.BonusResult{Code: code, BonusDays: 7}, nil
}

func (m *MockPromoAdmin) GetActiveDiscount(ctx context.Context, userID int64) (*usecase.DiscountView, error) {
	if m.GetActiveDiscountFunc != nil {
		return m.GetActiveDiscountFunc(ctx, userID)
	}
	return nil, domain.ErrNotFound
}

type MockPaymentDesk struct {
	GetPaymentFunc func(ctx context.Context, id int64) (*model.Payment, error)
	InitiateFunc   func(ctx context.Context, req usecase.InitiateRequest) (*usecase.InitiateResult, error)
}

func (m *MockPaymentDesk) GetPayment(ctx context.Context, id int64) (*model.Payment, error) {
	if m.GetPaymentFunc != nil {
		return m.GetPaymentFunc(ctx, id)
	}
	return &model.Payment{ID: id}, nil
}

func (m *MockPaymentDesk) Initiate(ctx context.Context, req usecase.InitiateRequest) (*usecase.InitiateResult, error) {
	if m.InitiateFunc != nil {
		return m.InitiateFunc(ctx, req)
	}
	return &usecase.InitiateResult{Payment: &model.Payment{ID: 1, UserID: req.UserID, Amount: req.Price}}, nil
}
