package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
	"github.com/orryxvpn/remnawave-tg-shop/internal/usecase"
)

type initiateRequest struct {
	UserID            int64  `json:"user_id" validate:"required,gt=0"`
	SaleMode          string `json:"sale_mode" validate:"omitempty,oneof=subscription traffic"`
	Months            int    `json:"months" validate:"required_unless=SaleMode traffic,gte=0"`
	TrafficGB         string `json:"traffic_gb" validate:"omitempty,numeric"`
	Price             string `json:"price" validate:"required,numeric"`
	Description       string `json:"description" validate:"max=128"`
	SavePaymentMethod bool   `json:"save_payment_method"`
}

type redeemRequest struct {
	Code string `json:"code" validate:"required,min=3,max=64"`
	Type string `json:"type" validate:"required,oneof=bonus_days discount"`
}

type discountDTO struct {
	Code               string    `json:"code,omitempty"`
	PromoCodeID        int64     `json:"promo_code_id"`
	DiscountPercentage int       `json:"discount_percentage"`
	ActivatedAt        time.Time `json:"activated_at"`
	ExpiresAt          time.Time `json:"expires_at"`
}

func (s *Server) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	var body initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if model.SaleMode(body.SaleMode) == model.SaleModeTraffic && body.TrafficGB == "" {
		writeError(w, http.StatusUnprocessableEntity, "traffic_gb is required for traffic sales")
		return
	}
	price, err := decimal.NewFromString(body.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid price")
		return
	}
	req := usecase.InitiateRequest{
		UserID:            body.UserID,
		SaleMode:          model.SaleMode(body.SaleMode),
		Months:            body.Months,
		Price:             price,
		Description:       body.Description,
		SavePaymentMethod: body.SavePaymentMethod,
	}
	if body.TrafficGB != "" {
		if req.TrafficGB, err = decimal.NewFromString(body.TrafficGB); err != nil {
			writeError(w, http.StatusBadRequest, "invalid traffic_gb")
			return
		}
	}

	res, err := s.payments.Initiate(r.Context(), req)
	switch {
	case errors.Is(err, domain.ErrUserNotFound), errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found")
		return
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, domain.ErrProviderNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "payment provider is not configured")
		return
	case err != nil:
		s.log.Error().Err(err).Int64("user_id", body.UserID).Msg("initiate payment")
		writeError(w, http.StatusBadGateway, "failed to create payment")
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Payment         paymentDTO `json:"payment"`
		ConfirmationURL string     `json:"confirmation_url"`
	}{toPaymentDTO(res.Payment), res.ConfirmationURL})
}

// handleRedeemForUser applies a code on a user's behalf, for support cases.
func (s *Server) handleRedeemForUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r)
	if !ok {
		return
	}
	var body redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if model.PromoType(body.Type) == model.PromoTypeBonusDays {
		res, err := s.promos.ApplyBonusPromo(r.Context(), userID, body.Code)
		if err != nil {
			s.writeRedeemError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"code": res.Code, "bonus_days": res.BonusDays, "end_date": res.EndDate})
		return
	}

	d, err := s.promos.ApplyDiscountPromo(r.Context(), userID, body.Code)
	if err != nil {
		s.writeRedeemError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, discountDTO{
		Code:               model.NormalizePromoCode(body.Code),
		PromoCodeID:        d.PromoCodeID,
		DiscountPercentage: d.DiscountPercentage,
		ActivatedAt:        d.ActivatedAt,
		ExpiresAt:          d.ExpiresAt,
	})
}

func (s *Server) handleGetUserDiscount(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r)
	if !ok {
		return
	}
	v, err := s.promos.GetActiveDiscount(r.Context(), userID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no active discount")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get discount")
		return
	}
	writeJSON(w, http.StatusOK, discountDTO{
		Code:               v.Code,
		PromoCodeID:        v.PromoCodeID,
		DiscountPercentage: v.DiscountPercentage,
		ActivatedAt:        v.ActivatedAt,
		ExpiresAt:          v.ExpiresAt,
	})
}

func (s *Server) writeRedeemError(w http.ResponseWriter, err error) {
	var active *domain.ActiveDiscountExistsError
	switch {
	case errors.As(err, &active):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":               "active discount exists",
			"code":                active.Code,
			"discount_percentage": active.Percentage,
			"expires_at":          active.ExpiresAt,
		})
	case errors.Is(err, domain.ErrPromoNotFound), errors.Is(err, domain.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrPromoAlreadyUsed), errors.Is(err, domain.ErrPromoExhausted),
		errors.Is(err, domain.ErrNoActiveSubscription):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		s.log.Error().Err(err).Msg("redeem promo")
		writeError(w, http.StatusInternalServerError, "failed to redeem promo code")
	}
}
