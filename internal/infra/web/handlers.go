package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
	"github.com/orryxvpn/remnawave-tg-shop/internal/usecase"
)

type loginRequest struct {
	APIKey string `json:"api_key" validate:"required"`
}

type promoDTO struct {
	ID                 int64      `json:"id"`
	Code               string     `json:"code"`
	Type               string     `json:"type"`
	BonusDays          int        `json:"bonus_days,omitempty"`
	DiscountPercentage int        `json:"discount_percentage,omitempty"`
	MaxActivations     int        `json:"max_activations"`
	CurrentActivations int        `json:"current_activations"`
	IsActive           bool       `json:"is_active"`
	CreatedAt          time.Time  `json:"created_at"`
	ValidUntil         *time.Time `json:"valid_until,omitempty"`
}

func toPromoDTO(p *model.PromoCode) promoDTO {
	return promoDTO{
		ID:                 p.ID,
		Code:               p.Code,
		Type:               string(p.Type),
		BonusDays:          p.BonusDays,
		DiscountPercentage: p.DiscountPercentage,
		MaxActivations:     p.MaxActivations,
		CurrentActivations: p.CurrentActivations,
		IsActive:           p.IsActive,
		CreatedAt:          p.CreatedAt,
		ValidUntil:         p.ValidUntil,
	}
}

type paymentDTO struct {
	ID                int64     `json:"id"`
	UserID            int64     `json:"user_id"`
	Provider          string    `json:"provider"`
	ProviderPaymentID *string   `json:"provider_payment_id,omitempty"`
	Amount            string    `json:"amount"`
	OriginalAmount    *string   `json:"original_amount,omitempty"`
	DiscountApplied   *string   `json:"discount_applied,omitempty"`
	Currency          string    `json:"currency"`
	Status            string    `json:"status"`
	PromoCodeID       *int64    `json:"promo_code_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func toPaymentDTO(p *model.Payment) paymentDTO {
	out := paymentDTO{
		ID:                p.ID,
		UserID:            p.UserID,
		Provider:          p.Provider,
		ProviderPaymentID: p.ProviderPaymentID,
		Amount:            p.Amount.StringFixed(2),
		Currency:          p.Currency,
		Status:            string(p.Status),
		PromoCodeID:       p.PromoCodeID,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
	if p.OriginalAmount.Valid {
		v := p.OriginalAmount.Decimal.StringFixed(2)
		out.OriginalAmount = &v
	}
	if p.DiscountApplied.Valid {
		v := p.DiscountApplied.Decimal.StringFixed(2)
		out.DiscountApplied = &v
	}
	return out
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.apiKey == "" || s.auth == nil {
		writeError(w, http.StatusForbidden, "admin api disabled")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || s.validate.Struct(req) != nil {
		writeError(w, http.StatusBadRequest, "api_key is required")
		return
	}
	if !keyMatches(req.APIKey, s.apiKey) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("admin login rejected")
		writeError(w, http.StatusUnauthorized, "invalid api key")
		return
	}
	token, exp, err := s.auth.Mint(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "expires_at": exp})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.auth != nil {
		s.auth.Clear(w)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPromos(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	promos, err := s.promos.ListPromos(r.Context(), offset, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("list promo codes")
		writeError(w, http.StatusInternalServerError, "failed to list promo codes")
		return
	}
	items := make([]promoDTO, 0, len(promos))
	for _, p := range promos {
		items = append(items, toPromoDTO(p))
	}
	writeJSON(w, http.StatusOK, struct {
		Data   []promoDTO `json:"data"`
		Limit  int        `json:"limit"`
		Offset int        `json:"offset"`
	}{items, limit, offset})
}

func (s *Server) handleCreatePromo(w http.ResponseWriter, r *http.Request) {
	var in usecase.CreatePromoInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+":"+fe.Tag())
			}
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "validation failed", "fields": fields})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := s.promos.CreatePromo(r.Context(), in)
	switch {
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "promo code already exists")
		return
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.log.Error().Err(err).Msg("create promo code")
		writeError(w, http.StatusInternalServerError, "failed to create promo code")
		return
	}
	s.log.Info().Int64("promo_code_id", p.ID).Str("code", p.Code).Msg("promo code created")
	writeJSON(w, http.StatusCreated, toPromoDTO(p))
}

func (s *Server) handleGetPromo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := s.promos.GetPromo(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "promo code not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get promo code")
		return
	}
	writeJSON(w, http.StatusOK, toPromoDTO(p))
}

func (s *Server) handleDeactivatePromo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	n, err := s.promos.DeactivatePromo(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "promo code not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Int64("promo_code_id", id).Msg("deactivate promo code")
		writeError(w, http.StatusInternalServerError, "failed to deactivate promo code")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reservations_cleared": n})
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := s.payments.GetPayment(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "payment not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get payment")
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
