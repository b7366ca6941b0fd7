package web

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
	"github.com/orryxvpn/remnawave-tg-shop/internal/usecase"
)

// PromoAdmin is the promo management surface of the promo use case.
type PromoAdmin interface {
	ListPromos(ctx context.Context, offset, limit int) ([]*model.PromoCode, error)
	GetPromo(ctx context.Context, id int64) (*model.PromoCode, error)
	CreatePromo(ctx context.Context, in usecase.CreatePromoInput) (*model.PromoCode, error)
	DeactivatePromo(ctx context.Context, id int64) (int, error)

	ApplyDiscountPromo(ctx context.Context, userID int64, code string) (*model.ActiveDiscount, error)
	ApplyBonusPromo(ctx context.Context, userID int64, code string) (*usecase.BonusResult, error)
	GetActiveDiscount(ctx context.Context, userID int64) (*usecase.DiscountView, error)
}

// PaymentDesk lets operators look up ledger rows and issue payment links.
type PaymentDesk interface {
	GetPayment(ctx context.Context, id int64) (*model.Payment, error)
	Initiate(ctx context.Context, req usecase.InitiateRequest) (*usecase.InitiateResult, error)
}

type Server struct {
	promos   PromoAdmin
	payments PaymentDesk
	apiKey   string
	auth     *AuthManager
	validate *validator.Validate
	log      *zerolog.Logger
}

func NewServer(promos PromoAdmin, payments PaymentDesk, apiKey string, auth *AuthManager, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "AdminAPI").Logger()
	return &Server{
		promos:   promos,
		payments: payments,
		apiKey:   apiKey,
		auth:     auth,
		validate: validator.New(),
		log:      &l,
	}
}

// RegisterRoutes mounts the admin API on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/logout", s.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/promo-codes", s.handleListPromos)
			r.Post("/promo-codes", s.handleCreatePromo)
			r.Get("/promo-codes/{id}", s.handleGetPromo)
			r.Post("/promo-codes/{id}/deactivate", s.handleDeactivatePromo)
			r.Post("/payments", s.handleInitiatePayment)
			r.Get("/payments/{id}", s.handleGetPayment)
			r.Post("/users/{id}/promo", s.handleRedeemForUser)
			r.Get("/users/{id}/discount", s.handleGetUserDiscount)
		})
	})
}

// authMiddleware requires a valid admin session token.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || s.auth == nil {
			s.log.Error().Msg("Admin API key is not configured")
			writeError(w, http.StatusForbidden, "admin api disabled")
			return
		}
		if _, err := s.auth.ParseFromRequest(r); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
