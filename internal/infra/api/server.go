package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
	"github.com/orryxvpn/remnawave-tg-shop/internal/usecase"
)

// WebhookHandler finalizes one provider event.
type WebhookHandler interface {
	Handle(ctx context.Context, ev model.WebhookEvent) (usecase.FinalizeResult, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Server exposes the provider webhook, health and metrics.
type Server struct {
	finalizer   WebhookHandler
	webhookPath string
	timeout     time.Duration
	health      HealthCheck
	metrics     http.Handler
	validate    *validator.Validate
	log         *zerolog.Logger
}

// NewServer constructs the HTTP layer. webhookPath is the path configured
// in the provider's notification settings.
func NewServer(finalizer WebhookHandler, webhookPath string, timeout time.Duration, health HealthCheck, metricsHandler http.Handler, logger *zerolog.Logger) *Server {
	if webhookPath == "" {
		webhookPath = "/webhook/yookassa"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	l := logger.With().Str("component", "WebhookServer").Logger()
	return &Server{
		finalizer:   finalizer,
		webhookPath: webhookPath,
		timeout:     timeout,
		health:      health,
		metrics:     metricsHandler,
		validate:    validator.New(),
		log:         &l,
	}
}

// Register attaches the routes to r.
func (s *Server) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(TraceID(), RequestLog(s.log), Recover(s.log), Timeout(s.timeout))
		r.Post(s.webhookPath, s.handleWebhook)
	})
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
}

// Router returns a fresh chi router with every route registered.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	s.Register(r)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, response{Status: "unavailable", Reason: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}
