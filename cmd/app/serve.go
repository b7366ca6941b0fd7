package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/orryxvpn/remnawave-tg-shop/internal/config"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/ports/adapter"
	payAdapters "github.com/orryxvpn/remnawave-tg-shop/internal/infra/adapters/payment"
	tele "github.com/orryxvpn/remnawave-tg-shop/internal/infra/adapters/telegram"
	"github.com/orryxvpn/remnawave-tg-shop/internal/infra/api"
	"github.com/orryxvpn/remnawave-tg-shop/internal/infra/db/migrations"
	pg "github.com/orryxvpn/remnawave-tg-shop/internal/infra/db/postgres"
	"github.com/orryxvpn/remnawave-tg-shop/internal/infra/logging"
	"github.com/orryxvpn/remnawave-tg-shop/internal/infra/metrics"
	red "github.com/orryxvpn/remnawave-tg-shop/internal/infra/redis"
	"github.com/orryxvpn/remnawave-tg-shop/internal/infra/sched"
	"github.com/orryxvpn/remnawave-tg-shop/internal/infra/web"
	"github.com/orryxvpn/remnawave-tg-shop/internal/usecase"
)

func serveCmd(cfgPath *string, devMode *bool) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook endpoint, admin API and background workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(*cfgPath, *devMode)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if migrate {
				m, err := migrations.New(cfg.Database.URL)
				if err != nil {
					return err
				}
				err = m.Up()
				_ = m.Close()
				if err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before starting")
	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	ctx, stop := context.WithCancel(parent)
	defer stop()

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	go pg.ReportPoolStats(ctx, pool, 15*time.Second)
	tm := pg.NewTxManager(pool)

	// ---- Redis (optional) ----
	var (
		locker  sched.Locker
		limiter usecase.RedeemLimiter
	)
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer redisClient.Close()
		locker = red.NewLocker(redisClient)
		limiter = red.NewRateLimiter(redisClient)
	} else {
		logger.Info().Msg("redis not configured; sweeper lock and promo rate limit disabled")
	}

	// ---- Repositories ----
	userRepo := pg.NewPostgresUserRepo(pool)
	subRepo := pg.NewPostgresSubscriptionRepo(pool)
	payRepo := pg.NewPaymentRepo(pool)
	methodRepo := pg.NewPaymentMethodRepo(pool)
	promoRepo := pg.NewPromoCodeRepo(pool)
	discountRepo := pg.NewActiveDiscountRepo(pool)

	// ---- Adapters ----
	provider := newPaymentProvider(cfg, logger)
	notifier := newNotifier(cfg, logger)

	// ---- Use cases ----
	promoOpts := []usecase.PromoOption{usecase.WithDiscountTimeout(cfg.Promo.DiscountTimeout)}
	if limiter != nil {
		promoOpts = append(promoOpts, usecase.WithRedeemLimiter(limiter, cfg.Promo.RedeemLimit, cfg.Promo.RedeemWindow))
	}
	promoUC := usecase.NewPromoUseCase(promoRepo, discountRepo, payRepo, subRepo, notifier, tm, logger, promoOpts...)
	subUC := usecase.NewSubscriptionUseCase(subRepo, logger)
	verifier := usecase.NewPaymentVerifier(provider, logger)
	finalizer := usecase.NewPaymentFinalizer(payRepo, methodRepo, userRepo, verifier, provider, subUC, promoUC, notifier, tm, logger, cfg.Payment.YooKassa.Autopayments)
	paymentUC := usecase.NewPaymentUseCase(payRepo, userRepo, provider, promoUC, logger, cfg.Payment.Currency, cfg.Payment.YooKassa.ReturnURL)

	// ---- Workers ----
	// Workers share the pool; they are joined before the deferred Close runs.
	var workers sync.WaitGroup
	defer func() {
		stop()
		workers.Wait()
	}()
	sweeper := sched.NewDiscountExpiryWorker(cfg.Promo.SweepInterval, cfg.Promo.SweepBatch, promoUC, notifier, locker, logger)
	reconciler := sched.NewPaymentReconciler(payRepo, notifier, cfg.Scheduler.ReconcileInterval, cfg.Scheduler.StuckAfter, logger)
	for _, run := range []func(context.Context) error{sweeper.Run, reconciler.Run} {
		run := run
		workers.Add(1)
		go func() {
			defer workers.Done()
			_ = run(ctx)
		}()
	}

	// ---- HTTP ----
	health := func(ctx context.Context) error { return pool.Ping(ctx) }
	router := chi.NewRouter()
	api.NewServer(finalizer, cfg.HTTP.WebhookPath, cfg.HTTP.RequestTimeout, health, metrics.Handler(), logger).Register(router)

	var auth *web.AuthManager
	if cfg.Admin.APIKey != "" && cfg.Admin.JWTSecret != "" {
		auth = web.NewAuthManager(cfg.Admin.JWTSecret, cfg.Admin.SecureCookie, "", cfg.Admin.SessionTTL)
	} else {
		logger.Warn().Msg("admin api disabled: admin.api_key or admin.jwt_secret not set")
	}
	web.NewServer(promoUC, paymentUC, cfg.Admin.APIKey, auth, logger).RegisterRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("webhook_path", cfg.HTTP.WebhookPath).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	return nil
}

func newPaymentProvider(cfg *config.Config, logger *zerolog.Logger) adapter.PaymentProvider {
	yk := cfg.Payment.YooKassa
	if cfg.Runtime.Dev && (yk.ShopID == "" || yk.SecretKey == "") {
		logger.Warn().Msg("yookassa credentials missing; using in-memory payment provider")
		return payAdapters.NewNoopPaymentGateway()
	}
	gw, err := payAdapters.NewYooKassaGateway(yk.ShopID, yk.SecretKey, yk.BaseURL, yk.ReturnURL)
	if err != nil {
		logger.Error().Err(err).Msg("yookassa gateway")
		return payAdapters.NewNoopPaymentGateway()
	}
	if !gw.Configured() {
		logger.Warn().Msg("yookassa credentials missing; webhooks will be answered as unverifiable")
	}
	return gw
}

func newNotifier(cfg *config.Config, logger *zerolog.Logger) adapter.Notifier {
	if cfg.Bot.Token == "" {
		logger.Warn().Msg("bot token not set; notifications are logged only")
		return tele.NewNoopNotifier(logger)
	}
	n, err := tele.NewTelegramNotifier(&cfg.Bot, logger)
	if err != nil {
		logger.Error().Err(err).Msg("telegram notifier; falling back to log output")
		return tele.NewNoopNotifier(logger)
	}
	return n
}
