// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type BotConfig struct {
	Token    string  `yaml:"token"`
	AdminIDs []int64 `yaml:"admin_ids"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	WebhookPath    string        `yaml:"webhook_path"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type AdminConfig struct {
	APIKey       string        `yaml:"api_key"`
	JWTSecret    string        `yaml:"jwt_secret"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
	SecureCookie bool          `yaml:"secure_cookie"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// RedisConfig is optional; an empty URL disables the sweeper lock and the
// promo rate limit.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type YooKassaConfig struct {
	ShopID       string `yaml:"shop_id"`
	SecretKey    string `yaml:"secret_key"`
	ReturnURL    string `yaml:"return_url"`
	BaseURL      string `yaml:"base_url"`
	Autopayments bool   `yaml:"autopayments"`
}

type PaymentConfig struct {
	Currency string         `yaml:"currency"`
	YooKassa YooKassaConfig `yaml:"yookassa"`
}

type PromoConfig struct {
	DiscountTimeout time.Duration `yaml:"discount_timeout"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	SweepBatch      int           `yaml:"sweep_batch"`
	RedeemLimit     int           `yaml:"redeem_limit"` // attempts per window per user
	RedeemWindow    time.Duration `yaml:"redeem_window"`
}

type SchedulerConfig struct {
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	StuckAfter        time.Duration `yaml:"stuck_after"`
}

type Config struct {
	Bot       BotConfig       `yaml:"bot"`
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Admin     AdminConfig     `yaml:"admin"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Payment   PaymentConfig   `yaml:"payment"`
	Promo     PromoConfig     `yaml:"promo"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file (optional), then .env, then environment
// overrides for secrets, then applies defaults.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			// env-only deployment
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	str := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	str(&cfg.Database.URL, "DATABASE_URL")
	str(&cfg.Redis.URL, "REDIS_URL")
	str(&cfg.Bot.Token, "BOT_TOKEN")
	str(&cfg.Payment.YooKassa.ShopID, "YOOKASSA_SHOP_ID")
	str(&cfg.Payment.YooKassa.SecretKey, "YOOKASSA_SECRET_KEY")
	str(&cfg.Payment.YooKassa.ReturnURL, "YOOKASSA_RETURN_URL")
	str(&cfg.Admin.APIKey, "ADMIN_API_KEY")
	str(&cfg.Admin.JWTSecret, "ADMIN_JWT_SECRET")
	str(&cfg.Log.Level, "LOG_LEVEL")
	if v := os.Getenv("YOOKASSA_AUTOPAYMENTS_ENABLED"); v != "" {
		cfg.Payment.YooKassa.Autopayments, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("DISCOUNT_PROMO_PAYMENT_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Promo.DiscountTimeout = time.Duration(n) * time.Minute
		}
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = n
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.WebhookPath == "" {
		cfg.HTTP.WebhookPath = "/webhook/yookassa"
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 30 * time.Second
	}
	if cfg.Admin.SessionTTL <= 0 {
		cfg.Admin.SessionTTL = 30 * time.Minute
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Payment.Currency == "" {
		cfg.Payment.Currency = "RUB"
	}
	if cfg.Payment.YooKassa.BaseURL == "" {
		cfg.Payment.YooKassa.BaseURL = "https://api.yookassa.ru/v3"
	}
	// A timeout below one minute is raised to one minute.
	if cfg.Promo.DiscountTimeout < time.Minute {
		if cfg.Promo.DiscountTimeout <= 0 {
			cfg.Promo.DiscountTimeout = 10 * time.Minute
		} else {
			cfg.Promo.DiscountTimeout = time.Minute
		}
	}
	if cfg.Promo.SweepInterval <= 0 {
		cfg.Promo.SweepInterval = 30 * time.Second
	}
	if cfg.Promo.SweepBatch <= 0 {
		cfg.Promo.SweepBatch = 100
	}
	if cfg.Promo.RedeemLimit <= 0 {
		cfg.Promo.RedeemLimit = 5
	}
	if cfg.Promo.RedeemWindow <= 0 {
		cfg.Promo.RedeemWindow = time.Minute
	}
	if cfg.Scheduler.ReconcileInterval <= 0 {
		cfg.Scheduler.ReconcileInterval = 5 * time.Minute
	}
	if cfg.Scheduler.StuckAfter <= 0 {
		cfg.Scheduler.StuckAfter = 15 * time.Minute
	}
}

// Validate performs the minimal checks needed to start serving.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Admin.APIKey != "" && len(c.Admin.JWTSecret) < 16 {
		return errors.New("admin.jwt_secret must be at least 16 characters when admin.api_key is set")
	}
	return nil
}
