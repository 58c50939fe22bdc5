// Package config loads runtime configuration from the environment.
//
// A .env file in the working directory is read automatically at import time
// (godotenv/autoload), real environment variables always win over it.
//
// Load never exits the process. It returns an error listing every bad value
// so main can print them all at once and stop.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	// Loads .env into the process environment before Load reads it.
	_ "github.com/joho/godotenv/autoload"

	"github.com/sakif/resize-credits/internal/model"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Store drivers selectable with STORE_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Payment providers selectable with PAYMENT_PROVIDER.
const (
	ProviderPaddle = "paddle"
	ProviderStripe = "stripe"
)

type Config struct {
	Environment string // APP_ENV
	Port        int    // PORT
	LogLevel    string // LOG_LEVEL: debug, info, warn, error
	BaseURL     string // BASE_URL, public origin used for OAuth and checkout redirects

	AllowedOrigins []string // CORS_ALLOWED_ORIGINS, comma separated

	Store    StoreConfig
	Auth     AuthConfig
	Billing  BillingConfig
	Credits  CreditsConfig
	Executor ExecutorConfig
}

type StoreConfig struct {
	Driver        string // STORE_DRIVER
	SQLitePath    string // DB_PATH
	PostgresDSN   string // DATABASE_URL
	MongoURI      string // MONGO_URI
	MongoDatabase string // MONGO_DATABASE
}

type AuthConfig struct {
	JWTSecret          string        // JWT_SECRET
	SessionTTL         time.Duration // SESSION_TTL
	SecureCookies      bool          // SECURE_COOKIES
	GitHubClientID     string        // GITHUB_CLIENT_ID
	GitHubClientSecret string        // GITHUB_CLIENT_SECRET
	GoogleClientID     string        // GOOGLE_CLIENT_ID
	GoogleClientSecret string        // GOOGLE_CLIENT_SECRET
}

type BillingConfig struct {
	Provider      string // PAYMENT_PROVIDER
	APIKey        string // PADDLE_API_KEY or STRIPE_SECRET_KEY
	WebhookSecret string // PADDLE_WEBHOOK_SECRET or STRIPE_WEBHOOK_SECRET
	Sandbox       bool   // PADDLE_ENVIRONMENT != "production"

	// PriceIDs maps each plan to the provider price id, read from
	// <PROVIDER>_<PLAN>_PRICE_ID (e.g. PADDLE_PRO_PRICE_ID).
	PriceIDs map[model.PlanID]string
}

type CreditsConfig struct {
	SignupCredits    int64 // SIGNUP_CREDITS
	HistoryRetention int   // HISTORY_RETENTION
	OperationCost    int64 // OPERATION_COST
}

type ExecutorConfig struct {
	URL           string        // INFERENCE_URL, empty disables /api/process
	Token         string        // INFERENCE_TOKEN
	Timeout       time.Duration // INFERENCE_TIMEOUT
	MaxConcurrent int           // INFERENCE_MAX_CONCURRENT
}

// Load reads the configuration. Missing optional values get defaults.
func Load() (Config, error) {
	var errs []error

	cfg := Config{
		Environment:    getenv("APP_ENV", EnvDevelopment),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		AllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		Store: StoreConfig{
			Driver:        getenv("STORE_DRIVER", DriverSQLite),
			SQLitePath:    getenv("DB_PATH", "data/resize.db"),
			PostgresDSN:   os.Getenv("DATABASE_URL"),
			MongoURI:      os.Getenv("MONGO_URI"),
			MongoDatabase: getenv("MONGO_DATABASE", "resize"),
		},
		Auth: AuthConfig{
			JWTSecret:          os.Getenv("JWT_SECRET"),
			GitHubClientID:     os.Getenv("GITHUB_CLIENT_ID"),
			GitHubClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
			GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		},
		Executor: ExecutorConfig{
			URL:   os.Getenv("INFERENCE_URL"),
			Token: os.Getenv("INFERENCE_TOKEN"),
		},
	}

	cfg.Port = intVar("PORT", 8080, &errs)
	cfg.BaseURL = strings.TrimRight(getenv("BASE_URL", fmt.Sprintf("http://localhost:%d", cfg.Port)), "/")
	cfg.Auth.SessionTTL = durationVar("SESSION_TTL", 30*24*time.Hour, &errs)
	cfg.Auth.SecureCookies = boolVar("SECURE_COOKIES", cfg.Environment == EnvProduction, &errs)
	cfg.Credits.SignupCredits = int64(intVar("SIGNUP_CREDITS", 0, &errs))
	cfg.Credits.HistoryRetention = intVar("HISTORY_RETENTION", 100, &errs)
	cfg.Credits.OperationCost = int64(intVar("OPERATION_COST", 1, &errs))
	cfg.Executor.Timeout = durationVar("INFERENCE_TIMEOUT", 2*time.Minute, &errs)
	cfg.Executor.MaxConcurrent = intVar("INFERENCE_MAX_CONCURRENT", 4, &errs)

	cfg.Billing = loadBilling(getenv("PAYMENT_PROVIDER", ProviderPaddle))

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

func loadBilling(provider string) BillingConfig {
	b := BillingConfig{Provider: provider, PriceIDs: make(map[model.PlanID]string)}
	prefix := strings.ToUpper(provider)

	switch provider {
	case ProviderPaddle:
		b.APIKey = os.Getenv("PADDLE_API_KEY")
		b.WebhookSecret = os.Getenv("PADDLE_WEBHOOK_SECRET")
		b.Sandbox = getenv("PADDLE_ENVIRONMENT", "sandbox") != "production"
	case ProviderStripe:
		b.APIKey = os.Getenv("STRIPE_SECRET_KEY")
		b.WebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	}

	for _, plan := range []model.PlanID{model.PlanStarter, model.PlanPro, model.PlanBusiness} {
		key := fmt.Sprintf("%s_%s_PRICE_ID", prefix, strings.ToUpper(string(plan)))
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			b.PriceIDs[plan] = v
		}
	}
	return b
}

// Validate checks values that parsed fine but make no sense together.
func (c Config) Validate() error {
	var errs []error

	switch c.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("APP_ENV must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Environment))
	}

	switch c.Store.Driver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_DRIVER=postgres"))
		}
	case DriverMongo:
		if c.Store.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required when STORE_DRIVER=mongo"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver))
	}

	switch c.Billing.Provider {
	case ProviderPaddle, ProviderStripe:
	default:
		errs = append(errs, fmt.Errorf("unknown PAYMENT_PROVIDER %q", c.Billing.Provider))
	}

	if c.Environment == EnvProduction && len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters in production"))
	}
	if c.Credits.HistoryRetention <= 0 {
		errs = append(errs, errors.New("HISTORY_RETENTION must be positive"))
	}
	if c.Credits.OperationCost <= 0 {
		errs = append(errs, errors.New("OPERATION_COST must be positive"))
	}
	if c.Credits.SignupCredits < 0 {
		errs = append(errs, errors.New("SIGNUP_CREDITS must not be negative"))
	}

	return errors.Join(errs...)
}

// IsDevelopment reports whether internal error details may be shown to clients.
func (c Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func intVar(key string, fallback int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return fallback
	}
	return n
}

func boolVar(key string, fallback bool, errs *[]error) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return fallback
	}
	return b
}

func durationVar(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a duration", key, v))
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
