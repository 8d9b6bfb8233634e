// Package config loads application configuration from environment variables.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/labstack/gommon/log"
)

// Hold store backends.
const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env          string // APP_ENV (dev, test, prod)
	Port         string // APP_PORT
	LogLevel     string // LOG_LEVEL (debug, info, warn, error)
	HoldStore    string // HOLD_STORE: mysql or memory
	DBUser       string // DB_USER
	DBPass       string // DB_PASS (empty allowed)
	DBHost       string // DB_HOST
	DBPort       string // DB_PORT
	DBName       string // DB_NAME
	JWTSecret    string // JWT_SECRET
	AccessTTLMin int    // ACCESS_TOKEN_TTL_MIN
	BcryptCost   int    // BCRYPT_COST

	HoldTTL         time.Duration // HOLD_TTL
	MaxSeatsPerHold int           // MAX_SEATS_PER_HOLD
	SweepInterval   time.Duration // EXPIRY_SWEEP_INTERVAL

	RabbitURL           string        // RABBITMQ_URL; empty disables the broker
	LogDir              string        // BOOKING_LOG_DIR
	StripeSecretKey     string        // STRIPE_SECRET_KEY; empty selects the mock PSP
	StripeWebhookSecret string        // STRIPE_WEBHOOK_SECRET
	PaymentCurrency     string        // PAYMENT_CURRENCY
	PaymentDedupeTTL    time.Duration // PAYMENT_DEDUPE_TTL
	PublicBaseURL       string        // PUBLIC_BASE_URL, prefix of mock PSP links
	CORSOrigins         []string      // CORS_ORIGINS, comma separated
}

// Load reads configuration values from environment variables.  Required
// variables are enforced by must(); database settings are only required
// for the MySQL store.
func Load() Config {
	cfg := Config{
		Env:          envStr("APP_ENV", "dev"),
		Port:         envStr("APP_PORT", "8080"),
		LogLevel:     envStr("LOG_LEVEL", "info"),
		HoldStore:    strings.ToLower(envStr("HOLD_STORE", StoreMySQL)),
		JWTSecret:    must("JWT_SECRET"),
		AccessTTLMin: envInt("ACCESS_TOKEN_TTL_MIN", 60),
		BcryptCost:   envInt("BCRYPT_COST", 10),

		HoldTTL:         envDur("HOLD_TTL", 10*time.Minute),
		MaxSeatsPerHold: envInt("MAX_SEATS_PER_HOLD", 10),
		SweepInterval:   envDur("EXPIRY_SWEEP_INTERVAL", 15*time.Second),

		RabbitURL:           os.Getenv("RABBITMQ_URL"),
		LogDir:              envStr("BOOKING_LOG_DIR", "logs"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		PaymentCurrency:     strings.ToLower(envStr("PAYMENT_CURRENCY", "usd")),
		PaymentDedupeTTL:    envDur("PAYMENT_DEDUPE_TTL", 24*time.Hour),
		CORSOrigins:         splitList(envStr("CORS_ORIGINS", "*")),
	}
	cfg.PublicBaseURL = strings.TrimRight(envStr("PUBLIC_BASE_URL", "http://localhost:"+cfg.Port), "/")
	switch cfg.HoldStore {
	case StoreMySQL:
		cfg.DBUser = must("DB_USER")
		cfg.DBPass = os.Getenv("DB_PASS")
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = must("DB_PORT")
		cfg.DBName = must("DB_NAME")
	case StoreMemory:
	default:
		log.Fatalf("invalid HOLD_STORE %q (want mysql or memory)", cfg.HoldStore)
	}
	return cfg
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}
