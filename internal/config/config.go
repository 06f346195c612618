// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Stripe
	StripeAPIKey string

	// Fee schedule (percentages)
	ListingFeePct         float64 // charged on the asking price at submission
	CommissionPct         float64 // standard commission on escrow amount
	PremiumCommissionPct  float64 // commission for premium-plan sellers
	ListingMaxAge         time.Duration
	OfferExpiryWarnWindow time.Duration

	// Scheduler intervals
	OfferExpiryInterval      time.Duration
	ListingExpiryInterval    time.Duration
	PortfolioRecalcInterval  time.Duration
	SubscriptionSyncInterval time.Duration
	SLAMonitorInterval       time.Duration

	// Tracing
	OTLPEndpoint string

	// Security
	AdminSecret     string
	AdminAccountIDs []string // accounts allowed on admin routes; receive SLA escalations
}

// Defaults
const (
	DefaultPort                 = "8080"
	DefaultEnv                  = "development"
	DefaultLogLevel             = "info"
	DefaultListingFeePct        = 2.0
	DefaultCommissionPct        = 20.0
	DefaultPremiumCommissionPct = 10.0
	DefaultListingMaxAge        = 90 * 24 * time.Hour
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                     getEnv("PORT", DefaultPort),
		Env:                      getEnv("ENV", DefaultEnv),
		LogLevel:                 getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:              os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		StripeAPIKey:             os.Getenv("STRIPE_API_KEY"),
		ListingFeePct:            getEnvFloat("LISTING_FEE_PCT", DefaultListingFeePct),
		CommissionPct:            getEnvFloat("COMMISSION_PCT", DefaultCommissionPct),
		PremiumCommissionPct:     getEnvFloat("PREMIUM_COMMISSION_PCT", DefaultPremiumCommissionPct),
		ListingMaxAge:            getEnvDuration("LISTING_MAX_AGE", DefaultListingMaxAge),
		OfferExpiryWarnWindow:    getEnvDuration("OFFER_EXPIRY_WARN_WINDOW", 24*time.Hour),
		OfferExpiryInterval:      getEnvDuration("OFFER_EXPIRY_INTERVAL", time.Hour),
		ListingExpiryInterval:    getEnvDuration("LISTING_EXPIRY_INTERVAL", 24*time.Hour),
		PortfolioRecalcInterval:  getEnvDuration("PORTFOLIO_RECALC_INTERVAL", 24*time.Hour),
		SubscriptionSyncInterval: getEnvDuration("SUBSCRIPTION_SYNC_INTERVAL", 24*time.Hour),
		SLAMonitorInterval:       getEnvDuration("SLA_MONITOR_INTERVAL", 6*time.Hour),
		OTLPEndpoint:             os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AdminSecret:              os.Getenv("ADMIN_SECRET"),
		AdminAccountIDs:          getEnvList("ADMIN_ACCOUNT_IDS"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.CommissionPct < 0 || c.CommissionPct > 100 {
		return fmt.Errorf("COMMISSION_PCT must be between 0 and 100")
	}
	if c.PremiumCommissionPct < 0 || c.PremiumCommissionPct > 100 {
		return fmt.Errorf("PREMIUM_COMMISSION_PCT must be between 0 and 100")
	}
	if c.ListingFeePct < 0 || c.ListingFeePct > 100 {
		return fmt.Errorf("LISTING_FEE_PCT must be between 0 and 100")
	}
	if c.IsProduction() && c.StripeAPIKey == "" {
		return fmt.Errorf("STRIPE_API_KEY is required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
