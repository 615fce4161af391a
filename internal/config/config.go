// Package config loads the bridge's configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Config is the full runtime configuration for a single connected shop.
type Config struct {
	ListenAddr string `validate:"required"`
	DBPath     string `validate:"required"`

	// Commerce platform side.
	ShopURL       string `validate:"required,url"`
	PlatformAPI   string `validate:"required,url"`
	AccessToken   string `validate:"required"`
	WebhookSecret string `validate:"required"`

	// Payment platform side.
	PaymentAPI    string `validate:"omitempty,url"`
	PaymentAPIKey string
	PublicURL     string `validate:"required,url"`

	// Refund settlement.
	RefundMode    string   `validate:"required,oneof=rate_then current_rate fiat"`
	SpreadPercent float64  `validate:"gte=0,lt=100"`
	PayoutMethods []string `validate:"min=1"`

	EventBuffer int `validate:"gte=0"`
}

// Load reads configuration from the environment and validates it. Missing
// optional values get sensible defaults; missing required values fail fast.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:    getenv("BRIDGE_LISTEN_ADDR", ":8080"),
		DBPath:        getenv("BRIDGE_DB_PATH", "bridge.db"),
		ShopURL:       os.Getenv("BRIDGE_SHOP_URL"),
		PlatformAPI:   os.Getenv("BRIDGE_PLATFORM_API"),
		AccessToken:   os.Getenv("BRIDGE_ACCESS_TOKEN"),
		WebhookSecret: os.Getenv("BRIDGE_WEBHOOK_SECRET"),
		PaymentAPI:    os.Getenv("BRIDGE_PAYMENT_API"),
		PaymentAPIKey: os.Getenv("BRIDGE_PAYMENT_API_KEY"),
		PublicURL:     os.Getenv("BRIDGE_PUBLIC_URL"),
		RefundMode:    getenv("BRIDGE_REFUND_MODE", "current_rate"),
		PayoutMethods: splitList(getenv("BRIDGE_PAYOUT_METHODS", "BTC-CHAIN")),
		EventBuffer:   64,
	}

	if v := os.Getenv("BRIDGE_SPREAD_PERCENT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("parse BRIDGE_SPREAD_PERCENT: %w", err)
		}
		cfg.SpreadPercent = f
	}
	if v := os.Getenv("BRIDGE_EVENT_BUFFER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse BRIDGE_EVENT_BUFFER: %w", err)
		}
		cfg.EventBuffer = n
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration's invariants, most notably that the
// spread stays below 100%.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
