package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the application configuration
type Config struct {
	Store      StoreConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Billing    BillingConfig
	Payments   PaymentConfig
	Webhook    WebhookConfig
	Discord    DiscordConfig
	Backend    BackendConfig
	Moderation ModerationConfig
	LogLevel   string
}

// StoreConfig selects the ledger backend
type StoreConfig struct {
	Backend       string // sqlite, redis, memory
	SweepInterval time.Duration
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// RedisConfig holds the connection settings for the redis ledger backend
type RedisConfig struct {
	URL         string
	PingTimeout time.Duration
}

// BillingConfig holds token pricing and the shared monthly budget
type BillingConfig struct {
	MonthlyBudget        decimal.Decimal
	DefaultThreshold     decimal.Decimal
	InputRatePerMillion  decimal.Decimal
	OutputRatePerMillion decimal.Decimal
	PricingFile          string
	FlatEstimateEnabled  bool
	ResetSchedule        string
	HistoryLimit         int
}

// PaymentConfig holds payment provider settings
type PaymentConfig struct {
	LinkBase string
	Secret   string
}

// WebhookConfig holds the inbound payment webhook server settings
type WebhookConfig struct {
	Port string
	Path string
}

// DiscordConfig holds the messaging platform settings
type DiscordConfig struct {
	Token     string
	ChannelId string
}

// BackendConfig describes the generative backend subprocess
type BackendConfig struct {
	Command string
	Args    []string
	Dir     string
}

// ModerationConfig holds moderation classifier settings
type ModerationConfig struct {
	APIKey  string
	URL     string
	Timeout time.Duration
}
