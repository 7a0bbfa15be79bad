/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"sage-gateway-go/internal/models"

	"github.com/shopspring/decimal"
)

func Load() (*models.Config, error) {
	sweepInterval, err := getEnvDuration("STORE_SWEEP_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	moderationTimeout, err := getEnvDuration("MODERATION_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	monthlyBudget, err := getEnvDecimal("MONTHLY_BUDGET", decimal.NewFromInt(10))
	if err != nil {
		return nil, err
	}

	threshold, err := getEnvDecimal("PAYMENT_THRESHOLD", decimal.NewFromInt(5))
	if err != nil {
		return nil, err
	}

	inputRate, err := getEnvDecimal("INPUT_TOKEN_RATE", decimal.NewFromInt(3))
	if err != nil {
		return nil, err
	}

	outputRate, err := getEnvDecimal("OUTPUT_TOKEN_RATE", decimal.NewFromInt(15))
	if err != nil {
		return nil, err
	}

	cfg := &models.Config{
		Store: models.StoreConfig{
			Backend:       strings.ToLower(getEnvString("STORE_BACKEND", "sqlite")),
			SweepInterval: sweepInterval,
		},
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "gateway.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Redis: models.RedisConfig{
			URL:         getEnvString("REDIS_URL", "redis://127.0.0.1:6379/0"),
			PingTimeout: pingTimeout,
		},
		Billing: models.BillingConfig{
			MonthlyBudget:        monthlyBudget,
			DefaultThreshold:     threshold,
			InputRatePerMillion:  inputRate,
			OutputRatePerMillion: outputRate,
			PricingFile:          getEnvString("PRICING_FILE", ""),
			FlatEstimateEnabled:  getEnvBool("FLAT_ESTIMATE_ENABLED", false),
			ResetSchedule:        getEnvString("RESET_SCHEDULE", "@daily"),
			HistoryLimit:         getEnvInt("HISTORY_LIMIT", 40),
		},
		Payments: models.PaymentConfig{
			LinkBase: getEnvString("KOFI_LINK", "https://ko-fi.com/yourusername"),
			Secret:   os.Getenv("KOFI_WEBHOOK_SECRET"),
		},
		Webhook: models.WebhookConfig{
			Port: getEnvString("WEBHOOK_PORT", "5000"),
			Path: getEnvString("WEBHOOK_PATH", "/kofi-webhook"),
		},
		Discord: models.DiscordConfig{
			Token:     os.Getenv("DISCORD_TOKEN"),
			ChannelId: os.Getenv("DISCORD_CHANNEL_ID"),
		},
		Backend: models.BackendConfig{
			Command: getEnvString("BACKEND_COMMAND", "python3"),
			Args:    strings.Fields(getEnvString("BACKEND_ARGS", "main.py")),
			Dir:     getEnvString("BACKEND_DIR", ""),
		},
		Moderation: models.ModerationConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			URL:     getEnvString("MODERATION_URL", ""),
			Timeout: moderationTimeout,
		},
		LogLevel: getEnvString("LOG_LEVEL", "info"),
	}

	if cfg.Billing.PricingFile != "" {
		pricing, err := LoadPricingFile(cfg.Billing.PricingFile)
		if err != nil {
			return nil, err
		}
		pricing.apply(&cfg.Billing)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *models.Config) error {
	switch cfg.Store.Backend {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q (expected sqlite, redis or memory)", cfg.Store.Backend)
	}
	if !cfg.Billing.MonthlyBudget.IsPositive() {
		return fmt.Errorf("MONTHLY_BUDGET must be positive")
	}
	if !cfg.Billing.DefaultThreshold.IsPositive() {
		return fmt.Errorf("PAYMENT_THRESHOLD must be positive")
	}
	if cfg.Billing.InputRatePerMillion.IsNegative() || cfg.Billing.OutputRatePerMillion.IsNegative() {
		return fmt.Errorf("token rates cannot be negative")
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	if value := os.Getenv(key); value != "" {
		amount, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid decimal for %s: %q (%w)", key, value, err)
		}
		return amount, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
