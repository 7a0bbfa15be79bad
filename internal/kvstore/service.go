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

// Package kvstore keeps the ledger in Redis using the key layout of the
// original bot deployment, so existing balances and locks carry over.
package kvstore

import (
	"context"
	"fmt"
	"time"

	"sage-gateway-go/internal/models"
	"sage-gateway-go/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

var _ store.LedgerStore = (*Service)(nil)

const (
	balancePrefix   = "user_balance:"
	thresholdPrefix = "user_threshold:"
	lockPrefix      = "user_locked:"
	paymentPrefix   = "payment:"
	welcomedPrefix  = "welcomed:"
	lastResetKey    = "last_monthly_reset"

	fieldBalance   = "balance"
	fieldVersion   = "version"
	fieldUpdatedAt = "updated_at"

	scanBatch = 100
)

// KEYS[1] balance hash, ARGV[1] expected version, ARGV[2] amount, ARGV[3] timestamp
const compareAndSetBalanceScript = `
local version = tonumber(redis.call('HGET', KEYS[1], 'version') or '0')
if version ~= tonumber(ARGV[1]) then
    return -1
end
redis.call('HSET', KEYS[1], 'balance', ARGV[2], 'version', version + 1, 'updated_at', ARGV[3])
return version + 1
`

type Service struct {
	client              *redis.Client
	compareAndSetScript *redis.Script
	now                 func() time.Time
}

func NewService(ctx context.Context, cfg models.RedisConfig) (*Service, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis url cannot be empty")
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	zap.L().Info("Connecting to Redis", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			zap.L().Warn("Failed to close redis client", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	zap.L().Info("Redis store initialized successfully")
	return newService(client), nil
}

func newService(client *redis.Client) *Service {
	return &Service{
		client:              client,
		compareAndSetScript: redis.NewScript(compareAndSetBalanceScript),
		now:                 time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Service) Close() {
	if err := s.client.Close(); err != nil {
		zap.L().Warn("Failed to close redis client", zap.Error(err))
	}
}

func balanceKey(userId string) string   { return balancePrefix + userId }
func thresholdKey(userId string) string { return thresholdPrefix + userId }
func lockKey(userId string) string      { return lockPrefix + userId }
func paymentKey(paymentId string) string {
	return paymentPrefix + paymentId
}
func historyKey(userId string) string {
	return "discord:" + userId + ":history"
}
func welcomedKey(channelId, userId string) string {
	return welcomedPrefix + channelId + ":" + userId
}
