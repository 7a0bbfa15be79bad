package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sage-gateway-go/internal/models"
	"sage-gateway-go/internal/store"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (s *Service) GetBalance(ctx context.Context, userId string) (*models.Balance, error) {
	fields, err := s.client.HGetAll(ctx, balanceKey(userId)).Result()
	if err != nil {
		zap.L().Error("Failed to get balance", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	balance := &models.Balance{UserId: userId}
	if balance.Amount, err = decimal.NewFromString(fields[fieldBalance]); err != nil {
		return nil, fmt.Errorf("failed to parse balance '%s': %w", fields[fieldBalance], err)
	}
	if balance.Version, err = strconv.ParseInt(fields[fieldVersion], 10, 64); err != nil {
		return nil, fmt.Errorf("failed to parse version '%s': %w", fields[fieldVersion], err)
	}
	if ts := fields[fieldUpdatedAt]; ts != "" {
		if balance.UpdatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("failed to parse updated_at '%s': %w", ts, err)
		}
	}
	return balance, nil
}

func (s *Service) CreateBalance(ctx context.Context, userId string) (bool, error) {
	key := balanceKey(userId)

	var created *redis.BoolCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		created = pipe.HSetNX(ctx, key, fieldBalance, decimal.Zero.String())
		pipe.HSetNX(ctx, key, fieldVersion, 1)
		pipe.HSetNX(ctx, key, fieldUpdatedAt, s.timestamp())
		return nil
	})
	if err != nil {
		zap.L().Error("Failed to create balance", zap.String("user_id", userId), zap.Error(err))
		return false, fmt.Errorf("failed to create balance: %w", err)
	}
	return created.Val(), nil
}

func (s *Service) UpdateBalance(ctx context.Context, userId string, amount decimal.Decimal, expectedVersion int64) (*models.Balance, error) {
	now := s.now().UTC()
	version, err := s.compareAndSetScript.Run(ctx, s.client,
		[]string{balanceKey(userId)},
		expectedVersion, amount.String(), now.Format(time.RFC3339Nano)).Int64()
	if err != nil {
		zap.L().Error("Failed to update balance", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	if version < 0 {
		return nil, fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}

	return &models.Balance{UserId: userId, Amount: amount, Version: version, UpdatedAt: now}, nil
}

func (s *Service) SetBalance(ctx context.Context, userId string, amount decimal.Decimal) error {
	key := balanceKey(userId)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldBalance, amount.String(), fieldUpdatedAt, s.timestamp())
		pipe.HIncrBy(ctx, key, fieldVersion, 1)
		return nil
	})
	if err != nil {
		zap.L().Error("Failed to set balance", zap.String("user_id", userId), zap.Error(err))
		return fmt.Errorf("failed to set balance: %w", err)
	}
	return nil
}

// ListUsers scans user_balance:* without blocking the server
func (s *Service) ListUsers(ctx context.Context) ([]string, error) {
	var users []string
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, balancePrefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("unable to scan users: %w", err)
		}
		for _, key := range keys {
			users = append(users, strings.TrimPrefix(key, balancePrefix))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return users, nil
}

func (s *Service) GetThreshold(ctx context.Context, userId string) (decimal.Decimal, bool, error) {
	raw, err := s.client.Get(ctx, thresholdKey(userId)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("unable to get threshold: %w", err)
	}

	threshold, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to parse threshold '%s': %w", raw, err)
	}
	return threshold, true, nil
}

func (s *Service) SetThreshold(ctx context.Context, userId string, amount decimal.Decimal) error {
	if err := s.client.Set(ctx, thresholdKey(userId), amount.String(), 0).Err(); err != nil {
		return fmt.Errorf("unable to set threshold: %w", err)
	}
	return nil
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}
