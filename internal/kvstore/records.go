package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sage-gateway-go/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func (s *Service) IsLocked(ctx context.Context, userId string) (bool, error) {
	n, err := s.client.Exists(ctx, lockKey(userId)).Result()
	if err != nil {
		return false, fmt.Errorf("unable to check lock: %w", err)
	}
	return n > 0, nil
}

func (s *Service) Lock(ctx context.Context, userId string, ttl time.Duration) error {
	if err := s.client.Set(ctx, lockKey(userId), "1", ttl).Err(); err != nil {
		zap.L().Error("Failed to lock user", zap.String("user_id", userId), zap.Error(err))
		return fmt.Errorf("unable to lock user: %w", err)
	}
	return nil
}

func (s *Service) Unlock(ctx context.Context, userId string) error {
	if err := s.client.Del(ctx, lockKey(userId)).Err(); err != nil {
		zap.L().Error("Failed to unlock user", zap.String("user_id", userId), zap.Error(err))
		return fmt.Errorf("unable to unlock user: %w", err)
	}
	return nil
}

func (s *Service) SavePayment(ctx context.Context, payment *models.PendingPayment, ttl time.Duration) error {
	data, err := json.Marshal(payment)
	if err != nil {
		return fmt.Errorf("unable to encode payment: %w", err)
	}
	if err := s.client.Set(ctx, paymentKey(payment.PaymentId), data, ttl).Err(); err != nil {
		zap.L().Error("Failed to store payment", zap.String("payment_id", payment.PaymentId), zap.Error(err))
		return fmt.Errorf("unable to store payment: %w", err)
	}
	return nil
}

func (s *Service) GetPayment(ctx context.Context, paymentId string) (*models.PendingPayment, error) {
	data, err := s.client.Get(ctx, paymentKey(paymentId)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to get payment: %w", err)
	}

	var payment models.PendingPayment
	if err := json.Unmarshal(data, &payment); err != nil {
		return nil, fmt.Errorf("unable to decode payment %s: %w", paymentId, err)
	}
	return &payment, nil
}

func (s *Service) GetLastReset(ctx context.Context) (*models.MonthlyReset, error) {
	data, err := s.client.Get(ctx, lastResetKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to get last reset: %w", err)
	}

	var reset models.MonthlyReset
	if err := json.Unmarshal(data, &reset); err != nil {
		return nil, fmt.Errorf("unable to decode last reset: %w", err)
	}
	return &reset, nil
}

func (s *Service) SaveLastReset(ctx context.Context, reset *models.MonthlyReset) error {
	data, err := json.Marshal(reset)
	if err != nil {
		return fmt.Errorf("unable to encode reset: %w", err)
	}
	if err := s.client.Set(ctx, lastResetKey, data, 0).Err(); err != nil {
		return fmt.Errorf("unable to store last reset: %w", err)
	}
	return nil
}

// AppendHistory pushes a turn and keeps only the newest maxMessages
func (s *Service) AppendHistory(ctx context.Context, userId string, msg models.ChatMessage, maxMessages int) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("unable to encode message: %w", err)
	}

	key := historyKey(userId)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		if maxMessages > 0 {
			pipe.LTrim(ctx, key, int64(-maxMessages), -1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("unable to append history: %w", err)
	}
	return nil
}

func (s *Service) GetHistory(ctx context.Context, userId string) ([]models.ChatMessage, error) {
	entries, err := s.client.LRange(ctx, historyKey(userId), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("unable to get history: %w", err)
	}

	history := make([]models.ChatMessage, 0, len(entries))
	for _, entry := range entries {
		var msg models.ChatMessage
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			zap.L().Warn("Skipping malformed history entry", zap.String("user_id", userId), zap.Error(err))
			continue
		}
		history = append(history, msg)
	}
	return history, nil
}

func (s *Service) MarkWelcomed(ctx context.Context, channelId, userId string) (bool, error) {
	ok, err := s.client.SetNX(ctx, welcomedKey(channelId, userId), "1", 0).Result()
	if err != nil {
		return false, fmt.Errorf("unable to record welcome: %w", err)
	}
	return ok, nil
}
