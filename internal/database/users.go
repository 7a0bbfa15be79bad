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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (s *Service) GetThreshold(ctx context.Context, userId string) (decimal.Decimal, bool, error) {
	var thresholdStr string
	err := s.db.QueryRowContext(ctx, queryGetThreshold, userId).Scan(&thresholdStr)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		zap.L().Error("Failed to query threshold", zap.String("user_id", userId), zap.Error(err))
		return decimal.Zero, false, fmt.Errorf("unable to query threshold: %w", err)
	}

	threshold, err := decimal.NewFromString(thresholdStr)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to parse threshold '%s': %w", thresholdStr, err)
	}
	return threshold, true, nil
}

func (s *Service) SetThreshold(ctx context.Context, userId string, amount decimal.Decimal) error {
	if _, err := s.db.ExecContext(ctx, queryUpsertThreshold, userId, amount.String(), s.nowUTC()); err != nil {
		zap.L().Error("Failed to store threshold", zap.String("user_id", userId), zap.Error(err))
		return fmt.Errorf("unable to store threshold: %w", err)
	}
	return nil
}

func (s *Service) IsLocked(ctx context.Context, userId string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, queryIsLocked, userId, s.nowUTC().UnixMilli()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		zap.L().Error("Failed to query lock", zap.String("user_id", userId), zap.Error(err))
		return false, fmt.Errorf("unable to query lock: %w", err)
	}
	return true, nil
}

func (s *Service) Lock(ctx context.Context, userId string, ttl time.Duration) error {
	now := s.nowUTC()
	if _, err := s.db.ExecContext(ctx, queryUpsertLock, userId, now, expiresAt(now, ttl)); err != nil {
		zap.L().Error("Failed to lock user", zap.String("user_id", userId), zap.Error(err))
		return fmt.Errorf("unable to lock user: %w", err)
	}
	return nil
}

func (s *Service) Unlock(ctx context.Context, userId string) error {
	if _, err := s.db.ExecContext(ctx, queryDeleteLock, userId); err != nil {
		zap.L().Error("Failed to unlock user", zap.String("user_id", userId), zap.Error(err))
		return fmt.Errorf("unable to unlock user: %w", err)
	}
	return nil
}

func (s *Service) MarkWelcomed(ctx context.Context, channelId, userId string) (bool, error) {
	result, err := s.db.ExecContext(ctx, queryInsertWelcomed, channelId, userId)
	if err != nil {
		return false, fmt.Errorf("unable to record welcome: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unable to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}
