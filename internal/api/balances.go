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

package api

import (
	"context"
	"fmt"

	"sage-gateway-go/internal/metrics"
	"sage-gateway-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GetBalance returns the user's accumulated charge, zero when no record exists
func (s *LedgerService) GetBalance(ctx context.Context, userId string) (decimal.Decimal, error) {
	if userId == "" {
		return decimal.Zero, fmt.Errorf("user_id is required")
	}

	balance, err := s.store.GetBalance(ctx, userId)
	if err != nil {
		zap.L().Error("Failed to get user balance", zap.String("user_id", userId), zap.Error(err))
		return decimal.Zero, fmt.Errorf("failed to retrieve balance: %w", err)
	}
	if balance == nil {
		return decimal.Zero, nil
	}
	return balance.Amount, nil
}

func (s *LedgerService) IsNewUser(ctx context.Context, userId string) (bool, error) {
	balance, err := s.store.GetBalance(ctx, userId)
	if err != nil {
		return false, fmt.Errorf("failed to check user record: %w", err)
	}
	return balance == nil, nil
}

// InitializeNewUser creates a zero balance and rebalances thresholds across
// the new population. It reports whether a record was created. An existing
// user without a stored threshold joined while a rebalance failed, so the
// rebalance is run again.
func (s *LedgerService) InitializeNewUser(ctx context.Context, userId string) (bool, error) {
	if userId == "" {
		return false, fmt.Errorf("user_id is required")
	}

	created, err := s.store.CreateBalance(ctx, userId)
	if err != nil {
		return false, fmt.Errorf("failed to create balance record: %w", err)
	}

	if created {
		zap.L().Info("Initialized new user", zap.String("user_id", userId))
	} else {
		_, stored, err := s.store.GetThreshold(ctx, userId)
		if err != nil {
			return false, fmt.Errorf("failed to read threshold: %w", err)
		}
		if stored {
			return false, nil
		}
		zap.L().Warn("Retrying threshold rebalance for user", zap.String("user_id", userId))
	}

	if err := s.allocator.UserJoined(ctx, userId); err != nil {
		return created, fmt.Errorf("failed to rebalance thresholds: %w", err)
	}
	return created, nil
}

// AddTokenCosts charges the user for a metered generation. It never locks;
// the lock is applied by CheckAccess before the next message.
func (s *LedgerService) AddTokenCosts(ctx context.Context, userId string, inputTokens, outputTokens int64) (*models.ChargeResult, error) {
	cost := s.calculator.TokenCost(inputTokens, outputTokens)
	return s.charge(ctx, userId, cost, "metered")
}

// AddUsageCost charges a flat estimate priced at the input rate.
func (s *LedgerService) AddUsageCost(ctx context.Context, userId string, estimatedTokens int64) (*models.ChargeResult, error) {
	cost := s.calculator.EstimateCost(estimatedTokens)
	return s.charge(ctx, userId, cost, "estimate")
}

func (s *LedgerService) charge(ctx context.Context, userId string, cost models.TokenCost, source string) (*models.ChargeResult, error) {
	if userId == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	previous, newBalance, err := s.updateBalance(ctx, userId, func(current decimal.Decimal) decimal.Decimal {
		return current.Add(cost.TotalCost)
	})
	if err != nil {
		zap.L().Error("Failed to apply usage charge",
			zap.String("user_id", userId),
			zap.String("cost", cost.TotalCost.String()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to apply usage charge: %w", err)
	}

	metrics.UsageChargesTotal.WithLabelValues(source).Inc()
	metrics.UsageCostDollars.Add(cost.TotalCost.InexactFloat64())

	zap.L().Info("Usage charged",
		zap.String("user_id", userId),
		zap.String("source", source),
		zap.Int64("input_tokens", cost.InputTokens),
		zap.Int64("output_tokens", cost.OutputTokens),
		zap.String("cost", cost.TotalCost.String()),
		zap.String("old_balance", previous.String()),
		zap.String("new_balance", newBalance.String()))

	return &models.ChargeResult{
		TokenCost:  cost,
		UserId:     userId,
		NewBalance: newBalance,
	}, nil
}

// SubtractPayment credits a payment against the balance, flooring at zero
func (s *LedgerService) SubtractPayment(ctx context.Context, userId string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}

	_, newBalance, err := s.updateBalance(ctx, userId, func(current decimal.Decimal) decimal.Decimal {
		return decimal.Max(decimal.Zero, current.Sub(amount))
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to apply payment: %w", err)
	}
	return newBalance, nil
}

// GetThreshold returns the stored threshold or the configured default
func (s *LedgerService) GetThreshold(ctx context.Context, userId string) (decimal.Decimal, error) {
	threshold, ok, err := s.store.GetThreshold(ctx, userId)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to retrieve threshold: %w", err)
	}
	if !ok {
		return s.defaultThreshold, nil
	}
	return threshold, nil
}

// SetThreshold overrides a single user's threshold until the next recalculation
func (s *LedgerService) SetThreshold(ctx context.Context, userId string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return s.store.SetThreshold(ctx, userId, amount)
}

func (s *LedgerService) AccountSummary(ctx context.Context, userId string) (*models.UserAccount, error) {
	balance, err := s.store.GetBalance(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve balance: %w", err)
	}
	threshold, err := s.GetThreshold(ctx, userId)
	if err != nil {
		return nil, err
	}
	locked, err := s.IsLocked(ctx, userId)
	if err != nil {
		return nil, err
	}

	account := &models.UserAccount{
		UserId:       userId,
		Threshold:    threshold,
		Locked:       locked,
		HasOwnRecord: balance != nil,
	}
	if balance != nil {
		account.Balance = balance.Amount
	}
	return account, nil
}

// ListAccounts returns a summary for every user with a balance record
func (s *LedgerService) ListAccounts(ctx context.Context) ([]models.UserAccount, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	accounts := make([]models.UserAccount, 0, len(users))
	for _, userId := range users {
		account, err := s.AccountSummary(ctx, userId)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, nil
}
