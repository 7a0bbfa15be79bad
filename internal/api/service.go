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
	"errors"
	"fmt"
	"time"

	"sage-gateway-go/internal/billing"
	"sage-gateway-go/internal/budget"
	"sage-gateway-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// maxUpdateAttempts bounds compare-and-swap retries against writers in other processes.
	maxUpdateAttempts = 5

	DefaultHistoryLimit = 40
)

var ErrInvalidAmount = errors.New("amount must be positive")

// LedgerService owns balances, thresholds, locks and payment reconciliation
type LedgerService struct {
	store            store.LedgerStore
	calculator       *billing.Calculator
	allocator        *budget.Allocator
	defaultThreshold decimal.Decimal
	paymentLinkBase  string
	historyLimit     int

	userLocks *keyedMutex
	now       func() time.Time
}

func NewLedgerService(s store.LedgerStore, calculator *billing.Calculator, allocator *budget.Allocator, defaultThreshold decimal.Decimal, paymentLinkBase string) *LedgerService {
	return &LedgerService{
		store:            s,
		calculator:       calculator,
		allocator:        allocator,
		defaultThreshold: defaultThreshold,
		paymentLinkBase:  paymentLinkBase,
		historyLimit:     DefaultHistoryLimit,
		userLocks:        newKeyedMutex(),
		now:              time.Now,
	}
}

func (s *LedgerService) HealthCheck(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("ledger store health check failed: %w", err)
	}
	return nil
}

func (s *LedgerService) Calculator() *billing.Calculator {
	return s.calculator
}

// updateBalance applies fn to the user's balance under the per-user mutex and
// writes the result with a versioned compare-and-swap.
func (s *LedgerService) updateBalance(ctx context.Context, userId string, fn func(current decimal.Decimal) decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	unlock := s.userLocks.Lock(userId)
	defer unlock()

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		current, err := s.store.GetBalance(ctx, userId)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}

		var previous decimal.Decimal
		var version int64
		if current != nil {
			previous = current.Amount
			version = current.Version
		}

		updated, err := s.store.UpdateBalance(ctx, userId, fn(previous), version)
		if errors.Is(err, store.ErrConcurrentModification) {
			zap.L().Warn("Balance changed underneath update, retrying",
				zap.String("user_id", userId),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		return previous, updated.Amount, nil
	}

	return decimal.Zero, decimal.Zero, fmt.Errorf("balance update for %s gave up after %d attempts: %w",
		userId, maxUpdateAttempts, store.ErrConcurrentModification)
}
