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

// Package budget splits the shared monthly budget across all known users.
//
// Each user's threshold is the monthly budget divided by the user count. A
// reset zeroes every balance, lifts every lock and records when it ran; at
// most one reset happens per calendar month (UTC). When a user joins, the
// thresholds are recomputed, unless a reset is already due, in which case the
// reset runs instead and covers the new user.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sage-gateway-go/internal/metrics"
	"sage-gateway-go/internal/models"
	"sage-gateway-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// allocationPlaces is the precision thresholds are stored with.
const allocationPlaces = 8

type Allocator struct {
	store  store.LedgerStore
	budget decimal.Decimal
	now    func() time.Time

	mu sync.Mutex
}

func NewAllocator(s store.LedgerStore, monthlyBudget decimal.Decimal) (*Allocator, error) {
	if !monthlyBudget.IsPositive() {
		return nil, fmt.Errorf("monthly budget must be positive, got %s", monthlyBudget)
	}
	return &Allocator{store: s, budget: monthlyBudget, now: time.Now}, nil
}

// SetClock replaces the time source used to decide whether a reset is due.
func (a *Allocator) SetClock(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = now
}

func (a *Allocator) Budget() decimal.Decimal {
	return a.budget
}

// Allocation returns the per-user share for a population of userCount.
func (a *Allocator) Allocation(userCount int) decimal.Decimal {
	if userCount <= 0 {
		return decimal.Zero
	}
	return a.budget.DivRound(decimal.NewFromInt(int64(userCount)), allocationPlaces)
}

// PerformMonthlyReset zeroes all balances, sets every threshold to the
// current allocation, unlocks everyone and records the reset. It returns nil
// without recording anything when there are no users.
func (a *Allocator) PerformMonthlyReset(ctx context.Context) (*models.MonthlyReset, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.performReset(ctx, "")
}

func (a *Allocator) performReset(ctx context.Context, lastUserId string) (*models.MonthlyReset, error) {
	users, err := a.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to list users for reset: %w", err)
	}
	users = moveLast(users, lastUserId)
	if len(users) == 0 {
		zap.L().Info("Skipping monthly reset, no users")
		return nil, nil
	}

	allocation := a.Allocation(len(users))
	zap.L().Info("Performing monthly reset",
		zap.Int("user_count", len(users)),
		zap.String("budget", a.budget.String()),
		zap.String("allocation_per_user", allocation.String()))

	for _, userId := range users {
		if err := a.store.SetBalance(ctx, userId, decimal.Zero); err != nil {
			return nil, fmt.Errorf("unable to reset balance for %s: %w", userId, err)
		}
		if err := a.store.SetThreshold(ctx, userId, allocation); err != nil {
			return nil, fmt.Errorf("unable to reset threshold for %s: %w", userId, err)
		}
		if err := a.store.Unlock(ctx, userId); err != nil {
			return nil, fmt.Errorf("unable to unlock %s: %w", userId, err)
		}
		metrics.UnlocksTotal.WithLabelValues("reset").Inc()
	}

	reset := &models.MonthlyReset{
		Timestamp:  a.now().UTC(),
		Budget:     a.budget,
		UserCount:  len(users),
		Allocation: allocation,
	}
	if err := a.store.SaveLastReset(ctx, reset); err != nil {
		return nil, fmt.Errorf("unable to record reset: %w", err)
	}

	metrics.MonthlyResetsTotal.Inc()
	zap.L().Info("Monthly reset complete", zap.Time("timestamp", reset.Timestamp))
	return reset, nil
}

// ShouldPerformReset reports whether no reset has been recorded yet or the
// current UTC month is later than the month of the last one.
func (a *Allocator) ShouldPerformReset(ctx context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resetDue(ctx)
}

func (a *Allocator) resetDue(ctx context.Context) (bool, error) {
	last, err := a.store.GetLastReset(ctx)
	if err != nil {
		return false, fmt.Errorf("unable to read last reset: %w", err)
	}
	if last == nil {
		return true, nil
	}
	return laterMonth(a.now().UTC(), last.Timestamp.UTC()), nil
}

func laterMonth(now, last time.Time) bool {
	if now.Year() != last.Year() {
		return now.Year() > last.Year()
	}
	return now.Month() > last.Month()
}

// RecalculateAllThresholds sets every user's threshold to the current
// allocation. Balances and locks are left alone.
func (a *Allocator) RecalculateAllThresholds(ctx context.Context) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recalculate(ctx, "")
}

func (a *Allocator) recalculate(ctx context.Context, lastUserId string) (decimal.Decimal, error) {
	users, err := a.store.ListUsers(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unable to list users for recalculation: %w", err)
	}
	users = moveLast(users, lastUserId)
	if len(users) == 0 {
		return decimal.Zero, nil
	}

	allocation := a.Allocation(len(users))
	for _, userId := range users {
		if err := a.store.SetThreshold(ctx, userId, allocation); err != nil {
			return decimal.Zero, fmt.Errorf("unable to set threshold for %s: %w", userId, err)
		}
	}

	zap.L().Info("Recalculated thresholds",
		zap.Int("user_count", len(users)),
		zap.String("allocation_per_user", allocation.String()))
	return allocation, nil
}

// UserJoined runs after a new balance record is created. A due reset takes
// precedence over the plain recalculation. The joining user's threshold is
// written last, so a stored threshold for userId means the rebalance finished.
func (a *Allocator) UserJoined(ctx context.Context, userId string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	due, err := a.resetDue(ctx)
	if err != nil {
		return err
	}
	if due {
		_, err := a.performReset(ctx, userId)
		return err
	}

	_, err = a.recalculate(ctx, userId)
	return err
}

// moveLast returns users with userId moved to the end.
func moveLast(users []string, userId string) []string {
	if userId == "" {
		return users
	}
	ordered := make([]string, 0, len(users))
	found := false
	for _, u := range users {
		if u == userId {
			found = true
			continue
		}
		ordered = append(ordered, u)
	}
	if found {
		ordered = append(ordered, userId)
	}
	return ordered
}

// ResetIfDue performs the monthly reset when one is due.
func (a *Allocator) ResetIfDue(ctx context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	due, err := a.resetDue(ctx)
	if err != nil || !due {
		return false, err
	}

	reset, err := a.performReset(ctx, "")
	if err != nil {
		return false, err
	}
	return reset != nil, nil
}
