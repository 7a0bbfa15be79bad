package api

import (
	"context"
	"fmt"

	"sage-gateway-go/internal/metrics"
	"sage-gateway-go/internal/models"
	"sage-gateway-go/internal/store"

	"go.uber.org/zap"
)

func (s *LedgerService) IsLocked(ctx context.Context, userId string) (bool, error) {
	locked, err := s.store.IsLocked(ctx, userId)
	if err != nil {
		return false, fmt.Errorf("failed to check lock: %w", err)
	}
	return locked, nil
}

// Lock blocks the user for the standard lock lifetime
func (s *LedgerService) Lock(ctx context.Context, userId string) error {
	return s.lock(ctx, userId, "manual")
}

func (s *LedgerService) lock(ctx context.Context, userId, reason string) error {
	if err := s.store.Lock(ctx, userId, store.LockTTL); err != nil {
		return fmt.Errorf("failed to lock user: %w", err)
	}
	metrics.LocksTotal.WithLabelValues(reason).Inc()
	zap.L().Info("User locked", zap.String("user_id", userId), zap.String("reason", reason))
	return nil
}

// Unlock lifts the lock regardless of the current balance
func (s *LedgerService) Unlock(ctx context.Context, userId string) error {
	return s.unlock(ctx, userId, "manual")
}

func (s *LedgerService) unlock(ctx context.Context, userId, reason string) error {
	if err := s.store.Unlock(ctx, userId); err != nil {
		return fmt.Errorf("failed to unlock user: %w", err)
	}
	metrics.UnlocksTotal.WithLabelValues(reason).Inc()
	zap.L().Info("User unlocked", zap.String("user_id", userId), zap.String("reason", reason))
	return nil
}

// CheckAccess gates an inbound message. Locked users are denied. An unlocked
// user whose balance has reached the threshold is locked now and denied; the
// message that pushed them over was already served.
func (s *LedgerService) CheckAccess(ctx context.Context, userId string) (*models.AccessDecision, error) {
	unlock := s.userLocks.Lock(userId)
	defer unlock()

	balance, err := s.GetBalance(ctx, userId)
	if err != nil {
		return nil, err
	}
	threshold, err := s.GetThreshold(ctx, userId)
	if err != nil {
		return nil, err
	}

	decision := &models.AccessDecision{Balance: balance, Threshold: threshold}

	locked, err := s.IsLocked(ctx, userId)
	if err != nil {
		return nil, err
	}
	if locked {
		decision.Locked = true
		return decision, nil
	}

	if balance.GreaterThanOrEqual(threshold) {
		if err := s.lock(ctx, userId, "threshold"); err != nil {
			return nil, err
		}
		zap.L().Info("Threshold reached",
			zap.String("user_id", userId),
			zap.String("balance", balance.String()),
			zap.String("threshold", threshold.String()))
		decision.Locked = true
		decision.NewlyLocked = true
		return decision, nil
	}

	decision.Allowed = true
	return decision, nil
}
