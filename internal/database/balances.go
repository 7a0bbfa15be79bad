package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sage-gateway-go/internal/models"
	"sage-gateway-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GetBalance returns the stored balance row, or nil when the user has none
func (s *Service) GetBalance(ctx context.Context, userId string) (*models.Balance, error) {
	zap.L().Debug("Getting balance", zap.String("user_id", userId))

	var balance models.Balance
	var balanceStr string
	err := s.db.QueryRowContext(ctx, queryGetBalance, userId).Scan(&balance.UserId, &balanceStr, &balance.Version, &balance.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		zap.L().Error("Failed to get balance", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	balance.Amount, err = decimal.NewFromString(balanceStr)
	if err != nil {
		zap.L().Error("Failed to parse balance", zap.String("balance_str", balanceStr), zap.Error(err))
		return nil, fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
	}

	return &balance, nil
}

// CreateBalance inserts a zero balance at version 1 if none exists
func (s *Service) CreateBalance(ctx context.Context, userId string) (bool, error) {
	now := s.nowUTC()
	result, err := s.db.ExecContext(ctx, queryInsertBalanceIfAbsent, userId, decimal.Zero.String(), now, now)
	if err != nil {
		zap.L().Error("Failed to create balance", zap.String("user_id", userId), zap.Error(err))
		return false, fmt.Errorf("failed to create balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rowsAffected > 0 {
		zap.L().Info("Balance record created", zap.String("user_id", userId))
	}
	return rowsAffected > 0, nil
}

// UpdateBalance writes amount only if the row is still at expectedVersion.
// An expectedVersion of zero means the row must not exist yet.
func (s *Service) UpdateBalance(ctx context.Context, userId string, amount decimal.Decimal, expectedVersion int64) (*models.Balance, error) {
	now := s.nowUTC()

	var result sql.Result
	var err error
	if expectedVersion == 0 {
		result, err = s.db.ExecContext(ctx, queryInsertBalanceIfAbsent, userId, amount.String(), now, now)
	} else {
		result, err = s.db.ExecContext(ctx, queryUpdateBalance, amount.String(), now, userId, expectedVersion)
	}
	if err != nil {
		zap.L().Error("Failed to update balance", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}

	zap.L().Debug("Balance updated",
		zap.String("user_id", userId),
		zap.String("new_balance", amount.String()),
		zap.Int64("version", expectedVersion+1))

	return &models.Balance{
		UserId:    userId,
		Amount:    amount,
		Version:   expectedVersion + 1,
		UpdatedAt: now,
	}, nil
}

// SetBalance overwrites the balance regardless of version
func (s *Service) SetBalance(ctx context.Context, userId string, amount decimal.Decimal) error {
	now := s.nowUTC()
	if _, err := s.db.ExecContext(ctx, queryUpsertBalance, userId, amount.String(), now, now); err != nil {
		zap.L().Error("Failed to set balance", zap.String("user_id", userId), zap.Error(err))
		return fmt.Errorf("failed to set balance: %w", err)
	}
	return nil
}

func (s *Service) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, queryListUsers)
	if err != nil {
		zap.L().Error("Failed to query users", zap.Error(err))
		return nil, fmt.Errorf("unable to query users: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var users []string
	for rows.Next() {
		var userId string
		if err := rows.Scan(&userId); err != nil {
			return nil, fmt.Errorf("unable to scan user row: %w", err)
		}
		users = append(users, userId)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during user row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}

	zap.L().Debug("Retrieved users", zap.Int("count", len(users)))
	return users, nil
}
