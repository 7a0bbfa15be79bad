package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sage-gateway-go/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AppendHistory adds a turn and trims the user's history to the newest maxMessages
func (s *Service) AppendHistory(ctx context.Context, userId string, msg models.ChatMessage, maxMessages int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, queryInsertHistory, uuid.New().String(), userId, msg.Role, msg.Content, s.nowUTC()); err != nil {
		return fmt.Errorf("failed to insert history: %w", err)
	}

	if maxMessages > 0 {
		if _, err := tx.ExecContext(ctx, queryTrimHistory, userId, userId, maxMessages); err != nil {
			return fmt.Errorf("failed to trim history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Service) GetHistory(ctx context.Context, userId string) ([]models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, queryGetHistory, userId)
	if err != nil {
		zap.L().Error("Failed to query history", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("unable to query history: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var history []models.ChatMessage
	for rows.Next() {
		var msg models.ChatMessage
		if err := rows.Scan(&msg.Role, &msg.Content); err != nil {
			return nil, fmt.Errorf("unable to scan history row: %w", err)
		}
		history = append(history, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}
	return history, nil
}

func (s *Service) GetLastReset(ctx context.Context) (*models.MonthlyReset, error) {
	var reset models.MonthlyReset
	var budgetStr, allocationStr string
	err := s.db.QueryRowContext(ctx, queryGetLastReset).Scan(&reset.Timestamp, &budgetStr, &reset.UserCount, &allocationStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		zap.L().Error("Failed to query last reset", zap.Error(err))
		return nil, fmt.Errorf("unable to query last reset: %w", err)
	}

	if reset.Budget, err = decimal.NewFromString(budgetStr); err != nil {
		return nil, fmt.Errorf("failed to parse budget '%s': %w", budgetStr, err)
	}
	if reset.Allocation, err = decimal.NewFromString(allocationStr); err != nil {
		return nil, fmt.Errorf("failed to parse allocation '%s': %w", allocationStr, err)
	}
	return &reset, nil
}

func (s *Service) SaveLastReset(ctx context.Context, reset *models.MonthlyReset) error {
	_, err := s.db.ExecContext(ctx, queryInsertReset,
		reset.Timestamp.UTC(), reset.Budget.String(), reset.UserCount, reset.Allocation.String())
	if err != nil {
		zap.L().Error("Failed to record reset", zap.Error(err))
		return fmt.Errorf("unable to record reset: %w", err)
	}
	return nil
}

// PurgeExpired deletes locks and payments whose expiry has passed
func (s *Service) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.UTC().UnixMilli()

	var purged int64
	for _, query := range []string{queryPurgeLocks, queryPurgePayments} {
		result, err := s.db.ExecContext(ctx, query, cutoff)
		if err != nil {
			return purged, fmt.Errorf("unable to purge expired records: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return purged, fmt.Errorf("unable to get rows affected: %w", err)
		}
		purged += n
	}
	return purged, nil
}
