package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sage-gateway-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SavePayment inserts or overwrites a payment record and resets its expiry
func (s *Service) SavePayment(ctx context.Context, payment *models.PendingPayment, ttl time.Duration) error {
	zap.L().Debug("Storing payment",
		zap.String("payment_id", payment.PaymentId),
		zap.String("user_id", payment.UserId),
		zap.String("status", string(payment.Status)))

	var completedAt sql.NullTime
	if !payment.CompletedAt.IsZero() {
		completedAt = sql.NullTime{Time: payment.CompletedAt.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, queryUpsertPayment,
		payment.PaymentId,
		payment.UserId,
		payment.RequestedAmount.String(),
		string(payment.Status),
		payment.AmountPaid.String(),
		payment.CreatedAt.UTC(),
		completedAt,
		expiresAt(s.nowUTC(), ttl))
	if err != nil {
		zap.L().Error("Failed to store payment", zap.String("payment_id", payment.PaymentId), zap.Error(err))
		return fmt.Errorf("unable to store payment: %w", err)
	}
	return nil
}

// GetPayment returns nil when the payment is unknown or expired
func (s *Service) GetPayment(ctx context.Context, paymentId string) (*models.PendingPayment, error) {
	var payment models.PendingPayment
	var requestedStr, paidStr, status string
	var completedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, queryGetPayment, paymentId, s.nowUTC().UnixMilli()).Scan(
		&payment.PaymentId, &payment.UserId, &requestedStr, &status, &paidStr, &payment.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		zap.L().Error("Failed to query payment", zap.String("payment_id", paymentId), zap.Error(err))
		return nil, fmt.Errorf("unable to query payment: %w", err)
	}

	payment.Status = models.PaymentStatus(status)
	if payment.RequestedAmount, err = decimal.NewFromString(requestedStr); err != nil {
		return nil, fmt.Errorf("failed to parse requested amount '%s': %w", requestedStr, err)
	}
	if payment.AmountPaid, err = decimal.NewFromString(paidStr); err != nil {
		return nil, fmt.Errorf("failed to parse amount paid '%s': %w", paidStr, err)
	}
	if completedAt.Valid {
		payment.CompletedAt = completedAt.Time
	}

	return &payment, nil
}
