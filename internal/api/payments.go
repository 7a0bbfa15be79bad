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
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"mime"
	"net/url"
	"strings"

	"sage-gateway-go/internal/metrics"
	"sage-gateway-go/internal/models"
	"sage-gateway-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	paymentIdLength = 8
	paymentIdMarker = "ID:"
	paymentMessage  = "Payment for Discord Bot - ID: "
)

// GeneratePaymentLink records a pending payment and returns the provider
// link whose prefilled message carries the payment id.
func (s *LedgerService) GeneratePaymentLink(ctx context.Context, userId string, amount decimal.Decimal) (string, *models.PendingPayment, error) {
	if userId == "" {
		return "", nil, fmt.Errorf("user_id is required")
	}
	if !amount.IsPositive() {
		return "", nil, ErrInvalidAmount
	}

	now := s.now().UTC()
	payment := &models.PendingPayment{
		PaymentId:       newPaymentId(userId, now.UnixMilli()),
		UserId:          userId,
		RequestedAmount: amount,
		CreatedAt:       now,
		Status:          models.PaymentPending,
		AmountPaid:      decimal.Zero,
	}

	if err := s.store.SavePayment(ctx, payment, store.PendingPaymentTTL); err != nil {
		zap.L().Error("Failed to store pending payment", zap.String("user_id", userId), zap.Error(err))
		return "", nil, fmt.Errorf("failed to store pending payment: %w", err)
	}

	metrics.PaymentLinksTotal.Inc()
	zap.L().Info("Payment link generated",
		zap.String("user_id", userId),
		zap.String("payment_id", payment.PaymentId),
		zap.String("amount", amount.String()))

	return s.paymentLink(payment.PaymentId), payment, nil
}

func (s *LedgerService) paymentLink(paymentId string) string {
	message := strings.ReplaceAll(url.QueryEscape(paymentMessage+paymentId), "+", "%20")
	return s.paymentLinkBase + "?message=" + message
}

func newPaymentId(userId string, unixMillis int64) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s_%d", userId, unixMillis)))
	return hex.EncodeToString(sum[:])[:paymentIdLength]
}

// ExtractPaymentId returns the first word after "ID:" in a payment message
func ExtractPaymentId(message string) (string, bool) {
	idx := strings.Index(message, paymentIdMarker)
	if idx < 0 {
		return "", false
	}
	fields := strings.Fields(message[idx+len(paymentIdMarker):])
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}

// HandlePaymentNotification reconciles a provider notification with a
// pending payment. It never returns an error; failures are reported in the
// result status.
func (s *LedgerService) HandlePaymentNotification(ctx context.Context, notification *models.PaymentNotification) *models.PaymentResult {
	result := s.reconcilePayment(ctx, notification)
	metrics.PaymentsTotal.WithLabelValues(result.Status).Inc()
	return result
}

func (s *LedgerService) reconcilePayment(ctx context.Context, notification *models.PaymentNotification) *models.PaymentResult {
	if notification == nil {
		return &models.PaymentResult{Status: models.PaymentStatusError, Reason: "empty notification"}
	}

	zap.L().Info("Processing payment notification",
		zap.String("type", notification.Type),
		zap.String("amount", notification.Amount.String()),
		zap.String("transaction_id", notification.TransactionId))

	paymentId, ok := ExtractPaymentId(notification.Message)
	if !ok {
		zap.L().Info("Payment notification without payment id, ignoring",
			zap.String("transaction_id", notification.TransactionId))
		return &models.PaymentResult{Status: models.PaymentStatusIgnored, Reason: "no payment id in message"}
	}

	if !notification.Amount.IsPositive() {
		zap.L().Warn("Payment notification with invalid amount",
			zap.String("payment_id", paymentId),
			zap.String("amount", notification.Amount.String()))
		return &models.PaymentResult{Status: models.PaymentStatusError, PaymentId: paymentId, Reason: "invalid amount"}
	}

	// Redeliveries of the same notification are serialised on the payment id
	unlock := s.userLocks.Lock("payment:" + paymentId)
	defer unlock()

	payment, err := s.store.GetPayment(ctx, paymentId)
	if err != nil {
		zap.L().Error("Failed to look up payment", zap.String("payment_id", paymentId), zap.Error(err))
		return &models.PaymentResult{Status: models.PaymentStatusError, PaymentId: paymentId, Reason: "payment lookup failed"}
	}
	if payment == nil {
		zap.L().Warn("Unknown or expired payment id", zap.String("payment_id", paymentId))
		return &models.PaymentResult{Status: models.PaymentStatusIgnored, PaymentId: paymentId, Reason: "unknown or expired payment"}
	}
	if payment.Status == models.PaymentCompleted {
		zap.L().Info("Payment already processed", zap.String("payment_id", paymentId))
		return &models.PaymentResult{Status: models.PaymentStatusIgnored, PaymentId: paymentId, UserId: payment.UserId, Reason: "payment already processed"}
	}

	amount := notification.Amount
	newBalance, err := s.SubtractPayment(ctx, payment.UserId, amount)
	if err != nil {
		zap.L().Error("Failed to apply payment",
			zap.String("payment_id", paymentId),
			zap.String("user_id", payment.UserId),
			zap.Error(err))
		return &models.PaymentResult{Status: models.PaymentStatusError, PaymentId: paymentId, UserId: payment.UserId, Reason: "balance update failed"}
	}

	payment.Status = models.PaymentCompleted
	payment.AmountPaid = amount
	payment.CompletedAt = s.now().UTC()
	if err := s.store.SavePayment(ctx, payment, store.CompletedPaymentTTL); err != nil {
		zap.L().Error("Failed to mark payment completed",
			zap.String("payment_id", paymentId),
			zap.String("user_id", payment.UserId),
			zap.Error(err))
		return &models.PaymentResult{Status: models.PaymentStatusError, PaymentId: paymentId, UserId: payment.UserId, Reason: "payment record update failed"}
	}

	result := &models.PaymentResult{
		Status:     models.PaymentStatusSuccess,
		PaymentId:  paymentId,
		UserId:     payment.UserId,
		Amount:     amount,
		NewBalance: newBalance,
	}

	threshold, err := s.GetThreshold(ctx, payment.UserId)
	if err != nil {
		zap.L().Error("Failed to read threshold after payment", zap.String("user_id", payment.UserId), zap.Error(err))
		return result
	}
	result.Threshold = threshold

	if newBalance.LessThan(threshold) {
		if err := s.unlock(ctx, payment.UserId, "payment"); err != nil {
			zap.L().Error("Failed to unlock after payment", zap.String("user_id", payment.UserId), zap.Error(err))
		} else {
			result.Unlocked = true
		}
	}

	zap.L().Info("Payment processed successfully",
		zap.String("payment_id", paymentId),
		zap.String("user_id", payment.UserId),
		zap.String("amount", amount.String()),
		zap.String("new_balance", newBalance.String()),
		zap.Bool("unlocked", result.Unlocked))
	return result
}

type notificationPayload struct {
	Data              string          `json:"data"`
	VerificationToken string          `json:"verification_token"`
	Type              string          `json:"type"`
	Message           string          `json:"message"`
	Amount            decimal.Decimal `json:"amount"`
	TransactionId     string          `json:"kofi_transaction_id"`
}

// ParsePaymentPayload decodes a provider notification. It accepts a form
// body with a JSON "data" field, a JSON body wrapping the same "data" string,
// or a JSON body carrying the fields directly.
func ParsePaymentPayload(body []byte, contentType string) (*models.PaymentNotification, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)

	var raw []byte
	if mediaType == "application/x-www-form-urlencoded" {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("malformed form body: %w", err)
		}
		data := values.Get("data")
		if data == "" {
			return nil, fmt.Errorf("form body has no data field")
		}
		raw = []byte(data)
	} else {
		raw = body
	}

	var payload notificationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("malformed payload: %w", err)
	}
	if payload.Data != "" {
		inner := notificationPayload{}
		if err := json.Unmarshal([]byte(payload.Data), &inner); err != nil {
			return nil, fmt.Errorf("malformed data field: %w", err)
		}
		if inner.VerificationToken == "" {
			inner.VerificationToken = payload.VerificationToken
		}
		payload = inner
	}

	return &models.PaymentNotification{
		Amount:            payload.Amount,
		Message:           payload.Message,
		VerificationToken: payload.VerificationToken,
		TransactionId:     payload.TransactionId,
		Type:              payload.Type,
	}, nil
}
