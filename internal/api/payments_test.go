package api

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"sage-gateway-go/internal/models"
	"sage-gateway-go/internal/store"

	"github.com/shopspring/decimal"
)

func notificationFor(paymentId, amount string) *models.PaymentNotification {
	return &models.PaymentNotification{
		Amount:  decimal.RequireFromString(amount),
		Message: "Payment for Discord Bot - ID: " + paymentId,
		Type:    "Donation",
	}
}

func TestHandlePaymentNotification_UnlocksBelowThreshold(t *testing.T) {
	service, s := setupTestService(t)
	ctx := context.Background()

	if err := s.SetBalance(ctx, "alice", decimal.NewFromInt(6)); err != nil {
		t.Fatalf("SetBalance failed: %v", err)
	}
	if err := s.Lock(ctx, "alice", store.LockTTL); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	_, payment, err := service.GeneratePaymentLink(ctx, "alice", decimal.NewFromInt(6))
	if err != nil {
		t.Fatalf("GeneratePaymentLink failed: %v", err)
	}

	result := service.HandlePaymentNotification(ctx, notificationFor(payment.PaymentId, "3.00"))
	if result.Status != models.PaymentStatusSuccess {
		t.Fatalf("Expected success, got %+v", result)
	}
	if !result.NewBalance.Equal(decimal.NewFromInt(3)) || !result.Unlocked {
		t.Errorf("Expected balance 3 and unlocked, got %+v", result)
	}
	if locked, _ := s.IsLocked(ctx, "alice"); locked {
		t.Errorf("Expected alice to be unlocked")
	}

	stored, _ := s.GetPayment(ctx, payment.PaymentId)
	if stored.Status != models.PaymentCompleted || !stored.AmountPaid.Equal(decimal.NewFromInt(3)) {
		t.Errorf("Expected completed payment record, got %+v", stored)
	}
}

func TestHandlePaymentNotification_StaysLockedAtThreshold(t *testing.T) {
	service, s := setupTestService(t)
	ctx := context.Background()

	if err := s.SetBalance(ctx, "alice", decimal.NewFromInt(9)); err != nil {
		t.Fatalf("SetBalance failed: %v", err)
	}
	if err := s.Lock(ctx, "alice", store.LockTTL); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	_, payment, _ := service.GeneratePaymentLink(ctx, "alice", decimal.NewFromInt(9))

	result := service.HandlePaymentNotification(ctx, notificationFor(payment.PaymentId, "4"))
	if result.Status != models.PaymentStatusSuccess {
		t.Fatalf("Expected success, got %+v", result)
	}
	if result.Unlocked {
		t.Errorf("Expected user to stay locked with balance %s", result.NewBalance)
	}
	if locked, _ := s.IsLocked(ctx, "alice"); !locked {
		t.Errorf("Expected alice to remain locked")
	}
}

func TestHandlePaymentNotification_DuplicateIgnored(t *testing.T) {
	service, s := setupTestService(t)
	ctx := context.Background()

	if err := s.SetBalance(ctx, "alice", decimal.NewFromInt(8)); err != nil {
		t.Fatalf("SetBalance failed: %v", err)
	}
	_, payment, _ := service.GeneratePaymentLink(ctx, "alice", decimal.NewFromInt(8))

	first := service.HandlePaymentNotification(ctx, notificationFor(payment.PaymentId, "3"))
	second := service.HandlePaymentNotification(ctx, notificationFor(payment.PaymentId, "3"))

	if first.Status != models.PaymentStatusSuccess {
		t.Fatalf("Expected first delivery to succeed, got %+v", first)
	}
	if second.Status != models.PaymentStatusIgnored {
		t.Errorf("Expected redelivery to be ignored, got %+v", second)
	}

	balance, _ := service.GetBalance(ctx, "alice")
	if !balance.Equal(decimal.NewFromInt(5)) {
		t.Errorf("Expected a single credit leaving 5, got %s", balance)
	}
}

func TestHandlePaymentNotification_Outcomes(t *testing.T) {
	service, s := setupTestService(t)
	ctx := context.Background()

	_, payment, _ := service.GeneratePaymentLink(ctx, "alice", decimal.NewFromInt(5))

	tests := []struct {
		name         string
		notification *models.PaymentNotification
		status       string
	}{
		{"nil notification", nil, models.PaymentStatusError},
		{"no payment id", &models.PaymentNotification{Amount: decimal.NewFromInt(3), Message: "keep it up"}, models.PaymentStatusIgnored},
		{"unknown id", notificationFor("ffffffff", "3"), models.PaymentStatusIgnored},
		{"zero amount", notificationFor(payment.PaymentId, "0"), models.PaymentStatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := service.HandlePaymentNotification(ctx, tt.notification)
			if result.Status != tt.status {
				t.Errorf("Expected status %s, got %+v", tt.status, result)
			}
		})
	}

	stored, _ := s.GetPayment(ctx, payment.PaymentId)
	if stored.Status != models.PaymentPending {
		t.Errorf("Expected payment untouched by rejected notifications, got %s", stored.Status)
	}
}

func TestHandlePaymentNotification_ExpiredPaymentIgnored(t *testing.T) {
	service, s := setupTestService(t)
	ctx := context.Background()

	_, payment, _ := service.GeneratePaymentLink(ctx, "alice", decimal.NewFromInt(5))
	s.SetClock(func() time.Time { return testNow.Add(store.PendingPaymentTTL + time.Minute) })

	result := service.HandlePaymentNotification(ctx, notificationFor(payment.PaymentId, "5"))
	if result.Status != models.PaymentStatusIgnored {
		t.Errorf("Expected expired payment to be ignored, got %+v", result)
	}
}

func TestParsePaymentPayload(t *testing.T) {
	inner := `{"verification_token":"tok","type":"Donation","message":"Payment for Discord Bot - ID: abcd1234","amount":"3.00","kofi_transaction_id":"tx-1"}`
	wrapped := `{"data":` + quoteJSON(inner) + `}`
	form := "data=" + url.QueryEscape(inner)

	tests := []struct {
		name        string
		body        string
		contentType string
		expectError bool
	}{
		{"form data", form, "application/x-www-form-urlencoded", false},
		{"form data with charset", form, "application/x-www-form-urlencoded; charset=utf-8", false},
		{"json wrapped data", wrapped, "application/json", false},
		{"json direct", inner, "application/json", false},
		{"form missing data", "other=1", "application/x-www-form-urlencoded", true},
		{"malformed json", "{not json", "application/json", true},
		{"malformed inner data", `{"data":"{broken"}`, "application/json", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notification, err := ParsePaymentPayload([]byte(tt.body), tt.contentType)
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error, got %+v", notification)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePaymentPayload failed: %v", err)
			}
			if notification.VerificationToken != "tok" || notification.TransactionId != "tx-1" {
				t.Errorf("Unexpected notification: %+v", notification)
			}
			if !notification.Amount.Equal(decimal.NewFromInt(3)) {
				t.Errorf("Expected amount 3, got %s", notification.Amount)
			}
			if id, _ := ExtractPaymentId(notification.Message); id != "abcd1234" {
				t.Errorf("Expected payment id abcd1234, got %q", id)
			}
		})
	}
}

func TestParsePaymentPayload_OuterVerificationToken(t *testing.T) {
	tests := []struct {
		name     string
		inner    string
		expected string
	}{
		{"inner has no token", `{"amount":"3.00","message":"ID: abcd1234"}`, "outer"},
		{"inner token wins", `{"verification_token":"inner","amount":"3.00"}`, "inner"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"verification_token":"outer","data":` + quoteJSON(tt.inner) + `}`
			notification, err := ParsePaymentPayload([]byte(body), "application/json")
			if err != nil {
				t.Fatalf("ParsePaymentPayload failed: %v", err)
			}
			if notification.VerificationToken != tt.expected {
				t.Errorf("Expected token %q, got %q", tt.expected, notification.VerificationToken)
			}
		})
	}
}

func TestParsePaymentPayload_NumericAmount(t *testing.T) {
	notification, err := ParsePaymentPayload([]byte(`{"amount":2.5,"message":"ID: x"}`), "application/json")
	if err != nil {
		t.Fatalf("ParsePaymentPayload failed: %v", err)
	}
	if !notification.Amount.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("Expected amount 2.5, got %s", notification.Amount)
	}
}

func quoteJSON(s string) string {
	quoted, _ := json.Marshal(s)
	return string(quoted)
}
