package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"sage-gateway-go/internal/models"
	"sage-gateway-go/internal/store"

	"github.com/shopspring/decimal"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestStore() *Store {
	s := New()
	s.SetClock(func() time.Time { return testNow })
	return s
}

func TestUpdateBalance_VersionCheck(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	if _, err := s.UpdateBalance(ctx, "alice", decimal.NewFromInt(1), 1); !errors.Is(err, store.ErrConcurrentModification) {
		t.Fatalf("Expected ErrConcurrentModification for absent row, got %v", err)
	}

	created, err := s.CreateBalance(ctx, "alice")
	if err != nil || !created {
		t.Fatalf("CreateBalance failed: created=%v err=%v", created, err)
	}
	if created, _ := s.CreateBalance(ctx, "alice"); created {
		t.Errorf("Expected second CreateBalance to be a no-op")
	}

	updated, err := s.UpdateBalance(ctx, "alice", decimal.NewFromInt(2), 1)
	if err != nil {
		t.Fatalf("UpdateBalance failed: %v", err)
	}
	if updated.Version != 2 || !updated.Amount.Equal(decimal.NewFromInt(2)) {
		t.Errorf("Unexpected balance after update: %+v", updated)
	}

	if _, err := s.UpdateBalance(ctx, "alice", decimal.NewFromInt(3), 1); !errors.Is(err, store.ErrConcurrentModification) {
		t.Errorf("Expected stale version to be rejected, got %v", err)
	}
}

func TestLocksAndPaymentsExpire(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_ = s.Lock(ctx, "alice", time.Hour)
	_ = s.SavePayment(ctx, &models.PendingPayment{PaymentId: "abcd1234", UserId: "alice", Status: models.PaymentPending}, time.Minute)

	if locked, _ := s.IsLocked(ctx, "alice"); !locked {
		t.Fatalf("Expected alice to be locked")
	}
	if p, _ := s.GetPayment(ctx, "abcd1234"); p == nil {
		t.Fatalf("Expected pending payment to be readable")
	}

	s.SetClock(func() time.Time { return testNow.Add(2 * time.Minute) })
	if p, _ := s.GetPayment(ctx, "abcd1234"); p != nil {
		t.Errorf("Expected payment to expire, got %+v", p)
	}
	if locked, _ := s.IsLocked(ctx, "alice"); !locked {
		t.Errorf("Expected lock to outlive the payment")
	}

	purged, err := s.PurgeExpired(ctx, testNow.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if purged != 2 {
		t.Errorf("Expected 2 purged records, got %d", purged)
	}
}

func TestHistoryAndWelcome(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	for _, content := range []string{"a", "b", "c"} {
		if err := s.AppendHistory(ctx, "alice", models.ChatMessage{Role: models.RoleUser, Content: content}, 2); err != nil {
			t.Fatalf("AppendHistory failed: %v", err)
		}
	}
	history, _ := s.GetHistory(ctx, "alice")
	if len(history) != 2 || history[0].Content != "b" || history[1].Content != "c" {
		t.Errorf("Expected last two turns, got %+v", history)
	}

	first, _ := s.MarkWelcomed(ctx, "chan", "alice")
	second, _ := s.MarkWelcomed(ctx, "chan", "alice")
	other, _ := s.MarkWelcomed(ctx, "other", "alice")
	if !first || second || !other {
		t.Errorf("Unexpected welcome results: first=%v second=%v other=%v", first, second, other)
	}
}
