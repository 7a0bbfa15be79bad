package sweeper

import (
	"context"
	"testing"
	"time"

	"sage-gateway-go/internal/models"
	"sage-gateway-go/internal/store"
	"sage-gateway-go/internal/store/memstore"

	"github.com/shopspring/decimal"
)

func TestSweep_PurgesExpiredRecords(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

	s := memstore.New()
	s.SetClock(func() time.Time { return now })

	if err := s.Lock(ctx, "alice", store.LockTTL); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if err := s.Lock(ctx, "bob", time.Hour); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	payment := &models.PendingPayment{PaymentId: "abcd1234", UserId: "bob", RequestedAmount: decimal.NewFromInt(5), Status: models.PaymentPending}
	if err := s.SavePayment(ctx, payment, store.PendingPaymentTTL); err != nil {
		t.Fatalf("SavePayment failed: %v", err)
	}

	sweeper := New(Config{Store: s, Interval: time.Hour})
	sweeper.now = func() time.Time { return now.Add(2 * time.Hour) }

	if purged := sweeper.sweep(ctx); purged != 2 {
		t.Errorf("Expected bob's lock and the payment purged, got %d", purged)
	}
	if purged := sweeper.sweep(ctx); purged != 0 {
		t.Errorf("Expected nothing left to purge, got %d", purged)
	}

	s.SetClock(func() time.Time { return now.Add(2 * time.Hour) })
	if locked, _ := s.IsLocked(ctx, "alice"); !locked {
		t.Errorf("Expected alice's 7-day lock to survive")
	}
}

func TestRun_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sweeper := New(Config{Store: memstore.New(), Interval: time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestStop(t *testing.T) {
	sweeper := New(Config{Store: memstore.New()})
	sweeper.Start(context.Background())
	sweeper.Stop()
}
