package api

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"sage-gateway-go/internal/billing"
	"sage-gateway-go/internal/budget"
	"sage-gateway-go/internal/models"
	"sage-gateway-go/internal/store"
	"sage-gateway-go/internal/store/memstore"

	"github.com/shopspring/decimal"
)

var testNow = time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

func setupTestService(t *testing.T) (*LedgerService, *memstore.Store) {
	t.Helper()

	s := memstore.New()
	s.SetClock(func() time.Time { return testNow })

	calculator, err := billing.NewCalculator(billing.Pricing{
		InputPerMillion:  decimal.NewFromInt(3),
		OutputPerMillion: decimal.NewFromInt(15),
	})
	if err != nil {
		t.Fatalf("NewCalculator failed: %v", err)
	}

	allocator, err := budget.NewAllocator(s, decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("NewAllocator failed: %v", err)
	}
	allocator.SetClock(func() time.Time { return testNow })

	service := NewLedgerService(s, calculator, allocator, decimal.NewFromInt(5), "https://ko-fi.com/test")
	service.now = func() time.Time { return testNow }
	return service, s
}

func TestGetBalance_UnknownUser(t *testing.T) {
	service, _ := setupTestService(t)

	balance, err := service.GetBalance(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.IsZero() {
		t.Errorf("Expected zero balance, got %s", balance)
	}

	isNew, err := service.IsNewUser(context.Background(), "ghost")
	if err != nil || !isNew {
		t.Errorf("Expected unknown user to be new, got %v err=%v", isNew, err)
	}
}

func TestInitializeNewUser_RebalancesThresholds(t *testing.T) {
	service, s := setupTestService(t)
	ctx := context.Background()

	created, err := service.InitializeNewUser(ctx, "alice")
	if err != nil || !created {
		t.Fatalf("Expected alice to be created, got %v err=%v", created, err)
	}

	// First user triggers the first reset: full budget to alice
	threshold, _ := service.GetThreshold(ctx, "alice")
	if !threshold.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Expected threshold 10, got %s", threshold)
	}

	if _, err := service.InitializeNewUser(ctx, "bob"); err != nil {
		t.Fatalf("InitializeNewUser failed: %v", err)
	}
	for _, userId := range []string{"alice", "bob"} {
		threshold, _ := service.GetThreshold(ctx, userId)
		if !threshold.Equal(decimal.NewFromInt(5)) {
			t.Errorf("Expected threshold 5 for %s, got %s", userId, threshold)
		}
	}

	created, err = service.InitializeNewUser(ctx, "bob")
	if err != nil || created {
		t.Errorf("Expected repeat initialization to be a no-op, got %v err=%v", created, err)
	}

	last, _ := s.GetLastReset(ctx)
	if last == nil || last.UserCount != 1 {
		t.Errorf("Expected a single reset recorded for the first user, got %+v", last)
	}
}

// flakyThresholdStore fails SetThreshold calls while failures remain.
type flakyThresholdStore struct {
	*memstore.Store
	failures int
}

func (f *flakyThresholdStore) SetThreshold(ctx context.Context, userId string, amount decimal.Decimal) error {
	if f.failures > 0 {
		f.failures--
		return store.ErrStoreUnavailable
	}
	return f.Store.SetThreshold(ctx, userId, amount)
}

func TestInitializeNewUser_RetriesFailedRebalance(t *testing.T) {
	mem := memstore.New()
	mem.SetClock(func() time.Time { return testNow })
	flaky := &flakyThresholdStore{Store: mem}

	calculator, err := billing.NewCalculator(billing.Pricing{
		InputPerMillion:  decimal.NewFromInt(3),
		OutputPerMillion: decimal.NewFromInt(15),
	})
	if err != nil {
		t.Fatalf("NewCalculator failed: %v", err)
	}
	allocator, err := budget.NewAllocator(flaky, decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("NewAllocator failed: %v", err)
	}
	allocator.SetClock(func() time.Time { return testNow })
	service := NewLedgerService(flaky, calculator, allocator, decimal.NewFromInt(5), "https://ko-fi.com/test")
	ctx := context.Background()

	if _, err := service.InitializeNewUser(ctx, "alice"); err != nil {
		t.Fatalf("InitializeNewUser failed: %v", err)
	}

	flaky.failures = 1
	created, err := service.InitializeNewUser(ctx, "bob")
	if !created || !errors.Is(err, store.ErrStoreUnavailable) {
		t.Fatalf("Expected bob created with a rebalance error, got %v err=%v", created, err)
	}

	created, err = service.InitializeNewUser(ctx, "bob")
	if err != nil || created {
		t.Fatalf("Expected retry without creating a record, got %v err=%v", created, err)
	}

	for _, userId := range []string{"alice", "bob"} {
		threshold, stored, _ := mem.GetThreshold(ctx, userId)
		if !stored || !threshold.Equal(decimal.NewFromInt(5)) {
			t.Errorf("Expected threshold 5 for %s, got %s (stored=%v)", userId, threshold, stored)
		}
	}
}

func TestAddTokenCosts(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	result, err := service.AddTokenCosts(ctx, "alice", 1000, 500)
	if err != nil {
		t.Fatalf("AddTokenCosts failed: %v", err)
	}
	if !result.TotalCost.Equal(decimal.RequireFromString("0.0105")) {
		t.Errorf("Expected total cost 0.0105, got %s", result.TotalCost)
	}

	result, err = service.AddTokenCosts(ctx, "alice", 1000, 500)
	if err != nil {
		t.Fatalf("AddTokenCosts failed: %v", err)
	}
	if !result.NewBalance.Equal(decimal.RequireFromString("0.021")) {
		t.Errorf("Expected balance 0.021, got %s", result.NewBalance)
	}
}

func TestAddUsageCost(t *testing.T) {
	service, _ := setupTestService(t)

	result, err := service.AddUsageCost(context.Background(), "alice", 1_000_000)
	if err != nil {
		t.Fatalf("AddUsageCost failed: %v", err)
	}
	if !result.NewBalance.Equal(decimal.NewFromInt(3)) {
		t.Errorf("Expected balance 3, got %s", result.NewBalance)
	}
}

func TestAddTokenCosts_ConcurrentChargesAllApplied(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := service.AddTokenCosts(ctx, "alice", 1_000_000, 0); err != nil {
				t.Errorf("AddTokenCosts failed: %v", err)
			}
		}()
	}
	wg.Wait()

	balance, _ := service.GetBalance(ctx, "alice")
	if !balance.Equal(decimal.NewFromInt(3 * workers)) {
		t.Errorf("Expected balance %d, got %s", 3*workers, balance)
	}
	if n := service.userLocks.size(); n != 0 {
		t.Errorf("Expected per-user locks to be released, %d remain", n)
	}
}

func TestSubtractPayment_FloorsAtZero(t *testing.T) {
	service, s := setupTestService(t)
	ctx := context.Background()

	if err := s.SetBalance(ctx, "alice", decimal.NewFromInt(2)); err != nil {
		t.Fatalf("SetBalance failed: %v", err)
	}

	newBalance, err := service.SubtractPayment(ctx, "alice", decimal.NewFromInt(5))
	if err != nil {
		t.Fatalf("SubtractPayment failed: %v", err)
	}
	if !newBalance.IsZero() {
		t.Errorf("Expected zero balance, got %s", newBalance)
	}

	if _, err := service.SubtractPayment(ctx, "alice", decimal.NewFromInt(-1)); err != ErrInvalidAmount {
		t.Errorf("Expected ErrInvalidAmount, got %v", err)
	}
}

func TestCheckAccess_LocksAtNextMessage(t *testing.T) {
	service, s := setupTestService(t)
	ctx := context.Background()

	if err := s.SetThreshold(ctx, "alice", decimal.NewFromInt(1)); err != nil {
		t.Fatalf("SetThreshold failed: %v", err)
	}

	decision, err := service.CheckAccess(ctx, "alice")
	if err != nil {
		t.Fatalf("CheckAccess failed: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("Expected first message to be allowed")
	}

	// The charge that crosses the threshold does not lock by itself
	if _, err := service.AddTokenCosts(ctx, "alice", 0, 100_000); err != nil {
		t.Fatalf("AddTokenCosts failed: %v", err)
	}
	if locked, _ := service.IsLocked(ctx, "alice"); locked {
		t.Fatalf("Expected charge not to lock")
	}

	decision, err = service.CheckAccess(ctx, "alice")
	if err != nil {
		t.Fatalf("CheckAccess failed: %v", err)
	}
	if decision.Allowed || !decision.NewlyLocked {
		t.Errorf("Expected next message to be denied with a fresh lock, got %+v", decision)
	}

	decision, _ = service.CheckAccess(ctx, "alice")
	if decision.Allowed || decision.NewlyLocked || !decision.Locked {
		t.Errorf("Expected already-locked denial, got %+v", decision)
	}
}

func TestCheckAccess_DefaultThreshold(t *testing.T) {
	service, s := setupTestService(t)
	ctx := context.Background()

	if err := s.SetBalance(ctx, "alice", decimal.RequireFromString("4.99")); err != nil {
		t.Fatalf("SetBalance failed: %v", err)
	}
	decision, _ := service.CheckAccess(ctx, "alice")
	if !decision.Allowed || !decision.Threshold.Equal(decimal.NewFromInt(5)) {
		t.Errorf("Expected allowed under default threshold 5, got %+v", decision)
	}
}

func TestManualLockUnlock(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	if err := service.Lock(ctx, "alice"); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if locked, _ := service.IsLocked(ctx, "alice"); !locked {
		t.Errorf("Expected alice locked")
	}
	if err := service.Unlock(ctx, "alice"); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if locked, _ := service.IsLocked(ctx, "alice"); locked {
		t.Errorf("Expected alice unlocked")
	}
}

func TestAccountSummaryAndListAccounts(t *testing.T) {
	service, s := setupTestService(t)
	ctx := context.Background()

	summary, err := service.AccountSummary(ctx, "ghost")
	if err != nil {
		t.Fatalf("AccountSummary failed: %v", err)
	}
	if summary.HasOwnRecord || !summary.Threshold.Equal(decimal.NewFromInt(5)) {
		t.Errorf("Unexpected summary for unknown user: %+v", summary)
	}

	if err := s.SetBalance(ctx, "alice", decimal.NewFromInt(1)); err != nil {
		t.Fatalf("SetBalance failed: %v", err)
	}
	if err := s.Lock(ctx, "alice", store.LockTTL); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	accounts, err := service.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("ListAccounts failed: %v", err)
	}
	if len(accounts) != 1 || !accounts[0].Locked || !accounts[0].HasOwnRecord {
		t.Errorf("Unexpected accounts: %+v", accounts)
	}
}

func TestGeneratePaymentLink(t *testing.T) {
	service, s := setupTestService(t)
	ctx := context.Background()

	link, payment, err := service.GeneratePaymentLink(ctx, "alice", decimal.NewFromInt(5))
	if err != nil {
		t.Fatalf("GeneratePaymentLink failed: %v", err)
	}

	expectedId := newPaymentId("alice", testNow.UnixMilli())
	if payment.PaymentId != expectedId || len(payment.PaymentId) != 8 {
		t.Errorf("Expected payment id %s, got %s", expectedId, payment.PaymentId)
	}

	if !strings.HasPrefix(link, "https://ko-fi.com/test?message=") {
		t.Errorf("Unexpected link: %s", link)
	}
	if strings.Contains(link, "+") {
		t.Errorf("Expected spaces encoded as %%20, got %s", link)
	}
	parsed, err := url.Parse(link)
	if err != nil {
		t.Fatalf("Link does not parse: %v", err)
	}
	if got := parsed.Query().Get("message"); got != "Payment for Discord Bot - ID: "+expectedId {
		t.Errorf("Unexpected message: %q", got)
	}

	stored, _ := s.GetPayment(ctx, expectedId)
	if stored == nil || stored.Status != models.PaymentPending || stored.UserId != "alice" {
		t.Errorf("Expected pending payment stored, got %+v", stored)
	}

	if _, _, err := service.GeneratePaymentLink(ctx, "alice", decimal.Zero); err != ErrInvalidAmount {
		t.Errorf("Expected ErrInvalidAmount, got %v", err)
	}
}

func TestExtractPaymentId(t *testing.T) {
	tests := []struct {
		message  string
		expected string
		ok       bool
	}{
		{"Payment for Discord Bot - ID: abcd1234", "abcd1234", true},
		{"Payment for Discord Bot - ID:abcd1234  thanks!", "abcd1234", true},
		{"Payment for Discord Bot - ID:   ", "", false},
		{"just a tip", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := ExtractPaymentId(tt.message)
		if got != tt.expected || ok != tt.ok {
			t.Errorf("ExtractPaymentId(%q) = %q, %v; expected %q, %v", tt.message, got, ok, tt.expected, tt.ok)
		}
	}
}

func TestRecordExchange_TrimsToLimit(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()
	service.SetHistoryLimit(4)

	for i := 0; i < 3; i++ {
		if err := service.RecordExchange(ctx, "alice", "question", "answer"); err != nil {
			t.Fatalf("RecordExchange failed: %v", err)
		}
	}

	history, err := service.History(ctx, "alice")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("Expected 4 turns, got %d", len(history))
	}
	if history[0].Role != models.RoleUser || history[3].Role != models.RoleAssistant {
		t.Errorf("Unexpected turn order: %+v", history)
	}

	first, _ := service.MarkWelcomed(ctx, "chan", "alice")
	again, _ := service.MarkWelcomed(ctx, "chan", "alice")
	if !first || again {
		t.Errorf("Expected welcome once, got first=%v again=%v", first, again)
	}
}
