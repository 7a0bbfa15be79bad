package store

import (
	"context"
	"errors"
	"time"

	"sage-gateway-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrNotFound               = errors.New("record not found")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrStoreUnavailable       = errors.New("ledger store unavailable")
)

// Fixed expiries for the short-lived records.
const (
	LockTTL             = 7 * 24 * time.Hour
	PendingPaymentTTL   = time.Hour
	CompletedPaymentTTL = 24 * time.Hour
)

// LedgerStore defines the contract that every backend (SQLite, Redis, memory) must satisfy.
//
// Balance writes are versioned: UpdateBalance only succeeds when the stored
// version still equals expectedVersion, otherwise it returns
// ErrConcurrentModification and the caller re-reads. SetBalance is the
// unconditional write used by the monthly reset.
type LedgerStore interface {
	// --- Balances ---
	GetBalance(ctx context.Context, userId string) (*models.Balance, error)
	CreateBalance(ctx context.Context, userId string) (bool, error)
	UpdateBalance(ctx context.Context, userId string, amount decimal.Decimal, expectedVersion int64) (*models.Balance, error)
	SetBalance(ctx context.Context, userId string, amount decimal.Decimal) error
	ListUsers(ctx context.Context) ([]string, error)

	// --- Thresholds ---
	GetThreshold(ctx context.Context, userId string) (decimal.Decimal, bool, error)
	SetThreshold(ctx context.Context, userId string, amount decimal.Decimal) error

	// --- Locks ---
	IsLocked(ctx context.Context, userId string) (bool, error)
	Lock(ctx context.Context, userId string, ttl time.Duration) error
	Unlock(ctx context.Context, userId string) error

	// --- Payments ---
	SavePayment(ctx context.Context, payment *models.PendingPayment, ttl time.Duration) error
	GetPayment(ctx context.Context, paymentId string) (*models.PendingPayment, error)

	// --- Monthly reset ---
	GetLastReset(ctx context.Context) (*models.MonthlyReset, error)
	SaveLastReset(ctx context.Context, reset *models.MonthlyReset) error

	// --- Conversation ---
	AppendHistory(ctx context.Context, userId string, msg models.ChatMessage, maxMessages int) error
	GetHistory(ctx context.Context, userId string) ([]models.ChatMessage, error)
	MarkWelcomed(ctx context.Context, channelId, userId string) (bool, error)

	// --- Lifecycle ---
	Ping(ctx context.Context) error
	Close()
}

// Sweeper is implemented by backends without native key expiry.
type Sweeper interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
