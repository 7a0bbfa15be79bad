// Package memstore is an in-process LedgerStore used by tests and local runs.
// State does not survive a restart.
package memstore

import (
	"context"
	"sync"
	"time"

	"sage-gateway-go/internal/models"
	"sage-gateway-go/internal/store"

	"github.com/shopspring/decimal"
)

var _ store.LedgerStore = (*Store)(nil)
var _ store.Sweeper = (*Store)(nil)

type expiring struct {
	payment   models.PendingPayment
	expiresAt time.Time
}

type Store struct {
	mu sync.RWMutex

	balances   map[string]models.Balance
	thresholds map[string]decimal.Decimal
	locks      map[string]time.Time
	payments   map[string]expiring
	lastReset  *models.MonthlyReset
	history    map[string][]models.ChatMessage
	welcomed   map[string]bool

	now func() time.Time
}

func New() *Store {
	return &Store{
		balances:   make(map[string]models.Balance),
		thresholds: make(map[string]decimal.Decimal),
		locks:      make(map[string]time.Time),
		payments:   make(map[string]expiring),
		history:    make(map[string][]models.ChatMessage),
		welcomed:   make(map[string]bool),
		now:        time.Now,
	}
}

// SetClock replaces the time source used for expiry checks.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) GetBalance(_ context.Context, userId string) (*models.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.balances[userId]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *Store) CreateBalance(_ context.Context, userId string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.balances[userId]; ok {
		return false, nil
	}
	s.balances[userId] = models.Balance{UserId: userId, Amount: decimal.Zero, Version: 1, UpdatedAt: s.now()}
	return true, nil
}

func (s *Store) UpdateBalance(_ context.Context, userId string, amount decimal.Decimal, expectedVersion int64) (*models.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.balances[userId]
	if !ok {
		current.Version = 0
	}
	if current.Version != expectedVersion {
		return nil, store.ErrConcurrentModification
	}

	updated := models.Balance{UserId: userId, Amount: amount, Version: expectedVersion + 1, UpdatedAt: s.now()}
	s.balances[userId] = updated
	return &updated, nil
}

func (s *Store) SetBalance(_ context.Context, userId string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.balances[userId]
	s.balances[userId] = models.Balance{UserId: userId, Amount: amount, Version: current.Version + 1, UpdatedAt: s.now()}
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0, len(s.balances))
	for userId := range s.balances {
		users = append(users, userId)
	}
	return users, nil
}

func (s *Store) GetThreshold(_ context.Context, userId string) (decimal.Decimal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.thresholds[userId]
	return t, ok, nil
}

func (s *Store) SetThreshold(_ context.Context, userId string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.thresholds[userId] = amount
	return nil
}

func (s *Store) IsLocked(_ context.Context, userId string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expiresAt, ok := s.locks[userId]
	return ok && s.now().Before(expiresAt), nil
}

func (s *Store) Lock(_ context.Context, userId string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.locks[userId] = s.now().Add(ttl)
	return nil
}

func (s *Store) Unlock(_ context.Context, userId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.locks, userId)
	return nil
}

func (s *Store) SavePayment(_ context.Context, payment *models.PendingPayment, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.payments[payment.PaymentId] = expiring{payment: *payment, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *Store) GetPayment(_ context.Context, paymentId string) (*models.PendingPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.payments[paymentId]
	if !ok || !s.now().Before(entry.expiresAt) {
		return nil, nil
	}
	p := entry.payment
	return &p, nil
}

func (s *Store) GetLastReset(_ context.Context) (*models.MonthlyReset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastReset == nil {
		return nil, nil
	}
	r := *s.lastReset
	return &r, nil
}

func (s *Store) SaveLastReset(_ context.Context, reset *models.MonthlyReset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := *reset
	s.lastReset = &r
	return nil
}

func (s *Store) AppendHistory(_ context.Context, userId string, msg models.ChatMessage, maxMessages int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := append(s.history[userId], msg)
	if maxMessages > 0 && len(h) > maxMessages {
		h = h[len(h)-maxMessages:]
	}
	s.history[userId] = h
	return nil
}

func (s *Store) GetHistory(_ context.Context, userId string) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.history[userId]
	out := make([]models.ChatMessage, len(h))
	copy(out, h)
	return out, nil
}

func (s *Store) MarkWelcomed(_ context.Context, channelId, userId string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := channelId + ":" + userId
	if s.welcomed[key] {
		return false, nil
	}
	s.welcomed[key] = true
	return true, nil
}

// PurgeExpired drops expired locks and payments.
func (s *Store) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for userId, expiresAt := range s.locks {
		if !now.Before(expiresAt) {
			delete(s.locks, userId)
			purged++
		}
	}
	for id, entry := range s.payments {
		if !now.Before(entry.expiresAt) {
			delete(s.payments, id)
			purged++
		}
	}
	return purged, nil
}

func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) Close() {}
