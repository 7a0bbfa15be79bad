package store

import (
	"errors"
	"fmt"
	"testing"
)

// Compile-time checks that the interface is importable and usable.
func TestLedgerStoreInterfaceExists(t *testing.T) {
	var _ LedgerStore
	var _ Sweeper

	if LockTTL <= PendingPaymentTTL {
		t.Errorf("lock expiry %v should outlive pending payments %v", LockTTL, PendingPaymentTTL)
	}
	if CompletedPaymentTTL <= PendingPaymentTTL {
		t.Errorf("completed payments %v should outlive pending ones %v", CompletedPaymentTTL, PendingPaymentTTL)
	}
}

func TestSentinelErrorsWrap(t *testing.T) {
	wrapped := fmt.Errorf("balance update failed - %w", ErrConcurrentModification)
	if !errors.Is(wrapped, ErrConcurrentModification) {
		t.Errorf("expected wrapped error to match ErrConcurrentModification")
	}
	if errors.Is(wrapped, ErrNotFound) {
		t.Errorf("did not expect wrapped error to match ErrNotFound")
	}
}
