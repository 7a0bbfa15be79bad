package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of a pending payment
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
)

// Balance is a user's accumulated usage charge together with its write version
type Balance struct {
	UserId    string          `db:"user_id"`
	Amount    decimal.Decimal `db:"balance"`
	Version   int64           `db:"version"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// UserAccount is the combined view of a user's balance, threshold and lock state
type UserAccount struct {
	UserId       string
	Balance      decimal.Decimal
	Threshold    decimal.Decimal
	Locked       bool
	HasOwnRecord bool
}

// MonthlyReset records the most recent shared-budget reset
type MonthlyReset struct {
	Timestamp  time.Time       `json:"timestamp"`
	Budget     decimal.Decimal `json:"budget"`
	UserCount  int             `json:"user_count"`
	Allocation decimal.Decimal `json:"allocation_per_user"`
}

// PendingPayment correlates a generated payment link with the user who requested it
type PendingPayment struct {
	PaymentId       string          `json:"payment_id"`
	UserId          string          `json:"user_id"`
	RequestedAmount decimal.Decimal `json:"amount"`
	CreatedAt       time.Time       `json:"timestamp"`
	Status          PaymentStatus   `json:"status"`
	AmountPaid      decimal.Decimal `json:"amount_paid,omitempty"`
	CompletedAt     time.Time       `json:"completed_at,omitempty"`
}

// ChatMessage is a single conversation turn kept in a user's history
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
