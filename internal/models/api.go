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

package models

import (
	"github.com/shopspring/decimal"
)

// Payment notification outcomes, echoed back to the provider as {"status": ...}
const (
	PaymentStatusSuccess = "success"
	PaymentStatusIgnored = "ignored"
	PaymentStatusError   = "error"
)

// TokenCost is the cost breakdown of a single metered generation
type TokenCost struct {
	InputTokens  int64           `json:"input_tokens"`
	OutputTokens int64           `json:"output_tokens"`
	InputCost    decimal.Decimal `json:"input_cost"`
	OutputCost   decimal.Decimal `json:"output_cost"`
	TotalCost    decimal.Decimal `json:"total_cost"`
}

// ChargeResult is the outcome of applying a usage charge to a user's balance
type ChargeResult struct {
	TokenCost
	UserId     string          `json:"user_id"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

// AccessDecision is the result of the pre-processing lock gate
type AccessDecision struct {
	Allowed     bool            `json:"allowed"`
	Locked      bool            `json:"locked"`
	NewlyLocked bool            `json:"newly_locked"`
	Balance     decimal.Decimal `json:"balance"`
	Threshold   decimal.Decimal `json:"threshold"`
}

// PaymentNotification is the provider payload after decoding
type PaymentNotification struct {
	Amount            decimal.Decimal
	Message           string
	VerificationToken string
	TransactionId     string
	Type              string
}

// PaymentResult represents the result of reconciling a payment notification
type PaymentResult struct {
	Status     string          `json:"status"`
	PaymentId  string          `json:"payment_id,omitempty"`
	UserId     string          `json:"user_id,omitempty"`
	Amount     decimal.Decimal `json:"amount,omitempty"`
	NewBalance decimal.Decimal `json:"new_balance,omitempty"`
	Threshold  decimal.Decimal `json:"threshold,omitempty"`
	Unlocked   bool            `json:"unlocked"`
	Reason     string          `json:"reason,omitempty"`
}
