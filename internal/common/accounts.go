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

package common

import (
	"context"
	"fmt"

	"sage-gateway-go/internal/api"
	"sage-gateway-go/internal/models"

	"go.uber.org/zap"
)

// LoadAccounts retrieves accounts based on an optional user id filter.
// If userFilter is provided, returns that single account (which may have no
// record of its own). If userFilter is empty, returns every known account.
func LoadAccounts(ctx context.Context, ledger *api.LedgerService, userFilter string, logger *zap.Logger) ([]models.UserAccount, error) {
	if userFilter != "" {
		logger.Info("Looking up account", zap.String("user_id", userFilter))
		account, err := ledger.AccountSummary(ctx, userFilter)
		if err != nil {
			return nil, fmt.Errorf("account lookup failed: %w", err)
		}
		return []models.UserAccount{*account}, nil
	}

	accounts, err := ledger.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	logger.Info("Retrieved accounts", zap.Int("count", len(accounts)))
	return accounts, nil
}
