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

package main

import (
	"context"
	"flag"
	"fmt"

	"sage-gateway-go/internal/common"
	"sage-gateway-go/internal/config"
	"sage-gateway-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type balanceStats struct {
	totalAccounts    int
	lockedAccounts   int
	overThreshold    int
	totalOutstanding decimal.Decimal
}

func lockStatus(account models.UserAccount) string {
	if account.Locked {
		return "locked"
	}
	return "active"
}

func printAccount(account models.UserAccount, isLast bool) {
	symbol := common.BoxPrefix(isLast)
	detail := common.BoxDetailPrefix(isLast)

	fmt.Printf("%s %-20s %12s / %-10s %s\n",
		symbol,
		account.UserId,
		common.FormatUSD(account.Balance),
		common.FormatUSD(account.Threshold),
		lockStatus(account))
	if !account.HasOwnRecord {
		fmt.Printf("%s   (no balance record)\n", detail)
	}
}

func generateReport(accounts []models.UserAccount) balanceStats {
	stats := balanceStats{totalOutstanding: decimal.Zero}

	fmt.Printf("\n┌─ %-20s %12s / %-10s %s\n", "User", "Balance", "Threshold", "Status")
	common.PrintBoxSeparator(78)

	for i, account := range accounts {
		stats.totalAccounts++
		stats.totalOutstanding = stats.totalOutstanding.Add(account.Balance)
		if account.Locked {
			stats.lockedAccounts++
		}
		if account.Balance.GreaterThanOrEqual(account.Threshold) {
			stats.overThreshold++
		}
		printAccount(account, i == len(accounts)-1)
	}

	return stats
}

func main() {
	ctx := context.Background()

	userFlag := flag.String("user", "", "Filter by specific user id (optional)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger, _ := zap.NewProduction()
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger, loggerCleanup := common.InitializeLogger(cfg.LogLevel)
	defer loggerCleanup()

	logger.Info("Starting balance query")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	accounts, err := common.LoadAccounts(ctx, services.Ledger, *userFlag, logger)
	if err != nil {
		logger.Fatal("Failed to load accounts", zap.Error(err))
	}

	common.PrintHeader("USER BALANCE REPORT", common.DefaultWidth)

	stats := generateReport(accounts)

	summary := fmt.Sprintf("SUMMARY: %d accounts, %d locked, %d at or over threshold, %s outstanding",
		stats.totalAccounts, stats.lockedAccounts, stats.overThreshold, common.FormatUSD(stats.totalOutstanding))
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("Balance query completed",
		zap.Int("accounts", stats.totalAccounts),
		zap.Int("locked", stats.lockedAccounts),
		zap.String("outstanding", stats.totalOutstanding.String()))
}
