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
	"regexp"

	"sage-gateway-go/internal/api"
	"sage-gateway-go/internal/common"
	"sage-gateway-go/internal/config"
	"sage-gateway-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Discord snowflakes are 17 to 20 digit integers
var userIdRegex = regexp.MustCompile(`^\d{17,20}$`)

func validateUserId(userId string) error {
	if userId == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	if !userIdRegex.MatchString(userId) {
		return fmt.Errorf("invalid user id format: %s", userId)
	}
	return nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, fmt.Errorf("--amount is required for this action")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func printAccount(account *models.UserAccount) {
	status := "Active"
	if account.Locked {
		status = "Locked"
	}

	common.PrintHeader("ACCOUNT", common.DefaultWidth)
	fmt.Printf("User:      %s\n", account.UserId)
	fmt.Printf("Balance:   %s\n", common.FormatUSD(account.Balance))
	fmt.Printf("Threshold: %s\n", common.FormatUSD(account.Threshold))
	fmt.Printf("Status:    %s\n", status)
	if !account.HasOwnRecord {
		fmt.Println("Record:    none (user has not messaged yet)")
	}
	common.PrintSeparator("=", common.DefaultWidth)
	fmt.Println()
}

func runAction(ctx context.Context, ledger *api.LedgerService, action, userId, rawAmount string) error {
	switch action {
	case "show":
	case "lock":
		if err := ledger.Lock(ctx, userId); err != nil {
			return err
		}
	case "unlock":
		if err := ledger.Unlock(ctx, userId); err != nil {
			return err
		}
	case "set-threshold":
		amount, err := parseAmount(rawAmount)
		if err != nil {
			return err
		}
		if err := ledger.SetThreshold(ctx, userId, amount); err != nil {
			return err
		}
	case "link":
		amount, err := ledger.GetBalance(ctx, userId)
		if err != nil {
			return err
		}
		if rawAmount != "" {
			if amount, err = parseAmount(rawAmount); err != nil {
				return err
			}
		}
		if !amount.IsPositive() {
			return fmt.Errorf("user has no outstanding balance, pass --amount")
		}
		link, payment, err := ledger.GeneratePaymentLink(ctx, userId, amount)
		if err != nil {
			return err
		}
		fmt.Printf("Payment ID: %s\nAmount:     %s\nLink:       %s\n\n", payment.PaymentId, common.FormatUSD(amount), link)
	default:
		return fmt.Errorf("unknown action %q (expected show, lock, unlock, link or set-threshold)", action)
	}
	return nil
}

func main() {
	ctx := context.Background()

	userFlag := flag.String("user", "", "Discord user id (required)")
	actionFlag := flag.String("action", "show", "show, lock, unlock, link or set-threshold")
	amountFlag := flag.String("amount", "", "Amount in dollars for link or set-threshold")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger, _ := zap.NewProduction()
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger(cfg.LogLevel)
	defer loggerCleanup()

	if err := validateUserId(*userFlag); err != nil {
		zap.L().Fatal("Invalid user", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	zap.L().Info("Running account action",
		zap.String("user_id", *userFlag),
		zap.String("action", *actionFlag))

	if err := runAction(ctx, services.Ledger, *actionFlag, *userFlag, *amountFlag); err != nil {
		zap.L().Fatal("Account action failed", zap.String("action", *actionFlag), zap.Error(err))
	}

	account, err := services.Ledger.AccountSummary(ctx, *userFlag)
	if err != nil {
		zap.L().Fatal("Failed to load account", zap.Error(err))
	}
	printAccount(account)
}
