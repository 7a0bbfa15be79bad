package main

import (
	"context"
	"flag"
	"fmt"

	"sage-gateway-go/internal/common"
	"sage-gateway-go/internal/config"
	"sage-gateway-go/internal/models"

	"go.uber.org/zap"
)

func printReset(reset *models.MonthlyReset) {
	common.PrintHeader("MONTHLY RESET", common.DefaultWidth)
	fmt.Printf("Performed at:   %s\n", reset.Timestamp.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("Budget:         %s\n", common.FormatUSD(reset.Budget))
	fmt.Printf("Users:          %d\n", reset.UserCount)
	fmt.Printf("Allocation:     %s per user\n", common.FormatUSD(reset.Allocation))
	common.PrintSeparator("=", common.DefaultWidth)
	fmt.Println()
}

func main() {
	ctx := context.Background()

	forceFlag := flag.Bool("force", false, "Reset balances now even if a reset already ran this month")
	recalculateFlag := flag.Bool("recalculate", false, "Only recalculate thresholds; balances and locks are untouched")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger, _ := zap.NewProduction()
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger(cfg.LogLevel)
	defer loggerCleanup()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	allocator := services.Allocator

	switch {
	case *recalculateFlag:
		allocation, err := allocator.RecalculateAllThresholds(ctx)
		if err != nil {
			zap.L().Fatal("Failed to recalculate thresholds", zap.Error(err))
		}
		fmt.Printf("\nThresholds recalculated: %s per user\n\n", common.FormatUSD(allocation))

	case *forceFlag:
		reset, err := allocator.PerformMonthlyReset(ctx)
		if err != nil {
			zap.L().Fatal("Monthly reset failed", zap.Error(err))
		}
		if reset == nil {
			fmt.Println("\nNo users yet, nothing to reset")
			return
		}
		printReset(reset)

	default:
		performed, err := allocator.ResetIfDue(ctx)
		if err != nil {
			zap.L().Fatal("Reset check failed", zap.Error(err))
		}
		if !performed {
			fmt.Println("\nNo reset due this month")
		}
		last, err := services.Store.GetLastReset(ctx)
		if err != nil {
			zap.L().Fatal("Failed to read last reset", zap.Error(err))
		}
		if last != nil {
			printReset(last)
		}
	}
}
