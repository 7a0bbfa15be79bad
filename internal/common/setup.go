package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"sage-gateway-go/internal/api"
	"sage-gateway-go/internal/billing"
	"sage-gateway-go/internal/budget"
	"sage-gateway-go/internal/database"
	"sage-gateway-go/internal/kvstore"
	"sage-gateway-go/internal/models"
	"sage-gateway-go/internal/store"
	"sage-gateway-go/internal/store/memstore"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	Store     store.LedgerStore
	Ledger    *api.LedgerService
	Allocator *budget.Allocator
}

// InitializeLogger installs a production logger as the global zap logger.
// An unparseable level falls back to info.
func InitializeLogger(level string) (*zap.Logger, func()) {
	cfg := zap.NewProductionConfig()
	if parsed, err := zapcore.ParseLevel(strings.ToLower(level)); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(parsed)
	}

	logger, err := cfg.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeStore opens the configured ledger backend
func InitializeStore(ctx context.Context, cfg *models.Config) (store.LedgerStore, error) {
	zap.L().Info("Opening ledger store", zap.String("backend", cfg.Store.Backend))

	switch cfg.Store.Backend {
	case "sqlite":
		dbService, err := database.NewService(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return dbService, nil
	case "redis":
		kvService, err := kvstore.NewService(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return kvService, nil
	case "memory":
		zap.L().Warn("Using in-memory ledger store; balances will not survive a restart")
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	ledgerStore, err := InitializeStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	calculator, err := billing.NewCalculator(billing.Pricing{
		InputPerMillion:  cfg.Billing.InputRatePerMillion,
		OutputPerMillion: cfg.Billing.OutputRatePerMillion,
	})
	if err != nil {
		ledgerStore.Close()
		return nil, err
	}

	allocator, err := budget.NewAllocator(ledgerStore, cfg.Billing.MonthlyBudget)
	if err != nil {
		ledgerStore.Close()
		return nil, err
	}

	ledger := api.NewLedgerService(ledgerStore, calculator, allocator, cfg.Billing.DefaultThreshold, cfg.Payments.LinkBase)
	ledger.SetHistoryLimit(cfg.Billing.HistoryLimit)

	zap.L().Info("Ledger services initialized",
		zap.String("monthly_budget", cfg.Billing.MonthlyBudget.String()),
		zap.String("default_threshold", cfg.Billing.DefaultThreshold.String()),
		zap.String("input_rate", cfg.Billing.InputRatePerMillion.String()),
		zap.String("output_rate", cfg.Billing.OutputRatePerMillion.String()))

	return &Services{
		Store:     ledgerStore,
		Ledger:    ledger,
		Allocator: allocator,
	}, nil
}

func (cs *Services) Close() {
	if cs.Store != nil {
		cs.Store.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
