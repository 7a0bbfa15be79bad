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
	"os/signal"
	"syscall"
	"time"

	"sage-gateway-go/internal/backend"
	"sage-gateway-go/internal/budget"
	"sage-gateway-go/internal/common"
	"sage-gateway-go/internal/config"
	"sage-gateway-go/internal/discord"
	"sage-gateway-go/internal/gateway"
	"sage-gateway-go/internal/moderation"
	"sage-gateway-go/internal/store"
	"sage-gateway-go/internal/sweeper"
	"sage-gateway-go/internal/webhook"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger, _ := zap.NewProduction()
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger(cfg.LogLevel)
	defer loggerCleanup()

	if cfg.Discord.Token == "" || cfg.Discord.ChannelId == "" {
		zap.L().Fatal("DISCORD_TOKEN and DISCORD_CHANNEL_ID are required")
	}
	if cfg.Payments.Secret == "" {
		zap.L().Warn("KOFI_WEBHOOK_SECRET not set, payment notifications will be rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zap.L().Info("Starting chat gateway")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	moderator, err := moderation.NewClient(cfg.Moderation)
	if err != nil {
		zap.L().Fatal("Failed to initialize moderation client", zap.Error(err))
	}
	if cfg.Moderation.APIKey == "" {
		zap.L().Warn("OPENAI_API_KEY not set, moderation will allow every message")
	}

	generator, err := backend.NewGenerator(cfg.Backend)
	if err != nil {
		zap.L().Fatal("Failed to initialize backend", zap.Error(err))
	}

	session, err := discord.NewSession(cfg.Discord)
	if err != nil {
		zap.L().Fatal("Failed to initialize discord session", zap.Error(err))
	}

	gw := gateway.New(gateway.Config{
		ChannelId:    cfg.Discord.ChannelId,
		FlatEstimate: cfg.Billing.FlatEstimateEnabled,
	}, services.Ledger, session, moderator, generator)

	webhookServer := webhook.NewServer(cfg.Webhook, cfg.Payments.Secret, services.Ledger, gw.NotifyPayment)
	scheduler := budget.NewScheduler(services.Allocator, cfg.Billing.ResetSchedule)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return session.Run(groupCtx, gw.HandleMessage) })
	group.Go(func() error { return webhookServer.Run(groupCtx) })
	group.Go(func() error { return scheduler.Run(groupCtx) })

	if sweepable, ok := services.Store.(store.Sweeper); ok {
		storeSweeper := sweeper.New(sweeper.Config{Store: sweepable, Interval: cfg.Store.SweepInterval})
		group.Go(func() error { return storeSweeper.Run(groupCtx) })
	}

	zap.L().Info("Gateway running",
		zap.String("channel_id", cfg.Discord.ChannelId),
		zap.String("webhook_port", cfg.Webhook.Port),
		zap.String("store", cfg.Store.Backend))
	zap.L().Info("Press Ctrl+C to stop")

	<-groupCtx.Done()
	zap.L().Info("Shutdown signal received, stopping all components...")

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			zap.L().Error("Gateway stopped with error", zap.Error(err))
			return
		}
		zap.L().Info("All components stopped gracefully")
	case <-time.After(shutdownTimeout):
		zap.L().Warn("Forced shutdown after timeout")
	}
}
