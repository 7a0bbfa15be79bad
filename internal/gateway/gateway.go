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

// Package gateway drives an inbound chat message through access control,
// moderation, generation and billing.
package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"sage-gateway-go/internal/api"
	"sage-gateway-go/internal/backend"
	"sage-gateway-go/internal/billing"
	"sage-gateway-go/internal/metrics"
	"sage-gateway-go/internal/models"
	"sage-gateway-go/internal/moderation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	replyMalfunction = "Omg I just malfunctioned. Can you try again? Sorry about that!"
	replyNoResponse  = "No response."
	replyBroken      = "I'm broken rn."
)

// Message is an inbound chat message
type Message struct {
	Id        string
	AuthorId  string
	ChannelId string
	Content   string
	IsBot     bool
}

// Messenger is the outbound side of the chat platform
type Messenger interface {
	Reply(ctx context.Context, channelId, messageId, content string) error
	Send(ctx context.Context, channelId, content string) (string, error)
	SendDM(ctx context.Context, userId, content string) error
	Delete(ctx context.Context, channelId, messageId string) error
	Typing(ctx context.Context, channelId string) error
}

type Moderator interface {
	Moderate(ctx context.Context, text string) moderation.Result
}

type Generator interface {
	Generate(ctx context.Context, history []models.ChatMessage, input, userId string) (*backend.Response, error)
}

type Config struct {
	ChannelId    string
	FlatEstimate bool
}

// deleteDelays controls how long channel fallbacks stay visible
type deleteDelays struct {
	lockGate         time.Duration
	thresholdReached time.Duration
	payFailure       time.Duration
}

type Gateway struct {
	ledger    *api.LedgerService
	messenger Messenger
	moderator Moderator
	generator Generator
	cfg       Config
	delays    deleteDelays
}

func New(cfg Config, ledger *api.LedgerService, messenger Messenger, moderator Moderator, generator Generator) *Gateway {
	return &Gateway{
		ledger:    ledger,
		messenger: messenger,
		moderator: moderator,
		generator: generator,
		cfg:       cfg,
		delays: deleteDelays{
			lockGate:         30 * time.Second,
			thresholdReached: 60 * time.Second,
			payFailure:       15 * time.Second,
		},
	}
}

// HandleMessage processes one inbound message end to end
func (g *Gateway) HandleMessage(ctx context.Context, msg Message) {
	if msg.IsBot || msg.ChannelId != g.cfg.ChannelId {
		return
	}

	logger := zap.L().With(
		zap.String("request_id", uuid.NewString()),
		zap.String("user_id", msg.AuthorId))

	outcome := g.handle(ctx, logger, msg)
	metrics.MessagesTotal.WithLabelValues(outcome).Inc()
	logger.Debug("Message handled", zap.String("outcome", outcome))
}

func (g *Gateway) handle(ctx context.Context, logger *zap.Logger, msg Message) string {
	content := strings.TrimSpace(msg.Content)

	if strings.HasPrefix(content, "!") {
		switch content {
		case "!balance":
			g.handleBalance(ctx, logger, msg)
		case "!pay":
			g.handlePay(ctx, logger, msg)
		}
		return "command"
	}

	if _, err := g.ledger.InitializeNewUser(ctx, msg.AuthorId); err != nil {
		logger.Error("Failed to initialize user", zap.Error(err))
		g.reply(ctx, logger, msg, replyBroken)
		return "store_error"
	}

	decision, err := g.ledger.CheckAccess(ctx, msg.AuthorId)
	if err != nil {
		logger.Error("Access check failed", zap.Error(err))
		g.reply(ctx, logger, msg, replyBroken)
		return "store_error"
	}
	if !decision.Allowed {
		g.denyAccess(ctx, logger, msg, decision)
		return "locked"
	}

	g.welcome(ctx, logger, msg)

	if err := g.messenger.Typing(ctx, msg.ChannelId); err != nil {
		logger.Debug("Typing indicator failed", zap.Error(err))
	}

	if g.moderator != nil {
		verdict := g.moderator.Moderate(ctx, content)
		if verdict.Flagged {
			logger.Warn("Message flagged by moderation", zap.Strings("categories", verdict.Categories))
			g.reply(ctx, logger, msg, moderation.SupportiveResponse(verdict.Categories))
			return "flagged"
		}
	}

	history, err := g.ledger.History(ctx, msg.AuthorId)
	if err != nil {
		logger.Error("Failed to load history", zap.Error(err))
		g.reply(ctx, logger, msg, replyBroken)
		return "store_error"
	}

	response, err := g.generator.Generate(ctx, history, content, msg.AuthorId)
	if err != nil {
		if errors.Is(err, backend.ErrEmptyResponse) {
			g.reply(ctx, logger, msg, replyNoResponse)
			return "empty_response"
		}
		logger.Error("Generation failed", zap.Error(err))
		g.reply(ctx, logger, msg, replyMalfunction)
		return "backend_error"
	}

	g.charge(ctx, logger, msg.AuthorId, content, response)

	if err := g.ledger.RecordExchange(ctx, msg.AuthorId, content, response.Text); err != nil {
		logger.Error("Failed to record exchange", zap.Error(err))
	}

	if _, err := g.messenger.Send(ctx, msg.ChannelId, FormatReply(response.Text)); err != nil {
		logger.Error("Failed to send reply", zap.Error(err))
		return "send_error"
	}
	return "answered"
}

// charge bills the generation. Crossing the threshold here never locks; the
// lock is applied when the next message arrives.
func (g *Gateway) charge(ctx context.Context, logger *zap.Logger, userId, content string, response *backend.Response) {
	var (
		result *models.ChargeResult
		err    error
	)
	switch {
	case response.UsageReported:
		result, err = g.ledger.AddTokenCosts(ctx, userId, response.InputTokens, response.OutputTokens)
	case g.cfg.FlatEstimate:
		result, err = g.ledger.AddUsageCost(ctx, userId, billing.EstimateTokens(content))
	default:
		logger.Warn("No usage reported and flat estimate disabled, not charging")
		return
	}
	if err != nil {
		logger.Error("Failed to charge usage", zap.Error(err))
		return
	}
	logger.Debug("Usage charged",
		zap.String("total_cost", result.TotalCost.String()),
		zap.String("new_balance", result.NewBalance.String()))
}

func (g *Gateway) welcome(ctx context.Context, logger *zap.Logger, msg Message) {
	first, err := g.ledger.MarkWelcomed(ctx, msg.ChannelId, msg.AuthorId)
	if err != nil {
		logger.Error("Failed to check welcome marker", zap.Error(err))
		return
	}
	if !first {
		return
	}
	if _, err := g.messenger.Send(ctx, msg.ChannelId, welcomeMessage(msg.AuthorId)); err != nil {
		logger.Error("Failed to send welcome message", zap.Error(err))
	}
}

func (g *Gateway) reply(ctx context.Context, logger *zap.Logger, msg Message, content string) {
	if err := g.messenger.Reply(ctx, msg.ChannelId, msg.Id, content); err != nil {
		logger.Error("Failed to reply", zap.Error(err))
	}
}

// FormatReply expands escaped newlines left in backend output
func FormatReply(text string) string {
	return strings.ReplaceAll(text, `\n`, "\n")
}
